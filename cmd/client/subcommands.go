package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aeolun/ipk24chat/pkg/client"
)

func newConfigCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the client config file",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default values",
		Long: `Write a config file with the default values to --config.
An existing file is kept as a dated backup next to it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.WriteDefaultConfig(opts.configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", opts.configPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file path in use",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), opts.configPath)
		},
	})

	return cmd
}

func newHistoryCmd(opts *options) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent sessions from the state database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := client.LoadConfig(opts.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("state") {
				config.Local.StateDB = opts.statePath
			}
			path, err := config.StatePath()
			if err != nil {
				return err
			}
			if path == "" {
				return errors.New("no state database configured (set local.state_db or --state)")
			}

			store, err := client.OpenStore(path, nil)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.RecentSessions(limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "no sessions recorded")
				return nil
			}
			for _, r := range records {
				fmt.Fprintln(out, client.FormatSession(r))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "number of sessions to show")
	cmd.Flags().StringVar(&opts.statePath, "state", "", "path to the state database")
	return cmd
}
