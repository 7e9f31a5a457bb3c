package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aeolun/ipk24chat/pkg/client"
	"github.com/aeolun/ipk24chat/pkg/logging"
	"github.com/aeolun/ipk24chat/pkg/metrics"
	"github.com/aeolun/ipk24chat/pkg/transport"
)

// options mirrors the command line. Only flags the user actually set
// override the config file.
type options struct {
	configPath string

	transport string
	server    string
	port      int
	timeoutMS int
	retries   int
	verbose   bool

	wsPath      string
	sshJump     string
	sshInsecure bool

	displayName string
	statePath   string
	logFile     string
	metricsAddr string
	notify      bool
	noColor     bool
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "ipk24chat -t tcp|udp|ws -s SERVER [flags]",
		Short: "Chat client for the IPK24-CHAT protocol",
		Long: `ipk24chat connects to an IPK24-CHAT server over TCP, UDP or WebSocket.

Type /help once connected for the list of commands. Chat messages are printed
to stdout, replies and errors to stderr.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := buildConfig(cmd, opts)
			if err != nil {
				return err
			}
			return runClient(cmd.Context(), config, stdin, stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	f := cmd.Flags()
	f.StringVarP(&opts.transport, "transport", "t", "", "transport protocol: tcp, udp or ws (required unless a state database remembers the last one that worked)")
	f.StringVarP(&opts.server, "server", "s", "", "server IP address or hostname")
	f.IntVarP(&opts.port, "port", "p", transport.DefaultPort, "server port")
	f.IntVarP(&opts.timeoutMS, "timeout", "d", int(transport.DefaultTimeout/time.Millisecond), "UDP confirmation timeout in milliseconds")
	f.IntVarP(&opts.retries, "retries", "r", transport.DefaultRetries, "maximum number of UDP retransmissions")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "write debug logs to stderr")

	f.StringVar(&opts.wsPath, "ws-path", "/", "request path for the ws transport")
	f.StringVar(&opts.sshJump, "ssh-jump", "", "tunnel tcp/ws through an SSH bastion (user@host:port)")
	f.BoolVar(&opts.sshInsecure, "ssh-insecure", false, "skip known_hosts verification for --ssh-jump")

	f.StringVarP(&opts.displayName, "name", "n", "", "initial display name")
	f.StringVar(&opts.statePath, "state", "", "path to the state database (default: from config, disabled if unset)")
	f.StringVar(&opts.logFile, "log-file", "", "write debug logs to a rotated file instead of stderr")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. 127.0.0.1:9464")
	f.BoolVar(&opts.notify, "notify", false, "show desktop notifications for incoming messages")
	f.BoolVar(&opts.noColor, "no-color", false, "disable colored prefixes")

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", client.DefaultConfigPath(), "config file path")

	cmd.AddCommand(newConfigCmd(opts), newHistoryCmd(opts))
	return cmd
}

// buildConfig layers flags over the config file over the defaults.
func buildConfig(cmd *cobra.Command, opts *options) (client.Config, error) {
	config, err := client.LoadConfig(opts.configPath)
	if err != nil {
		return client.Config{}, err
	}

	f := cmd.Flags()
	conn := &config.Connection
	if f.Changed("transport") {
		conn.Transport = opts.transport
	}
	if f.Changed("server") {
		conn.Server = opts.server
	}
	if f.Changed("port") {
		conn.Port = opts.port
	}
	if f.Changed("timeout") {
		conn.UDPTimeoutMS = opts.timeoutMS
	}
	if f.Changed("retries") {
		conn.UDPRetries = opts.retries
	}
	if f.Changed("ws-path") {
		conn.WSPath = opts.wsPath
	}
	if f.Changed("ssh-jump") {
		conn.SSHJump = opts.sshJump
	}
	if f.Changed("ssh-insecure") {
		conn.SSHInsecure = opts.sshInsecure
	}
	if f.Changed("name") {
		config.Local.DisplayName = opts.displayName
	}
	if f.Changed("state") {
		config.Local.StateDB = opts.statePath
	}
	if f.Changed("verbose") {
		config.Log.Verbose = opts.verbose
	}
	if f.Changed("log-file") {
		config.Log.File = opts.logFile
	}
	if f.Changed("metrics-addr") {
		config.Metrics.Listen = opts.metricsAddr
	}
	if f.Changed("notify") {
		config.UI.Notifications = opts.notify
	}
	if opts.noColor {
		config.UI.Color = false
	}

	if conn.Server == "" {
		return client.Config{}, errors.New("a server is required (-s)")
	}
	if conn.Transport == "" && strings.TrimSpace(config.Local.StateDB) == "" {
		return client.Config{}, errors.New("a transport is required (-t) unless a state database remembers one")
	}
	if err := config.Validate(); err != nil {
		return client.Config{}, err
	}
	return config, nil
}

func runClient(ctx context.Context, config client.Config, stdin io.Reader, stdout, stderr io.Writer) error {
	logger, err := logging.New(logging.Config{Verbose: config.Log.Verbose, File: config.Log.File})
	if err != nil {
		return fmt.Errorf("set up logging: %w", err)
	}
	defer logger.Sync()

	store, err := openStore(config, logger)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	conn := config.Connection
	serverKey := client.ServerKey(conn.Server, conn.Port)
	name := client.ResolveTransport(conn.Transport, conn.Server, conn.Port, store, logger)
	logger, sessionID := logging.WithSession(logger, name)

	m := metrics.New()
	if config.Metrics.Listen != "" {
		stopMetrics, err := serveMetrics(config.Metrics.Listen, m, logger)
		if err != nil {
			return err
		}
		defer stopMetrics()
	}

	tr, err := transport.New(name, transport.Options{
		Server:      conn.Server,
		Port:        conn.Port,
		Timeout:     config.UDPTimeout(),
		Retries:     conn.UDPRetries,
		WSPath:      conn.WSPath,
		SSHJump:     conn.SSHJump,
		SSHInsecure: conn.SSHInsecure,
		Logger:      logger,
		Metrics:     m,
	})
	if err != nil {
		return err
	}

	var notifier client.Notifier
	if config.UI.Notifications {
		notifier = client.NewDesktopNotifier("ipk24chat")
	}

	session := client.NewSession(client.SessionConfig{
		Transport: tr,
		Input:     client.ReadLines(ctx, stdin, logger),
		Console:   client.NewConsole(stdout, stderr, config.UI.Color),
		Identity:  client.NewIdentity(initialDisplayName(config, store)),
		Store:     store,
		Notifier:  notifier,
		Server:    serverKey,
		SessionID: sessionID,
		Logger:    logger,
		Metrics:   m,
	})

	logger.Debug("starting session", zap.String("server", serverKey))
	return session.Run(ctx)
}

// openStore returns nil when no state database is configured.
func openStore(config client.Config, logger *zap.Logger) (client.StateStore, error) {
	path, err := config.StatePath()
	if err != nil || path == "" {
		return nil, err
	}
	store, err := client.OpenStore(path, logger)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	return store, nil
}

// initialDisplayName prefers a configured name over the one remembered from
// the previous session.
func initialDisplayName(config client.Config, store client.StateStore) string {
	name := config.Local.DisplayName
	if name == client.DefaultDisplayName && store != nil {
		if last := store.GetLastDisplayName(); last != "" {
			return last
		}
	}
	return name
}

// serveMetrics exposes m on addr until the returned stop function is called.
func serveMetrics(addr string, m *metrics.Metrics, logger *zap.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Debug("serving metrics", zap.String("addr", ln.Addr().String()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}, nil
}
