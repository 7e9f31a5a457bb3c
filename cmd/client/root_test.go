package main

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeolun/ipk24chat/pkg/client"
)

func execute(t *testing.T, stdin io.Reader, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(stdin, &stdout, &stderr)
	cmd.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

// typed returns stdin holding lines that stays open, like a terminal, until the test ends.
func typed(t *testing.T, lines ...string) io.Reader {
	t.Helper()
	pr, pw := io.Pipe()
	go func() {
		for _, l := range lines {
			if _, err := io.WriteString(pw, l+"\n"); err != nil {
				return
			}
		}
	}()
	t.Cleanup(func() { pw.Close() })
	return pr
}

func noInput() io.Reader {
	return strings.NewReader("")
}

func missingConfig(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.toml")
}

func TestRootRequiresServer(t *testing.T) {
	_, _, err := execute(t, noInput(), "--config", missingConfig(t), "-t", "tcp")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server is required")
}

func TestRootRequiresTransportWithoutStore(t *testing.T) {
	_, _, err := execute(t, noInput(), "--config", missingConfig(t), "-s", "127.0.0.1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transport is required (-t)")
}

func TestRootTransportFromHistory(t *testing.T) {
	port, got := fakeServer(t)
	state := filepath.Join(t.TempDir(), "state.db")

	_, stderr, err := execute(t, typed(t, "/auth user secret Tester"),
		"--config", missingConfig(t), "--no-color", "--state", state,
		"-s", "127.0.0.1", "-p", strconv.Itoa(port))
	require.NoError(t, err)
	assert.Equal(t, "AUTH user AS Tester USING secret\r\n", <-got)
	assert.Equal(t, "Success: Welcome\n", stderr)
}

func TestRootRejectsBadFlags(t *testing.T) {
	tests := [][]string{
		{"-t", "sctp", "-s", "localhost"},
		{"-t", "tcp", "-s", "localhost", "-p", "0"},
		{"-t", "tcp", "-s", "localhost", "-d", "0"},
		{"-t", "tcp", "-s", "localhost", "-r", "-1"},
		{"-t", "tcp", "-s", "localhost", "--bogus"},
		{"-t", "udp", "-s", "localhost", "--ssh-jump", "bastion"},
	}
	for _, args := range tests {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			_, _, err := execute(t, noInput(), append([]string{"--config", missingConfig(t)}, args...)...)
			assert.Error(t, err)
		})
	}
}

func TestRootHelp(t *testing.T) {
	stdout, _, err := execute(t, noInput(), "-h")
	require.NoError(t, err)
	for _, flag := range []string{"--transport", "--server", "--port", "--timeout", "--retries", "--verbose"} {
		assert.Contains(t, stdout, flag)
	}
}

// fakeServer accepts one TCP client, answers its AUTH and says goodbye.
func fakeServer(t *testing.T) (int, <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	got := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			close(got)
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		got <- line
		io.WriteString(conn, "REPLY OK IS Welcome\r\nMSG FROM Server IS hi\r\nBYE\r\n")
		io.Copy(io.Discard, conn)
	}()
	return ln.Addr().(*net.TCPAddr).Port, got
}

func TestRootRunsSession(t *testing.T) {
	port, got := fakeServer(t)

	// The file asks for udp on another port; flags win.
	config := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(config, []byte("[connection]\ntransport = \"udp\"\nport = 1\n"), 0644))

	stdout, stderr, err := execute(t, typed(t, "/auth user secret Tester"),
		"--config", config, "--no-color",
		"-t", "tcp", "-s", "127.0.0.1", "-p", strconv.Itoa(port))
	require.NoError(t, err)

	assert.Equal(t, "AUTH user AS Tester USING secret\r\n", <-got)
	assert.Equal(t, "Server: hi\n", stdout)
	assert.Equal(t, "Success: Welcome\n", stderr)
}

func TestRootRemembersTransport(t *testing.T) {
	port, _ := fakeServer(t)
	state := filepath.Join(t.TempDir(), "state.db")

	_, _, err := execute(t, typed(t, "/auth user secret Tester"),
		"--config", missingConfig(t), "--no-color", "--state", state,
		"-t", "tcp", "-s", "127.0.0.1", "-p", strconv.Itoa(port))
	require.NoError(t, err)

	store, err := client.OpenStore(state, nil)
	require.NoError(t, err)
	defer store.Close()

	name, err := store.GetLastSuccessfulTransport(client.ServerKey("127.0.0.1", port))
	require.NoError(t, err)
	assert.Equal(t, "tcp", name)
	assert.Equal(t, "Tester", store.GetLastDisplayName())

	stdout, _, err := execute(t, noInput(), "history", "--config", missingConfig(t), "--state", state)
	require.NoError(t, err)
	assert.Contains(t, stdout, client.OutcomeServerBye)
	assert.Contains(t, stdout, "Tester")
}

func TestRootConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	_, _, err = execute(t, noInput(), "--config", missingConfig(t), "-t", "tcp", "-s", "127.0.0.1", "-p", strconv.Itoa(port))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect via tcp")
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ipk24chat", "config.toml")

	stdout, _, err := execute(t, noInput(), "config", "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, path)

	config, err := client.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 4567, config.Connection.Port)
}
