// Package transport moves protocol messages between the client and a chat
// server. The session layer only ever talks to the Transport interface; the
// concrete variants are a reliable datagram transport (UDP) and a CRLF-framed
// stream transport (TCP, or WebSocket text frames).
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/aeolun/ipk24chat/pkg/metrics"
	"github.com/aeolun/ipk24chat/pkg/protocol"
	"go.uber.org/zap"
)

var (
	// ErrTransportClosed is returned once TearDown has run.
	ErrTransportClosed = errors.New("transport closed")

	// ErrConnectionLost means the peer or the network ended the connection.
	// The session treats it like a received Bye.
	ErrConnectionLost = errors.New("connection lost")

	ErrNotSetUp = errors.New("transport is not set up")
)

// Transport is the capability set shared by every transport.
type Transport interface {
	// SetUp resolves and connects to the server and starts any background
	// receive activity.
	SetUp(ctx context.Context) error

	// Send writes m to the server. The bool reports whether delivery was
	// confirmed: stream transports confirm as soon as the bytes are written,
	// the datagram transport only when a matching Confirm arrived within the
	// retry budget. A non-nil error means the transport can no longer be used.
	Send(ctx context.Context, m protocol.Message) (bool, error)

	// Receive blocks until the next message is available. Undecodable input
	// arrives as protocol.Invalid. Once the connection is gone and every
	// buffered message was returned it fails with ErrConnectionLost or
	// ErrTransportClosed.
	Receive(ctx context.Context) (protocol.Message, error)

	// TearDown releases the socket and stops background goroutines.
	// Safe to call multiple times.
	TearDown() error

	// Name is the transport name used in logs and connection history.
	Name() string
}

const (
	DefaultPort    = 4567
	DefaultTimeout = 250 * time.Millisecond
	DefaultRetries = 3
)

// Options configures every transport. Fields a transport does not use are ignored.
type Options struct {
	Server string
	Port   int

	// UDP reliability
	Timeout time.Duration
	Retries int

	// WebSocket request path
	WSPath string

	// SSHJump tunnels stream transports through a bastion ("user@host:port").
	SSHJump     string
	SSHInsecure bool

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.Port == 0 {
		o.Port = DefaultPort
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.WSPath == "" {
		o.WSPath = "/"
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}
