package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/aeolun/ipk24chat/pkg/metrics"
	"github.com/aeolun/ipk24chat/pkg/protocol"
	"go.uber.org/zap"
)

const (
	dialTimeout  = 10 * time.Second
	readChunk    = 4096
	overflowNote = "line exceeds %d bytes without CRLF"
)

// Dialer opens the byte stream a Stream transport runs over.
type Dialer func(ctx context.Context) (net.Conn, error)

// Stream carries the CRLF line grammar over any reliable byte stream.
// Delivery is confirmed as soon as the bytes are handed to the connection.
type Stream struct {
	name    string
	dial    Dialer
	log     *zap.Logger
	metrics *metrics.Metrics

	conn    net.Conn
	writeMu sync.Mutex

	// framer is only touched by the read loop.
	framer lineFramer
	inbox  *inbox

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewStream creates a stream transport named name that connects with dial
func NewStream(name string, dial Dialer, opts Options) *Stream {
	opts = opts.withDefaults()
	return &Stream{
		name:    name,
		dial:    dial,
		log:     opts.Logger.With(zap.String("transport", name)),
		metrics: opts.Metrics,
		inbox:   newInbox(),
		closed:  make(chan struct{}),
	}
}

// NewTCP creates the plain TCP transport, tunnelled through SSH when
// opts.SSHJump is set.
func NewTCP(opts Options) *Stream {
	opts = opts.withDefaults()
	addr := net.JoinHostPort(opts.Server, strconv.Itoa(opts.Port))
	netDial := netDialer(opts)

	return NewStream("tcp", func(ctx context.Context) (net.Conn, error) {
		return netDial(ctx, "tcp", addr)
	}, opts)
}

func (s *Stream) Name() string { return s.name }

// SetUp dials the server and starts the read loop
func (s *Stream) SetUp(ctx context.Context) error {
	if s.dial == nil {
		return fmt.Errorf("no dialer configured")
	}

	conn, err := s.dial(ctx)
	if err != nil {
		s.log.Debug("connection failed", zap.Error(err))
		return fmt.Errorf("failed to connect: %w", err)
	}
	s.conn = conn
	s.log.Debug("connected", zap.Stringer("remote", conn.RemoteAddr()))

	s.wg.Add(1)
	go s.readLoop()
	return nil
}

// Send writes one encoded line. It reports true whenever the write succeeded.
func (s *Stream) Send(ctx context.Context, m protocol.Message) (bool, error) {
	if s.conn == nil {
		return false, ErrNotSetUp
	}
	line, err := protocol.EncodeText(m)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	start := time.Now()
	if _, err := io.WriteString(s.conn, line); err != nil {
		if s.isClosed() {
			return false, ErrTransportClosed
		}
		s.log.Debug("write failed", zap.Error(err))
		return false, fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}

	s.metrics.RecordMessageSent(m.Kind().String())
	s.metrics.RecordSendDuration(s.name, time.Since(start).Seconds())
	s.log.Debug("sent", zap.Stringer("kind", m.Kind()))
	return true, nil
}

// Receive returns the next framed message. Lines already buffered are
// returned without touching the network.
func (s *Stream) Receive(ctx context.Context) (protocol.Message, error) {
	if s.conn == nil {
		return nil, ErrNotSetUp
	}
	return s.inbox.pop(ctx)
}

// TearDown closes the connection and waits for the read loop
func (s *Stream) TearDown() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.conn != nil {
			err = s.conn.Close()
			if errors.Is(err, net.ErrClosed) {
				err = nil
			}
		}
		s.inbox.close(ErrTransportClosed)
	})
	s.wg.Wait()
	return err
}

func (s *Stream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *Stream) readLoop() {
	defer s.wg.Done()

	buf := make([]byte, readChunk)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			s.deliver(buf[:n])
		}
		if err == nil {
			continue
		}

		switch {
		case s.isClosed():
			s.inbox.close(ErrTransportClosed)
		case errors.Is(err, io.EOF):
			s.log.Debug("connection closed by server", zap.Int("discarded", s.framer.buffered()))
			s.inbox.close(ErrConnectionLost)
		default:
			s.log.Debug("read failed", zap.Error(err))
			s.inbox.close(fmt.Errorf("%w: %v", ErrConnectionLost, err))
		}
		return
	}
}

func (s *Stream) deliver(chunk []byte) {
	lines, overflow := s.framer.feed(chunk)
	for _, line := range lines {
		msg := protocol.DecodeText(line)
		s.metrics.RecordMessageReceived(msg.Kind().String())
		if inv, ok := msg.(protocol.Invalid); ok {
			s.metrics.RecordInvalid()
			s.log.Debug("invalid message", zap.String("reason", inv.Content))
		} else {
			s.log.Debug("received", zap.Stringer("kind", msg.Kind()))
		}
		s.inbox.push(msg)
	}
	if overflow {
		s.metrics.RecordInvalid()
		s.log.Warn("oversized line discarded", zap.Int("limit", MaxPendingLine))
		s.inbox.push(protocol.Invalid{Content: fmt.Sprintf(overflowNote, MaxPendingLine)})
	}
}
