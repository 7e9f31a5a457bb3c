package client

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aeolun/ipk24chat/pkg/protocol"
	"github.com/aeolun/ipk24chat/pkg/transport"
)

// scriptTransport is an in-memory transport driven by the test.
type scriptTransport struct {
	name     string
	setUpErr error

	// deliver decides the result of each Send; nil confirms everything.
	deliver func(protocol.Message) bool

	incoming  chan protocol.Message
	closeOnce sync.Once

	mu   sync.Mutex
	sent []protocol.Message

	sentCh   chan protocol.Message
	tornDown atomic.Bool
}

func newScriptTransport() *scriptTransport {
	return &scriptTransport{
		name:     "script",
		incoming: make(chan protocol.Message, 16),
		sentCh:   make(chan protocol.Message, 64),
	}
}

func (s *scriptTransport) SetUp(ctx context.Context) error { return s.setUpErr }

func (s *scriptTransport) Send(ctx context.Context, m protocol.Message) (bool, error) {
	if s.tornDown.Load() {
		return false, transport.ErrTransportClosed
	}
	s.mu.Lock()
	s.sent = append(s.sent, m)
	s.mu.Unlock()
	s.sentCh <- m

	if s.deliver != nil {
		return s.deliver(m), nil
	}
	return true, nil
}

func (s *scriptTransport) Receive(ctx context.Context) (protocol.Message, error) {
	select {
	case m, ok := <-s.incoming:
		if !ok {
			return nil, transport.ErrConnectionLost
		}
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *scriptTransport) TearDown() error {
	s.tornDown.Store(true)
	return nil
}

func (s *scriptTransport) Name() string { return s.name }

// push queues a message from the server.
func (s *scriptTransport) push(m protocol.Message) {
	s.incoming <- m
}

// hangUp simulates the server dropping the connection.
func (s *scriptTransport) hangUp() {
	s.closeOnce.Do(func() { close(s.incoming) })
}

func (s *scriptTransport) sentMessages() []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Message(nil), s.sent...)
}

// nextSent waits for the next outgoing message.
func (s *scriptTransport) nextSent(t *testing.T) protocol.Message {
	t.Helper()
	select {
	case m := <-s.sentCh:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("nothing was sent")
		return nil
	}
}

// assertNothingSent checks that no message goes out within wait.
func (s *scriptTransport) assertNothingSent(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case m := <-s.sentCh:
		t.Fatalf("unexpected %T sent: %+v", m, m)
	case <-time.After(wait):
	}
}

// syncBuffer lets tests read console output while the session writes it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// harness runs a Session against a scriptTransport.
type harness struct {
	tr      *scriptTransport
	input   chan string
	out     *syncBuffer
	errOut  *syncBuffer
	store   *MockStore
	session *Session
	cancel  context.CancelFunc
	done    chan error
}

func startSession(t *testing.T, configure ...func(*SessionConfig)) *harness {
	t.Helper()

	h := &harness{
		tr:     newScriptTransport(),
		input:  make(chan string),
		out:    &syncBuffer{},
		errOut: &syncBuffer{},
		store:  NewMockStore(),
		done:   make(chan error, 1),
	}

	cfg := SessionConfig{
		Transport: h.tr,
		Input:     h.input,
		Console:   NewConsole(h.out, h.errOut, false),
		Store:     h.store,
		Server:    "chat.example:4567",
		SessionID: "test-session",
	}
	for _, fn := range configure {
		fn(&cfg)
	}
	h.session = NewSession(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.session.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		h.tr.hangUp()
		select {
		case <-h.done:
		case <-time.After(2 * time.Second):
		}
	})
	return h
}

// typeLine feeds one line of user input.
func (h *harness) typeLine(t *testing.T, line string) {
	t.Helper()
	select {
	case h.input <- line:
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not read %q", line)
	}
}

func (h *harness) closeInput() {
	close(h.input)
}

func (h *harness) waitState(t *testing.T, want SessionState) {
	t.Helper()
	require.Eventually(t, func() bool { return h.session.State() == want }, 2*time.Second, 5*time.Millisecond,
		"state is %s, want %s", h.session.State(), want)
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		h.done <- err // keep it for Cleanup
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
		return nil
	}
}

// authenticate drives the session from Start to Open.
func (h *harness) authenticate(t *testing.T) {
	t.Helper()
	h.typeLine(t, "/auth user secret me")
	require.IsType(t, protocol.Auth{}, h.tr.nextSent(t))
	h.waitState(t, StateAuth)
	h.tr.push(protocol.Reply{Result: protocol.ResultOk, RefMsgID: 1, Content: "welcome"})
	h.waitState(t, StateOpen)
}
