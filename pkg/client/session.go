package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aeolun/ipk24chat/pkg/metrics"
	"github.com/aeolun/ipk24chat/pkg/protocol"
	"github.com/aeolun/ipk24chat/pkg/transport"
)

// SessionState is a state of the client protocol state machine.
type SessionState int

const (
	StateStart SessionState = iota
	StateAuth
	StateOpen
	StateError
	StateEnd
)

func (s SessionState) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateAuth:
		return "auth"
	case StateOpen:
		return "open"
	case StateError:
		return "error"
	case StateEnd:
		return "end"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrDeliveryFailed means the server never confirmed a message within the retry budget.
	ErrDeliveryFailed = errors.New("message was not confirmed by the server")

	// ErrInputClosed marks the end of user input, which ends the session like an interrupt.
	ErrInputClosed = errors.New("input closed")
)

// Session outcomes recorded in the session log.
const (
	OutcomeLeft           = "left"
	OutcomeInterrupted    = "interrupted"
	OutcomeServerBye      = "server-bye"
	OutcomeServerError    = "server-error"
	OutcomeConnectionLost = "connection-lost"
	OutcomeProtocolError  = "protocol-error"
	OutcomeDeliveryFailed = "delivery-failed"
)

// violationContent is sent to the server when it breaks the protocol.
const violationContent = "Got invalid message"

// SessionConfig wires a Session to its collaborators. Transport, Input and
// Console are required.
type SessionConfig struct {
	Transport transport.Transport
	Input     <-chan string
	Console   *Console

	Identity *Identity
	Store    StateStore
	Notifier Notifier

	// Server keys the connection history, see ServerKey.
	Server    string
	SessionID string

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Session drives one conversation with the server from Start to End.
type Session struct {
	tr       transport.Transport
	input    <-chan string
	console  *Console
	identity *Identity
	store    StateStore
	notifier Notifier
	server   string
	id       string
	log      *zap.Logger
	metrics  *metrics.Metrics

	ids      IDCounter
	commands *CommandProcessor

	// incoming is fed by receivePump for the whole session. recvErr is set
	// before incoming is closed.
	incoming chan protocol.Message
	recvErr  error

	stateMu sync.RWMutex
	state   SessionState

	// sentAny and serverEnded decide whether a leave sends Bye.
	sentAny     atomic.Bool
	serverEnded atomic.Bool
	opened      atomic.Bool

	leaveMu sync.Mutex
	left    bool

	// replySlot holds a token while a Join waits for its Reply; replyDone
	// hands the resolution back to the send loop.
	replySlot chan struct{}
	replyDone chan struct{}

	resultMu sync.Mutex
	outcome  string
	err      error
}

func NewSession(cfg SessionConfig) *Session {
	if cfg.Identity == nil {
		cfg.Identity = NewIdentity("")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	s := &Session{
		tr:        cfg.Transport,
		input:     cfg.Input,
		console:   cfg.Console,
		identity:  cfg.Identity,
		store:     cfg.Store,
		notifier:  cfg.Notifier,
		server:    cfg.Server,
		id:        cfg.SessionID,
		log:       cfg.Logger,
		metrics:   cfg.Metrics,
		incoming:  make(chan protocol.Message),
		replySlot: make(chan struct{}, 1),
		replyDone: make(chan struct{}, 1),
	}
	s.commands = NewCommandProcessor(s.identity, &s.ids, s.console)
	return s
}

// State returns the current state. Safe to call while Run is executing.
func (s *Session) State() SessionState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Outcome returns how the session ended, or "" while it is running.
func (s *Session) Outcome() string {
	s.resultMu.Lock()
	defer s.resultMu.Unlock()
	return s.outcome
}

// Run connects the transport and processes input and server messages until
// the session reaches End. Cancelling ctx triggers a graceful leave. The
// returned error is non-nil only when the transport could not be set up or
// a message went unconfirmed.
func (s *Session) Run(ctx context.Context) error {
	if err := s.tr.SetUp(ctx); err != nil {
		return fmt.Errorf("connect via %s: %w", s.tr.Name(), err)
	}
	defer func() {
		if err := s.tr.TearDown(); err != nil {
			s.log.Debug("tear down failed", zap.Error(err))
		}
	}()

	pumpCtx, stopPump := context.WithCancel(ctx)
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		s.receivePump(pumpCtx)
	}()
	defer func() {
		stopPump()
		<-pumpDone
	}()

	s.recordSessionStart()
	s.setState(StateStart)

	for state := StateStart; state != StateEnd; {
		switch state {
		case StateStart:
			state = s.runStart(ctx)
		case StateAuth:
			state = s.runAuth(ctx)
		case StateOpen:
			state = s.runOpen(ctx)
		case StateError:
			s.leave(ctx)
			state = StateEnd
		}
		s.setState(state)
	}

	s.recordSessionEnd()
	s.resultMu.Lock()
	defer s.resultMu.Unlock()
	return s.err
}

func (s *Session) setState(state SessionState) {
	s.stateMu.Lock()
	prev := s.state
	s.state = state
	s.stateMu.Unlock()

	s.metrics.RecordStateTransition(state.String())
	s.log.Debug("state", zap.Stringer("from", prev), zap.Stringer("to", state))
}

// finish records why the session ends. The first call wins.
func (s *Session) finish(outcome string, err error) {
	s.resultMu.Lock()
	defer s.resultMu.Unlock()
	if s.outcome != "" {
		return
	}
	s.outcome = outcome
	s.err = err
}

// receivePump hands every received message to whichever state is reading
// incoming, so the server is heard in Start as well as in Auth and Open.
func (s *Session) receivePump(ctx context.Context) {
	for {
		msg, err := s.tr.Receive(ctx)
		if err != nil {
			s.recvErr = err
			close(s.incoming)
			return
		}
		select {
		case s.incoming <- msg:
		case <-ctx.Done():
			s.recvErr = ctx.Err()
			close(s.incoming)
			return
		}
	}
}

// receive returns the next server message, or the error that stopped the pump.
func (s *Session) receive(ctx context.Context) (protocol.Message, error) {
	select {
	case msg, ok := <-s.incoming:
		if !ok {
			return nil, s.recvErr
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Session) runStart(ctx context.Context) SessionState {
	for {
		select {
		case <-ctx.Done():
			s.finish(OutcomeInterrupted, nil)
			s.leave(ctx)
			return StateEnd

		case msg, ok := <-s.incoming:
			if !ok {
				return s.receiveFailed(ctx, s.recvErr)
			}
			return s.unexpectedInStart(ctx, msg)

		case line, ok := <-s.input:
			if !ok {
				s.log.Debug("leaving", zap.Error(ErrInputClosed))
				s.finish(OutcomeLeft, nil)
				s.leave(ctx)
				return StateEnd
			}

			msg, err := s.commands.Process(line, StateStart)
			if err != nil {
				s.reportInputError(err)
				continue
			}
			if msg == nil {
				continue
			}

			delivered, err := s.send(ctx, msg)
			if next, over := s.afterSend(ctx, delivered, err); over {
				return next
			}
			if protocol.ExpectsReply(msg) {
				return StateAuth
			}
		}
	}
}

// unexpectedInStart handles a server message while no request is
// outstanding. Bye and Error end the session as in any other state;
// anything else is a protocol violation.
func (s *Session) unexpectedInStart(ctx context.Context, msg protocol.Message) SessionState {
	switch m := msg.(type) {
	case protocol.Bye:
		s.serverBye()
		return StateEnd
	case protocol.Error:
		s.console.PrintError(m)
		s.finish(OutcomeServerError, nil)
		s.leave(ctx)
		return StateEnd
	default:
		return s.violation(ctx, msg)
	}
}

func (s *Session) runAuth(ctx context.Context) SessionState {
	msg, err := s.receive(ctx)
	if err != nil {
		return s.receiveFailed(ctx, err)
	}

	switch m := msg.(type) {
	case protocol.Reply:
		switch m.Result {
		case protocol.ResultOk:
			s.console.PrintReply(m)
			s.rememberConnection()
			return StateOpen
		case protocol.ResultNok:
			s.console.PrintReply(m)
			return StateStart
		}
		return s.violation(ctx, m)

	case protocol.Error:
		s.console.PrintError(m)
		s.finish(OutcomeServerError, nil)
		s.leave(ctx)
		return StateEnd

	case protocol.Bye:
		s.serverBye()
		return StateEnd

	default:
		return s.violation(ctx, msg)
	}
}

// stateChange ends the Open state's loops and names the next state.
type stateChange struct {
	next  SessionState
	leave bool
}

func (c *stateChange) Error() string {
	return "session moves to " + c.next.String()
}

func (s *Session) runOpen(ctx context.Context) SessionState {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.sendLoop(gctx) })
	g.Go(func() error { return s.receiveLoop(gctx) })

	var change *stateChange
	if err := g.Wait(); errors.As(err, &change) {
		if change.leave {
			s.leave(ctx)
		}
		return change.next
	}

	// Neither loop ended the session, so ctx was cancelled.
	s.finish(OutcomeInterrupted, nil)
	s.leave(ctx)
	return StateEnd
}

func (s *Session) sendLoop(ctx context.Context) error {
	for {
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-s.input:
			if !ok {
				s.log.Debug("leaving", zap.Error(ErrInputClosed))
				s.finish(OutcomeLeft, nil)
				return &stateChange{next: StateEnd, leave: true}
			}
			line = l
		}

		msg, err := s.commands.Process(line, StateOpen)
		if err != nil {
			s.reportInputError(err)
			continue
		}
		if msg == nil {
			continue
		}

		awaitReply := protocol.ExpectsReply(msg)
		if awaitReply {
			select {
			case s.replySlot <- struct{}{}:
			default:
			}
		}

		delivered, err := s.send(ctx, msg)
		if err != nil && ctx.Err() != nil {
			return nil
		}
		if next, over := s.afterSend(ctx, delivered, err); over {
			return &stateChange{next: next}
		}

		if awaitReply {
			select {
			case <-s.replyDone:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (s *Session) receiveLoop(ctx context.Context) error {
	for {
		msg, err := s.receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return &stateChange{next: s.receiveFailed(ctx, err)}
		}

		switch m := msg.(type) {
		case protocol.Text:
			s.console.PrintText(m)
			s.notify(m)

		case protocol.Reply:
			select {
			case <-s.replySlot:
			default:
				return &stateChange{next: s.violation(ctx, m)}
			}
			if m.Result == protocol.ResultInvalid {
				return &stateChange{next: s.violation(ctx, m)}
			}
			s.console.PrintReply(m)
			select {
			case s.replyDone <- struct{}{}:
			default:
			}

		case protocol.Error:
			s.console.PrintError(m)
			s.finish(OutcomeServerError, nil)
			return &stateChange{next: StateEnd, leave: true}

		case protocol.Bye:
			s.serverBye()
			return &stateChange{next: StateEnd}

		default:
			return &stateChange{next: s.violation(ctx, msg)}
		}
	}
}

// send transmits m and notes that the server has heard from us.
func (s *Session) send(ctx context.Context, m protocol.Message) (bool, error) {
	s.sentAny.Store(true)
	delivered, err := s.tr.Send(ctx, m)
	if errors.Is(err, transport.ErrConnectionLost) || errors.Is(err, transport.ErrTransportClosed) {
		s.serverEnded.Store(true)
	}
	return delivered, err
}

// afterSend maps a failed send to the next state. over is false when the
// message went out and the caller carries on.
func (s *Session) afterSend(ctx context.Context, delivered bool, err error) (next SessionState, over bool) {
	switch {
	case err != nil && ctx.Err() != nil:
		s.finish(OutcomeInterrupted, nil)
		s.leave(ctx)
		return StateEnd, true
	case err != nil:
		s.log.Info("send failed", zap.Error(err))
		s.serverEnded.Store(true)
		s.finish(OutcomeConnectionLost, nil)
		return StateEnd, true
	case !delivered:
		s.log.Warn("message was not confirmed, leaving")
		s.finish(OutcomeDeliveryFailed, ErrDeliveryFailed)
		s.leave(ctx)
		return StateEnd, true
	}
	return 0, false
}

// receiveFailed handles a Receive error outside of a cancelled Open state.
func (s *Session) receiveFailed(ctx context.Context, err error) SessionState {
	if ctx.Err() != nil {
		s.finish(OutcomeInterrupted, nil)
		s.leave(ctx)
		return StateEnd
	}
	s.log.Info("connection lost", zap.Error(err))
	s.serverEnded.Store(true)
	s.finish(OutcomeConnectionLost, nil)
	return StateEnd
}

func (s *Session) serverBye() {
	s.log.Debug("server ended the session")
	s.serverEnded.Store(true)
	s.finish(OutcomeServerBye, nil)
}

// violation tells the server it sent something unacceptable. The session
// continues in the Error state.
func (s *Session) violation(ctx context.Context, msg protocol.Message) SessionState {
	fields := []zap.Field{zap.Stringer("kind", msg.Kind()), zap.Uint16("id", msg.ID())}
	if inv, ok := msg.(protocol.Invalid); ok {
		fields = append(fields, zap.String("reason", inv.Content))
	}
	s.log.Warn("protocol violation", fields...)

	s.console.PrintLocalError("Invalid message from the server")
	s.finish(OutcomeProtocolError, nil)
	s.transmit(ctx, protocol.Error{
		MsgID:       s.ids.Next(),
		DisplayName: s.identity.DisplayName(),
		Content:     violationContent,
	})
	return StateError
}

// leave runs at most once per session. It sends Bye unless nothing was ever
// sent or the server already ended the session.
func (s *Session) leave(ctx context.Context) {
	s.leaveMu.Lock()
	defer s.leaveMu.Unlock()

	if s.left {
		return
	}
	s.left = true

	switch {
	case !s.sentAny.Load():
		s.log.Debug("leaving silently, nothing was sent")
	case s.serverEnded.Load():
		s.log.Debug("leaving silently, server already ended the session")
	default:
		s.transmit(ctx, protocol.Bye{MsgID: s.ids.Next()})
	}
}

// transmit is a best-effort send that outlives cancellation of ctx.
func (s *Session) transmit(ctx context.Context, m protocol.Message) {
	delivered, err := s.send(context.WithoutCancel(ctx), m)
	switch {
	case err != nil:
		s.log.Debug("best-effort send failed", zap.Stringer("kind", m.Kind()), zap.Error(err))
	case !delivered:
		s.log.Warn("best-effort send was not confirmed", zap.Stringer("kind", m.Kind()))
	}
}

func (s *Session) reportInputError(err error) {
	s.console.PrintLocalError(err.Error())
	if ShowsHelp(err) {
		s.console.PrintHelp()
	}
}

func (s *Session) notify(m protocol.Text) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify("ipk24chat", FormatText(m)); err != nil {
		s.log.Debug("desktop notification failed", zap.Error(err))
	}
}

func (s *Session) rememberConnection() {
	s.opened.Store(true)
	if s.store == nil {
		return
	}
	if err := s.store.SaveSuccessfulConnection(s.server, s.tr.Name()); err != nil {
		s.log.Warn("saving connection history failed", zap.Error(err))
	}
	if err := s.store.SetLastDisplayName(s.identity.DisplayName()); err != nil {
		s.log.Warn("saving display name failed", zap.Error(err))
	}
}

func (s *Session) recordSessionStart() {
	if s.store == nil || s.id == "" {
		return
	}
	if err := s.store.RecordSessionStart(s.id, s.server, s.tr.Name(), s.identity.DisplayName()); err != nil {
		s.log.Warn("recording session start failed", zap.Error(err))
	}
}

func (s *Session) recordSessionEnd() {
	if s.store == nil {
		return
	}
	if s.id != "" {
		if err := s.store.RecordSessionEnd(s.id, s.Outcome()); err != nil {
			s.log.Warn("recording session end failed", zap.Error(err))
		}
	}
	if !s.opened.Load() {
		return
	}
	if err := s.store.SetLastDisplayName(s.identity.DisplayName()); err != nil {
		s.log.Warn("saving display name failed", zap.Error(err))
	}
}
