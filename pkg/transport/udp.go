package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/aeolun/ipk24chat/pkg/metrics"
	"github.com/aeolun/ipk24chat/pkg/protocol"
	"go.uber.org/zap"
)

const maxDatagram = 64 * 1024

// pendingConfirm is the single message waiting for its Confirm.
type pendingConfirm struct {
	id   uint16
	done chan struct{}
}

// UDP is the reliable datagram transport. Every message it sends is
// retransmitted until confirmed; every message it receives is confirmed,
// deduplicated and, for replies, correlated with the outstanding request.
type UDP struct {
	opts    Options
	log     *zap.Logger
	metrics *metrics.Metrics

	conn *net.UDPConn

	// sendMu keeps at most one confirmable message in flight.
	sendMu sync.Mutex

	mu             sync.Mutex
	remote         *net.UDPAddr
	remoteSwitched bool
	pending        *pendingConfirm
	replyID        uint16
	replyPending   bool
	seen           *seenWindow

	inbox     *inbox
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewUDP creates an unconnected UDP transport
func NewUDP(opts Options) *UDP {
	opts = opts.withDefaults()
	return &UDP{
		opts:    opts,
		log:     opts.Logger.With(zap.String("transport", "udp")),
		metrics: opts.Metrics,
		seen:    newSeenWindow(defaultSeenWindow),
		inbox:   newInbox(),
		closed:  make(chan struct{}),
	}
}

func (u *UDP) Name() string { return "udp" }

// SetUp resolves the server and binds an ephemeral local port
func (u *UDP) SetUp(ctx context.Context) error {
	addr := net.JoinHostPort(u.opts.Server, strconv.Itoa(u.opts.Port))

	var resolver net.Resolver
	ips, err := resolver.LookupIPAddr(ctx, u.opts.Server)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", addr, err)
	}
	if len(ips) == 0 {
		return fmt.Errorf("resolve %s: no addresses", addr)
	}
	remote := &net.UDPAddr{IP: ips[0].IP, Port: u.opts.Port, Zone: ips[0].Zone}
	for _, ip := range ips {
		if ip.IP.To4() != nil {
			remote = &net.UDPAddr{IP: ip.IP, Port: u.opts.Port}
			break
		}
	}

	network := "udp6"
	if remote.IP.To4() != nil {
		network = "udp4"
	}
	conn, err := net.ListenUDP(network, nil)
	if err != nil {
		return fmt.Errorf("bind local socket: %w", err)
	}

	u.mu.Lock()
	u.conn = conn
	u.remote = remote
	u.mu.Unlock()

	u.log.Debug("udp socket ready",
		zap.Stringer("local", conn.LocalAddr()),
		zap.Stringer("remote", remote))

	u.wg.Add(1)
	go u.receiveLoop()
	return nil
}

// Send transmits m and waits for its Confirm, retransmitting after every
// timeout. It returns false, nil once Retries+1 attempts went unconfirmed.
func (u *UDP) Send(ctx context.Context, m protocol.Message) (bool, error) {
	if u.conn == nil {
		return false, ErrNotSetUp
	}
	data, err := protocol.EncodeBinary(m)
	if err != nil {
		return false, err
	}

	u.sendMu.Lock()
	defer u.sendMu.Unlock()

	select {
	case <-u.closed:
		return false, ErrTransportClosed
	default:
	}

	p := &pendingConfirm{id: m.ID(), done: make(chan struct{})}
	u.mu.Lock()
	u.pending = p
	if protocol.ExpectsReply(m) {
		u.replyID = m.ID()
		u.replyPending = true
	}
	u.mu.Unlock()

	defer func() {
		u.mu.Lock()
		if u.pending == p {
			u.pending = nil
		}
		u.mu.Unlock()
	}()

	log := u.log.With(zap.Stringer("kind", m.Kind()), zap.Uint16("id", m.ID()))
	start := time.Now()
	defer func() {
		u.metrics.RecordSendDuration(u.Name(), time.Since(start).Seconds())
	}()

	for attempt := 0; attempt <= u.opts.Retries; attempt++ {
		if attempt > 0 {
			u.metrics.RecordRetransmission()
			log.Warn("retransmitting", zap.Int("attempt", attempt+1))
		}

		if _, err := u.conn.WriteToUDP(data, u.remoteAddr()); err != nil {
			if u.isClosed() {
				return false, ErrTransportClosed
			}
			return false, fmt.Errorf("%w: %v", ErrConnectionLost, err)
		}
		if attempt == 0 {
			u.metrics.RecordMessageSent(m.Kind().String())
			log.Debug("sent")
		}

		timer := time.NewTimer(u.opts.Timeout)
		select {
		case <-p.done:
			timer.Stop()
			log.Debug("confirmed", zap.Int("attempts", attempt+1))
			return true, nil
		case <-timer.C:
			u.metrics.RecordConfirmTimeout()
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-u.closed:
			timer.Stop()
			return false, ErrTransportClosed
		}
	}

	u.metrics.RecordDeliveryFailure()
	log.Warn("not confirmed", zap.Int("attempts", u.opts.Retries+1))
	return false, nil
}

// Receive returns the next message from the inbox
func (u *UDP) Receive(ctx context.Context) (protocol.Message, error) {
	if u.conn == nil {
		return nil, ErrNotSetUp
	}
	return u.inbox.pop(ctx)
}

// TearDown closes the socket and waits for the receive loop to exit
func (u *UDP) TearDown() error {
	var err error
	u.closeOnce.Do(func() {
		close(u.closed)
		if u.conn != nil {
			err = u.conn.Close()
		}
		u.inbox.close(ErrTransportClosed)
	})
	u.wg.Wait()
	return err
}

// RemoteAddr is the endpoint datagrams are currently sent to.
func (u *UDP) RemoteAddr() net.Addr {
	return u.remoteAddr()
}

// LocalAddr is the bound local socket, nil before SetUp.
func (u *UDP) LocalAddr() net.Addr {
	if u.conn == nil {
		return nil
	}
	return u.conn.LocalAddr()
}

func (u *UDP) remoteAddr() *net.UDPAddr {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.remote
}

func (u *UDP) isClosed() bool {
	select {
	case <-u.closed:
		return true
	default:
		return false
	}
}

func (u *UDP) receiveLoop() {
	defer u.wg.Done()

	buf := make([]byte, maxDatagram)
	for {
		n, from, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			if u.isClosed() || errors.Is(err, net.ErrClosed) {
				u.inbox.close(ErrTransportClosed)
				return
			}
			u.log.Warn("read failed", zap.Error(err))
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		u.handleDatagram(data, from)
	}
}

func (u *UDP) handleDatagram(data []byte, from *net.UDPAddr) {
	msg := protocol.DecodeBinary(data)
	log := u.log.With(zap.Stringer("kind", msg.Kind()), zap.Uint16("id", msg.ID()), zap.Stringer("from", from))

	if len(data) < protocol.HeaderSize {
		// No ID to confirm.
		u.metrics.RecordInvalid()
		log.Debug("short datagram")
		u.inbox.push(msg)
		return
	}

	if c, ok := msg.(protocol.Confirm); ok {
		u.handleConfirm(c, from, log)
		return
	}

	u.metrics.RecordMessageReceived(msg.Kind().String())
	u.adoptRemote(from)
	u.confirm(msg.ID(), from, log)

	u.mu.Lock()
	duplicate := u.seen.observe(msg.ID())
	u.mu.Unlock()
	if duplicate {
		u.metrics.RecordDuplicate()
		log.Debug("duplicate suppressed")
		return
	}

	if r, ok := msg.(protocol.Reply); ok {
		msg = u.correlate(r)
	}
	if inv, ok := msg.(protocol.Invalid); ok {
		u.metrics.RecordInvalid()
		log.Debug("invalid message", zap.String("reason", inv.Content))
	} else {
		log.Debug("received")
	}
	u.inbox.push(msg)
}

func (u *UDP) handleConfirm(c protocol.Confirm, from *net.UDPAddr, log *zap.Logger) {
	u.mu.Lock()
	p := u.pending
	matched := p != nil && p.id == c.MsgID
	if matched {
		u.pending = nil
		u.adoptRemoteLocked(from)
	}
	u.mu.Unlock()

	if matched {
		close(p.done)
		return
	}
	log.Debug("unexpected confirm ignored")
}

// correlate checks a Reply against the outstanding request. A mismatch
// becomes Invalid and leaves the outstanding request in place.
func (u *UDP) correlate(r protocol.Reply) protocol.Message {
	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.replyPending {
		return protocol.Invalid{MsgID: r.MsgID, Content: fmt.Sprintf("reply to %d while no request is outstanding", r.RefMsgID)}
	}
	if r.RefMsgID != u.replyID {
		return protocol.Invalid{MsgID: r.MsgID, Content: fmt.Sprintf("reply to %d, expected %d", r.RefMsgID, u.replyID)}
	}
	u.replyPending = false
	return r
}

// confirm acknowledges id to the address that sent it.
func (u *UDP) confirm(id uint16, to *net.UDPAddr, log *zap.Logger) {
	data, _ := protocol.EncodeBinary(protocol.Confirm{MsgID: id})
	if _, err := u.conn.WriteToUDP(data, to); err != nil {
		if !u.isClosed() {
			log.Warn("confirm failed", zap.Error(err))
		}
		return
	}
	u.metrics.RecordMessageSent(protocol.KindConfirm.String())
}

func (u *UDP) adoptRemote(from *net.UDPAddr) {
	u.mu.Lock()
	u.adoptRemoteLocked(from)
	u.mu.Unlock()
}

// adoptRemoteLocked switches to the server's dynamic port the first time it answers.
func (u *UDP) adoptRemoteLocked(from *net.UDPAddr) {
	if u.remoteSwitched || from == nil {
		return
	}
	u.remoteSwitched = true
	if from.IP.Equal(u.remote.IP) && from.Port == u.remote.Port {
		return
	}
	u.log.Debug("server endpoint changed", zap.Stringer("from", u.remote), zap.Stringer("to", from))
	u.remote = from
}
