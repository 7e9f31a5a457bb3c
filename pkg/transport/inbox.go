package transport

import (
	"context"
	"sync"

	"github.com/aeolun/ipk24chat/pkg/protocol"
)

// inbox is an unbounded FIFO of decoded messages with a single consumer.
// Producers never block, so a slow reader cannot stall confirmations.
type inbox struct {
	mu     sync.Mutex
	queue  []protocol.Message
	notify chan struct{}
	err    error // set once the producer side is finished
}

func newInbox() *inbox {
	return &inbox{notify: make(chan struct{}, 1)}
}

func (q *inbox) push(m protocol.Message) {
	q.mu.Lock()
	if q.err != nil {
		q.mu.Unlock()
		return
	}
	q.queue = append(q.queue, m)
	q.mu.Unlock()
	q.wake()
}

// close marks the end of input. Messages already queued are still returned
// by pop before err is reported. Only the first call has an effect.
func (q *inbox) close(err error) {
	q.mu.Lock()
	if q.err == nil {
		q.err = err
	}
	q.mu.Unlock()
	q.wake()
}

func (q *inbox) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *inbox) pop(ctx context.Context) (protocol.Message, error) {
	for {
		q.mu.Lock()
		if len(q.queue) > 0 {
			m := q.queue[0]
			q.queue[0] = nil
			q.queue = q.queue[1:]
			q.mu.Unlock()
			return m, nil
		}
		err := q.err
		q.mu.Unlock()
		if err != nil {
			return nil, err
		}

		select {
		case <-q.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *inbox) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}
