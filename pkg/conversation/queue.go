package conversation

import (
	"log/slog"
	"sync"
)

// DefaultQueueCap bounds the pending message queue. Sixteen phrases is
// far more than a disconnected spell can reasonably accumulate.
const DefaultQueueCap = 16

// TextSender delivers one outbound text message. *Session implements it.
type TextSender interface {
	SendText(text string) error
}

// PendingQueue buffers outbound text messages while no connection is
// live and flushes them, in order, once one is. A message leaves the
// queue only after its send succeeds; on failure it stays at the front
// so ordering survives reconnects.
type PendingQueue struct {
	logger *slog.Logger

	mu       sync.Mutex
	messages []string
	cap      int
	dropped  int64
}

// NewPendingQueue creates a queue bounded at capacity messages.
// A capacity of zero or less uses DefaultQueueCap.
func NewPendingQueue(capacity int, logger *slog.Logger) *PendingQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCap
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PendingQueue{logger: logger, cap: capacity}
}

// Enqueue buffers one message. When full, the oldest message is
// dropped: the newest phrase reflects what the user just did.
func (q *PendingQueue) Enqueue(text string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.messages) >= q.cap {
		q.messages = q.messages[1:]
		q.dropped++
		q.logger.Warn("pending queue full, dropped oldest", "dropped_total", q.dropped)
	}
	q.messages = append(q.messages, text)
}

// Len returns the number of buffered messages.
func (q *PendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// DrainInOrder sends buffered messages front-to-back until the queue
// is empty or a send fails. The failing message is retained for the
// next drain, so no message is lost or reordered by a flaky link.
func (q *PendingQueue) DrainInOrder(sender TextSender) error {
	for {
		q.mu.Lock()
		if len(q.messages) == 0 {
			q.mu.Unlock()
			return nil
		}
		head := q.messages[0]
		q.mu.Unlock()

		if err := sender.SendText(head); err != nil {
			return err
		}

		q.mu.Lock()
		// Remove only after the send succeeded. The head may differ if
		// an overflow dropped it meanwhile; then there is nothing to do.
		if len(q.messages) > 0 && q.messages[0] == head {
			q.messages = q.messages[1:]
		}
		q.mu.Unlock()
	}
}
