package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/drbackfit/storefront/internal/repositories"
)

// MailQueue records enqueued messages instead of sending them.
type MailQueue struct {
	mu       sync.Mutex
	messages []repositories.Mail
}

var _ repositories.MailQueue = (*MailQueue)(nil)

// NewMailQueue constructs an empty queue.
func NewMailQueue() *MailQueue {
	return &MailQueue{}
}

func (q *MailQueue) Enqueue(ctx context.Context, mail repositories.Mail) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, mail)
	return uuid.NewString(), nil
}

// Messages returns a copy of everything enqueued so far.
func (q *MailQueue) Messages() []repositories.Mail {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]repositories.Mail(nil), q.messages...)
}
