package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	pfirestore "github.com/drbackfit/storefront/internal/platform/firestore"
	"github.com/drbackfit/storefront/internal/repositories"
)

const defaultMailCollection = "mail"

// mailDocument follows the layout consumed by the Firebase Trigger Email extension.
type mailDocument struct {
	To        string          `firestore:"to"`
	Message   messageDocument `firestore:"message"`
	CreatedAt time.Time       `firestore:"createdAt,serverTimestamp"`
}

type messageDocument struct {
	Subject string `firestore:"subject"`
	HTML    string `firestore:"html"`
	Text    string `firestore:"text,omitempty"`
}

// MailQueue enqueues outbound email as documents for the Trigger Email extension.
type MailQueue struct {
	mail *pfirestore.Collection[mailDocument]
}

var _ repositories.MailQueue = (*MailQueue)(nil)

// NewMailQueue writes to the named collection, "mail" when empty.
func NewMailQueue(provider *pfirestore.Provider, collection string) (*MailQueue, error) {
	if provider == nil {
		return nil, errors.New("mail queue requires firestore provider")
	}
	if strings.TrimSpace(collection) == "" {
		collection = defaultMailCollection
	}
	return &MailQueue{mail: pfirestore.NewCollection[mailDocument](provider, collection)}, nil
}

func (q *MailQueue) Enqueue(ctx context.Context, mail repositories.Mail) (string, error) {
	if strings.TrimSpace(mail.To) == "" {
		return "", repositories.NewInvalidError("mail.enqueue", "recipient is required")
	}
	id := uuid.NewString()
	doc := mailDocument{
		To: mail.To,
		Message: messageDocument{
			Subject: mail.Subject,
			HTML:    mail.HTML,
			Text:    mail.Text,
		},
	}
	if err := q.mail.Create(ctx, id, doc); err != nil {
		return "", err
	}
	return id, nil
}
