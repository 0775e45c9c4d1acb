package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/drbackfit/storefront/internal/platform/firestore"
	"github.com/drbackfit/storefront/internal/repositories"
)

const countersCollection = "counters"

type counterDocument struct {
	LastNumber int64     `firestore:"lastNumber"`
	LastDate   string    `firestore:"lastDate"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
}

// CounterRepository implements repositories.CounterRepository backed by Firestore transactions.
type CounterRepository struct {
	provider *pfirestore.Provider
	counters *pfirestore.Collection[counterDocument]
	clock    func() time.Time
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

// NewCounterRepository constructs a Firestore-backed counter repository.
func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{
		provider: provider,
		counters: pfirestore.NewCollection[counterDocument](provider, countersCollection),
		clock:    time.Now,
	}, nil
}

// NextDaily atomically advances counters/{counterID}. The sequence restarts at 1 whenever the
// stored day differs from day.
func (r *CounterRepository) NextDaily(ctx context.Context, counterID, day string) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" || strings.TrimSpace(day) == "" {
		return 0, &repositories.CounterError{CounterID: counterID, Day: day, Err: errors.New("counter id and day are required")}
	}

	var next int64
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.counters.Doc(ctx, id)
		if err != nil {
			return err
		}

		doc := counterDocument{}
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			if doc, err = pfirestore.Decode[counterDocument](snap); err != nil {
				return err
			}
		case pfirestore.IsNotFound(err):
			// first order for this counter
		default:
			return err
		}

		if doc.LastDate == day {
			doc.LastNumber++
		} else {
			doc = counterDocument{LastNumber: 1, LastDate: day}
		}
		doc.UpdatedAt = r.clock().UTC()

		next = doc.LastNumber
		return tx.Set(ref, doc)
	})
	if err != nil {
		return 0, &repositories.CounterError{CounterID: id, Day: day, Err: err}
	}
	return next, nil
}
