package memory

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/drbackfit/storefront/internal/repositories"
)

type dailyCounter struct {
	lastNumber int64
	lastDate   string
}

// CounterRepository is a mutex-guarded daily counter.
type CounterRepository struct {
	mu       sync.Mutex
	counters map[string]dailyCounter
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

// NewCounterRepository constructs an empty counter store.
func NewCounterRepository() *CounterRepository {
	return &CounterRepository{counters: make(map[string]dailyCounter)}
}

func (r *CounterRepository) NextDaily(ctx context.Context, counterID, day string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, &repositories.CounterError{CounterID: counterID, Day: day, Err: err}
	}
	if strings.TrimSpace(counterID) == "" || strings.TrimSpace(day) == "" {
		return 0, &repositories.CounterError{CounterID: counterID, Day: day, Err: errors.New("counter id and day are required")}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	counter := r.counters[counterID]
	if counter.lastDate == day {
		counter.lastNumber++
	} else {
		counter = dailyCounter{lastNumber: 1, lastDate: day}
	}
	r.counters[counterID] = counter
	return counter.lastNumber, nil
}
