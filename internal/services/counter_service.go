package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/drbackfit/storefront/internal/repositories"
)

const (
	defaultOrderCounterID = "orders"
	orderNumberDayLayout  = "20060102"
)

// ErrOrderNumberUnavailable is returned when the daily sequence cannot be advanced.
var ErrOrderNumberUnavailable = errors.New("failed to generate order number")

// CounterServiceDeps bundles collaborators required to construct the order number generator.
type CounterServiceDeps struct {
	Repository repositories.CounterRepository
	Clock      func() time.Time
	// Location decides which calendar day an order belongs to. Defaults to UTC.
	Location  *time.Location
	CounterID string
}

type counterService struct {
	repo      repositories.CounterRepository
	clock     func() time.Time
	location  *time.Location
	counterID string
}

var _ OrderNumberGenerator = (*counterService)(nil)

// NewCounterService constructs the generator for ORD-YYYYMMDD-NNN numbers.
func NewCounterService(deps CounterServiceDeps) (OrderNumberGenerator, error) {
	if deps.Repository == nil {
		return nil, errors.New("counter service: repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	location := deps.Location
	if location == nil {
		location = time.UTC
	}
	counterID := strings.TrimSpace(deps.CounterID)
	if counterID == "" {
		counterID = defaultOrderCounterID
	}

	return &counterService{
		repo:      deps.Repository,
		clock:     clock,
		location:  location,
		counterID: counterID,
	}, nil
}

// NextOrderNumber returns ORD-{day}-{seq}. The sequence is zero-padded to three digits and
// keeps growing past 999.
func (s *counterService) NextOrderNumber(ctx context.Context) (string, error) {
	day := s.clock().In(s.location).Format(orderNumberDayLayout)
	seq, err := s.repo.NextDaily(ctx, s.counterID, day)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrOrderNumberUnavailable, err)
	}
	return formatOrderNumber(day, seq), nil
}

func formatOrderNumber(day string, seq int64) string {
	return fmt.Sprintf("ORD-%s-%03d", day, seq)
}
