package usecase

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"RSIndex/internal/domain/models"
	"RSIndex/internal/repository"

	"github.com/shopspring/decimal"
)

// weekdays returns n consecutive weekdays starting at from.
func weekdays(from time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	for d := from; len(out) < n; d = d.AddDate(0, 0, 1) {
		if d.Weekday() != time.Saturday && d.Weekday() != time.Sunday {
			out = append(out, d)
		}
	}
	return out
}

func date(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func bar(id string, d time.Time, close, value float64) models.PricePoint {
	return models.PricePoint{
		InstrumentID: id,
		Date:         d,
		Close:        decimal.NewNullDecimal(decimal.NewFromFloat(close)),
		TradingValue: decimal.NewNullDecimal(decimal.NewFromFloat(value)),
	}
}

// seed stores one close series per instrument on the given dates.
func seed(s *repository.MemoryStore, dates []time.Time, closes map[string][]float64) {
	for id, cs := range closes {
		for i, c := range cs {
			s.PutPrices(bar(id, dates[i], c, 1000))
		}
	}
}

type recordedEvents struct {
	mu     sync.Mutex
	events []models.ComputationEvent
}

func (r *recordedEvents) Publish(_ context.Context, ev models.ComputationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordedEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

type queuedMessage struct {
	Type    string
	Payload json.RawMessage
}

type fakeQueue struct {
	mu   sync.Mutex
	msgs []queuedMessage
}

func (q *fakeQueue) Enqueue(_ context.Context, msgType string, payload interface{}) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.msgs = append(q.msgs, queuedMessage{Type: msgType, Payload: b})
	return "job-" + msgType, nil
}
