package paymenttest

import (
	"context"
	"sync"

	"github.com/vattentrygg/payments/internal/payment"
)

// Store wraps a payment.Store and fails selected operations on demand.
type Store struct {
	payment.Store

	mu        sync.Mutex
	UpsertErr error
	GetErr    error
	AppendErr error
	StatusErr error
}

// NewStore wraps an in-memory store.
func NewStore() *Store {
	return &Store{Store: payment.NewInMemoryStore()}
}

// Upsert fails with UpsertErr when set.
func (s *Store) Upsert(ctx context.Context, rec *payment.Record) (bool, error) {
	if err := s.fail(&s.UpsertErr); err != nil {
		return false, err
	}
	return s.Store.Upsert(ctx, rec)
}

// GetBySessionID fails with GetErr when set.
func (s *Store) GetBySessionID(ctx context.Context, id string) (*payment.Record, error) {
	if err := s.fail(&s.GetErr); err != nil {
		return nil, err
	}
	return s.Store.GetBySessionID(ctx, id)
}

// AppendRefund fails with AppendErr when set.
func (s *Store) AppendRefund(ctx context.Context, id string, r payment.Refund) error {
	if err := s.fail(&s.AppendErr); err != nil {
		return err
	}
	return s.Store.AppendRefund(ctx, id, r)
}

// SetStatus fails with StatusErr when set.
func (s *Store) SetStatus(ctx context.Context, id string, status payment.Status) error {
	if err := s.fail(&s.StatusErr); err != nil {
		return err
	}
	return s.Store.SetStatus(ctx, id, status)
}

func (s *Store) fail(err *error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *err
}

// Publisher collects published events.
type Publisher struct {
	mu     sync.Mutex
	events []payment.Event
}

// Publish records e.
func (p *Publisher) Publish(e payment.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

// Events returns a copy of the recorded events.
func (p *Publisher) Events() []payment.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]payment.Event(nil), p.events...)
}
