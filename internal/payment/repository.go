package payment

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrRecordNotFound is returned when no payment record exists for a session.
var ErrRecordNotFound = errors.New("payment record not found")

// Store persists payment records keyed by checkout session ID.
//
// Upsert is a conditional merge: on first write the record is inserted with
// InsertedAt set and an empty refund ledger; on later writes every
// gateway-derived field is overwritten while InsertedAt, Refunds and
// RefundedAmount are preserved, and a refunded status is never downgraded.
type Store interface {
	Upsert(ctx context.Context, snapshot *Record) (inserted bool, err error)
	GetBySessionID(ctx context.Context, sessionID string) (*Record, error)
	// AppendRefund appends to the refund ledger and adds the refund amount to
	// RefundedAmount in one step. A placeholder record with status complete is
	// created if the session was never reconciled.
	AppendRefund(ctx context.Context, sessionID string, refund Refund) error
	SetStatus(ctx context.Context, sessionID string, status Status) error
}

// InMemoryStore implements Store with in-memory storage.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

// NewInMemoryStore creates a new in-memory payment record store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

// Upsert inserts or merges a reconciled snapshot.
func (s *InMemoryStore) Upsert(ctx context.Context, snapshot *Record) (bool, error) {
	if snapshot == nil || snapshot.SessionID == "" {
		return false, errors.New("upsert: session id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	next := snapshot.Clone()
	next.UpdatedAt = now

	existing, ok := s.records[snapshot.SessionID]
	if !ok {
		next.InsertedAt = now
		next.Refunds = []Refund{}
		next.RefundedAmount = 0
		s.records[next.SessionID] = next
		return true, nil
	}

	next.InsertedAt = existing.InsertedAt
	next.Refunds = append([]Refund(nil), existing.Refunds...)
	next.RefundedAmount = existing.RefundedAmount
	if existing.Status == StatusRefunded {
		next.Status = StatusRefunded
	}
	s.records[next.SessionID] = next
	return false, nil
}

// GetBySessionID retrieves a payment record by session ID.
func (s *InMemoryStore) GetBySessionID(ctx context.Context, sessionID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[sessionID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return rec.Clone(), nil
}

// AppendRefund records an issued refund.
func (s *InMemoryStore) AppendRefund(ctx context.Context, sessionID string, refund Refund) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	rec, ok := s.records[sessionID]
	if !ok {
		rec = &Record{
			SessionID:  sessionID,
			Status:     StatusComplete,
			LineItems:  []LineItem{},
			Refunds:    []Refund{},
			InsertedAt: now,
		}
		s.records[sessionID] = rec
	}
	rec.Refunds = append(rec.Refunds, refund)
	rec.RefundedAmount += refund.Amount
	rec.UpdatedAt = now
	return nil
}

// SetStatus overwrites the status of an existing record.
func (s *InMemoryStore) SetStatus(ctx context.Context, sessionID string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[sessionID]
	if !ok {
		return ErrRecordNotFound
	}
	rec.Status = status
	rec.UpdatedAt = s.now().UTC()
	return nil
}

// Len returns the number of stored records.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
