// Package store provides in-memory implementations of the billing
// collaborator interfaces.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/fee-tracker/billing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements billing.ClientDirectory and billing.PaymentStore.
// Payment updates follow the same soft-delete versioning as the SQL store.
type Memory struct {
	mu        sync.RWMutex
	profiles  map[billing.ClientID]billing.BillingProfile
	contracts map[billing.ClientID]billing.ContractID
	payments  []memoryPayment // every version, ordered by received date
	nextID    billing.PaymentID
	now       func() time.Time
}

type memoryPayment struct {
	billing.StoredPayment
	deleted bool
}

var (
	_ billing.ClientDirectory = (*Memory)(nil)
	_ billing.PaymentStore    = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		profiles:  make(map[billing.ClientID]billing.BillingProfile),
		contracts: make(map[billing.ClientID]billing.ContractID),
		nextID:    1,
		now:       time.Now,
	}
}

// PutClient registers or replaces a client's profile and active contract.
// A zero contract leaves the client without an active contract.
func (m *Memory) PutClient(profile billing.BillingProfile, contract billing.ContractID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.profiles[profile.ClientID] = profile
	if contract == 0 {
		delete(m.contracts, profile.ClientID)
		return
	}
	m.contracts[profile.ClientID] = contract
}

// =============================================================================
// CLIENT DIRECTORY
// =============================================================================

func (m *Memory) BillingProfile(_ context.Context, clientID billing.ClientID) (billing.BillingProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[clientID]
	if !ok {
		return billing.BillingProfile{}, &billing.LookupError{What: "client", ClientID: clientID}
	}
	return p, nil
}

func (m *Memory) ActiveContract(_ context.Context, clientID billing.ClientID) (billing.ContractID, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.contracts[clientID]
	return c, ok, nil
}

// LastPaidPeriod returns the latest end period among the client's active
// payments of its current schedule.
func (m *Memory) LastPaidPeriod(_ context.Context, clientID billing.ClientID) (*billing.Period, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	profile, ok := m.profiles[clientID]
	if !ok {
		return nil, &billing.LookupError{What: "client", ClientID: clientID}
	}

	var last *billing.Period
	for _, p := range m.payments {
		rec := p.Record
		if p.deleted || rec.ClientID != clientID || rec.Schedule != profile.Schedule {
			continue
		}
		if last == nil || rec.Span.End.After(*last) {
			end := rec.Span.End
			last = &end
		}
	}
	return last, nil
}

// =============================================================================
// PAYMENT STORE
// =============================================================================

func (m *Memory) CreatePayment(_ context.Context, rec billing.PaymentRecord) (billing.StoredPayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(rec), nil
}

// UpdatePayment soft-deletes the current version and inserts rec as a new one.
func (m *Memory) UpdatePayment(_ context.Context, id billing.PaymentID, rec billing.PaymentRecord) (billing.StoredPayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.findLocked(id)
	if i < 0 {
		return billing.StoredPayment{}, billing.ErrNotFound
	}
	m.payments[i].deleted = true
	return m.insertLocked(rec), nil
}

func (m *Memory) DeletePayment(_ context.Context, id billing.PaymentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.findLocked(id)
	if i < 0 {
		return billing.ErrNotFound
	}
	m.payments[i].deleted = true
	return nil
}

func (m *Memory) GetPayment(_ context.Context, id billing.PaymentID) (*billing.StoredPayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i := m.findLocked(id)
	if i < 0 {
		return nil, nil
	}
	p := m.payments[i].StoredPayment
	return &p, nil
}

// ListPayments returns one page of the client's active payments, newest
// received first, plus the total count.
func (m *Memory) ListPayments(_ context.Context, clientID billing.ClientID, page billing.Page) ([]billing.StoredPayment, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []billing.StoredPayment
	for i := len(m.payments) - 1; i >= 0; i-- {
		p := m.payments[i]
		if !p.deleted && p.Record.ClientID == clientID {
			all = append(all, p.StoredPayment)
		}
	}

	total := len(all)
	start := page.Offset()
	if start >= total {
		return []billing.StoredPayment{}, total, nil
	}
	end := start + page.Limit()
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (m *Memory) findLocked(id billing.PaymentID) int {
	for i, p := range m.payments {
		if p.ID == id && !p.deleted {
			return i
		}
	}
	return -1
}

func (m *Memory) insertLocked(rec billing.PaymentRecord) billing.StoredPayment {
	stored := billing.StoredPayment{ID: m.nextID, Record: rec, ValidFrom: m.now()}
	m.nextID++

	// Binary search keeps payments ordered by received date; equal dates keep
	// insertion order.
	i := sort.Search(len(m.payments), func(i int) bool {
		return m.payments[i].Record.ReceivedDate.After(rec.ReceivedDate.Time)
	})
	m.payments = append(m.payments, memoryPayment{})
	copy(m.payments[i+1:], m.payments[i:])
	m.payments[i] = memoryPayment{StoredPayment: stored}
	return stored
}
