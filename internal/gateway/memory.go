package gateway

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"rideline/internal/domain"
)

// Memory is an in-process Gateway. Fail, when set, is consulted before every
// call and its error returned as-is.
type Memory struct {
	mu       sync.RWMutex
	requests map[string]domain.Request
	seq      int
	Now      func() time.Time
	Fail     func(op string) error
}

func NewMemory() *Memory {
	return &Memory{requests: map[string]domain.Request{}}
}

func (m *Memory) now() string {
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	return now().UTC().Format(time.RFC3339)
}

func (m *Memory) fail(op string) error {
	if m.Fail == nil {
		return nil
	}
	return m.Fail(op)
}

func (m *Memory) Create(_ context.Context, sub domain.Submission) (domain.Request, error) {
	if err := m.fail("create"); err != nil {
		return domain.Request{}, err
	}
	if err := domain.Check(domain.ReasonInvalidInput, sub); err != nil {
		return domain.Request{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	ts := m.now()
	req := domain.Request{
		ID:            uuid.NewString(),
		Reference:     fmt.Sprintf("REQ-%04d", m.seq),
		ScheduledDate: sub.ScheduledDate,
		ScheduledTime: sub.ScheduledTime,
		Direction:     sub.Direction,
		TransportKind: sub.TransportKind,
		Note:          sub.Note,
		Passengers:    append([]domain.PassengerTransport(nil), sub.Passengers...),
		Status:        domain.StatusPending,
		CreatedAt:     ts,
		UpdatedAt:     ts,
	}
	m.requests[req.ID] = req
	return req, nil
}

func (m *Memory) Get(_ context.Context, id string) (domain.Request, error) {
	if err := m.fail("get"); err != nil {
		return domain.Request{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requests[id]
	if !ok {
		return domain.Request{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return req, nil
}

func (m *Memory) Update(_ context.Context, id string, patch domain.RequestPatch) (domain.Request, error) {
	if err := m.fail("update"); err != nil {
		return domain.Request{}, err
	}
	return m.update(id, patch)
}

func (m *Memory) update(id string, patch domain.RequestPatch) (domain.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return domain.Request{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	req = applyPatch(req, patch)
	req.UpdatedAt = m.now()
	m.requests[id] = req
	return req, nil
}

func (m *Memory) UpdateStatus(_ context.Context, id string, status domain.RequestStatus) (domain.Request, error) {
	if err := m.fail("update_status"); err != nil {
		return domain.Request{}, err
	}
	return m.update(id, domain.RequestPatch{Status: &status})
}

// List returns every stored request in creation order.
func (m *Memory) List() []domain.Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Request, 0, len(m.requests))
	for _, r := range m.requests {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Reference < out[j].Reference })
	return out
}
