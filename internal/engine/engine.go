package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"rideline/internal/address"
	"rideline/internal/config"
	"rideline/internal/dispatch"
	"rideline/internal/domain"
	"rideline/internal/draft"
	"rideline/internal/events"
	"rideline/internal/gateway"
	"rideline/internal/logger"
	"rideline/internal/metrics"
	"rideline/internal/repo"
)

// EventLog is the audit trail of engine actions. repo.Repo implements it.
type EventLog interface {
	AppendEvent(ctx context.Context, evtType, entityKind, entityID, actorID string, payload events.EventPayload) error
	LatestEvents(ctx context.Context, n int, evtType, entityKind, entityID string) ([]domain.Event, error)
}

// Engine wires the sessions to their collaborators.
type Engine struct {
	Store     repo.Store
	Events    EventLog
	Addresses address.Source
	Gateway   gateway.Gateway
	Config    *config.Config
	Logger    logger.Logger
	Metrics   *metrics.Sink
	Now       func() time.Time
	NewID     func() string
}

func New(store repo.Store, log EventLog, addrs address.Source, gw gateway.Gateway, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		Store:     store,
		Events:    log,
		Addresses: addrs,
		Gateway:   gw,
		Config:    cfg,
		Logger:    logger.Nop{},
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() logger.Logger {
	return logger.Child(e.Logger, "engine")
}

func (e Engine) draftDeps() draft.Deps {
	return draft.Deps{
		Store:    e.Store,
		Resolver: e.Addresses,
		Logger:   e.Logger,
		Metrics:  e.Metrics,
		Now:      e.now,
		NewID:    e.NewID,
	}
}

func (e Engine) dispatchDeps() dispatch.Deps {
	return dispatch.Deps{
		Store:   e.Store,
		Gateway: e.Gateway,
		Logger:  e.Logger,
		Metrics: e.Metrics,
		Now:     e.now,
	}
}

func (e Engine) capacity() int {
	if e.Config != nil && e.Config.Dispatch.TaxiCapacity > 0 {
		return e.Config.Dispatch.TaxiCapacity
	}
	return dispatch.DefaultCapacity
}

// record appends an audit event. The action it describes already happened,
// so a failure here is logged and not returned.
func (e Engine) record(ctx context.Context, evtType, kind, id, actorID string, payload events.EventPayload) {
	if e.Events == nil {
		return
	}
	if err := e.Events.AppendEvent(ctx, evtType, kind, id, actorID, payload); err != nil {
		e.log().Warnf("append event %s %s: %v", evtType, id, err)
	}
}

// NewDraft starts a fresh authoring session.
func (e Engine) NewDraft() *draft.Manager {
	return draft.New(e.draftDeps())
}

// OpenDraft resumes the given draft, or the latest one when id is empty.
func (e Engine) OpenDraft(ctx context.Context, id string) (*draft.Manager, error) {
	return draft.Open(ctx, e.draftDeps(), id)
}

func (e Engine) ListDrafts(ctx context.Context) ([]domain.Draft, error) {
	return draft.List(ctx, e.Store)
}

// Employee looks an employee up in the address source.
func (e Engine) Employee(ctx context.Context, id string) (domain.Employee, error) {
	if e.Addresses == nil {
		return domain.Employee{}, domain.Collaborator("address", "employee", errors.New("no address source configured"))
	}
	emp, err := e.Addresses.Employee(ctx, id)
	if errors.Is(err, address.ErrUnknownEmployee) {
		return domain.Employee{}, domain.Invalid(domain.ReasonUnknownEmployee, "%v", err)
	}
	if err != nil {
		return domain.Employee{}, domain.Collaborator("address", "employee", err)
	}
	return emp, nil
}

func (e Engine) Employees(ctx context.Context) ([]domain.Employee, error) {
	if e.Addresses == nil {
		return nil, domain.Collaborator("address", "employees", errors.New("no address source configured"))
	}
	list, err := e.Addresses.Employees(ctx)
	if err != nil {
		return nil, domain.Collaborator("address", "employees", err)
	}
	return list, nil
}

// SelectEmployee adds an employee to the draft by id.
func (e Engine) SelectEmployee(ctx context.Context, m *draft.Manager, employeeID string) error {
	emp, err := e.Employee(ctx, employeeID)
	if err != nil {
		return err
	}
	return m.Select(ctx, emp)
}

// SubmitResult lists the requests created from one draft.
type SubmitResult struct {
	DraftID  string           `json:"draft_id"`
	Requests []domain.Request `json:"requests"`
	// Kept is true when the draft is still stored because some occurrences
	// were not created.
	Kept bool `json:"kept"`
}

// SubmitDraft creates one request per submission. When every request is
// created the draft is discarded. When the gateway fails midway, the
// occurrences already created are dropped from the draft and the rest stays
// saved for a retry. The same happens when the final discard fails.
func (e Engine) SubmitDraft(ctx context.Context, m *draft.Manager, actorID string) (SubmitResult, error) {
	subs, err := m.Submissions()
	if err != nil {
		return SubmitResult{}, err
	}
	res := SubmitResult{DraftID: m.ID()}
	var created []string
	for _, sub := range subs {
		req, err := e.Gateway.Create(ctx, sub)
		if err != nil {
			err = domain.Collaborator("gateway", "create", err)
			e.Metrics.Submission(err)
			if len(created) > 0 {
				m.DropOccurrences(created)
				if perr := m.Persist(ctx); perr != nil {
					e.log().Errorf("save draft %s after partial submit: %v", res.DraftID, perr)
				}
				res.Kept = true
			}
			return res, err
		}
		e.Metrics.Submission(nil)
		e.record(ctx, "request.created", "request", req.ID, actorID, events.EventPayload{
			"draft_id":   res.DraftID,
			"reference":  req.Reference,
			"date":       req.ScheduledDate,
			"time":       req.ScheduledTime,
			"passengers": len(req.Passengers),
		})
		res.Requests = append(res.Requests, req)
		created = append(created, sub.ScheduledDate)
	}
	if err := m.Discard(ctx); err != nil {
		// every request exists; keep the draft but leave nothing to resubmit
		m.DropOccurrences(created)
		if perr := m.Persist(ctx); perr != nil {
			e.log().Errorf("save draft %s after submit: %v", res.DraftID, perr)
		}
		res.Kept = true
		return res, err
	}
	e.log().Infof("draft %s submitted as %d requests", res.DraftID, len(res.Requests))
	return res, nil
}

func (e Engine) GetRequest(ctx context.Context, id string) (domain.Request, error) {
	req, err := e.Gateway.Get(ctx, id)
	if err != nil {
		return domain.Request{}, domain.Collaborator("gateway", "get", err)
	}
	return req, nil
}

func ensureRequestTransition(from, to domain.RequestStatus) error {
	switch from {
	case domain.StatusPending:
		if to == domain.StatusApproved || to == domain.StatusCancelled || to == domain.StatusRejected {
			return nil
		}
	case domain.StatusApproved:
		if to == domain.StatusCancelled {
			return nil
		}
	case domain.StatusDispatched:
		if to == domain.StatusAssigned || to == domain.StatusCancelled {
			return nil
		}
	case domain.StatusAssigned:
		if to == domain.StatusInProgress || to == domain.StatusCancelled {
			return nil
		}
	case domain.StatusInProgress:
		if to == domain.StatusCompleted {
			return nil
		}
	}
	return domain.Invalid(domain.ReasonInvalidTransition, "invalid request transition %s -> %s", from, to)
}

// SetRequestStatus moves a request along its lifecycle. DISPATCHED is only
// reached through FinalizeDispatch.
func (e Engine) SetRequestStatus(ctx context.Context, id string, status domain.RequestStatus, actorID string) (domain.Request, error) {
	req, err := e.GetRequest(ctx, id)
	if err != nil {
		return domain.Request{}, err
	}
	if err := ensureRequestTransition(req.Status, status); err != nil {
		return req, err
	}
	updated, err := e.Gateway.UpdateStatus(ctx, id, status)
	if err != nil {
		return req, domain.Collaborator("gateway", "update_status", err)
	}
	e.record(ctx, "request.status", "request", id, actorID, events.EventPayload{"from": req.Status, "to": status})
	return updated, nil
}

// EditRequest patches a request that has not been approved yet.
func (e Engine) EditRequest(ctx context.Context, id string, patch domain.RequestPatch, actorID string) (domain.Request, error) {
	if patch.Status != nil || len(patch.Assignments) > 0 {
		return domain.Request{}, domain.Invalid(domain.ReasonInvalidInput, "status and taxi assignments cannot be edited directly")
	}
	if patch.ScheduledDate != nil {
		if _, err := time.Parse("2006-01-02", *patch.ScheduledDate); err != nil {
			return domain.Request{}, domain.Invalid(domain.ReasonInvalidSchedule, "invalid date %q", *patch.ScheduledDate)
		}
	}
	if patch.ScheduledTime != nil {
		if _, err := time.Parse("15:04", *patch.ScheduledTime); err != nil {
			return domain.Request{}, domain.Invalid(domain.ReasonInvalidSchedule, "invalid time %q", *patch.ScheduledTime)
		}
	}
	if patch.Passengers != nil {
		if err := dispatch.ValidatePassengers(patch.Passengers); err != nil {
			return domain.Request{}, err
		}
	}
	req, err := e.GetRequest(ctx, id)
	if err != nil {
		return domain.Request{}, err
	}
	if req.Status != domain.StatusPending {
		return req, domain.Invalid(domain.ReasonInvalidTransition, "request %s is %s; only pending requests can be edited", id, req.Status)
	}
	updated, err := e.Gateway.Update(ctx, id, patch)
	if err != nil {
		return req, domain.Collaborator("gateway", "update", err)
	}
	fields, _ := json.Marshal(patch)
	e.record(ctx, "request.edited", "request", id, actorID, events.EventPayload{"patch": string(fields)})
	return updated, nil
}

// OpenDispatch starts or resumes the allocation of an approved request.
func (e Engine) OpenDispatch(ctx context.Context, requestID string) (*dispatch.Allocator, error) {
	req, err := e.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != domain.StatusApproved {
		return nil, domain.Invalid(domain.ReasonInvalidTransition, "request %s is %s; only approved requests can be dispatched", requestID, req.Status)
	}
	return dispatch.Open(ctx, e.dispatchDeps(), req, e.capacity())
}

// FinalizeDispatch finalizes the allocation and records it. The request is
// re-read first so a session opened before a cancellation cannot dispatch it.
func (e Engine) FinalizeDispatch(ctx context.Context, a *dispatch.Allocator, actorID string) ([]domain.VirtualTaxi, error) {
	req, err := e.GetRequest(ctx, a.RequestID())
	if err != nil {
		return nil, err
	}
	if req.Status != domain.StatusApproved {
		return nil, domain.Invalid(domain.ReasonInvalidTransition, "request %s is %s; only approved requests can be dispatched", req.ID, req.Status)
	}
	taxis, err := a.Finalize(ctx)
	if err != nil {
		return nil, err
	}
	used := 0
	for _, t := range taxis {
		if t.Status == domain.TaxiDispatched {
			used++
		}
	}
	e.record(ctx, "allocation.finalized", "request", a.RequestID(), actorID, events.EventPayload{"taxis": used})
	return taxis, nil
}

// AbandonDispatch drops the saved partition without touching the request.
func (e Engine) AbandonDispatch(ctx context.Context, a *dispatch.Allocator, actorID string) error {
	if err := a.Abandon(ctx); err != nil {
		return err
	}
	e.record(ctx, "allocation.abandoned", "request", a.RequestID(), actorID, nil)
	return nil
}

// ListAllocations returns the saved, unfinished dispatch sessions.
func (e Engine) ListAllocations(ctx context.Context) ([]domain.AllocationSnapshot, error) {
	recs, err := e.Store.ListByNamespace(ctx, repo.NamespaceAllocation)
	if err != nil {
		return nil, domain.Persistence("list allocations", err)
	}
	out := make([]domain.AllocationSnapshot, 0, len(recs))
	for _, rec := range recs {
		var s domain.AllocationSnapshot
		if err := json.Unmarshal(rec.Data, &s); err != nil {
			return nil, fmt.Errorf("%s: %w", rec.Key, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// LatestEvents returns recent audit events, newest first.
func (e Engine) LatestEvents(ctx context.Context, n int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	if e.Events == nil {
		return nil, nil
	}
	return e.Events.LatestEvents(ctx, n, evtType, entityKind, entityID)
}
