// Package dispatch partitions the passengers of an approved request into
// capacity-bounded virtual taxis.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"rideline/internal/domain"
	"rideline/internal/gateway"
	"rideline/internal/grouping"
	"rideline/internal/logger"
	"rideline/internal/metrics"
	"rideline/internal/repo"
)

const DefaultCapacity = 4

type Deps struct {
	Store   repo.Store
	Gateway gateway.Gateway
	Logger  logger.Logger
	Metrics *metrics.Sink
	Now     func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

// Allocator is one dispatch session for one request. Every mutation is
// serialized and saved as a resumable snapshot.
type Allocator struct {
	mu          sync.Mutex
	deps        Deps
	log         logger.Logger
	requestID   string
	capacity    int
	nextTaxi    int
	passengers  []domain.DispatchPassenger
	taxis       []domain.VirtualTaxi
	finalized   bool
	autosaveErr error
}

func key(requestID string) string {
	return repo.Key(repo.NamespaceAllocation, requestID)
}

// PassengersOf lists the passengers of a request as the allocator sees them.
func PassengersOf(req domain.Request) []domain.DispatchPassenger {
	out := make([]domain.DispatchPassenger, 0, len(req.Passengers))
	for _, p := range req.Passengers {
		out = append(out, domain.DispatchPassenger{
			EmployeeID:   p.EmployeeID,
			EmployeeName: p.EmployeeName,
			Departure:    p.Departure,
			Arrival:      p.Arrival,
		})
	}
	return out
}

// ValidatePassengers rejects a passenger set the allocator cannot partition:
// empty, carrying an invalid entry, or listing an employee twice.
func ValidatePassengers(ps []domain.PassengerTransport) error {
	if len(ps) == 0 {
		return domain.Invalid(domain.ReasonEmptyPassengers, "request has no passengers")
	}
	seen := make(map[string]bool, len(ps))
	for _, p := range ps {
		if err := domain.Check(domain.ReasonInvalidInput, p); err != nil {
			return err
		}
		if seen[p.EmployeeID] {
			return domain.Invalid(domain.ReasonInvalidInput, "employee %s listed twice", p.EmployeeID)
		}
		seen[p.EmployeeID] = true
	}
	return nil
}

// New starts a session with a single empty taxi.
func New(deps Deps, req domain.Request, capacity int) *Allocator {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	a := &Allocator{
		deps:       deps,
		log:        logger.Child(deps.Logger, "dispatch"),
		requestID:  req.ID,
		capacity:   capacity,
		passengers: PassengersOf(req),
	}
	a.addTaxiLocked()
	return a
}

// Open resumes the saved partition for the request when one exists.
// Assignments of passengers no longer on the request are dropped.
func Open(ctx context.Context, deps Deps, req domain.Request, capacity int) (*Allocator, error) {
	if err := ValidatePassengers(req.Passengers); err != nil {
		return nil, err
	}
	a := New(deps, req, capacity)
	rec, err := deps.Store.Get(ctx, key(req.ID))
	if errors.Is(err, repo.ErrNotFound) {
		return a, nil
	}
	if err != nil {
		return nil, domain.Persistence("get allocation", err)
	}
	var snap domain.AllocationSnapshot
	if err := json.Unmarshal(rec.Data, &snap); err != nil {
		return nil, fmt.Errorf("decode allocation %s: %w", req.ID, err)
	}
	a.restore(snap)
	a.log.Debugf("resumed allocation %s with %d taxis", req.ID, len(a.taxis))
	return a, nil
}

func (a *Allocator) restore(snap domain.AllocationSnapshot) {
	current := make(map[string]domain.DispatchPassenger, len(a.passengers))
	for _, p := range a.passengers {
		current[p.EmployeeID] = p
	}
	seen := map[string]bool{}
	taxis := make([]domain.VirtualTaxi, 0, len(snap.Taxis))
	for _, t := range snap.Taxis {
		if t.Capacity <= 0 {
			t.Capacity = a.capacity
		}
		var kept []domain.DispatchPassenger
		for _, p := range t.Passengers {
			cur, ok := current[p.EmployeeID]
			if !ok || seen[p.EmployeeID] || len(kept) >= t.Capacity {
				continue
			}
			seen[p.EmployeeID] = true
			kept = append(kept, cur)
		}
		t.Passengers = kept
		t.Status = statusFor(t)
		taxis = append(taxis, t)
	}
	if len(taxis) == 0 {
		return
	}
	a.taxis = taxis
	a.nextTaxi = snap.NextTaxi
	if a.nextTaxi < len(taxis) {
		a.nextTaxi = len(taxis)
	}
	a.sortTaxis()
}

func statusFor(t domain.VirtualTaxi) domain.TaxiStatus {
	if len(t.Passengers) == 0 {
		return domain.TaxiAvailable
	}
	return domain.TaxiAssigned
}

func (a *Allocator) RequestID() string { return a.requestID }

// Taxis returns a copy of the taxi list in display order.
func (a *Allocator) Taxis() []domain.VirtualTaxi {
	a.mu.Lock()
	defer a.mu.Unlock()
	return cloneTaxis(a.taxis)
}

func cloneTaxis(in []domain.VirtualTaxi) []domain.VirtualTaxi {
	out := make([]domain.VirtualTaxi, len(in))
	for i, t := range in {
		t.Passengers = append([]domain.DispatchPassenger(nil), t.Passengers...)
		out[i] = t
	}
	return out
}

// Passengers returns the full passenger set of the request.
func (a *Allocator) Passengers() []domain.DispatchPassenger {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.DispatchPassenger(nil), a.passengers...)
}

// Unassigned lists passengers not yet in any taxi, in request order.
func (a *Allocator) Unassigned() []domain.DispatchPassenger {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.unassignedLocked()
}

func (a *Allocator) unassignedLocked() []domain.DispatchPassenger {
	in := a.assignedSet()
	var out []domain.DispatchPassenger
	for _, p := range a.passengers {
		if _, ok := in[p.EmployeeID]; !ok {
			out = append(out, p)
		}
	}
	return out
}

// Pool groups the unassigned passengers by pickup point.
func (a *Allocator) Pool() map[string][]domain.DispatchPassenger {
	return grouping.ByPickup(a.Unassigned())
}

func (a *Allocator) assignedSet() map[string]string {
	in := map[string]string{}
	for _, t := range a.taxis {
		for _, p := range t.Passengers {
			in[p.EmployeeID] = t.ID
		}
	}
	return in
}

func (a *Allocator) taxi(id string) (int, error) {
	for i, t := range a.taxis {
		if t.ID == id {
			return i, nil
		}
	}
	return -1, domain.Invalid(domain.ReasonUnknownTaxi, "no taxi %s", id)
}

func (a *Allocator) guard() error {
	if a.finalized {
		return domain.Invalid(domain.ReasonSessionFinalized, "allocation for %s is already finalized", a.requestID)
	}
	return nil
}

// sortTaxis keeps non-full taxis ahead of full ones, otherwise preserving
// order. It runs after every change to the taxi list.
func (a *Allocator) sortTaxis() {
	sort.SliceStable(a.taxis, func(i, j int) bool {
		return !a.taxis[i].Full() && a.taxis[j].Full()
	})
}

// AddTaxi adds an empty taxi with the session capacity. It lands after the
// other non-full taxis.
func (a *Allocator) AddTaxi(ctx context.Context) (domain.VirtualTaxi, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.guard(); err != nil {
		return domain.VirtualTaxi{}, err
	}
	t := a.addTaxiLocked()
	a.sortTaxis()
	a.autosave(ctx)
	return t, nil
}

func (a *Allocator) addTaxiLocked() domain.VirtualTaxi {
	a.nextTaxi++
	t := domain.VirtualTaxi{
		ID:         fmt.Sprintf("taxi-%d", a.nextTaxi),
		Name:       fmt.Sprintf("Taxi %d", a.nextTaxi),
		Capacity:   a.capacity,
		Passengers: []domain.DispatchPassenger{},
		Status:     domain.TaxiAvailable,
	}
	a.taxis = append(a.taxis, t)
	return t
}

// RemoveTaxi fails for a taxi that holds passengers and for the last taxi.
func (a *Allocator) RemoveTaxi(ctx context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.guard(); err != nil {
		return err
	}
	i, err := a.taxi(id)
	if err != nil {
		return err
	}
	if n := len(a.taxis[i].Passengers); n > 0 {
		return domain.Invalid(domain.ReasonTaxiNotEmpty, "%s still holds %d passengers", a.taxis[i].Name, n)
	}
	if len(a.taxis) == 1 {
		return domain.Invalid(domain.ReasonLastTaxi, "%s is the last taxi", a.taxis[i].Name)
	}
	a.taxis = append(a.taxis[:i:i], a.taxis[i+1:]...)
	a.autosave(ctx)
	return nil
}

// Assign puts a passenger of the request into a taxi with room left.
func (a *Allocator) Assign(ctx context.Context, employeeID, taxiID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	err := a.assignLocked(employeeID, taxiID)
	a.deps.Metrics.Assignment("assign", err)
	if err != nil {
		return err
	}
	a.autosave(ctx)
	return nil
}

func (a *Allocator) assignLocked(employeeID, taxiID string) error {
	if err := a.guard(); err != nil {
		return err
	}
	p, ok := a.lookup(employeeID)
	if !ok {
		return domain.Invalid(domain.ReasonUnknownPassenger, "%s is not a passenger of request %s", employeeID, a.requestID)
	}
	i, err := a.taxi(taxiID)
	if err != nil {
		return err
	}
	t := a.taxis[i]
	if t.Status == domain.TaxiDispatched {
		return domain.Invalid(domain.ReasonTaxiDispatched, "%s is already dispatched", t.Name)
	}
	if other, ok := a.assignedSet()[employeeID]; ok {
		return domain.Invalid(domain.ReasonAlreadyAssigned, "%s is already in %s", employeeID, other)
	}
	if t.Full() {
		return domain.Invalid(domain.ReasonTaxiFull, "%s is full (%d/%d)", t.Name, len(t.Passengers), t.Capacity)
	}
	t.Passengers = append(append([]domain.DispatchPassenger(nil), t.Passengers...), p)
	t.Status = statusFor(t)
	a.taxis[i] = t
	a.sortTaxis()
	return nil
}

func (a *Allocator) lookup(employeeID string) (domain.DispatchPassenger, bool) {
	for _, p := range a.passengers {
		if p.EmployeeID == employeeID {
			return p, true
		}
	}
	return domain.DispatchPassenger{}, false
}

// Unassign takes a passenger out of a taxi. An emptied taxi becomes available.
func (a *Allocator) Unassign(ctx context.Context, employeeID, taxiID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	err := a.unassignLocked(employeeID, taxiID)
	a.deps.Metrics.Assignment("unassign", err)
	if err != nil {
		return err
	}
	a.autosave(ctx)
	return nil
}

func (a *Allocator) unassignLocked(employeeID, taxiID string) error {
	if err := a.guard(); err != nil {
		return err
	}
	i, err := a.taxi(taxiID)
	if err != nil {
		return err
	}
	t := a.taxis[i]
	if t.Status == domain.TaxiDispatched {
		return domain.Invalid(domain.ReasonTaxiDispatched, "%s is already dispatched", t.Name)
	}
	for j, p := range t.Passengers {
		if p.EmployeeID == employeeID {
			t.Passengers = append(t.Passengers[:j:j], t.Passengers[j+1:]...)
			t.Status = statusFor(t)
			a.taxis[i] = t
			a.sortTaxis()
			return nil
		}
	}
	return domain.Invalid(domain.ReasonUnknownPassenger, "%s is not in %s", employeeID, t.Name)
}

// IsComplete reports whether every passenger of the request is in a taxi.
func (a *Allocator) IsComplete() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.completeLocked()
}

func (a *Allocator) completeLocked() bool {
	count := map[string]int{}
	for _, t := range a.taxis {
		for _, p := range t.Passengers {
			count[p.EmployeeID]++
		}
	}
	if len(count) != len(a.passengers) {
		return false
	}
	for _, p := range a.passengers {
		if count[p.EmployeeID] != 1 {
			return false
		}
	}
	return true
}

// Finalize sends the partition to the request gateway and, once it accepts,
// marks every non-empty taxi dispatched. Nothing changes when the allocation
// is incomplete or the gateway fails.
func (a *Allocator) Finalize(ctx context.Context) ([]domain.VirtualTaxi, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.guard(); err != nil {
		return nil, err
	}
	if !a.completeLocked() {
		err := domain.Invalid(domain.ReasonIncompleteAllocation, "%d of %d passengers are not assigned", len(a.unassignedLocked()), len(a.passengers))
		a.deps.Metrics.Finalized(0, err)
		return nil, err
	}
	var (
		assignments []domain.TaxiAssignment
		used        int
	)
	for _, t := range a.taxis {
		if len(t.Passengers) == 0 {
			continue
		}
		used++
		for _, p := range t.Passengers {
			assignments = append(assignments, domain.TaxiAssignment{EmployeeID: p.EmployeeID, TaxiTag: t.Name})
		}
	}
	status := domain.StatusDispatched
	if _, err := a.deps.Gateway.Update(ctx, a.requestID, domain.RequestPatch{Status: &status, Assignments: assignments}); err != nil {
		err = domain.Collaborator("gateway", "update", err)
		a.deps.Metrics.Finalized(0, err)
		return nil, err
	}
	for i := range a.taxis {
		if len(a.taxis[i].Passengers) > 0 {
			a.taxis[i].Status = domain.TaxiDispatched
		}
	}
	a.finalized = true
	a.deps.Metrics.Finalized(used, nil)
	if err := a.deps.Store.Delete(ctx, key(a.requestID)); err != nil {
		a.log.Warnf("clear allocation snapshot %s: %v", a.requestID, err)
	}
	a.log.Infof("request %s dispatched in %d taxis", a.requestID, used)
	return cloneTaxis(a.taxis), nil
}

// Abandon drops the saved partition. The request itself is not touched.
func (a *Allocator) Abandon(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.deps.Store.Delete(ctx, key(a.requestID)); err != nil {
		return domain.Persistence("delete allocation", err)
	}
	return nil
}

// Snapshot returns the resumable state of the session.
func (a *Allocator) Snapshot() domain.AllocationSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Allocator) snapshotLocked() domain.AllocationSnapshot {
	return domain.AllocationSnapshot{
		RequestID: a.requestID,
		Capacity:  a.capacity,
		NextTaxi:  a.nextTaxi,
		Taxis:     cloneTaxis(a.taxis),
		SavedAt:   a.deps.now(),
	}
}

func (a *Allocator) autosave(ctx context.Context) {
	data, err := json.Marshal(a.snapshotLocked())
	if err == nil {
		err = a.deps.Store.Set(ctx, key(a.requestID), data)
	}
	a.deps.Metrics.StoreWrite(repo.NamespaceAllocation, err)
	if err != nil {
		a.autosaveErr = domain.Persistence("save allocation", err)
		a.deps.Metrics.AutosaveFailed("allocation")
		a.log.Warnf("autosave allocation %s: %v", a.requestID, err)
		return
	}
	a.autosaveErr = nil
}

// AutosaveErr reports the last snapshot failure, nil once a save succeeds.
func (a *Allocator) AutosaveErr() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.autosaveErr
}
