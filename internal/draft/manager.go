// Package draft is the authoring session for one transport request draft.
package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"rideline/internal/address"
	"rideline/internal/domain"
	"rideline/internal/grouping"
	"rideline/internal/logger"
	"rideline/internal/metrics"
	"rideline/internal/repo"
)

// Deps are the collaborators a Manager works with.
type Deps struct {
	Store    repo.Store
	Resolver address.Resolver
	Logger   logger.Logger
	Metrics  *metrics.Sink
	Now      func() time.Time
	NewID    func() string
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

func (d Deps) newID() string {
	if d.NewID != nil {
		return d.NewID()
	}
	return uuid.NewString()
}

// Manager owns one draft. All methods are serialized; a method that returns
// an error has left the draft unchanged.
type Manager struct {
	mu          sync.Mutex
	deps        Deps
	log         logger.Logger
	draft       domain.Draft
	autosaveErr error
}

// New starts a fresh, empty draft.
func New(deps Deps) *Manager {
	m := &Manager{deps: deps, log: logger.Child(deps.Logger, "draft")}
	m.draft = m.fresh()
	return m
}

// Open loads the draft with the given id, or the most recently saved draft
// when id is empty, or starts a fresh one when the store holds none.
func Open(ctx context.Context, deps Deps, id string) (*Manager, error) {
	m := New(deps)
	if id != "" {
		d, err := Load(ctx, deps.Store, id)
		if err != nil {
			return nil, err
		}
		m.draft = d
		return m, nil
	}
	drafts, err := List(ctx, deps.Store)
	if err != nil {
		return nil, err
	}
	if len(drafts) > 0 {
		m.draft = latest(drafts)
		m.log.Debugf("resumed draft %s", m.draft.ID)
	}
	return m, nil
}

func latest(drafts []domain.Draft) domain.Draft {
	best := drafts[0]
	for _, d := range drafts[1:] {
		if d.LastModified.After(best.LastModified) {
			best = d
		}
	}
	return best
}

func (m *Manager) fresh() domain.Draft {
	return domain.Draft{
		ID:            m.deps.newID(),
		Passengers:    []domain.SelectedPassenger{},
		TransportKind: domain.TransportPrivate,
		Direction:     domain.HomeToWork,
	}
}

func (m *Manager) ID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.draft.ID
}

// Draft returns a deep copy of the current draft.
func (m *Manager) Draft() domain.Draft {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clone(m.draft)
}

func clone(d domain.Draft) domain.Draft {
	data, err := json.Marshal(d)
	if err != nil {
		panic(fmt.Sprintf("draft: marshal: %v", err))
	}
	var out domain.Draft
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("draft: unmarshal: %v", err))
	}
	return out
}

func (m *Manager) touch() {
	m.draft.LastModified = m.deps.now()
}

func (m *Manager) passenger(employeeID string) (int, error) {
	i := m.draft.Passenger(employeeID)
	if i < 0 {
		return -1, domain.Invalid(domain.ReasonUnknownPassenger, "employee %s is not a passenger of this draft", employeeID)
	}
	return i, nil
}

func (m *Manager) resolve(ctx context.Context, employeeID string) (domain.EmployeeAddresses, error) {
	if m.deps.Resolver == nil {
		return domain.EmployeeAddresses{}, domain.Collaborator("address", "resolve", errors.New("no address resolver configured"))
	}
	addrs, err := m.deps.Resolver.Resolve(ctx, employeeID)
	if errors.Is(err, address.ErrUnknownEmployee) {
		return domain.EmployeeAddresses{}, domain.Invalid(domain.ReasonUnknownEmployee, "%v", err)
	}
	if err != nil {
		return domain.EmployeeAddresses{}, domain.Collaborator("address", "resolve", err)
	}
	return addrs, nil
}

// derive picks the canonical refs for a direction. A missing address yields
// the unresolved sentinel.
func derive(addrs domain.EmployeeAddresses, dir domain.TripDirection) (dep, arr domain.AddressRef) {
	ref := func(a *domain.Address) domain.AddressRef {
		if a == nil {
			return domain.Unresolved()
		}
		return domain.Known(a.ID)
	}
	if dir == domain.WorkToHome {
		return ref(addrs.Office), ref(addrs.Home)
	}
	return ref(addrs.Home), ref(addrs.Office)
}

// Select adds an employee as passenger, seeding both address refs from the
// resolver for the current direction. Selecting a passenger twice is a no-op.
func (m *Manager) Select(ctx context.Context, emp domain.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if strings.TrimSpace(emp.ID) == "" {
		return domain.Invalid(domain.ReasonInvalidInput, "employee id is required")
	}
	if m.draft.Passenger(emp.ID) >= 0 {
		return nil
	}
	addrs, err := m.resolve(ctx, emp.ID)
	if err != nil {
		return err
	}
	dep, arr := derive(addrs, m.draft.Direction)
	m.draft.Passengers = append(m.draft.Passengers, domain.SelectedPassenger{
		Employee:       emp,
		KnownAddresses: addrs.Known(),
		Departure:      dep,
		Arrival:        arr,
	})
	m.touch()
	return nil
}

// Deselect removes a passenger.
func (m *Manager) Deselect(employeeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, err := m.passenger(employeeID)
	if err != nil {
		return err
	}
	m.draft.Passengers = append(m.draft.Passengers[:i:i], m.draft.Passengers[i+1:]...)
	m.touch()
	return nil
}

// ToggleDirection flips the trip direction and re-derives every auto-derived
// address ref. Refs the operator set by hand are kept. All passengers are
// resolved before anything changes.
func (m *Manager) ToggleDirection(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	dir := m.draft.Direction.Flip()
	resolved := make([]domain.EmployeeAddresses, len(m.draft.Passengers))
	for i, p := range m.draft.Passengers {
		addrs, err := m.resolve(ctx, p.Employee.ID)
		if err != nil {
			return fmt.Errorf("re-resolve %s: %w", p.Employee.ID, err)
		}
		resolved[i] = addrs
	}
	passengers := make([]domain.SelectedPassenger, len(m.draft.Passengers))
	for i, p := range m.draft.Passengers {
		dep, arr := derive(resolved[i], dir)
		p.KnownAddresses = mergeKnown(resolved[i].Known(), p)
		if !p.Departure.Manual {
			p.Departure = dep
		}
		if !p.Arrival.Manual {
			p.Arrival = arr
		}
		passengers[i] = p
	}
	m.draft.Passengers = passengers
	m.draft.Direction = dir
	m.touch()
	return nil
}

// mergeKnown keeps previously known addresses that a manual ref still points at.
func mergeKnown(fresh []domain.Address, p domain.SelectedPassenger) []domain.Address {
	has := func(id string) bool {
		for _, a := range fresh {
			if a.ID == id {
				return true
			}
		}
		return false
	}
	for _, ref := range []domain.AddressRef{p.Departure, p.Arrival} {
		if !ref.Manual || ref.Kind != domain.RefKnown || has(ref.ID) {
			continue
		}
		for _, a := range p.KnownAddresses {
			if a.ID == ref.ID {
				fresh = append(fresh, a)
			}
		}
	}
	return fresh
}

// SetAddress overrides one leg of a passenger with a known or inline address.
// The ref is marked manual. An inline address is also kept among the
// passenger's custom addresses so it stays selectable.
func (m *Manager) SetAddress(employeeID string, leg domain.Leg, ref domain.AddressRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !leg.Valid() {
		return domain.Invalid(domain.ReasonInvalidInput, "unknown leg %q", leg)
	}
	i, err := m.passenger(employeeID)
	if err != nil {
		return err
	}
	p := m.draft.Passengers[i]
	switch ref.Kind {
	case domain.RefKnown:
		if _, ok := p.Lookup(ref.ID); !ok {
			return domain.Invalid(domain.ReasonInvalidAddress, "address %s is not known for %s", ref.ID, employeeID)
		}
	case domain.RefInline:
		if ref.Inline == nil {
			return domain.Invalid(domain.ReasonInvalidAddress, "inline address is empty")
		}
		ref = domain.Inline(*ref.Inline)
		if err := domain.Check(domain.ReasonInvalidAddress, *ref.Inline); err != nil {
			return err
		}
		p.CustomAddresses, ref.Inline.ID = m.retainCustom(p.CustomAddresses, *ref.Inline)
	case domain.RefUnresolved:
		return domain.Invalid(domain.ReasonInvalidAddress, "cannot set an unresolved address")
	default:
		return domain.Invalid(domain.ReasonInvalidAddress, "unknown address ref kind %q", ref.Kind)
	}
	ref.Manual = true
	setLeg(&p, leg, ref)
	m.draft.Passengers[i] = p
	m.touch()
	return nil
}

// retainCustom returns the custom list holding a, matched by display line,
// and the id a is stored under.
func (m *Manager) retainCustom(custom []domain.Address, a domain.Address) ([]domain.Address, string) {
	want := grouping.DisplayKey(a)
	for _, c := range custom {
		if grouping.DisplayKey(c) == want {
			return custom, c.ID
		}
	}
	a.ID = "custom-" + m.deps.newID()
	return append(append([]domain.Address(nil), custom...), a), a.ID
}

// AddCustomAddress stores a new address on the passenger so it stays
// selectable, and points the given leg at it.
func (m *Manager) AddCustomAddress(employeeID string, leg domain.Leg, a domain.Address) (domain.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !leg.Valid() {
		return domain.Address{}, domain.Invalid(domain.ReasonInvalidInput, "unknown leg %q", leg)
	}
	i, err := m.passenger(employeeID)
	if err != nil {
		return domain.Address{}, err
	}
	a.Kind = domain.AddressCustom
	if a.ID == "" {
		a.ID = "custom-" + m.deps.newID()
	}
	if err := domain.Check(domain.ReasonInvalidAddress, a); err != nil {
		return domain.Address{}, err
	}
	p := m.draft.Passengers[i]
	if _, dup := p.Lookup(a.ID); dup {
		return domain.Address{}, domain.Invalid(domain.ReasonInvalidAddress, "address id %s already exists", a.ID)
	}
	p.CustomAddresses = append(append([]domain.Address(nil), p.CustomAddresses...), a)
	ref := domain.Known(a.ID)
	ref.Manual = true
	setLeg(&p, leg, ref)
	m.draft.Passengers[i] = p
	m.touch()
	return a, nil
}

func setLeg(p *domain.SelectedPassenger, leg domain.Leg, ref domain.AddressRef) {
	if leg == domain.LegArrival {
		p.Arrival = ref
		return
	}
	p.Departure = ref
}

func (m *Manager) SetPassengerNote(employeeID, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, err := m.passenger(employeeID)
	if err != nil {
		return err
	}
	m.draft.Passengers[i].Note = strings.TrimSpace(note)
	m.touch()
	return nil
}

func (m *Manager) SetNote(note string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.draft.Note = note
	m.touch()
}

func (m *Manager) SetTransportKind(k domain.TransportKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k = domain.TransportKind(strings.ToUpper(string(k)))
	if !k.Valid() {
		return domain.Invalid(domain.ReasonInvalidInput, "unknown transport kind %q", k)
	}
	m.draft.TransportKind = k
	m.touch()
	return nil
}

// SetSchedule sets the primary date and time. Either may be empty to clear it.
func (m *Manager) SetSchedule(date, tm string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if date != "" && !validDate(date) {
		return domain.Invalid(domain.ReasonInvalidSchedule, "invalid date %q, want YYYY-MM-DD", date)
	}
	if tm != "" && !validTime(tm) {
		return domain.Invalid(domain.ReasonInvalidSchedule, "invalid time %q, want HH:MM", tm)
	}
	m.draft.Schedule.Date = date
	m.draft.Schedule.Time = tm
	m.touch()
	return nil
}

// SetRecurring switches between a single trip and the occurrence list.
func (m *Manager) SetRecurring(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.draft.Schedule.Recurring = on
	m.touch()
}

// SetRecurringDates replaces the occurrence list. Dates already present keep
// their time; new dates start at the primary schedule time.
func (m *Manager) SetRecurringDates(dates []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool, len(dates))
	var uniq []string
	for _, d := range dates {
		d = strings.TrimSpace(d)
		if !validDate(d) {
			return domain.Invalid(domain.ReasonInvalidSchedule, "invalid date %q, want YYYY-MM-DD", d)
		}
		if !seen[d] {
			seen[d] = true
			uniq = append(uniq, d)
		}
	}
	sort.Strings(uniq)
	existing := make(map[string]string, len(m.draft.Schedule.Occurrences))
	for _, o := range m.draft.Schedule.Occurrences {
		existing[o.Date] = o.Time
	}
	var occ []domain.RecurringDateTime
	for _, d := range uniq {
		tm, ok := existing[d]
		if !ok {
			tm = m.draft.Schedule.Time
		}
		occ = append(occ, domain.RecurringDateTime{Date: d, Time: tm})
	}
	m.draft.Schedule.Occurrences = occ
	m.touch()
	return nil
}

// SetOccurrenceTime edits the time of exactly one occurrence.
func (m *Manager) SetOccurrenceTime(date, tm string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !validTime(tm) {
		return domain.Invalid(domain.ReasonInvalidSchedule, "invalid time %q, want HH:MM", tm)
	}
	for i, o := range m.draft.Schedule.Occurrences {
		if o.Date == date {
			occ := append([]domain.RecurringDateTime(nil), m.draft.Schedule.Occurrences...)
			occ[i].Time = tm
			m.draft.Schedule.Occurrences = occ
			m.touch()
			return nil
		}
	}
	return domain.Invalid(domain.ReasonInvalidSchedule, "no occurrence on %s", date)
}

// DropOccurrences removes the given dates, used once their requests exist.
// A one-off schedule on a dropped date is cleared.
func (m *Manager) DropOccurrences(dates []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	drop := make(map[string]bool, len(dates))
	for _, d := range dates {
		drop[d] = true
	}
	if !m.draft.Schedule.Recurring && drop[m.draft.Schedule.Date] {
		m.draft.Schedule.Date = ""
		m.draft.Schedule.Time = ""
	}
	var occ []domain.RecurringDateTime
	for _, o := range m.draft.Schedule.Occurrences {
		if !drop[o.Date] {
			occ = append(occ, o)
		}
	}
	m.draft.Schedule.Occurrences = occ
	m.touch()
}

// Groups returns the passengers grouped by departure address.
func (m *Manager) Groups() map[string][]domain.SelectedPassenger {
	return grouping.ByDeparture(m.Draft().Passengers)
}

// Submissions builds the gateway payloads for the current draft.
func (m *Manager) Submissions() ([]domain.Submission, error) {
	return ToSubmissions(m.Draft())
}

// Persist upserts the draft under its id. Persisting an unchanged draft
// writes nothing new.
func (m *Manager) Persist(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persistLocked(ctx)
}

func (m *Manager) persistLocked(ctx context.Context) error {
	if m.draft.LastModified.IsZero() {
		m.touch()
	}
	data, err := json.Marshal(m.draft)
	if err != nil {
		return fmt.Errorf("encode draft: %w", err)
	}
	err = m.deps.Store.Set(ctx, key(m.draft.ID), data)
	m.deps.Metrics.StoreWrite(repo.NamespaceDraft, err)
	if err != nil {
		return domain.Persistence("save draft", err)
	}
	return nil
}

// Discard deletes the stored draft and starts a fresh one with a new id.
func (m *Manager) Discard(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.deps.Store.Delete(ctx, key(m.draft.ID)); err != nil {
		return domain.Persistence("delete draft", err)
	}
	m.log.Debugf("discarded draft %s", m.draft.ID)
	m.draft = m.fresh()
	m.autosaveErr = nil
	return nil
}
