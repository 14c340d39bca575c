package domain

import (
	"fmt"
	"strings"
	"time"
)

type TransportKind string

const (
	TransportPrivate TransportKind = "PRIVATE"
	TransportPublic  TransportKind = "PUBLIC"
)

func (k TransportKind) Valid() bool {
	return k == TransportPrivate || k == TransportPublic
}

// TripDirection decides which canonical employee address is the departure.
type TripDirection string

const (
	HomeToWork TripDirection = "HOME_TO_WORK"
	WorkToHome TripDirection = "WORK_TO_HOME"
)

func (d TripDirection) Valid() bool {
	return d == HomeToWork || d == WorkToHome
}

// Flip returns the opposite direction.
func (d TripDirection) Flip() TripDirection {
	if d == WorkToHome {
		return HomeToWork
	}
	return WorkToHome
}

type AddressKind string

const (
	AddressHome   AddressKind = "HOME"
	AddressOffice AddressKind = "OFFICE"
	AddressCustom AddressKind = "CUSTOM"
)

type Address struct {
	ID         string      `json:"id,omitempty" yaml:"id"`
	Kind       AddressKind `json:"kind" yaml:"kind" validate:"required,oneof=HOME OFFICE CUSTOM"`
	Label      string      `json:"label,omitempty" yaml:"label"`
	Line       string      `json:"line" yaml:"line" validate:"required,min=3"`
	City       string      `json:"city,omitempty" yaml:"city"`
	PostalCode string      `json:"postal_code,omitempty" yaml:"postal_code"`
}

// Display renders the address the way operators see it on a pickup list.
func (a Address) Display() string {
	parts := []string{strings.TrimSpace(a.Line)}
	if c := strings.TrimSpace(strings.TrimSpace(a.PostalCode) + " " + strings.TrimSpace(a.City)); c != "" {
		parts = append(parts, c)
	}
	return strings.Join(parts, ", ")
}

// EmployeeAddresses is what the address resolver knows about one employee.
// Either field may be absent.
type EmployeeAddresses struct {
	Home   *Address `json:"home,omitempty"`
	Office *Address `json:"office,omitempty"`
}

// Known lists the present addresses, home first.
func (e EmployeeAddresses) Known() []Address {
	var out []Address
	if e.Home != nil {
		out = append(out, *e.Home)
	}
	if e.Office != nil {
		out = append(out, *e.Office)
	}
	return out
}

type Employee struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Email string `json:"email,omitempty" yaml:"email"`
	Phone string `json:"phone,omitempty" yaml:"phone"`
}

// Leg selects one of the two address refs of a passenger.
type Leg string

const (
	LegDeparture Leg = "departure"
	LegArrival   Leg = "arrival"
)

func (l Leg) Valid() bool {
	return l == LegDeparture || l == LegArrival
}

type SelectedPassenger struct {
	Employee        Employee   `json:"employee"`
	KnownAddresses  []Address  `json:"known_addresses,omitempty"`
	Departure       AddressRef `json:"departure"`
	Arrival         AddressRef `json:"arrival"`
	CustomAddresses []Address  `json:"custom_addresses,omitempty"`
	Note            string     `json:"note,omitempty"`
}

// Ref returns the ref for the given leg.
func (p SelectedPassenger) Ref(l Leg) AddressRef {
	if l == LegArrival {
		return p.Arrival
	}
	return p.Departure
}

// Lookup resolves an address id against the resolver addresses and the
// custom addresses captured for this passenger.
func (p SelectedPassenger) Lookup(id string) (Address, bool) {
	for _, a := range p.KnownAddresses {
		if a.ID == id {
			return a, true
		}
	}
	for _, a := range p.CustomAddresses {
		if a.ID == id {
			return a, true
		}
	}
	return Address{}, false
}

// Resolve turns a ref into a concrete address.
func (p SelectedPassenger) Resolve(ref AddressRef) (Address, bool) {
	switch ref.Kind {
	case RefKnown:
		return p.Lookup(ref.ID)
	case RefInline:
		if ref.Inline == nil {
			return Address{}, false
		}
		return *ref.Inline, true
	case RefUnresolved:
		return Address{}, false
	}
	return Address{}, false
}

type RecurringDateTime struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

type Schedule struct {
	Date        string              `json:"date,omitempty"`
	Time        string              `json:"time,omitempty"`
	Recurring   bool                `json:"is_recurring"`
	Occurrences []RecurringDateTime `json:"occurrences,omitempty"`
}

// DateTimes lists every occurrence the schedule produces.
func (s Schedule) DateTimes() []RecurringDateTime {
	if s.Recurring {
		return append([]RecurringDateTime(nil), s.Occurrences...)
	}
	if s.Date == "" || s.Time == "" {
		return nil
	}
	return []RecurringDateTime{{Date: s.Date, Time: s.Time}}
}

type Draft struct {
	ID            string              `json:"draft_id"`
	Passengers    []SelectedPassenger `json:"selected_passengers"`
	TransportKind TransportKind       `json:"transport_kind"`
	Schedule      Schedule            `json:"schedule"`
	Direction     TripDirection       `json:"trip_direction"`
	Note          string              `json:"note,omitempty"`
	LastModified  time.Time           `json:"last_modified"`
}

// Empty reports whether there is nothing worth saving.
func (d Draft) Empty() bool {
	return len(d.Passengers) == 0 && strings.TrimSpace(d.Note) == ""
}

// Passenger returns the index of the selected passenger with the given employee id or -1.
func (d Draft) Passenger(employeeID string) int {
	for i, p := range d.Passengers {
		if p.Employee.ID == employeeID {
			return i
		}
	}
	return -1
}

type PassengerTransport struct {
	EmployeeID   string  `json:"employee_id" validate:"required"`
	EmployeeName string  `json:"employee_name,omitempty"`
	Departure    Address `json:"departure"`
	Arrival      Address `json:"arrival"`
	StartDate    string  `json:"start_date" validate:"required,datetime=2006-01-02"`
	StartTime    string  `json:"start_time" validate:"required,datetime=15:04"`
	Note         string  `json:"note,omitempty"`
	TaxiTag      string  `json:"taxi_tag,omitempty"`
}

type Submission struct {
	DraftID       string               `json:"draft_id,omitempty"`
	TransportKind TransportKind        `json:"transport_kind" validate:"required,oneof=PRIVATE PUBLIC"`
	Direction     TripDirection        `json:"trip_direction" validate:"required,oneof=HOME_TO_WORK WORK_TO_HOME"`
	ScheduledDate string               `json:"scheduled_date" validate:"required,datetime=2006-01-02"`
	ScheduledTime string               `json:"scheduled_time" validate:"required,datetime=15:04"`
	Note          string               `json:"note,omitempty"`
	Passengers    []PassengerTransport `json:"passengers" validate:"required,min=1,dive"`
}

type RequestStatus string

const (
	StatusPending    RequestStatus = "PENDING"
	StatusApproved   RequestStatus = "APPROVED"
	StatusDispatched RequestStatus = "DISPATCHED"
	StatusAssigned   RequestStatus = "ASSIGNED"
	StatusInProgress RequestStatus = "IN_PROGRESS"
	StatusCompleted  RequestStatus = "COMPLETED"
	StatusCancelled  RequestStatus = "CANCELLED"
	StatusRejected   RequestStatus = "REJECTED"
)

// ParseRequestStatus accepts upper or lower case names.
func ParseRequestStatus(s string) (RequestStatus, error) {
	st := RequestStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case StatusPending, StatusApproved, StatusDispatched, StatusAssigned,
		StatusInProgress, StatusCompleted, StatusCancelled, StatusRejected:
		return st, nil
	}
	return "", fmt.Errorf("unknown request status %q", s)
}

type Request struct {
	ID            string               `json:"id"`
	Reference     string               `json:"reference,omitempty"`
	ScheduledDate string               `json:"scheduled_date"`
	ScheduledTime string               `json:"scheduled_time"`
	Direction     TripDirection        `json:"trip_direction"`
	TransportKind TransportKind        `json:"transport_kind"`
	Note          string               `json:"note,omitempty"`
	Passengers    []PassengerTransport `json:"passengers"`
	Status        RequestStatus        `json:"status" enum:"PENDING,APPROVED,DISPATCHED,ASSIGNED,IN_PROGRESS,COMPLETED,CANCELLED,REJECTED"`
	CreatedAt     string               `json:"created_at,omitempty" format:"date-time"`
	UpdatedAt     string               `json:"updated_at,omitempty" format:"date-time"`
}

// TaxiAssignment tags one passenger-transport with the taxi it rides in.
type TaxiAssignment struct {
	EmployeeID string `json:"employee_id"`
	TaxiTag    string `json:"taxi_tag"`
}

// RequestPatch is a partial update sent to the request gateway.
type RequestPatch struct {
	Status        *RequestStatus       `json:"status,omitempty"`
	ScheduledDate *string              `json:"scheduled_date,omitempty"`
	ScheduledTime *string              `json:"scheduled_time,omitempty"`
	Note          *string              `json:"note,omitempty"`
	Passengers    []PassengerTransport `json:"passengers,omitempty"`
	Assignments   []TaxiAssignment     `json:"assignments,omitempty"`
}

type TaxiStatus string

const (
	TaxiAvailable  TaxiStatus = "AVAILABLE"
	TaxiAssigned   TaxiStatus = "ASSIGNED"
	TaxiDispatched TaxiStatus = "DISPATCHED"
)

// DispatchPassenger is one passenger of a request as seen by the allocator.
type DispatchPassenger struct {
	EmployeeID   string  `json:"employee_id"`
	EmployeeName string  `json:"employee_name,omitempty"`
	Departure    Address `json:"departure"`
	Arrival      Address `json:"arrival"`
}

type VirtualTaxi struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	Capacity   int                 `json:"capacity"`
	Passengers []DispatchPassenger `json:"assigned_passengers"`
	Status     TaxiStatus          `json:"status" enum:"AVAILABLE,ASSIGNED,DISPATCHED"`
}

func (t VirtualTaxi) Full() bool {
	return len(t.Passengers) >= t.Capacity
}

// AllocationSnapshot is the resumable state of one dispatch session.
type AllocationSnapshot struct {
	RequestID string        `json:"request_id"`
	Capacity  int           `json:"capacity"`
	NextTaxi  int           `json:"next_taxi"`
	Taxis     []VirtualTaxi `json:"taxis"`
	SavedAt   time.Time     `json:"saved_at"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
