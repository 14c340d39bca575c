package server

import (
	"rideline/internal/domain"
	"rideline/internal/grouping"
)

type ListResponse[T any] struct {
	Items []T `json:"items"`
}

type PickupGroup struct {
	Pickup      string   `json:"pickup"`
	EmployeeIDs []string `json:"employee_ids"`
}

type DraftView struct {
	Draft         domain.Draft  `json:"draft"`
	Groups        []PickupGroup `json:"groups"`
	AutosaveError string        `json:"autosave_error,omitempty"`
}

type AllocationView struct {
	RequestID     string                     `json:"request_id"`
	Taxis         []domain.VirtualTaxi       `json:"taxis"`
	Unassigned    []domain.DispatchPassenger `json:"unassigned"`
	Pool          []PickupGroup              `json:"pool"`
	Complete      bool                       `json:"complete"`
	AutosaveError string                     `json:"autosave_error,omitempty"`
}

type SelectPassengerRequest struct {
	EmployeeID string `json:"employee_id" minLength:"1"`
}

type ScheduleRequest struct {
	Date string `json:"date,omitempty" example:"2026-03-02"`
	Time string `json:"time,omitempty" example:"08:30"`
}

type RecurringRequest struct {
	Recurring bool     `json:"is_recurring"`
	Dates     []string `json:"dates,omitempty"`
}

type OccurrenceTimeRequest struct {
	Time string `json:"time" example:"08:30"`
}

type DraftPatchRequest struct {
	Note          *string `json:"note,omitempty"`
	TransportKind *string `json:"transport_kind,omitempty" enum:"PRIVATE,PUBLIC,private,public"`
}

// AddressInput is an ad-hoc address typed by the operator.
type AddressInput struct {
	Label      string `json:"label,omitempty"`
	Line       string `json:"line"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
}

func (a AddressInput) address() domain.Address {
	return domain.Address{
		Kind:       domain.AddressCustom,
		Label:      a.Label,
		Line:       a.Line,
		City:       a.City,
		PostalCode: a.PostalCode,
	}
}

// SetAddressRequest points one leg at a known address id or an inline
// address. Save keeps an inline address selectable for later edits.
type SetAddressRequest struct {
	Leg       string        `json:"leg" enum:"departure,arrival"`
	AddressID string        `json:"address_id,omitempty"`
	Address   *AddressInput `json:"address,omitempty"`
	Save      bool          `json:"save,omitempty"`
}

type NoteRequest struct {
	Note string `json:"note"`
}

type StatusRequest struct {
	Status string `json:"status" enum:"PENDING,APPROVED,DISPATCHED,ASSIGNED,IN_PROGRESS,COMPLETED,CANCELLED,REJECTED"`
}

type AssignRequest struct {
	EmployeeID string `json:"employee_id" minLength:"1"`
}

type FinalizeResponse struct {
	RequestID string               `json:"request_id"`
	Taxis     []domain.VirtualTaxi `json:"taxis"`
}

func pickupGroups[T any](groups map[string][]T, id func(T) string) []PickupGroup {
	out := make([]PickupGroup, 0, len(groups))
	for _, k := range grouping.Keys(groups) {
		g := PickupGroup{Pickup: k, EmployeeIDs: make([]string, 0, len(groups[k]))}
		for _, p := range groups[k] {
			g.EmployeeIDs = append(g.EmployeeIDs, id(p))
		}
		out = append(out, g)
	}
	return out
}
