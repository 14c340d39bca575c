package gateway

import (
	"context"
	"errors"

	"rideline/internal/domain"
)

var ErrNotFound = errors.New("request not found")

// Gateway is the remote request service. This module never owns request
// state; it only creates, reads and patches it.
type Gateway interface {
	Create(ctx context.Context, sub domain.Submission) (domain.Request, error)
	Get(ctx context.Context, id string) (domain.Request, error)
	Update(ctx context.Context, id string, patch domain.RequestPatch) (domain.Request, error)
	UpdateStatus(ctx context.Context, id string, status domain.RequestStatus) (domain.Request, error)
}

// applyPatch returns req with the patch fields applied. Assignments tag the
// matching passenger-transports.
func applyPatch(req domain.Request, patch domain.RequestPatch) domain.Request {
	if patch.Status != nil {
		req.Status = *patch.Status
	}
	if patch.ScheduledDate != nil {
		req.ScheduledDate = *patch.ScheduledDate
	}
	if patch.ScheduledTime != nil {
		req.ScheduledTime = *patch.ScheduledTime
	}
	if patch.Note != nil {
		req.Note = *patch.Note
	}
	if patch.Passengers != nil {
		req.Passengers = append([]domain.PassengerTransport(nil), patch.Passengers...)
	}
	if len(patch.Assignments) > 0 {
		tags := make(map[string]string, len(patch.Assignments))
		for _, a := range patch.Assignments {
			tags[a.EmployeeID] = a.TaxiTag
		}
		out := make([]domain.PassengerTransport, len(req.Passengers))
		for i, p := range req.Passengers {
			if tag, ok := tags[p.EmployeeID]; ok {
				p.TaxiTag = tag
			}
			out[i] = p
		}
		req.Passengers = out
	}
	return req
}
