package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"rideline/internal/dispatch"
	"rideline/internal/domain"
	"rideline/internal/engine"
)

type allocationPath struct {
	RequestID string `path:"request_id"`
}

type allocationOutput struct {
	Body AllocationView `json:"body"`
}

func allocationView(a *dispatch.Allocator) *allocationOutput {
	taxis := a.Taxis()
	for i := range taxis {
		taxis[i].Passengers = nonNil(taxis[i].Passengers)
	}
	view := AllocationView{
		RequestID:  a.RequestID(),
		Taxis:      taxis,
		Unassigned: nonNil(a.Unassigned()),
		Pool:       pickupGroups(a.Pool(), func(p domain.DispatchPassenger) string { return p.EmployeeID }),
		Complete:   a.IsComplete(),
	}
	if err := a.AutosaveErr(); err != nil {
		view.AutosaveError = err.Error()
	}
	return &allocationOutput{Body: view}
}

func editAllocation(ctx context.Context, sess *sessions, requestID string, fn func(*dispatch.Allocator) error) (*allocationOutput, error) {
	a, err := sess.dispatch(ctx, requestID)
	if err != nil {
		return nil, handleError(err)
	}
	if err := fn(a); err != nil {
		return nil, handleError(err)
	}
	return allocationView(a), nil
}

func registerDispatch(api huma.API, e engine.Engine, sess *sessions) {
	huma.Register(api, huma.Operation{
		OperationID: "list-allocations",
		Method:      http.MethodGet,
		Path:        "/dispatch",
		Summary:     "List saved, unfinished allocations",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ListResponse[domain.AllocationSnapshot] `json:"body"`
	}, error) {
		items, err := e.ListAllocations(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ListResponse[domain.AllocationSnapshot] `json:"body"`
		}{Body: ListResponse[domain.AllocationSnapshot]{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "open-allocation",
		Method:      http.MethodGet,
		Path:        "/dispatch/{request_id}",
		Summary:     "Open or resume the allocation of an approved request",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusBadGateway},
	}, func(ctx context.Context, input *allocationPath) (*allocationOutput, error) {
		return editAllocation(ctx, sess, input.RequestID, func(*dispatch.Allocator) error { return nil })
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-taxi",
		Method:        http.MethodPost,
		Path:          "/dispatch/{request_id}/taxis",
		Summary:       "Add an empty virtual taxi",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *allocationPath) (*allocationOutput, error) {
		return editAllocation(ctx, sess, input.RequestID, func(a *dispatch.Allocator) error {
			_, err := a.AddTaxi(ctx)
			return err
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-taxi",
		Method:      http.MethodDelete,
		Path:        "/dispatch/{request_id}/taxis/{taxi_id}",
		Summary:     "Remove an empty virtual taxi",
		Errors:      []int{http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		RequestID string `path:"request_id"`
		TaxiID    string `path:"taxi_id"`
	}) (*allocationOutput, error) {
		return editAllocation(ctx, sess, input.RequestID, func(a *dispatch.Allocator) error {
			return a.RemoveTaxi(ctx, input.TaxiID)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-passenger",
		Method:      http.MethodPost,
		Path:        "/dispatch/{request_id}/taxis/{taxi_id}/passengers",
		Summary:     "Put a passenger in a taxi",
		Errors:      []int{http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		RequestID string        `path:"request_id"`
		TaxiID    string        `path:"taxi_id"`
		Body      AssignRequest `json:"body"`
	}) (*allocationOutput, error) {
		return editAllocation(ctx, sess, input.RequestID, func(a *dispatch.Allocator) error {
			return a.Assign(ctx, strings.TrimSpace(input.Body.EmployeeID), input.TaxiID)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "unassign-passenger",
		Method:      http.MethodDelete,
		Path:        "/dispatch/{request_id}/taxis/{taxi_id}/passengers/{employee_id}",
		Summary:     "Take a passenger out of a taxi",
		Errors:      []int{http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		RequestID  string `path:"request_id"`
		TaxiID     string `path:"taxi_id"`
		EmployeeID string `path:"employee_id"`
	}) (*allocationOutput, error) {
		return editAllocation(ctx, sess, input.RequestID, func(a *dispatch.Allocator) error {
			return a.Unassign(ctx, input.EmployeeID, input.TaxiID)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "finalize-allocation",
		Method:      http.MethodPost,
		Path:        "/dispatch/{request_id}/finalize",
		Summary:     "Send the taxi assignments to the gateway",
		Errors:      []int{http.StatusConflict, http.StatusBadGateway},
	}, func(ctx context.Context, input *allocationPath) (*struct {
		Body FinalizeResponse `json:"body"`
	}, error) {
		actorID, aerr := actorIDFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		a, err := sess.dispatch(ctx, input.RequestID)
		if err != nil {
			return nil, handleError(err)
		}
		taxis, err := e.FinalizeDispatch(ctx, a, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		sess.forgetDispatch(input.RequestID)
		return &struct {
			Body FinalizeResponse `json:"body"`
		}{Body: FinalizeResponse{RequestID: input.RequestID, Taxis: taxis}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "abandon-allocation",
		Method:        http.MethodDelete,
		Path:          "/dispatch/{request_id}",
		Summary:       "Drop the saved allocation",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *allocationPath) (*struct{}, error) {
		actorID, aerr := actorIDFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		a, err := sess.dispatch(ctx, input.RequestID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.AbandonDispatch(ctx, a, actorID); err != nil {
			return nil, handleError(err)
		}
		sess.forgetDispatch(input.RequestID)
		return &struct{}{}, nil
	})
}
