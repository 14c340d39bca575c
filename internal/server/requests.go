package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"rideline/internal/domain"
	"rideline/internal/engine"
)

type requestOutput struct {
	Body domain.Request `json:"body"`
}

func registerRequests(api huma.API, e engine.Engine, sess *sessions) {
	huma.Register(api, huma.Operation{
		OperationID: "get-request",
		Method:      http.MethodGet,
		Path:        "/requests/{id}",
		Summary:     "Fetch a transport request from the gateway",
		Errors:      []int{http.StatusNotFound, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*requestOutput, error) {
		req, err := e.GetRequest(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &requestOutput{Body: req}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "edit-request",
		Method:      http.MethodPatch,
		Path:        "/requests/{id}",
		Summary:     "Edit a pending request",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body domain.RequestPatch `json:"body"`
	}) (*requestOutput, error) {
		actorID, aerr := actorIDFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		req, err := e.EditRequest(ctx, input.ID, input.Body, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &requestOutput{Body: req}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-request-status",
		Method:      http.MethodPut,
		Path:        "/requests/{id}/status",
		Summary:     "Move a request through its lifecycle",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body StatusRequest `json:"body"`
	}) (*requestOutput, error) {
		actorID, aerr := actorIDFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		status, err := domain.ParseRequestStatus(input.Body.Status)
		if err != nil {
			return nil, handleError(domain.Invalid(domain.ReasonInvalidInput, "%v", err))
		}
		req, err := e.SetRequestStatus(ctx, input.ID, status, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		sess.forgetDispatch(input.ID)
		return &requestOutput{Body: req}, nil
	})
}
