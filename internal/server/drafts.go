package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"rideline/internal/domain"
	"rideline/internal/draft"
	"rideline/internal/engine"
)

type draftPath struct {
	ID string `path:"id"`
}

type draftOutput struct {
	Body DraftView `json:"body"`
}

func draftView(m *draft.Manager) *draftOutput {
	d := m.Draft()
	view := DraftView{
		Draft:  d,
		Groups: pickupGroups(m.Groups(), func(p domain.SelectedPassenger) string { return p.Employee.ID }),
	}
	if err := m.AutosaveErr(); err != nil {
		view.AutosaveError = err.Error()
	}
	return &draftOutput{Body: view}
}

// editDraft loads the session, applies fn and returns the updated view.
func editDraft(ctx context.Context, sess *sessions, id string, fn func(*draft.Manager) error) (*draftOutput, error) {
	m, err := sess.draft(ctx, id)
	if err != nil {
		return nil, handleError(err)
	}
	if err := fn(m); err != nil {
		return nil, handleError(err)
	}
	return draftView(m), nil
}

func registerDrafts(api huma.API, e engine.Engine, sess *sessions) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-draft",
		Method:        http.MethodPost,
		Path:          "/drafts",
		Summary:       "Start a draft session",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, _ *struct{}) (*draftOutput, error) {
		return draftView(sess.newDraft()), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-drafts",
		Method:      http.MethodGet,
		Path:        "/drafts",
		Summary:     "List saved drafts",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ListResponse[domain.Draft] `json:"body"`
	}, error) {
		items, err := e.ListDrafts(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ListResponse[domain.Draft] `json:"body"`
		}{Body: ListResponse[domain.Draft]{Items: nonNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-draft",
		Method:      http.MethodGet,
		Path:        "/drafts/{id}",
		Summary:     "Show a draft with its pickup groups",
	}, func(ctx context.Context, input *draftPath) (*draftOutput, error) {
		return editDraft(ctx, sess, input.ID, func(*draft.Manager) error { return nil })
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-draft",
		Method:      http.MethodPatch,
		Path:        "/drafts/{id}",
		Summary:     "Set the draft note or transport kind",
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body DraftPatchRequest
	}) (*draftOutput, error) {
		return editDraft(ctx, sess, input.ID, func(m *draft.Manager) error {
			if input.Body.TransportKind != nil {
				if err := m.SetTransportKind(domain.TransportKind(*input.Body.TransportKind)); err != nil {
					return err
				}
			}
			if input.Body.Note != nil {
				m.SetNote(*input.Body.Note)
			}
			return nil
		})
	})

	huma.Register(api, huma.Operation{
		OperationID:   "discard-draft",
		Method:        http.MethodDelete,
		Path:          "/drafts/{id}",
		Summary:       "Discard a draft",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *draftPath) (*struct{}, error) {
		m, err := sess.draft(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := m.Discard(ctx); err != nil {
			return nil, handleError(err)
		}
		sess.forgetDraft(input.ID)
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "select-passenger",
		Method:        http.MethodPost,
		Path:          "/drafts/{id}/passengers",
		Summary:       "Add an employee to the draft",
		DefaultStatus: http.StatusOK,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body SelectPassengerRequest
	}) (*draftOutput, error) {
		return editDraft(ctx, sess, input.ID, func(m *draft.Manager) error {
			return e.SelectEmployee(ctx, m, strings.TrimSpace(input.Body.EmployeeID))
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "deselect-passenger",
		Method:      http.MethodDelete,
		Path:        "/drafts/{id}/passengers/{employee_id}",
		Summary:     "Remove an employee from the draft",
	}, func(ctx context.Context, input *struct {
		ID         string `path:"id"`
		EmployeeID string `path:"employee_id"`
	}) (*draftOutput, error) {
		return editDraft(ctx, sess, input.ID, func(m *draft.Manager) error {
			return m.Deselect(input.EmployeeID)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-passenger-address",
		Method:      http.MethodPut,
		Path:        "/drafts/{id}/passengers/{employee_id}/address",
		Summary:     "Override the departure or arrival of a passenger",
	}, func(ctx context.Context, input *struct {
		ID         string `path:"id"`
		EmployeeID string `path:"employee_id"`
		Body       SetAddressRequest
	}) (*draftOutput, error) {
		return editDraft(ctx, sess, input.ID, func(m *draft.Manager) error {
			leg := domain.Leg(input.Body.Leg)
			switch {
			case input.Body.AddressID != "" && input.Body.Address != nil:
				return domain.Invalid(domain.ReasonInvalidInput, "set either address_id or address, not both")
			case input.Body.AddressID != "":
				return m.SetAddress(input.EmployeeID, leg, domain.Known(input.Body.AddressID))
			case input.Body.Address != nil && input.Body.Save:
				_, err := m.AddCustomAddress(input.EmployeeID, leg, input.Body.Address.address())
				return err
			case input.Body.Address != nil:
				return m.SetAddress(input.EmployeeID, leg, domain.Inline(input.Body.Address.address()))
			}
			return domain.Invalid(domain.ReasonInvalidInput, "address_id or address is required")
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-passenger-note",
		Method:      http.MethodPut,
		Path:        "/drafts/{id}/passengers/{employee_id}/note",
		Summary:     "Set the note of one passenger",
	}, func(ctx context.Context, input *struct {
		ID         string `path:"id"`
		EmployeeID string `path:"employee_id"`
		Body       NoteRequest
	}) (*draftOutput, error) {
		return editDraft(ctx, sess, input.ID, func(m *draft.Manager) error {
			return m.SetPassengerNote(input.EmployeeID, input.Body.Note)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "toggle-direction",
		Method:      http.MethodPost,
		Path:        "/drafts/{id}/direction/toggle",
		Summary:     "Flip the trip direction",
	}, func(ctx context.Context, input *draftPath) (*draftOutput, error) {
		return editDraft(ctx, sess, input.ID, func(m *draft.Manager) error {
			return m.ToggleDirection(ctx)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-schedule",
		Method:      http.MethodPut,
		Path:        "/drafts/{id}/schedule",
		Summary:     "Set the single occurrence date and time",
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body ScheduleRequest
	}) (*draftOutput, error) {
		return editDraft(ctx, sess, input.ID, func(m *draft.Manager) error {
			return m.SetSchedule(input.Body.Date, input.Body.Time)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-recurring",
		Method:      http.MethodPut,
		Path:        "/drafts/{id}/recurring",
		Summary:     "Switch recurrence and set the occurrence dates",
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body RecurringRequest
	}) (*draftOutput, error) {
		return editDraft(ctx, sess, input.ID, func(m *draft.Manager) error {
			m.SetRecurring(input.Body.Recurring)
			if input.Body.Recurring && input.Body.Dates != nil {
				return m.SetRecurringDates(input.Body.Dates)
			}
			return nil
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-occurrence-time",
		Method:      http.MethodPut,
		Path:        "/drafts/{id}/occurrences/{date}",
		Summary:     "Set the time of one recurring occurrence",
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Date string `path:"date"`
		Body OccurrenceTimeRequest
	}) (*draftOutput, error) {
		return editDraft(ctx, sess, input.ID, func(m *draft.Manager) error {
			return m.SetOccurrenceTime(input.Date, input.Body.Time)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "save-draft",
		Method:      http.MethodPost,
		Path:        "/drafts/{id}/save",
		Summary:     "Persist the draft now",
	}, func(ctx context.Context, input *draftPath) (*draftOutput, error) {
		return editDraft(ctx, sess, input.ID, func(m *draft.Manager) error {
			return m.Persist(ctx)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-draft",
		Method:      http.MethodPost,
		Path:        "/drafts/{id}/submit",
		Summary:     "Create one transport request per occurrence",
	}, func(ctx context.Context, input *draftPath) (*struct {
		Body engine.SubmitResult `json:"body"`
	}, error) {
		actorID, aerr := actorIDFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		m, err := sess.draft(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		res, err := e.SubmitDraft(ctx, m, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		sess.forgetDraft(input.ID)
		res.Requests = nonNil(res.Requests)
		return &struct {
			Body engine.SubmitResult `json:"body"`
		}{Body: res}, nil
	})
}
