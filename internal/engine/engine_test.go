package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rideline/internal/address"
	"rideline/internal/config"
	"rideline/internal/db"
	"rideline/internal/domain"
	"rideline/internal/draft"
	"rideline/internal/engine"
	"rideline/internal/events"
	"rideline/internal/gateway"
	"rideline/internal/migrate"
	"rideline/internal/repo"
)

const employees = `employees:
  - id: A
    name: Ana
    home: {line: 1 Main St, city: Paris}
    office: {id: hq, line: 10 Tower Ave, city: Paris}
  - id: B
    name: Ben
    home: {line: 2 Main St, city: Paris}
    office: {id: hq, line: 10 Tower Ave, city: Paris}
  - id: C
    name: Cy
    home: {line: 3 Main St, city: Paris}
`

type testEnv struct {
	Engine engine.Engine
	Repo   repo.Repo
	GW     *gateway.Memory
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	r := repo.Repo{DB: conn, Events: events.Writer{Now: now}, Now: now}
	dirSrc, err := address.ParseDirectory([]byte(employees))
	require.NoError(t, err)
	gw := gateway.NewMemory()
	cfg := config.Default()
	cfg.Dispatch.TaxiCapacity = 2
	eng := engine.New(r, r, dirSrc, gw, cfg)
	eng.Now = now
	return testEnv{Engine: eng, Repo: r, GW: gw, Ctx: context.Background()}
}

func readyDraft(t *testing.T, env testEnv, ids ...string) *draft.Manager {
	t.Helper()
	m := env.Engine.NewDraft()
	for _, id := range ids {
		require.NoError(t, env.Engine.SelectEmployee(env.Ctx, m, id))
	}
	require.NoError(t, m.SetSchedule("2024-02-01", "08:00"))
	return m
}

func TestSubmitDraftCreatesRequestAndDiscards(t *testing.T) {
	env := newTestEnv(t)
	m := readyDraft(t, env, "A", "B")
	require.NoError(t, m.Persist(env.Ctx))
	oldID := m.ID()

	res, err := env.Engine.SubmitDraft(env.Ctx, m, "op")
	require.NoError(t, err)
	require.Len(t, res.Requests, 1)
	assert.False(t, res.Kept)
	assert.Equal(t, domain.StatusPending, res.Requests[0].Status)
	assert.NotEqual(t, oldID, m.ID())

	drafts, err := env.Engine.ListDrafts(env.Ctx)
	require.NoError(t, err)
	assert.Empty(t, drafts)

	evts, err := env.Engine.LatestEvents(env.Ctx, 10, "request.created", "", "")
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, "op", evts[0].ActorID)
}

func TestSubmitDraftRejectsUnresolvedAddress(t *testing.T) {
	env := newTestEnv(t)
	m := readyDraft(t, env, "A", "C")
	_, err := env.Engine.SubmitDraft(env.Ctx, m, "op")
	assert.True(t, domain.HasReason(err, domain.ReasonUnresolvedAddress))
	assert.Empty(t, env.GW.List())
}

func TestSubmitRecurringPartialFailureKeepsRemainder(t *testing.T) {
	env := newTestEnv(t)
	m := readyDraft(t, env, "A")
	m.SetRecurring(true)
	require.NoError(t, m.SetRecurringDates([]string{"2024-02-05", "2024-02-06", "2024-02-07"}))
	calls := 0
	env.GW.Fail = func(op string) error {
		if op != "create" {
			return nil
		}
		calls++
		if calls == 2 {
			return errors.New("503")
		}
		return nil
	}

	res, err := env.Engine.SubmitDraft(env.Ctx, m, "op")
	var ce *domain.CollaboratorError
	require.True(t, errors.As(err, &ce))
	assert.True(t, res.Kept)
	require.Len(t, res.Requests, 1)

	stored, err := draft.Load(env.Ctx, env.Repo, m.ID())
	require.NoError(t, err)
	assert.Equal(t, []domain.RecurringDateTime{
		{Date: "2024-02-06", Time: "08:00"},
		{Date: "2024-02-07", Time: "08:00"},
	}, stored.Schedule.Occurrences)

	env.GW.Fail = nil
	res, err = env.Engine.SubmitDraft(env.Ctx, m, "op")
	require.NoError(t, err)
	assert.Len(t, res.Requests, 2)
	assert.Len(t, env.GW.List(), 3)
}

type deleteFails struct {
	repo.Store
}

func (deleteFails) Delete(context.Context, string) error { return errors.New("disk full") }

func TestSubmitDraftDiscardFailureLeavesNothingToResubmit(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Store = deleteFails{Store: env.Repo}
	m := readyDraft(t, env, "A")
	require.NoError(t, m.Persist(env.Ctx))

	res, err := env.Engine.SubmitDraft(env.Ctx, m, "op")
	var pe *domain.PersistenceError
	require.True(t, errors.As(err, &pe))
	assert.True(t, res.Kept)
	require.Len(t, res.Requests, 1)

	stored, err := draft.Load(env.Ctx, env.Repo, m.ID())
	require.NoError(t, err)
	assert.Empty(t, stored.Schedule.Date)

	_, err = env.Engine.SubmitDraft(env.Ctx, m, "op")
	assert.True(t, domain.HasReason(err, domain.ReasonEmptySchedule))
	assert.Len(t, env.GW.List(), 1)
}

func TestRequestStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.SubmitDraft(env.Ctx, readyDraft(t, env, "A"), "op")
	require.NoError(t, err)
	id := res.Requests[0].ID

	_, err = env.Engine.SetRequestStatus(env.Ctx, id, domain.StatusDispatched, "op")
	assert.True(t, domain.HasReason(err, domain.ReasonInvalidTransition))

	req, err := env.Engine.SetRequestStatus(env.Ctx, id, domain.StatusApproved, "op")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, req.Status)

	_, err = env.Engine.SetRequestStatus(env.Ctx, id, domain.StatusRejected, "op")
	assert.True(t, domain.HasReason(err, domain.ReasonInvalidTransition))

	_, err = env.Engine.GetRequest(env.Ctx, "missing")
	assert.True(t, errors.Is(err, gateway.ErrNotFound))
}

func TestEditRequestOnlyWhilePending(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.SubmitDraft(env.Ctx, readyDraft(t, env, "A"), "op")
	require.NoError(t, err)
	id := res.Requests[0].ID

	tm := "09:45"
	req, err := env.Engine.EditRequest(env.Ctx, id, domain.RequestPatch{ScheduledTime: &tm}, "op")
	require.NoError(t, err)
	assert.Equal(t, "09:45", req.ScheduledTime)

	bad := "9h"
	_, err = env.Engine.EditRequest(env.Ctx, id, domain.RequestPatch{ScheduledTime: &bad}, "op")
	assert.True(t, domain.HasReason(err, domain.ReasonInvalidSchedule))

	st := domain.StatusApproved
	_, err = env.Engine.EditRequest(env.Ctx, id, domain.RequestPatch{Status: &st}, "op")
	assert.True(t, domain.HasReason(err, domain.ReasonInvalidInput))

	_, err = env.Engine.SetRequestStatus(env.Ctx, id, domain.StatusApproved, "op")
	require.NoError(t, err)
	_, err = env.Engine.EditRequest(env.Ctx, id, domain.RequestPatch{ScheduledTime: &tm}, "op")
	assert.True(t, domain.HasReason(err, domain.ReasonInvalidTransition))
}

func TestEditRequestValidatesPassengers(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.SubmitDraft(env.Ctx, readyDraft(t, env, "A", "B"), "op")
	require.NoError(t, err)
	req := res.Requests[0]

	_, err = env.Engine.EditRequest(env.Ctx, req.ID, domain.RequestPatch{Passengers: []domain.PassengerTransport{}}, "op")
	assert.True(t, domain.HasReason(err, domain.ReasonEmptyPassengers))

	twice := []domain.PassengerTransport{req.Passengers[0], req.Passengers[0]}
	_, err = env.Engine.EditRequest(env.Ctx, req.ID, domain.RequestPatch{Passengers: twice}, "op")
	assert.True(t, domain.HasReason(err, domain.ReasonInvalidInput))

	broken := req.Passengers[0]
	broken.StartTime = "9h"
	_, err = env.Engine.EditRequest(env.Ctx, req.ID, domain.RequestPatch{Passengers: []domain.PassengerTransport{broken}}, "op")
	assert.True(t, domain.HasReason(err, domain.ReasonInvalidInput))

	got, err := env.Engine.GetRequest(env.Ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, got.Passengers, 2)

	got, err = env.Engine.EditRequest(env.Ctx, req.ID, domain.RequestPatch{Passengers: req.Passengers[:1]}, "op")
	require.NoError(t, err)
	assert.Len(t, got.Passengers, 1)
}

func TestDispatchLifecycle(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.SubmitDraft(env.Ctx, readyDraft(t, env, "A", "B"), "op")
	require.NoError(t, err)
	id := res.Requests[0].ID

	_, err = env.Engine.OpenDispatch(env.Ctx, id)
	assert.True(t, domain.HasReason(err, domain.ReasonInvalidTransition), "pending requests cannot be dispatched")

	_, err = env.Engine.SetRequestStatus(env.Ctx, id, domain.StatusApproved, "op")
	require.NoError(t, err)
	a, err := env.Engine.OpenDispatch(env.Ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, a.Taxis()[0].Capacity)
	require.NoError(t, a.Assign(env.Ctx, "A", "taxi-1"))

	saved, err := env.Engine.ListAllocations(env.Ctx)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, id, saved[0].RequestID)

	resumed, err := env.Engine.OpenDispatch(env.Ctx, id)
	require.NoError(t, err)
	require.NoError(t, resumed.Assign(env.Ctx, "B", "taxi-1"))
	taxis, err := env.Engine.FinalizeDispatch(env.Ctx, resumed, "op")
	require.NoError(t, err)
	assert.Equal(t, domain.TaxiDispatched, taxis[0].Status)

	req, err := env.Engine.GetRequest(env.Ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDispatched, req.Status)
	saved, err = env.Engine.ListAllocations(env.Ctx)
	require.NoError(t, err)
	assert.Empty(t, saved)

	evts, err := env.Engine.LatestEvents(env.Ctx, 5, "allocation.finalized", "", id)
	require.NoError(t, err)
	assert.Len(t, evts, 1)
}

func TestFinalizeDispatchRejectsCancelledRequest(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.SubmitDraft(env.Ctx, readyDraft(t, env, "A"), "op")
	require.NoError(t, err)
	id := res.Requests[0].ID
	_, err = env.Engine.SetRequestStatus(env.Ctx, id, domain.StatusApproved, "op")
	require.NoError(t, err)
	a, err := env.Engine.OpenDispatch(env.Ctx, id)
	require.NoError(t, err)
	require.NoError(t, a.Assign(env.Ctx, "A", "taxi-1"))

	_, err = env.Engine.SetRequestStatus(env.Ctx, id, domain.StatusCancelled, "op")
	require.NoError(t, err)
	_, err = env.Engine.FinalizeDispatch(env.Ctx, a, "op")
	assert.True(t, domain.HasReason(err, domain.ReasonInvalidTransition))

	req, err := env.Engine.GetRequest(env.Ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, req.Status)
	assert.Empty(t, req.Passengers[0].TaxiTag)
	assert.NotEqual(t, domain.TaxiDispatched, a.Taxis()[0].Status)
	assert.Empty(t, a.Unassigned())

	evts, err := env.Engine.LatestEvents(env.Ctx, 5, "allocation.finalized", "", id)
	require.NoError(t, err)
	assert.Empty(t, evts)
}

func TestAbandonDispatchLeavesRequestUntouched(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.SubmitDraft(env.Ctx, readyDraft(t, env, "A"), "op")
	require.NoError(t, err)
	id := res.Requests[0].ID
	_, err = env.Engine.SetRequestStatus(env.Ctx, id, domain.StatusApproved, "op")
	require.NoError(t, err)
	a, err := env.Engine.OpenDispatch(env.Ctx, id)
	require.NoError(t, err)
	require.NoError(t, a.Assign(env.Ctx, "A", "taxi-1"))

	require.NoError(t, env.Engine.AbandonDispatch(env.Ctx, a, "op"))
	req, err := env.Engine.GetRequest(env.Ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, req.Status)

	fresh, err := env.Engine.OpenDispatch(env.Ctx, id)
	require.NoError(t, err)
	assert.Len(t, fresh.Unassigned(), 1)
}

func TestSelectUnknownEmployee(t *testing.T) {
	env := newTestEnv(t)
	m := env.Engine.NewDraft()
	err := env.Engine.SelectEmployee(env.Ctx, m, "Z")
	assert.True(t, domain.HasReason(err, domain.ReasonUnknownEmployee))
}
