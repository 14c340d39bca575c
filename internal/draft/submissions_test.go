package draft_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rideline/internal/domain"
	"rideline/internal/draft"
)

func resolvedPassenger(id string) domain.SelectedPassenger {
	home := domain.Address{ID: id + "-home", Kind: domain.AddressHome, Line: id + " Home St"}
	office := domain.Address{ID: "hq", Kind: domain.AddressOffice, Line: "10 Tower Ave"}
	return domain.SelectedPassenger{
		Employee:       domain.Employee{ID: id, Name: id},
		KnownAddresses: []domain.Address{home, office},
		Departure:      domain.Known(home.ID),
		Arrival:        domain.Known(office.ID),
	}
}

func baseDraft() domain.Draft {
	return domain.Draft{
		ID:            "d1",
		TransportKind: domain.TransportPrivate,
		Direction:     domain.HomeToWork,
		Note:          "note",
		Schedule:      domain.Schedule{Date: "2024-05-06", Time: "08:00"},
		Passengers:    []domain.SelectedPassenger{resolvedPassenger("a"), resolvedPassenger("b")},
	}
}

func TestToSubmissionsSingle(t *testing.T) {
	subs, err := draft.ToSubmissions(baseDraft())
	require.NoError(t, err)
	require.Len(t, subs, 1)
	s := subs[0]
	assert.Equal(t, "2024-05-06", s.ScheduledDate)
	assert.Equal(t, "d1", s.DraftID)
	require.Len(t, s.Passengers, 2)
	assert.Equal(t, "a Home St", s.Passengers[0].Departure.Line)
	assert.Equal(t, "10 Tower Ave", s.Passengers[0].Arrival.Line)
	require.NoError(t, domain.Check(domain.ReasonInvalidInput, s))
}

func TestToSubmissionsRecurringNxM(t *testing.T) {
	d := baseDraft()
	d.Passengers = append(d.Passengers, resolvedPassenger("c"))
	d.Schedule.Recurring = true
	d.Schedule.Occurrences = []domain.RecurringDateTime{
		{Date: "2024-05-07", Time: "08:00"},
		{Date: "2024-05-08", Time: "09:30"},
		{Date: "2024-05-09", Time: "07:45"},
		{Date: "2024-05-10", Time: "08:00"},
	}
	subs, err := draft.ToSubmissions(d)
	require.NoError(t, err)
	require.Len(t, subs, 4)
	for i, s := range subs {
		occ := d.Schedule.Occurrences[i]
		assert.Equal(t, occ.Date, s.ScheduledDate)
		assert.Equal(t, occ.Time, s.ScheduledTime)
		require.Len(t, s.Passengers, 3)
		for _, p := range s.Passengers {
			assert.Equal(t, occ.Date, p.StartDate)
			assert.Equal(t, occ.Time, p.StartTime)
		}
	}
}

func TestToSubmissionsFailures(t *testing.T) {
	cases := map[string]struct {
		mutate func(*domain.Draft)
		reason domain.Reason
	}{
		"no passengers": {func(d *domain.Draft) { d.Passengers = nil }, domain.ReasonEmptyPassengers},
		"no schedule":   {func(d *domain.Draft) { d.Schedule = domain.Schedule{} }, domain.ReasonEmptySchedule},
		"recurring without dates": {func(d *domain.Draft) { d.Schedule.Recurring = true }, domain.ReasonEmptySchedule},
		"bad occurrence time": {func(d *domain.Draft) {
			d.Schedule.Recurring = true
			d.Schedule.Occurrences = []domain.RecurringDateTime{{Date: "2024-05-07", Time: ""}}
		}, domain.ReasonInvalidSchedule},
		"unresolved arrival": {func(d *domain.Draft) { d.Passengers[1].Arrival = domain.Unresolved() }, domain.ReasonUnresolvedAddress},
		"dangling known ref": {func(d *domain.Draft) { d.Passengers[0].Departure = domain.Known("gone") }, domain.ReasonUnresolvedAddress},
		"bad transport kind": {func(d *domain.Draft) { d.TransportKind = "" }, domain.ReasonInvalidInput},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			d := baseDraft()
			tc.mutate(&d)
			subs, err := draft.ToSubmissions(d)
			assert.Nil(t, subs)
			assert.True(t, domain.HasReason(err, tc.reason), "got %v", err)
		})
	}
}
