package grouping_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rideline/internal/domain"
	"rideline/internal/grouping"
)

func passenger(id, line string) domain.SelectedPassenger {
	p := domain.SelectedPassenger{Employee: domain.Employee{ID: id}}
	if line == "" {
		p.Departure = domain.Unresolved()
		return p
	}
	home := domain.Address{ID: id + "-home", Kind: domain.AddressHome, Line: line, City: "Paris"}
	p.KnownAddresses = []domain.Address{home}
	p.Departure = domain.Known(home.ID)
	return p
}

func TestByDepartureGroupsAndOrders(t *testing.T) {
	in := []domain.SelectedPassenger{
		passenger("c", "1 Main St"),
		passenger("a", "1  Main St "),
		passenger("b", "9 Side Rd"),
		passenger("d", ""),
	}
	groups := grouping.ByDeparture(in)
	require.Len(t, groups, 3)
	main := groups["1 Main St, Paris"]
	require.Len(t, main, 2)
	assert.Equal(t, "a", main[0].Employee.ID)
	assert.Equal(t, "c", main[1].Employee.ID)
	assert.Len(t, groups[grouping.UnresolvedKey], 1)

	keys := grouping.Keys(groups)
	assert.Equal(t, []string{"1 Main St, Paris", "9 Side Rd, Paris", grouping.UnresolvedKey}, keys)
}

func TestByDepartureStableUnderReordering(t *testing.T) {
	var in []domain.SelectedPassenger
	lines := []string{"1 Main St", "9 Side Rd", "", "4 Quay"}
	for i := 0; i < 40; i++ {
		in = append(in, passenger(string(rune('A'+i%26))+string(rune('a'+i/26)), lines[i%len(lines)]))
	}
	want := grouping.ByDeparture(in)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]domain.SelectedPassenger(nil), in...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, want, grouping.ByDeparture(shuffled))
	}
}

func TestByPickup(t *testing.T) {
	groups := grouping.ByPickup([]domain.DispatchPassenger{
		{EmployeeID: "b", Departure: domain.Address{Line: "1 Main St"}},
		{EmployeeID: "a", Departure: domain.Address{Line: "1 Main St"}},
		{EmployeeID: "z"},
	})
	assert.Equal(t, []string{"1 Main St", grouping.UnresolvedKey}, grouping.Keys(groups))
	assert.Equal(t, "a", groups["1 Main St"][0].EmployeeID)
}

func TestByKeyEmpty(t *testing.T) {
	groups := grouping.ByKey([]int(nil), func(int) string { return "" }, func(int) string { return "" })
	assert.Empty(t, groups)
	assert.Empty(t, grouping.Keys(groups))
}
