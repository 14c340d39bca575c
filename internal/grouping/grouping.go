// Package grouping partitions passengers by pickup point.
package grouping

import (
	"sort"
	"strings"

	"rideline/internal/domain"
)

// UnresolvedKey collects passengers whose departure is not known yet.
const UnresolvedKey = "(unresolved departure)"

// ByKey groups items by key. Members of each group are ordered by id, so the
// result does not depend on input order. Items with an empty id keep their
// relative input order at the end of their group.
func ByKey[T any](items []T, key func(T) string, id func(T) string) map[string][]T {
	out := make(map[string][]T)
	for _, it := range items {
		k := key(it)
		out[k] = append(out[k], it)
	}
	for k, members := range out {
		sort.SliceStable(members, func(i, j int) bool {
			a, b := id(members[i]), id(members[j])
			if a == "" || b == "" {
				return a != "" && b == ""
			}
			return a < b
		})
		out[k] = members
	}
	return out
}

// Keys returns the group keys sorted, with UnresolvedKey last.
func Keys[T any](groups map[string][]T) []string {
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i] == UnresolvedKey || keys[j] == UnresolvedKey {
			return keys[j] == UnresolvedKey && keys[i] != UnresolvedKey
		}
		return keys[i] < keys[j]
	})
	return keys
}

// DisplayKey normalizes an address display string.
func DisplayKey(a domain.Address) string {
	return strings.Join(strings.Fields(a.Display()), " ")
}

// ByDeparture groups selected passengers of a draft by departure address.
func ByDeparture(passengers []domain.SelectedPassenger) map[string][]domain.SelectedPassenger {
	return ByKey(passengers, func(p domain.SelectedPassenger) string {
		a, ok := p.Resolve(p.Departure)
		if !ok {
			return UnresolvedKey
		}
		k := DisplayKey(a)
		if k == "" {
			return UnresolvedKey
		}
		return k
	}, func(p domain.SelectedPassenger) string { return p.Employee.ID })
}

// ByPickup groups dispatch passengers by departure address.
func ByPickup(passengers []domain.DispatchPassenger) map[string][]domain.DispatchPassenger {
	return ByKey(passengers, func(p domain.DispatchPassenger) string {
		if k := DisplayKey(p.Departure); k != "" {
			return k
		}
		return UnresolvedKey
	}, func(p domain.DispatchPassenger) string { return p.EmployeeID })
}
