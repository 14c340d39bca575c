package address

import (
	"context"
	"errors"

	"rideline/internal/domain"
)

var ErrUnknownEmployee = errors.New("unknown employee")

// Resolver returns the canonical addresses of one employee. Either address may
// be absent.
type Resolver interface {
	Resolve(ctx context.Context, employeeID string) (domain.EmployeeAddresses, error)
}

// Source is a resolver that can also look employees up.
type Source interface {
	Resolver
	Employee(ctx context.Context, id string) (domain.Employee, error)
	Employees(ctx context.Context) ([]domain.Employee, error)
}

// normalize stamps kinds and stable ids onto resolved addresses so known refs
// can point at them.
func normalize(employeeID string, addrs domain.EmployeeAddresses) domain.EmployeeAddresses {
	if addrs.Home != nil {
		h := *addrs.Home
		h.Kind = domain.AddressHome
		if h.ID == "" {
			h.ID = employeeID + "-home"
		}
		addrs.Home = &h
	}
	if addrs.Office != nil {
		o := *addrs.Office
		o.Kind = domain.AddressOffice
		if o.ID == "" {
			o.ID = employeeID + "-office"
		}
		addrs.Office = &o
	}
	return addrs
}
