package address

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"rideline/internal/domain"
)

type directoryFile struct {
	Employees []directoryEntry `yaml:"employees"`
}

type directoryEntry struct {
	domain.Employee `yaml:",inline"`
	Home            *domain.Address `yaml:"home"`
	Office          *domain.Address `yaml:"office"`
}

// Directory is a Source backed by an employees YAML file.
type Directory struct {
	employees map[string]domain.Employee
	addresses map[string]domain.EmployeeAddresses
}

// LoadDirectory reads and validates an employees file.
func LoadDirectory(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("employee directory %s not found", path)
		}
		return nil, err
	}
	return ParseDirectory(data)
}

// ParseDirectory builds a Directory from raw YAML.
func ParseDirectory(data []byte) (*Directory, error) {
	var f directoryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid employee directory yaml: %w", err)
	}
	d := &Directory{
		employees: make(map[string]domain.Employee, len(f.Employees)),
		addresses: make(map[string]domain.EmployeeAddresses, len(f.Employees)),
	}
	for i, e := range f.Employees {
		id := strings.TrimSpace(e.ID)
		if id == "" {
			return nil, fmt.Errorf("employees[%d]: id is required", i)
		}
		if _, dup := d.employees[id]; dup {
			return nil, fmt.Errorf("employees[%d]: duplicate id %q", i, id)
		}
		e.Employee.ID = id
		addrs := normalize(id, domain.EmployeeAddresses{Home: e.Home, Office: e.Office})
		for _, a := range addrs.Known() {
			if err := domain.Check(domain.ReasonInvalidAddress, a); err != nil {
				return nil, fmt.Errorf("employee %s: %w", id, err)
			}
		}
		d.employees[id] = e.Employee
		d.addresses[id] = addrs
	}
	return d, nil
}

func (d *Directory) Resolve(_ context.Context, employeeID string) (domain.EmployeeAddresses, error) {
	addrs, ok := d.addresses[employeeID]
	if !ok {
		return domain.EmployeeAddresses{}, fmt.Errorf("%w: %s", ErrUnknownEmployee, employeeID)
	}
	return addrs, nil
}

func (d *Directory) Employee(_ context.Context, id string) (domain.Employee, error) {
	e, ok := d.employees[id]
	if !ok {
		return domain.Employee{}, fmt.Errorf("%w: %s", ErrUnknownEmployee, id)
	}
	return e, nil
}

// Employees lists the directory ordered by id.
func (d *Directory) Employees(_ context.Context) ([]domain.Employee, error) {
	out := make([]domain.Employee, 0, len(d.employees))
	for _, e := range d.employees {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
