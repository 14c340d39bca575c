package address_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rideline/internal/address"
	"rideline/internal/domain"
)

const directoryYAML = `employees:
  - id: e2
    name: Bob
    home:
      line: 2 Rue Haute
      city: Lyon
      postal_code: "69001"
  - id: e1
    name: Alice
    email: alice@example.com
    home:
      id: alice-flat
      line: 1 Main St
      city: Paris
    office:
      line: 10 Tower Ave
      city: Paris
`

func TestDirectoryResolve(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "employees.yml")
	require.NoError(t, os.WriteFile(path, []byte(directoryYAML), 0o644))
	d, err := address.LoadDirectory(path)
	require.NoError(t, err)
	ctx := context.Background()

	alice, err := d.Resolve(ctx, "e1")
	require.NoError(t, err)
	require.NotNil(t, alice.Home)
	require.NotNil(t, alice.Office)
	assert.Equal(t, "alice-flat", alice.Home.ID)
	assert.Equal(t, domain.AddressHome, alice.Home.Kind)
	assert.Equal(t, "e1-office", alice.Office.ID)
	assert.Equal(t, domain.AddressOffice, alice.Office.Kind)

	bob, err := d.Resolve(ctx, "e2")
	require.NoError(t, err)
	assert.Nil(t, bob.Office, "missing office stays absent")
	assert.Equal(t, "2 Rue Haute, 69001 Lyon", bob.Home.Display())

	_, err = d.Resolve(ctx, "nobody")
	assert.True(t, errors.Is(err, address.ErrUnknownEmployee))

	list, err := d.Employees(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "e1", list[0].ID)

	e, err := d.Employee(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", e.Name)
}

func TestParseDirectoryRejectsBadEntries(t *testing.T) {
	_, err := address.ParseDirectory([]byte("employees:\n  - name: nobody\n"))
	assert.Error(t, err)

	_, err = address.ParseDirectory([]byte("employees:\n  - id: a\n  - id: a\n"))
	assert.Error(t, err)

	_, err = address.ParseDirectory([]byte("employees:\n  - id: a\n    home:\n      line: x\n"))
	assert.True(t, domain.HasReason(err, domain.ReasonInvalidAddress))
}

func TestLoadDirectoryMissingFile(t *testing.T) {
	_, err := address.LoadDirectory(filepath.Join(t.TempDir(), "none.yml"))
	assert.ErrorContains(t, err, "not found")
}

func TestClientResolve(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/employees/{id}/addresses", func(w http.ResponseWriter, req *http.Request) {
		if chi.URLParam(req, "id") != "e1" {
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(domain.EmployeeAddresses{
			Home: &domain.Address{Line: "1 Main St", City: "Paris"},
		})
	})
	r.Get("/employees/{id}", func(w http.ResponseWriter, req *http.Request) {
		_ = json.NewEncoder(w).Encode(domain.Employee{ID: chi.URLParam(req, "id"), Name: "Alice"})
	})
	r.Get("/employees", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"items":[{"id":"e1","name":"Alice"}]}`))
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	c := address.NewClient(srv.URL, 0)
	ctx := context.Background()
	got, err := c.Resolve(ctx, "e1")
	require.NoError(t, err)
	require.NotNil(t, got.Home)
	assert.Equal(t, "e1-home", got.Home.ID)
	assert.Nil(t, got.Office)

	_, err = c.Resolve(ctx, "e9")
	assert.True(t, errors.Is(err, address.ErrUnknownEmployee))

	e, err := c.Employee(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", e.Name)

	list, err := c.Employees(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestClientServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	_, err := address.NewClient(srv.URL, 0).Resolve(context.Background(), "e1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, address.ErrUnknownEmployee))
}
