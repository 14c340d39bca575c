package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"rideline/internal/domain"
	"rideline/internal/events"
)

var ErrNotFound = errors.New("not found")

// Namespaces used by the draft store and the allocator resume store.
const (
	NamespaceDraft      = "draft"
	NamespaceAllocation = "allocation"
)

// Record is one stored value.
type Record struct {
	Key       string          `json:"key"`
	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store is the local persistent key-value contract. Keys are "namespace:id".
type Store interface {
	Get(ctx context.Context, key string) (Record, error)
	Set(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	ListByNamespace(ctx context.Context, namespace string) ([]Record, error)
}

// Key joins a namespace and id.
func Key(namespace, id string) string {
	return namespace + ":" + id
}

// SplitKey separates a key into namespace and id.
func SplitKey(key string) (string, string, error) {
	ns, id, ok := strings.Cut(key, ":")
	if !ok || ns == "" || id == "" {
		return "", "", fmt.Errorf("invalid key %q: want namespace:id", key)
	}
	return ns, id, nil
}

// Repo is the SQLite-backed Store. Every write that changes a record also
// appends an event row in the same transaction.
type Repo struct {
	DB     *sql.DB
	Events events.Writer
	Now    func() time.Time
}

func (r Repo) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r Repo) Get(ctx context.Context, key string) (Record, error) {
	ns, id, err := SplitKey(key)
	if err != nil {
		return Record{}, err
	}
	var (
		data    string
		updated int64
	)
	err = r.DB.QueryRowContext(ctx, `SELECT record_json, updated_at FROM records WHERE namespace=? AND key=?`, ns, id).Scan(&data, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	return Record{Key: key, Data: json.RawMessage(data), UpdatedAt: time.Unix(0, updated).UTC()}, nil
}

// Set upserts the record. Writing identical bytes is a no-op, so repeated
// saves of an unchanged value neither bump updated_at nor log an event.
func (r Repo) Set(ctx context.Context, key string, data []byte) error {
	ns, id, err := SplitKey(key)
	if err != nil {
		return err
	}
	if !json.Valid(data) {
		return fmt.Errorf("record %s: invalid json", key)
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `INSERT INTO records(namespace,key,record_json,updated_at) VALUES (?,?,?,?)
ON CONFLICT(namespace,key) DO UPDATE SET record_json=excluded.record_json, updated_at=excluded.updated_at
WHERE records.record_json <> excluded.record_json`, ns, id, string(data), r.now().UnixNano())
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		if err := r.Events.Append(ctx, tx, "record.saved", ns, id, "", events.EventPayload{"bytes": len(data)}); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Delete removes the record. Deleting a missing key is not an error.
func (r Repo) Delete(ctx context.Context, key string) error {
	ns, id, err := SplitKey(key)
	if err != nil {
		return err
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `DELETE FROM records WHERE namespace=? AND key=?`, ns, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		if err := r.Events.Append(ctx, tx, "record.deleted", ns, id, "", nil); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListByNamespace returns records newest first.
func (r Repo) ListByNamespace(ctx context.Context, namespace string) ([]Record, error) {
	namespace = strings.TrimSuffix(namespace, ":")
	rows, err := r.DB.QueryContext(ctx, `SELECT key, record_json, updated_at FROM records WHERE namespace=? ORDER BY updated_at DESC, key DESC`, namespace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		var (
			id, data string
			updated  int64
		)
		if err := rows.Scan(&id, &data, &updated); err != nil {
			return nil, err
		}
		res = append(res, Record{Key: Key(namespace, id), Data: json.RawMessage(data), UpdatedAt: time.Unix(0, updated).UTC()})
	}
	return res, rows.Err()
}

// AppendEvent records an engine action outside of a store write.
func (r Repo) AppendEvent(ctx context.Context, evtType, entityKind, entityID, actorID string, payload events.EventPayload) error {
	return r.Events.Append(ctx, r.DB, evtType, entityKind, entityID, actorID, payload)
}

// LatestEvents returns up to n events newest first, optionally filtered.
func (r Repo) LatestEvents(ctx context.Context, n int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	if n <= 0 {
		n = 20
	}
	var (
		clauses []string
		args    []any
	)
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	args = append(args, n)
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events `+where+` ORDER BY id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
