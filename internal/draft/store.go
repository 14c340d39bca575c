package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"rideline/internal/domain"
	"rideline/internal/repo"
)

// ErrNotFound is returned when a requested draft id has no stored record.
var ErrNotFound = errors.New("draft not found")

func key(id string) string {
	return repo.Key(repo.NamespaceDraft, id)
}

// Load reads one stored draft.
func Load(ctx context.Context, store repo.Store, id string) (domain.Draft, error) {
	rec, err := store.Get(ctx, key(id))
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Draft{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return domain.Draft{}, domain.Persistence("get draft", err)
	}
	return decode(rec.Data)
}

// List returns stored drafts, most recently saved first.
func List(ctx context.Context, store repo.Store) ([]domain.Draft, error) {
	recs, err := store.ListByNamespace(ctx, repo.NamespaceDraft)
	if err != nil {
		return nil, domain.Persistence("list drafts", err)
	}
	out := make([]domain.Draft, 0, len(recs))
	for _, rec := range recs {
		d, err := decode(rec.Data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", rec.Key, err)
		}
		out = append(out, d)
	}
	return out, nil
}

func decode(data []byte) (domain.Draft, error) {
	var d domain.Draft
	if err := json.Unmarshal(data, &d); err != nil {
		return domain.Draft{}, fmt.Errorf("decode draft: %w", err)
	}
	return d, nil
}
