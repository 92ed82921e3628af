package persist

import (
	"context"
	"database/sql"

	"github.com/teranos/weave/errors"
)

// Registry records what an agent must recreate on restart.
type Registry struct {
	db *sql.DB
}

// NewRegistry uses a migrated database.
func NewRegistry(db *sql.DB) *Registry {
	return &Registry{db: db}
}

// AddPerspective records a local perspective. Re-adding renames it.
func (r *Registry) AddPerspective(ctx context.Context, rec PerspectiveRecord) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO perspectives (id, name) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET name = excluded.name",
		rec.ID, rec.Name)
	return errors.Wrapf(err, "failed to record perspective %s", rec.ID)
}

// RemovePerspective forgets a perspective.
func (r *Registry) RemovePerspective(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM perspectives WHERE id = ?", id)
	return errors.Wrapf(err, "failed to forget perspective %s", id)
}

// Perspectives lists recorded perspectives in creation order.
func (r *Registry) Perspectives(ctx context.Context) ([]PerspectiveRecord, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, name FROM perspectives ORDER BY created_at, id")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list perspectives")
	}
	defer rows.Close()

	var out []PerspectiveRecord
	for rows.Next() {
		var rec PerspectiveRecord
		if err := rows.Scan(&rec.ID, &rec.Name); err != nil {
			return nil, errors.Wrap(err, "failed to scan perspective")
		}
		out = append(out, rec)
	}
	return out, errors.Wrap(rows.Err(), "failed to list perspectives")
}

// AddNeighbourhood records a joined neighbourhood. Re-adding updates the language.
func (r *Registry) AddNeighbourhood(ctx context.Context, rec NeighbourhoodRecord) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO neighbourhoods (url, language) VALUES (?, ?) ON CONFLICT(url) DO UPDATE SET language = excluded.language",
		rec.URL, rec.Language)
	return errors.Wrapf(err, "failed to record neighbourhood %s", rec.URL)
}

// RemoveNeighbourhood forgets a neighbourhood.
func (r *Registry) RemoveNeighbourhood(ctx context.Context, url string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM neighbourhoods WHERE url = ?", url)
	return errors.Wrapf(err, "failed to forget neighbourhood %s", url)
}

// Neighbourhoods lists recorded neighbourhoods in join order.
func (r *Registry) Neighbourhoods(ctx context.Context) ([]NeighbourhoodRecord, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT url, language FROM neighbourhoods ORDER BY joined_at, url")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list neighbourhoods")
	}
	defer rows.Close()

	var out []NeighbourhoodRecord
	for rows.Next() {
		var rec NeighbourhoodRecord
		if err := rows.Scan(&rec.URL, &rec.Language); err != nil {
			return nil, errors.Wrap(err, "failed to scan neighbourhood")
		}
		out = append(out, rec)
	}
	return out, errors.Wrap(rows.Err(), "failed to list neighbourhoods")
}
