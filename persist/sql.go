package persist

import (
	"context"
	"database/sql"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/weave/errors"
)

// SQLStore keeps snapshots in the graph_snapshots table.
type SQLStore struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewSQLStore uses a migrated database.
func NewSQLStore(db *sql.DB, logger *zap.SugaredLogger) *SQLStore {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &SQLStore{db: db, logger: logger.Named("persist")}
}

// Load implements Persister.
func (s *SQLStore) Load(ctx context.Context, id string) (string, bool, error) {
	var nquads string
	err := s.db.QueryRowContext(ctx, "SELECT nquads FROM graph_snapshots WHERE id = ?", id).Scan(&nquads)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "failed to load snapshot %s", id)
	}
	return nquads, true, nil
}

// Save implements Persister. The snapshot replaces any earlier one.
func (s *SQLStore) Save(ctx context.Context, id, nquads string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO graph_snapshots (id, nquads, quad_count, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			nquads = excluded.nquads,
			quad_count = excluded.quad_count,
			updated_at = excluded.updated_at`,
		id, nquads, countQuads(nquads))
	if err != nil {
		return errors.Wrapf(err, "failed to save snapshot %s", id)
	}
	s.logger.Debugw("Snapshot saved", "id", id, "bytes", len(nquads))
	return nil
}

// Delete drops the snapshot for id.
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM graph_snapshots WHERE id = ?", id); err != nil {
		return errors.Wrapf(err, "failed to delete snapshot %s", id)
	}
	return nil
}

func countQuads(nquads string) int {
	n := 0
	for _, line := range strings.Split(nquads, "\n") {
		if line = strings.TrimSpace(line); line != "" && !strings.HasPrefix(line, "#") {
			n++
		}
	}
	return n
}
