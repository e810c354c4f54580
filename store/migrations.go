package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// A migration upgrades the schema by one version. Entries are appended,
// never edited; version 1 is the base schema created by schemaSQL.
type migration struct {
	version int
	name    string
	up      func(ctx context.Context, s *Store, tx *sql.Tx) error
}

var migrations = []migration{
	{1, "base schema", func(context.Context, *Store, *sql.Tx) error { return nil }},
	{2, "image refs and document errors", addColumns(
		"ALTER TABLE qa_records ADD COLUMN image_refs JSON",
		"ALTER TABLE documents ADD COLUMN last_error TEXT",
	)},
	{3, "index stored question vectors", func(ctx context.Context, s *Store, tx *sql.Tx) error {
		n, err := s.reindexRecords(ctx, tx)
		if n > 0 {
			slog.Info("store: indexed question vectors", "records", n)
		}
		return err
	}},
}

// addColumns runs ALTER statements that fail harmlessly when a database
// created from the current base schema already has the column.
func addColumns(stmts ...string) func(context.Context, *Store, *sql.Tx) error {
	return func(ctx context.Context, _ *Store, tx *sql.Tx) error {
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				slog.Debug("store: column already present", "sql", stmt, "error", err)
			}
		}
		return nil
	}
}

// Migrate brings the schema up to the newest version, one transaction
// per step.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations[min(current, len(migrations)):] {
		slog.Info("store: migrating", "version", m.version, "name", m.name)
		err := s.inTx(ctx, func(tx *sql.Tx) error {
			if err := m.up(ctx, s, tx); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_version (version, description) VALUES (?, ?)", m.version, m.name)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}

// SchemaVersion returns the highest applied migration version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}

// ReindexRecords adds the question vector of every record that has a
// stored embedding but no row in the vector table, and returns how many
// were added.
func (s *Store) ReindexRecords(ctx context.Context) (int, error) {
	var n int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		n, err = s.reindexRecords(ctx, tx)
		return err
	})
	return n, err
}

func (s *Store) reindexRecords(ctx context.Context, tx *sql.Tx) (int, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT r.id, r.emb_question FROM qa_records r
		WHERE r.emb_question IS NOT NULL
		  AND r.id NOT IN (SELECT record_id FROM vec_qa_records)`)
	if err != nil {
		return 0, fmt.Errorf("listing unindexed records: %w", err)
	}
	type pending struct {
		id  int64
		emb []float32
	}
	var todo []pending
	for rows.Next() {
		var (
			id   int64
			blob []byte
		)
		if err := rows.Scan(&id, &blob); err != nil {
			rows.Close()
			return 0, err
		}
		todo = append(todo, pending{id, deserializeFloat32(blob)})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	n := 0
	for _, p := range todo {
		if len(p.emb) != s.embeddingDim {
			continue
		}
		if err := s.syncVector(ctx, tx, "vec_qa_records", "record_id", p.id, p.emb); err != nil {
			return n, fmt.Errorf("indexing record %d: %w", p.id, err)
		}
		n++
	}
	return n, nil
}
