package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
)

// Record represents a row in the qa_records table. A nil embedding means
// the record has none stored.
type Record struct {
	ID          int64     `json:"id"`
	Context     string    `json:"context"`
	Question    string    `json:"question"`
	Answer      string    `json:"answer"`
	ContextEmb  []float32 `json:"-"`
	QuestionEmb []float32 `json:"-"`
	AnswerEmb   []float32 `json:"-"`
	ImageRefs   []string  `json:"image_refs"`
	CreatedAt   string    `json:"created_at"`
	UpdatedAt   string    `json:"updated_at"`
}

// HasEmbeddings reports whether all three embeddings are present.
func (r *Record) HasEmbeddings() bool {
	return len(r.ContextEmb) > 0 && len(r.QuestionEmb) > 0 && len(r.AnswerEmb) > 0
}

// RecordMatch is a record returned by SearchRecords with its cosine
// similarity to the query.
type RecordMatch struct {
	Record
	Score float64 `json:"score"`
}

const recordColumns = `id, context, question, answer, emb_context, emb_question, emb_answer,
	image_refs, created_at, updated_at`

func scanRecord(row scanner) (*Record, error) {
	r := &Record{}
	var embC, embQ, embA []byte
	var refs sql.NullString
	if err := row.Scan(&r.ID, &r.Context, &r.Question, &r.Answer,
		&embC, &embQ, &embA, &refs, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.ContextEmb = deserializeFloat32(embC)
	r.QuestionEmb = deserializeFloat32(embQ)
	r.AnswerEmb = deserializeFloat32(embA)
	r.ImageRefs = decodeRefs(refs.String)
	return r, nil
}

// ListRecords returns every record in storage (id) order.
func (s *Store) ListRecords(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+recordColumns+" FROM qa_records ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

// GetRecord retrieves a record by ID.
func (s *Store) GetRecord(ctx context.Context, id int64) (*Record, error) {
	return scanRecord(s.db.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM qa_records WHERE id = ?", id))
}

// CountRecords returns the number of stored records.
func (s *Store) CountRecords(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM qa_records").Scan(&n)
	return n, err
}

// InsertRecord stores a new record and its question vector in one
// transaction. Returns the record ID.
func (s *Store) InsertRecord(ctx context.Context, r Record) (int64, error) {
	var id int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO qa_records (context, question, answer, emb_context, emb_question, emb_answer, image_refs)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, r.Context, r.Question, r.Answer,
			serializeFloat32(r.ContextEmb), serializeFloat32(r.QuestionEmb), serializeFloat32(r.AnswerEmb),
			encodeRefs(r.ImageRefs))
		if err != nil {
			return err
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		return s.syncVector(ctx, tx, "vec_qa_records", "record_id", id, r.QuestionEmb)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// UpdateRecord overwrites the text, embeddings and image refs of an
// existing record and refreshes its question vector.
func (s *Store) UpdateRecord(ctx context.Context, r Record) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE qa_records SET
				context = ?, question = ?, answer = ?,
				emb_context = ?, emb_question = ?, emb_answer = ?,
				image_refs = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ?
		`, r.Context, r.Question, r.Answer,
			serializeFloat32(r.ContextEmb), serializeFloat32(r.QuestionEmb), serializeFloat32(r.AnswerEmb),
			encodeRefs(r.ImageRefs), r.ID)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ErrNotFound
		}
		return s.syncVector(ctx, tx, "vec_qa_records", "record_id", r.ID, r.QuestionEmb)
	})
}

// SearchRecords returns the k records whose question embedding is closest
// to emb.
func (s *Store) SearchRecords(ctx context.Context, emb []float32, k int) ([]RecordMatch, error) {
	if len(emb) != s.embeddingDim || k <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.distance, r.id, r.context, r.question, r.answer,
			r.emb_context, r.emb_question, r.emb_answer, r.image_refs, r.created_at, r.updated_at
		FROM vec_qa_records v
		JOIN qa_records r ON r.id = v.record_id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, serializeFloat32(emb), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []RecordMatch
	for rows.Next() {
		var distance float64
		var m RecordMatch
		var embC, embQ, embA []byte
		var refs sql.NullString
		if err := rows.Scan(&distance, &m.ID, &m.Context, &m.Question, &m.Answer,
			&embC, &embQ, &embA, &refs, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		m.ContextEmb = deserializeFloat32(embC)
		m.QuestionEmb = deserializeFloat32(embQ)
		m.AnswerEmb = deserializeFloat32(embA)
		m.ImageRefs = decodeRefs(refs.String)
		// Convert cosine distance to similarity.
		m.Score = 1.0 - distance
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// --- Imported pairs ---

// Pair represents a row in the qa_pairs table. Embedding is the vector of
// Context + " " + Question.
type Pair struct {
	ID        int64     `json:"id"`
	Context   string    `json:"context"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Embedding []float32 `json:"-"`
}

// PairMatch is a pair returned by SearchPairs.
type PairMatch struct {
	Pair
	Score float64 `json:"score"`
}

// ImportPair stores p unless a pair with the same context and question
// already exists. It reports whether a row was inserted.
func (s *Store) ImportPair(ctx context.Context, p Pair) (bool, error) {
	inserted := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO qa_pairs (context, question, answer) VALUES (?, ?, ?)",
			p.Context, p.Question, p.Answer)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil || n == 0 {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		inserted = true
		return s.syncVector(ctx, tx, "vec_qa_pairs", "pair_id", id, p.Embedding)
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// CountPairs returns the number of imported pairs.
func (s *Store) CountPairs(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM qa_pairs").Scan(&n)
	return n, err
}

// SearchPairs returns the k pairs closest to emb.
func (s *Store) SearchPairs(ctx context.Context, emb []float32, k int) ([]PairMatch, error) {
	if len(emb) != s.embeddingDim || k <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.distance, p.id, p.context, p.question, p.answer
		FROM vec_qa_pairs v
		JOIN qa_pairs p ON p.id = v.pair_id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, serializeFloat32(emb), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []PairMatch
	for rows.Next() {
		var distance float64
		var m PairMatch
		if err := rows.Scan(&distance, &m.ID, &m.Context, &m.Question, &m.Answer); err != nil {
			return nil, err
		}
		m.Score = 1.0 - distance
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// syncVector replaces the vector row for id. Vectors whose length does not
// match the table dimension are not indexed.
func (s *Store) syncVector(ctx context.Context, tx *sql.Tx, table, key string, id int64, emb []float32) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE "+key+" = ?", id); err != nil {
		return err
	}
	if len(emb) == 0 {
		return nil
	}
	if len(emb) != s.embeddingDim {
		slog.Debug("store: skipping vector with wrong dimension",
			"table", table, "id", id, "dim", len(emb), "want", s.embeddingDim)
		return nil
	}
	_, err := tx.ExecContext(ctx,
		"INSERT INTO "+table+" ("+key+", embedding) VALUES (?, ?)",
		id, serializeFloat32(emb))
	return err
}

func encodeRefs(refs []string) string {
	if len(refs) == 0 {
		return "[]"
	}
	b, err := json.Marshal(refs)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func decodeRefs(s string) []string {
	refs := []string{}
	if s == "" {
		return refs
	}
	if err := json.Unmarshal([]byte(s), &refs); err != nil {
		slog.Debug("store: malformed image refs", "error", err)
		return []string{}
	}
	return refs
}
