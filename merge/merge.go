// Package merge decides whether a new question/answer triple is a
// near-duplicate of a stored record and either folds it in or inserts it.
package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/brunobiangulo/goqa/store"
)

// ErrEmbedding wraps failures of the embedding collaborator. Nothing is
// written when it is returned.
var ErrEmbedding = errors.New("merge: embedding failed")

// Repository is the record storage the engine scans and writes.
type Repository interface {
	ListRecords(ctx context.Context) ([]store.Record, error)
	InsertRecord(ctx context.Context, r store.Record) (int64, error)
	UpdateRecord(ctx context.Context, r store.Record) error
}

// Embedder turns texts into vectors, one per input, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Weights are the per-field factors of the composite score.
type Weights struct {
	Context  float64 `json:"context" yaml:"context"`
	Question float64 `json:"question" yaml:"question"`
	Answer   float64 `json:"answer" yaml:"answer"`
}

// Config holds the merge thresholds. Both comparisons are strict.
type Config struct {
	TotalThreshold    float64 `json:"total_threshold" yaml:"total_threshold"`
	QuestionThreshold float64 `json:"question_threshold" yaml:"question_threshold"`
	Weights           Weights `json:"weights" yaml:"weights"`
}

// DefaultConfig returns thresholds 0.95 / 0.9 and weights 0.5 / 0.3 / 0.2.
func DefaultConfig() Config {
	return Config{
		TotalThreshold:    0.95,
		QuestionThreshold: 0.9,
		Weights:           Weights{Context: 0.5, Question: 0.3, Answer: 0.2},
	}
}

// Triple is a new observation to insert or merge.
type Triple struct {
	Context   string   `json:"context"`
	Question  string   `json:"question"`
	Answer    string   `json:"answer"`
	ImageRefs []string `json:"image_refs,omitempty"`
}

// Kind tells what InsertOrMerge did.
type Kind int

const (
	Inserted Kind = iota + 1
	Merged
)

func (k Kind) String() string {
	switch k {
	case Inserted:
		return "inserted"
	case Merged:
		return "merged"
	default:
		return "unknown"
	}
}

// Outcome is the result of InsertOrMerge.
type Outcome struct {
	Kind     Kind  `json:"-"`
	RecordID int64 `json:"record_id"`
}

// Scores are the per-field similarities between a triple and a record.
type Scores struct {
	Context  float64
	Question float64
	Answer   float64
	Total    float64
}

// Engine runs the insert-or-merge cycle. One cycle runs at a time so the
// first qualifying record always wins, even with concurrent callers.
type Engine struct {
	repo Repository
	emb  Embedder
	cfg  Config
	mu   sync.Mutex
}

// New returns an Engine. A zero Config, or zero fields in it, fall back
// to DefaultConfig.
func New(repo Repository, emb Embedder, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.TotalThreshold == 0 {
		cfg.TotalThreshold = def.TotalThreshold
	}
	if cfg.QuestionThreshold == 0 {
		cfg.QuestionThreshold = def.QuestionThreshold
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = def.Weights
	}
	return &Engine{repo: repo, emb: emb, cfg: cfg}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Score computes the similarities of the three embeddings against r.
func (e *Engine) Score(ctxEmb, qEmb, aEmb []float32, r *store.Record) Scores {
	s := Scores{
		Context:  Cosine(ctxEmb, r.ContextEmb),
		Question: Cosine(qEmb, r.QuestionEmb),
		Answer:   Cosine(aEmb, r.AnswerEmb),
	}
	w := e.cfg.Weights
	s.Total = w.Context*s.Context + w.Question*s.Question + w.Answer*s.Answer
	return s
}

func (e *Engine) qualifies(s Scores) bool {
	return s.Total > e.cfg.TotalThreshold && s.Question > e.cfg.QuestionThreshold
}

// InsertOrMerge embeds t and scans every stored record in storage order.
// The first record whose scores pass both thresholds absorbs t: context
// and answer are appended unless already contained, embeddings are
// recomputed and image refs are unioned. With no match t is inserted.
func (e *Engine) InsertOrMerge(ctx context.Context, t Triple) (Outcome, error) {
	start := time.Now()
	vecs, err := e.embed(ctx, t.Context, t.Question, t.Answer)
	if err != nil {
		return Outcome{}, err
	}
	ctxEmb, qEmb, aEmb := vecs[0], vecs[1], vecs[2]

	e.mu.Lock()
	defer e.mu.Unlock()

	records, err := e.repo.ListRecords(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("merge: listing records: %w", err)
	}

	for i := range records {
		r := &records[i]
		if !r.HasEmbeddings() {
			continue
		}
		s := e.Score(ctxEmb, qEmb, aEmb, r)
		if !e.qualifies(s) {
			continue
		}
		if err := e.absorb(ctx, r, t); err != nil {
			return Outcome{}, err
		}
		slog.Debug("merge: merged into existing record",
			"record_id", r.ID,
			"total", s.Total,
			"question", s.Question,
			"scanned", i+1,
			"elapsed", time.Since(start).Round(time.Millisecond))
		return Outcome{Kind: Merged, RecordID: r.ID}, nil
	}

	id, err := e.repo.InsertRecord(ctx, store.Record{
		Context:     t.Context,
		Question:    t.Question,
		Answer:      t.Answer,
		ContextEmb:  ctxEmb,
		QuestionEmb: qEmb,
		AnswerEmb:   aEmb,
		ImageRefs:   unionRefs(nil, t.ImageRefs),
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("merge: inserting record: %w", err)
	}
	slog.Debug("merge: inserted new record",
		"record_id", id,
		"scanned", len(records),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return Outcome{Kind: Inserted, RecordID: id}, nil
}

// absorb folds t into r and writes r back. The stored question text is
// kept; its embedding becomes that of the new question.
func (e *Engine) absorb(ctx context.Context, r *store.Record, t Triple) error {
	r.Context = appendUnlessContained(r.Context, t.Context)
	r.Answer = appendUnlessContained(r.Answer, t.Answer)

	vecs, err := e.embed(ctx, r.Context, t.Question, r.Answer)
	if err != nil {
		return err
	}
	r.ContextEmb, r.QuestionEmb, r.AnswerEmb = vecs[0], vecs[1], vecs[2]
	r.ImageRefs = unionRefs(r.ImageRefs, t.ImageRefs)

	if err := e.repo.UpdateRecord(ctx, *r); err != nil {
		return fmt.Errorf("merge: updating record %d: %w", r.ID, err)
	}
	return nil
}

func (e *Engine) embed(ctx context.Context, texts ...string) ([][]float32, error) {
	vecs, err := e.emb.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbedding, len(vecs), len(texts))
	}
	return vecs, nil
}

func appendUnlessContained(old, add string) string {
	if strings.Contains(old, add) {
		return old
	}
	return old + "\n" + add
}

// unionRefs appends the refs of add missing from base, keeping order.
func unionRefs(base, add []string) []string {
	out := make([]string, 0, len(base)+len(add))
	seen := make(map[string]struct{}, len(base)+len(add))
	for _, list := range [][]string{base, add} {
		for _, ref := range list {
			if _, ok := seen[ref]; ok {
				continue
			}
			seen[ref] = struct{}{}
			out = append(out, ref)
		}
	}
	return out
}
