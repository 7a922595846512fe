// Package index holds the in-memory retrieval index: a corpus snapshot of
// member records and their embeddings, rebuilt wholesale on refresh and
// ranked by cosine similarity on query.
package index

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/WessleyAI/member-qa/engine/domain"
	"github.com/WessleyAI/member-qa/pkg/embed"
	"github.com/WessleyAI/member-qa/pkg/fn"
)

// State is the readiness of the index.
type State int32

const (
	StateUninitialized State = iota
	StateRefreshing
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateRefreshing:
		return "refreshing"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Fetcher supplies the raw corpus.
type Fetcher interface {
	Fetch(ctx context.Context) ([]domain.Record, error)
}

// Match is one ranked record.
type Match struct {
	Record     domain.Record
	Similarity float64
	// Position is the record's index in the snapshot.
	Position int
}

// RefreshResult describes a published snapshot.
type RefreshResult struct {
	ID        string        `json:"id"`
	Records   int           `json:"records"`
	Dimension int           `json:"dimension"`
	Model     string        `json:"model"`
	Took      time.Duration `json:"took_ns"`
	// Shared is set when the caller joined a refresh already in flight.
	Shared bool `json:"shared"`
}

// Status is a point-in-time view of the index.
type Status struct {
	State       State     `json:"state"`
	Records     int       `json:"records"`
	Model       string    `json:"model,omitempty"`
	Dimension   int       `json:"dimension,omitempty"`
	RefreshID   string    `json:"refresh_id,omitempty"`
	BuiltAt     time.Time `json:"built_at,omitzero"`
	LastSuccess time.Time `json:"last_success,omitzero"`
	LastError   string    `json:"last_error,omitempty"`
	Refreshes   int       `json:"refreshes"`
	Failures    int       `json:"failures"`
}

// Index serves similarity queries from the current snapshot. Queries load
// the snapshot pointer once and never lock; refreshes build a new snapshot
// off to the side and publish it with a single store.
type Index struct {
	fetcher  Fetcher
	embedder embed.Embedder
	logger   *slog.Logger

	snap  atomic.Pointer[Snapshot]
	state atomic.Int32

	group   singleflight.Group
	writeMu sync.Mutex

	statusMu    sync.Mutex
	lastSuccess time.Time
	lastErr     string
	refreshes   int
	failures    int
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(ix *Index) { ix.logger = l } }

// New creates an uninitialized index. fetcher may be nil when the corpus is
// only ever supplied through Load.
func New(fetcher Fetcher, embedder embed.Embedder, opts ...Option) *Index {
	ix := &Index{fetcher: fetcher, embedder: embedder}
	for _, o := range opts {
		o(ix)
	}
	if ix.logger == nil {
		ix.logger = slog.Default()
	}
	ix.logger = ix.logger.With("component", "index")
	return ix
}

// State returns the current readiness state.
func (ix *Index) State() State { return State(ix.state.Load()) }

// Snapshot returns the published snapshot, or nil before the first refresh.
func (ix *Index) Snapshot() *Snapshot { return ix.snap.Load() }

// Refresh fetches the corpus, embeds it and publishes a new snapshot.
// Concurrent callers share one run. On failure the previous snapshot keeps
// serving. The run is detached from ctx cancellation so a departing caller
// does not abort a refresh other callers are waiting on.
func (ix *Index) Refresh(ctx context.Context) (RefreshResult, error) {
	if ix.fetcher == nil {
		return RefreshResult{}, fmt.Errorf("index: refresh: %w: no fetcher configured", domain.ErrDataSourceUnavailable)
	}
	v, err, shared := ix.group.Do("refresh", func() (any, error) {
		return ix.run(context.WithoutCancel(ctx), ix.fetchStage())
	})
	if err != nil {
		return RefreshResult{}, err
	}
	res := v.(RefreshResult)
	res.Shared = shared
	return res, nil
}

// Load builds and publishes a snapshot from records already in hand.
func (ix *Index) Load(ctx context.Context, records []domain.Record) (RefreshResult, error) {
	given := fn.Stage[struct{}, []domain.Record](func(context.Context, struct{}) fn.Result[[]domain.Record] {
		return fn.Ok(records)
	})
	return ix.run(ctx, given)
}

type batch struct {
	records []domain.Record
	texts   []string
	vectors [][]float32
}

func (ix *Index) fetchStage() fn.Stage[struct{}, []domain.Record] {
	return func(ctx context.Context, _ struct{}) fn.Result[[]domain.Record] {
		records, err := ix.fetcher.Fetch(ctx)
		if err != nil && !errors.Is(err, domain.ErrDataSourceUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrDataSourceUnavailable, err)
		}
		return fn.FromPair(records, err)
	}
}

func render(records []domain.Record) batch {
	return batch{records: records, texts: fn.Map(records, domain.Record.Render)}
}

func (ix *Index) embedStage(ctx context.Context, b batch) fn.Result[batch] {
	if len(b.texts) == 0 {
		b.vectors = [][]float32{}
		return fn.Ok(b)
	}
	vecs, err := ix.embedder.EmbedTexts(ctx, b.texts)
	if err != nil {
		return fn.Err[batch](fmt.Errorf("%w: %w", domain.ErrEmbeddingFailed, err))
	}
	b.vectors = vecs
	return fn.Ok(b)
}

func (ix *Index) buildStage(_ context.Context, b batch) fn.Result[*Snapshot] {
	s, err := NewSnapshot(b.records, b.vectors, ix.embedder.Model())
	return fn.FromPair(s, err)
}

func (ix *Index) run(ctx context.Context, source fn.Stage[struct{}, []domain.Record]) (RefreshResult, error) {
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()

	start := time.Now()
	ix.state.Store(int32(StateRefreshing))
	defer ix.settleState()

	pipeline := fn.Then(
		fn.Then(
			fn.TracedStage("index.fetch", source),
			fn.TracedStage("index.render", fn.MapStage(render)),
		),
		fn.Then(
			fn.TracedStage("index.embed", fn.Stage[batch, batch](ix.embedStage)),
			fn.TracedStage("index.build", fn.Stage[batch, *Snapshot](ix.buildStage)),
		),
	)

	snap, err := pipeline(ctx, struct{}{}).Unwrap()
	if err != nil {
		ix.recordFailure(err)
		ix.logger.Error("refresh failed", "err", err, "took", time.Since(start), "serving_previous", ix.snap.Load() != nil)
		return RefreshResult{}, fmt.Errorf("index: refresh: %w", err)
	}

	ix.snap.Store(snap)
	ix.recordSuccess()

	res := RefreshResult{
		ID:        snap.ID(),
		Records:   snap.Len(),
		Dimension: snap.Dimension(),
		Model:     snap.Model(),
		Took:      time.Since(start),
	}
	ix.logger.Info("snapshot published", "id", res.ID, "records", res.Records, "dimension", res.Dimension, "model", res.Model, "took", res.Took)
	return res, nil
}

func (ix *Index) settleState() {
	if ix.snap.Load() != nil {
		ix.state.Store(int32(StateReady))
	} else {
		ix.state.Store(int32(StateUninitialized))
	}
}

func (ix *Index) recordSuccess() {
	ix.statusMu.Lock()
	defer ix.statusMu.Unlock()
	ix.refreshes++
	ix.lastSuccess = time.Now()
	ix.lastErr = ""
}

func (ix *Index) recordFailure(err error) {
	ix.statusMu.Lock()
	defer ix.statusMu.Unlock()
	ix.failures++
	ix.lastErr = err.Error()
}

// Status reports readiness and refresh bookkeeping.
func (ix *Index) Status() Status {
	st := Status{State: ix.State()}
	if s := ix.snap.Load(); s != nil {
		st.Records = s.Len()
		st.Model = s.Model()
		st.Dimension = s.Dimension()
		st.RefreshID = s.ID()
		st.BuiltAt = s.BuiltAt()
	}
	ix.statusMu.Lock()
	defer ix.statusMu.Unlock()
	st.LastSuccess = ix.lastSuccess
	st.LastError = ix.lastErr
	st.Refreshes = ix.refreshes
	st.Failures = ix.failures
	return st
}

// Query ranks the corpus against text and returns at most k matches whose
// similarity is strictly greater than minSimilarity, best first. Ties keep
// corpus order.
func (ix *Index) Query(ctx context.Context, text string, k int, minSimilarity float64) ([]Match, error) {
	s := ix.snap.Load()
	if s == nil {
		return nil, domain.ErrIndexNotReady
	}
	if k <= 0 || s.Len() == 0 {
		return []Match{}, nil
	}
	if m := ix.embedder.Model(); m != s.Model() {
		return nil, fmt.Errorf("index: query: %w: snapshot model %q, embedder model %q",
			domain.ErrEmbeddingMismatch, s.Model(), m)
	}

	q, err := ix.embedder.EmbedText(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("index: query: %w: %w", domain.ErrEmbeddingFailed, err)
	}
	if len(q) != s.Dimension() {
		return nil, fmt.Errorf("index: query: %w: query dimension %d, snapshot dimension %d",
			domain.ErrEmbeddingMismatch, len(q), s.Dimension())
	}
	return rank(s, q, k, minSimilarity), nil
}

func rank(s *Snapshot, q []float32, k int, minSimilarity float64) []Match {
	qn := Norm(q)
	scores := make([]float64, s.Len())
	order := make([]int, s.Len())
	for i, v := range s.vectors {
		scores[i] = cosineWithNorms(q, v, qn, s.norms[i])
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(scores[b], scores[a])
	})

	matches := make([]Match, 0, min(k, len(order)))
	for _, i := range order[:min(k, len(order))] {
		if scores[i] > minSimilarity {
			matches = append(matches, Match{Record: s.records[i], Similarity: scores[i], Position: i})
		}
	}
	return matches
}
