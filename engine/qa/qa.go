// Package qa is the query service. It gates asks on index readiness, ranks
// the corpus through the retrieval index and shapes the ranked records into
// an Answer.
package qa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/WessleyAI/member-qa/engine/domain"
	"github.com/WessleyAI/member-qa/engine/index"
	"github.com/WessleyAI/member-qa/pkg/metrics"
)

// Retriever abstracts the retrieval index.
type Retriever interface {
	Query(ctx context.Context, text string, k int, minSimilarity float64) ([]index.Match, error)
	Refresh(ctx context.Context) (index.RefreshResult, error)
	Status() index.Status
}

// EventSink receives refresh outcomes, e.g. to fan them out over NATS.
type EventSink interface {
	RefreshCompleted(ctx context.Context, ev RefreshEvent) error
}

// RefreshEvent describes one refresh attempt.
type RefreshEvent struct {
	ID        string    `json:"id,omitempty"`
	Trigger   string    `json:"trigger"`
	OK        bool      `json:"ok"`
	Records   int       `json:"records"`
	Dimension int       `json:"dimension,omitempty"`
	Model     string    `json:"model,omitempty"`
	Error     string    `json:"error,omitempty"`
	TookMS    int64     `json:"took_ms"`
	At        time.Time `json:"at"`
}

// Options configures ranking and the not-found reply.
type Options struct {
	TopK            int
	MinSimilarity   float64
	NotFoundMessage string
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		TopK:            3,
		MinSimilarity:   0.3,
		NotFoundMessage: domain.NotFoundMessage,
	}
}

// Service answers questions from the member corpus.
type Service struct {
	retriever Retriever
	opts      Options
	logger    *slog.Logger
	events    EventSink
	m         serviceMetrics
}

type serviceMetrics struct {
	reg            *metrics.Registry
	askLatency     *metrics.Histogram
	bestConfidence *metrics.Gauge
	corpusRecords  *metrics.Gauge
	lastRefresh    *metrics.Gauge
}

// Option configures optional collaborators.
type Option func(*Service)

// WithMetrics records ask and refresh metrics in reg.
func WithMetrics(reg *metrics.Registry) Option { return func(s *Service) { s.m.reg = reg } }

// WithEvents publishes refresh outcomes to sink.
func WithEvents(sink EventSink) Option { return func(s *Service) { s.events = sink } }

// New creates a Service. A zero TopK or empty NotFoundMessage falls back to
// DefaultOptions; MinSimilarity is used as given, so 0 is a valid floor.
func New(r Retriever, opts Options, logger *slog.Logger, extra ...Option) *Service {
	def := DefaultOptions()
	if opts.TopK == 0 {
		opts.TopK = def.TopK
	}
	if opts.NotFoundMessage == "" {
		opts.NotFoundMessage = def.NotFoundMessage
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{retriever: r, opts: opts, logger: logger.With("component", "qa")}
	for _, o := range extra {
		o(s)
	}
	if s.m.reg == nil {
		s.m.reg = metrics.New()
	}
	reg := s.m.reg
	s.m.askLatency = reg.Histogram("memberqa_ask_duration_seconds", "Time to answer a question", nil)
	s.m.bestConfidence = reg.Gauge("memberqa_ask_best_confidence", "Similarity of the best match of the last answered ask")
	s.m.corpusRecords = reg.Gauge("memberqa_corpus_records", "Records in the published snapshot")
	s.m.lastRefresh = reg.Gauge("memberqa_last_refresh_timestamp_seconds", "Unix time of the last successful refresh")
	return s
}

// Options returns the effective options.
func (s *Service) Options() Options { return s.opts }

func (s *Service) countAsk(outcome string) {
	s.m.reg.Counter("memberqa_asks_total", "Asks by outcome", "outcome", outcome).Inc()
}

// Ask answers a question. It returns domain.ErrIndexNotReady before the
// first successful refresh and a not-found Answer when nothing clears the
// relevance floor.
func (s *Service) Ask(ctx context.Context, question string) (*domain.Answer, error) {
	start := time.Now()
	defer s.m.askLatency.Since(start)

	if err := domain.ValidateQuestion(question); err != nil {
		s.countAsk("invalid")
		return nil, err
	}

	matches, err := s.retriever.Query(ctx, question, s.opts.TopK, s.opts.MinSimilarity)
	if err != nil {
		if errors.Is(err, domain.ErrIndexNotReady) {
			s.countAsk("not_ready")
			return nil, err
		}
		s.countAsk("error")
		return nil, fmt.Errorf("qa: ask: %w", err)
	}

	if len(matches) == 0 {
		s.countAsk("not_found")
		s.logger.Debug("no match above floor", "question_len", len(question), "floor", s.opts.MinSimilarity)
		return domain.NotFound(s.opts.NotFoundMessage), nil
	}

	ans := shape(matches)
	s.countAsk("answered")
	s.m.bestConfidence.Set(ans.Confidence)
	s.logger.Debug("answered", "matches", len(matches), "confidence", ans.Confidence, "took", time.Since(start))
	return ans, nil
}

// shape builds the Answer from best-first matches: the headline is the best
// match only, sources list every match.
func shape(matches []index.Match) *domain.Answer {
	sources := make([]string, len(matches))
	for i, m := range matches {
		sources[i] = m.Record.Render()
	}
	return &domain.Answer{
		Answer:     matches[0].Record.Bullet(),
		Confidence: matches[0].Similarity,
		Sources:    sources,
	}
}

// HealthStatus is the liveness payload.
type HealthStatus struct {
	Status string `json:"status"`
}

// Health reports process liveness only. It says nothing about the index.
func (s *Service) Health() HealthStatus {
	return HealthStatus{Status: "healthy"}
}

// Ready reports the index status and whether asks can be served.
func (s *Service) Ready() (index.Status, bool) {
	st := s.retriever.Status()
	return st, st.RefreshID != ""
}

// Refresh rebuilds the index and reports the outcome to metrics and the
// event sink. trigger names what asked for it (startup, http, nats, timer).
func (s *Service) Refresh(ctx context.Context, trigger string) (index.RefreshResult, error) {
	start := time.Now()
	res, err := s.retriever.Refresh(ctx)

	ev := RefreshEvent{Trigger: trigger, TookMS: time.Since(start).Milliseconds(), At: time.Now().UTC()}
	if err != nil {
		s.m.reg.Counter("memberqa_refresh_total", "Refresh attempts by result", "result", "failure").Inc()
		ev.Error = err.Error()
	} else {
		s.m.reg.Counter("memberqa_refresh_total", "Refresh attempts by result", "result", "success").Inc()
		s.m.corpusRecords.Set(float64(res.Records))
		s.m.lastRefresh.SetTime(start)
		ev.ID, ev.OK, ev.Records, ev.Dimension, ev.Model = res.ID, true, res.Records, res.Dimension, res.Model
	}

	// Joined refreshes already had their event published by the leader.
	if s.events != nil && !res.Shared {
		if perr := s.events.RefreshCompleted(ctx, ev); perr != nil {
			s.logger.Warn("publish refresh event failed", "err", perr)
		}
	}

	if err != nil {
		return res, fmt.Errorf("qa: refresh: %w", err)
	}
	return res, nil
}
