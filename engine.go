package symex

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/benbjohnson/symex/internal/graphutil"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Engine explores methods and dispatches walker events to listeners. An
// Engine is safe for concurrent use.
type Engine struct {
	config    *Config
	types     TypeModel
	logger    *zap.Logger
	tracer    trace.Tracer
	cache     *BehaviorCache
	reporter  *Reporter
	listeners []Listener

	// Type routed on null dereferences. May be nil if the type model does
	// not know the configured name.
	npe Type
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default discards all output.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithBehaviorCache sets the behavior cache shared with other engines.
func WithBehaviorCache(cache *BehaviorCache) Option {
	return func(e *Engine) { e.cache = cache }
}

// WithListeners appends listeners receiving walker events.
func WithListeners(listeners ...Listener) Option {
	return func(e *Engine) { e.listeners = append(e.listeners, listeners...) }
}

// WithReporter sets the reporter collecting issues.
func WithReporter(r *Reporter) Option {
	return func(e *Engine) { e.reporter = r }
}

// WithTracer sets the tracer. The default uses the global provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

// NewEngine returns an engine for the given configuration and type model.
func NewEngine(config *Config, types TypeModel, opts ...Option) (*Engine, error) {
	if config == nil {
		config = NewDefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		config: config,
		types:  types,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer("github.com/benbjohnson/symex")
	}
	if e.cache == nil {
		e.cache = NewBehaviorCache(config.MaxNestingDepth, e.logger)
	}
	if e.reporter == nil {
		e.reporter = NewReporter(config.MaxFlows)
	}
	e.npe = types.Lookup(config.NullPointerException)
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() *Config { return e.config }

// BehaviorCache returns the cache of method behaviors.
func (e *Engine) BehaviorCache() *BehaviorCache { return e.cache }

// Reporter returns the reporter collecting issues.
func (e *Engine) Reporter() *Reporter { return e.reporter }

// Explore walks the body of m with the registered listeners.
func (e *Engine) Explore(ctx context.Context, m Method) (*ExplorationResult, error) {
	ctx, span := e.tracer.Start(ctx, "symex.Explore", trace.WithAttributes(attribute.String("method", m.Signature())))
	defer span.End()

	result, err := newWalker(e, m, false).Run(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("steps", result.Steps), attribute.Int("states", result.States), attribute.Bool("aborted", result.Aborted))
	return result, nil
}

// Yields returns the behavior of m, computing it if needed.
func (e *Engine) Yields(ctx context.Context, m Method) []*MethodYield {
	return e.yields(ctx, m)
}

func (e *Engine) yields(ctx context.Context, m Method) []*MethodYield {
	return e.cache.Yields(ctx, m, e.exploreBehavior)
}

// exploreBehavior computes the yields of m without reporting issues.
func (e *Engine) exploreBehavior(ctx context.Context, m Method) ([]*MethodYield, error) {
	w := newWalker(e, m, true)
	result, err := w.Run(ctx)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("behavior", methodField(m), zap.Int("yields", len(result.Yields)), zap.Int("steps", result.Steps))
	for _, l := range e.listeners {
		for _, y := range result.Yields {
			l.OnMethodYieldComputed(w.check, y)
		}
	}
	return result.Yields, nil
}

// Report is the outcome of an analysis run.
type Report struct {
	RunID  string  `yaml:"run-id"`
	Issues []Issue `yaml:"issues"`
	Stats  Stats   `yaml:"stats"`
}

// Stats aggregates exploration counters over an analysis run.
type Stats struct {
	Methods   int `yaml:"methods"`
	Explored  int `yaml:"explored"`
	Aborted   int `yaml:"aborted"`
	Failed    int `yaml:"failed"`
	Steps     int `yaml:"steps"`
	States    int `yaml:"states"`
	Merged    int `yaml:"merged"`
	Dropped   int `yaml:"dropped"`
	Behaviors int `yaml:"behaviors"`
}

func (s *Stats) add(r *ExplorationResult) {
	s.Explored++
	s.Steps += r.Steps
	s.States += r.States
	s.Merged += r.Merged
	s.Dropped += r.Dropped
	if r.Aborted {
		s.Aborted++
	}
}

// Analyze explores every method with a body, callees before callers, and
// returns the reported issues. Methods of a strongly connected component of
// the call graph are processed in order by a single goroutine; independent
// components of the same level run concurrently up to Config.Parallelism.
//
// A method whose exploration violates an invariant is logged and skipped.
func (e *Engine) Analyze(ctx context.Context, methods []Method) (*Report, error) {
	runID := uuid.NewString()
	ctx, span := e.tracer.Start(ctx, "symex.Analyze", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.Int("methods", len(methods)),
	))
	defer span.End()

	logger := e.logger.With(zap.String("run", runID))
	logger.Info("analyze", zap.Int("methods", len(methods)))

	var mu sync.Mutex
	report := &Report{RunID: runID}
	report.Stats.Methods = len(methods)

	for _, level := range callLevels(methods) {
		g, ctx := errgroup.WithContext(ctx)
		g.SetLimit(e.config.Parallelism)
		for _, scc := range level {
			g.Go(func() error {
				for _, m := range scc {
					if err := ctx.Err(); err != nil {
						return err
					}
					if m.Body() == nil {
						continue
					}

					e.yields(ctx, m)
					result, err := e.Explore(ctx, m)
					if errors.Is(err, ErrInvariant) {
						logger.Error("skip method", methodField(m), zap.Error(err))
						mu.Lock()
						report.Stats.Failed++
						mu.Unlock()
						continue
					} else if err != nil {
						return fmt.Errorf("explore %s: %w", m.Signature(), err)
					}

					mu.Lock()
					report.Stats.add(result)
					mu.Unlock()
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	report.Issues = e.reporter.Issues()
	report.Stats.Behaviors = e.cache.Len()
	logger.Info("analyzed",
		zap.Int("issues", len(report.Issues)),
		zap.Int("explored", report.Stats.Explored),
		zap.Int("aborted", report.Stats.Aborted),
		zap.Int("failed", report.Stats.Failed),
	)
	return report, nil
}

// callLevels groups methods by call-graph level, leaves first. Each level
// holds the strongly connected components of methods calling each other.
func callLevels(methods []Method) [][][]Method {
	index := make(map[string]int, len(methods))
	for i, m := range methods {
		index[m.Signature()] = i
	}

	dg := graphutil.NewDigraph(len(methods))
	for i, m := range methods {
		for _, callee := range callees(m) {
			if j, ok := index[callee.Signature()]; ok {
				dg.AddEdge(i, j)
			}
		}
	}

	levels := graphutil.Levels(dg)
	a := make([][][]Method, len(levels))
	for i, level := range levels {
		for _, ids := range level {
			scc := make([]Method, len(ids))
			for j, id := range ids {
				scc[j] = methods[id]
			}
			a[i] = append(a[i], scc)
		}
	}
	return a
}

// callees returns the methods invoked by the body of m ordered by signature.
func callees(m Method) []Method {
	g := m.Body()
	if g == nil {
		return nil
	}

	seen := make(map[string]Method)
	for _, blk := range g.Blocks {
		for _, n := range blk.Elements {
			if n.Kind == NodeInvoke && n.Callee != nil {
				seen[n.Callee.Signature()] = n.Callee
			}
		}
	}

	a := make([]Method, 0, len(seen))
	for _, callee := range seen {
		a = append(a, callee)
	}
	sort.Slice(a, func(i, j int) bool { return a[i].Signature() < a[j].Signature() })
	return a
}
