package symex

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/immutable"
	"github.com/klauspost/compress/s2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ExploreFunc computes the yields of a method by exploring its body.
type ExploreFunc func(ctx context.Context, m Method) ([]*MethodYield, error)

// BehaviorCache memoizes method yields by signature. It is owned by the
// host and shared by every exploration of an analysis run. It is safe for
// concurrent use.
type BehaviorCache struct {
	mu        sync.RWMutex
	behaviors map[string][]*MethodYield
	group     singleflight.Group

	maxNestingDepth int
	logger          *zap.Logger

	hits, misses atomic.Int64
}

// NewBehaviorCache returns an empty cache. Nested computations deeper than
// maxNestingDepth are not attempted.
func NewBehaviorCache(maxNestingDepth int, logger *zap.Logger) *BehaviorCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BehaviorCache{
		behaviors:       make(map[string][]*MethodYield),
		maxNestingDepth: maxNestingDepth,
		logger:          logger,
	}
}

// Yields returns the yields of m, computing them with explore on a miss.
//
// A nil result means nothing is known: the method has no body, is already
// being explored further up the current chain, or the chain is too deep.
// Native methods yield a single unknown yield.
func (c *BehaviorCache) Yields(ctx context.Context, m Method, explore ExploreFunc) []*MethodYield {
	key := m.Signature()
	if yields, ok := c.lookup(key); ok {
		return yields
	}

	chain := chainFromContext(ctx)
	if _, ok := chain.Get(key); ok {
		c.logger.Debug("recursion", zap.String("method", key))
		return nil
	}

	switch {
	case m.Native():
		yields := []*MethodYield{UnknownYield()}
		c.Put(m, yields)
		return yields
	case m.Body() == nil:
		return nil
	case chain.Len() >= c.maxNestingDepth:
		c.logger.Debug("nesting depth", zap.String("method", key), zap.Int("depth", chain.Len()))
		return nil
	}

	v, _, _ := c.group.Do(key, func() (interface{}, error) {
		if yields, ok := c.lookup(key); ok {
			return yields, nil
		}

		c.misses.Add(1)
		yields, err := explore(contextWithChain(ctx, chain.Set(key, struct{}{})), m)
		if err != nil {
			c.logger.Warn("behavior", zap.String("method", key), zap.Error(err))
			yields = []*MethodYield{UnknownYield()}
		}
		c.Put(m, yields)
		return yields, nil
	})
	return v.([]*MethodYield)
}

func (c *BehaviorCache) lookup(key string) ([]*MethodYield, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	yields, ok := c.behaviors[key]
	if ok {
		c.hits.Add(1)
	}
	return yields, ok
}

// Behavior returns the cached yields of m without computing them.
func (c *BehaviorCache) Behavior(m Method) ([]*MethodYield, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	yields, ok := c.behaviors[m.Signature()]
	return yields, ok
}

// Put stores the yields of m.
func (c *BehaviorCache) Put(m Method, yields []*MethodYield) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.behaviors[m.Signature()] = yields
}

// Invalidate removes the yields of m.
func (c *BehaviorCache) Invalidate(m Method) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.behaviors, m.Signature())
}

// Clear removes every behavior. Hosts call it between independent runs.
func (c *BehaviorCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.behaviors = make(map[string][]*MethodYield)
	c.hits.Store(0)
	c.misses.Store(0)
}

// Len returns the number of cached behaviors.
func (c *BehaviorCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.behaviors)
}

// Stats returns the number of cache hits and computed behaviors.
func (c *BehaviorCache) Stats() (hits, misses int) {
	return int(c.hits.Load()), int(c.misses.Load())
}

// behaviorRecord is the serialized form of a behavior.
type behaviorRecord struct {
	Signature string
	Yields    []yieldRecord
}

type yieldRecord struct {
	Params      []ValueConstraints
	Result      ValueConstraints
	ResultParam int
	Exceptional bool
	Thrown      string
	CauseParam  int
	Flow        []Step
	Unknown     bool
}

// Export writes every cached behavior to w as an s2 compressed gob stream.
func (c *BehaviorCache) Export(w io.Writer) (err error) {
	c.mu.RLock()
	records := make([]behaviorRecord, 0, len(c.behaviors))
	for sig, yields := range c.behaviors {
		r := behaviorRecord{Signature: sig}
		for _, y := range yields {
			yr := yieldRecord{
				Params:      y.Params,
				Result:      y.Result,
				ResultParam: y.ResultParam,
				Exceptional: y.Exceptional,
				CauseParam:  y.CauseParam,
				Flow:        y.Flow,
				Unknown:     y.Unknown,
			}
			if y.Thrown != nil {
				yr.Thrown = y.Thrown.Name()
			}
			r.Yields = append(r.Yields, yr)
		}
		records = append(records, r)
	}
	c.mu.RUnlock()
	sort.Slice(records, func(i, j int) bool { return records[i].Signature < records[j].Signature })

	writer := s2.NewWriter(w)
	defer func() {
		if cerr := writer.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()
	if err := gob.NewEncoder(writer).Encode(records); err != nil {
		return fmt.Errorf("encode behaviors: %w", err)
	}
	return nil
}

// Import reads behaviors written by Export and adds them to the cache.
// Thrown types are resolved through types; unknown names become unknown
// exception types.
func (c *BehaviorCache) Import(r io.Reader, types TypeModel) error {
	var records []behaviorRecord
	if err := gob.NewDecoder(s2.NewReader(r)).Decode(&records); err != nil {
		return fmt.Errorf("decode behaviors: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range records {
		yields := make([]*MethodYield, 0, len(r.Yields))
		for _, yr := range r.Yields {
			y := &MethodYield{
				Params:      yr.Params,
				Result:      yr.Result,
				ResultParam: yr.ResultParam,
				Exceptional: yr.Exceptional,
				CauseParam:  yr.CauseParam,
				Flow:        yr.Flow,
				Unknown:     yr.Unknown,
			}
			if yr.Thrown != "" {
				y.Thrown = types.Lookup(yr.Thrown)
			}
			yields = append(yields, y)
		}
		c.behaviors[r.Signature] = yields
	}
	return nil
}

// The chain of methods whose behavior is being computed is carried in the
// context so that each top-level exploration starts with an empty chain.
type chainKey struct{}

func chainFromContext(ctx context.Context) *immutable.Map[string, struct{}] {
	if chain, ok := ctx.Value(chainKey{}).(*immutable.Map[string, struct{}]); ok {
		return chain
	}
	return immutable.NewMap[string, struct{}](nil)
}

func contextWithChain(ctx context.Context, chain *immutable.Map[string, struct{}]) context.Context {
	return context.WithValue(ctx, chainKey{}, chain)
}
