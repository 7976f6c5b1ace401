// File: internal/matcher/matcher.go
// Package matcher executes parsed queries against normalized AST node lists.
package matcher

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xkilldash9x/scalpel-sast/internal/ast"
	"github.com/xkilldash9x/scalpel-sast/internal/query"
)

// AndSemantics selects how AND(e1, e2, ...) combines its operands.
type AndSemantics string

const (
	// AndIntersect evaluates every operand over the whole list and intersects
	// the results by node identity, keeping first-operand order.
	AndIntersect AndSemantics = "intersect"
	// AndSameNode tests each node of the list against every operand in turn.
	AndSameNode AndSemantics = "same_node"
)

// ErrNoFlowEvaluator is returned when a TAINT expression is executed on a
// matcher that has no flow evaluator attached.
var ErrNoFlowEvaluator = errors.New("matcher: TAINT expression requires a flow evaluator")

// MatchResult is one node selected by a query.
type MatchResult struct {
	Tree       *ast.Tree
	Node       ast.NodeID
	Pattern    string
	Confidence float64
	Metadata   map[string]string
}

// ASTNode resolves the matched node.
func (r MatchResult) ASTNode() *ast.Node { return r.Tree.Node(r.Node) }

// FlowEvaluator resolves TAINT expressions. The taint engine implements it; the
// matcher only depends on this interface.
type FlowEvaluator interface {
	EvaluateTaint(expr *query.Taint, tree *ast.Tree, ids []ast.NodeID) ([]MatchResult, error)
}

// Options configure a Matcher.
type Options struct {
	// CacheSize bounds the number of memoized query results. Zero disables the bound.
	CacheSize    int
	AndSemantics AndSemantics
}

// Stats are cumulative counters since creation or the last ClearCache.
type Stats struct {
	QueriesExecuted uint64
	CacheHits       uint64
	CacheMisses     uint64
	Entries         int
}

// cacheEntry holds a memoized result without its tree. Hits rebind the matches
// to the tree of the requesting node list, which the key guarantees is the same
// tree at the same version.
type cacheEntry struct {
	tree    uuid.UUID
	matches []MatchResult
}

// Matcher executes queries and memoizes their results. It is safe for
// concurrent use. The cache never holds a reference to a tree; call Release
// once a tree is done with to drop its entries.
type Matcher struct {
	logger *zap.Logger
	opts   Options

	flowMu sync.RWMutex
	flow   FlowEvaluator

	mu    sync.RWMutex
	cache map[string]cacheEntry
	order []string
	group singleflight.Group

	queries atomic.Uint64
	hits    atomic.Uint64
	misses  atomic.Uint64
}

// New creates a matcher. An empty AndSemantics defaults to AndIntersect.
func New(logger *zap.Logger, opts Options) *Matcher {
	if opts.AndSemantics == "" {
		opts.AndSemantics = AndIntersect
	}
	m := &Matcher{
		logger: logger.Named("matcher"),
		opts:   opts,
		cache:  make(map[string]cacheEntry),
	}
	if opts.AndSemantics == AndSameNode {
		m.logger.Warn("AND is evaluated per node; results can differ from list intersection for TAINT operands",
			zap.String("and_semantics", string(opts.AndSemantics)))
	}
	return m
}

// SetFlowEvaluator attaches the evaluator used for TAINT expressions.
func (m *Matcher) SetFlowEvaluator(f FlowEvaluator) {
	m.flowMu.Lock()
	defer m.flowMu.Unlock()
	m.flow = f
}

func (m *Matcher) flowEvaluator() FlowEvaluator {
	m.flowMu.RLock()
	defer m.flowMu.RUnlock()
	return m.flow
}

// ExecuteQuery runs q over nodes. Identical (query, node list) pairs are served
// from the cache; concurrent identical calls compute the result once.
func (m *Matcher) ExecuteQuery(q *query.Query, nodes ast.NodeList) ([]MatchResult, error) {
	if q == nil || q.Root == nil {
		return nil, fmt.Errorf("matcher: nil query")
	}
	m.queries.Add(1)
	key := cacheKey(q.String(), nodes.Key())

	m.mu.RLock()
	cached, ok := m.cache[key]
	m.mu.RUnlock()
	if ok {
		m.hits.Add(1)
		return bindResults(cached.matches, nodes.Tree()), nil
	}

	computed := false
	v, err, _ := m.group.Do(key, func() (interface{}, error) {
		computed = true
		m.misses.Add(1)
		res, err := m.evaluate(q.Root, nodes.Tree(), nodes.IDs())
		if err != nil {
			return nil, err
		}
		m.store(key, nodes.Tree().ID(), res)
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	if !computed {
		m.hits.Add(1)
	}
	return cloneResults(v.([]MatchResult)), nil
}

// MatchPattern returns the nodes of the list that satisfy p, in list order. It
// bypasses the cache and is the primitive the taint engine builds on.
func (m *Matcher) MatchPattern(p *query.Pattern, tree *ast.Tree, ids []ast.NodeID) []MatchResult {
	var out []MatchResult
	for _, id := range ids {
		if matchNode(p, tree, id) {
			out = append(out, MatchResult{Tree: tree, Node: id, Pattern: p.String(), Confidence: 1})
		}
	}
	return out
}

// Matches reports whether a single node satisfies p.
func (m *Matcher) Matches(p *query.Pattern, tree *ast.Tree, id ast.NodeID) bool {
	return matchNode(p, tree, id)
}

// Stats returns a snapshot of the counters.
func (m *Matcher) Stats() Stats {
	m.mu.RLock()
	entries := len(m.cache)
	m.mu.RUnlock()
	return Stats{
		QueriesExecuted: m.queries.Load(),
		CacheHits:       m.hits.Load(),
		CacheMisses:     m.misses.Load(),
		Entries:         entries,
	}
}

// ClearCache purges memoized results and resets the counters.
func (m *Matcher) ClearCache() {
	m.mu.Lock()
	m.cache = make(map[string]cacheEntry)
	m.order = nil
	m.mu.Unlock()
	m.queries.Store(0)
	m.hits.Store(0)
	m.misses.Store(0)
}

// Release drops every cached result computed over t. Counters are kept.
func (m *Matcher) Release(t *ast.Tree) {
	if t == nil {
		return
	}
	id := t.ID()
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.order[:0]
	for _, key := range m.order {
		if m.cache[key].tree == id {
			delete(m.cache, key)
			continue
		}
		kept = append(kept, key)
	}
	m.order = kept
}

func (m *Matcher) store(key string, tree uuid.UUID, res []MatchResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.cache[key]; !exists {
		m.order = append(m.order, key)
	}
	m.cache[key] = cacheEntry{tree: tree, matches: bindResults(res, nil)}
	if m.opts.CacheSize > 0 {
		for len(m.order) > m.opts.CacheSize {
			oldest := m.order[0]
			m.order = m.order[1:]
			delete(m.cache, oldest)
		}
	}
}

func cacheKey(serializedQuery, listKey string) string {
	h := sha256.New()
	h.Write([]byte(serializedQuery))
	h.Write([]byte{0})
	h.Write([]byte(listKey))
	return hex.EncodeToString(h.Sum(nil))
}

func cloneResults(in []MatchResult) []MatchResult {
	var tree *ast.Tree
	if len(in) > 0 {
		tree = in[0].Tree
	}
	return bindResults(in, tree)
}

// bindResults copies in with every result pointing at tree.
func bindResults(in []MatchResult, tree *ast.Tree) []MatchResult {
	if in == nil {
		return nil
	}
	out := make([]MatchResult, len(in))
	for i, r := range in {
		out[i] = r
		out[i].Tree = tree
		if r.Metadata != nil {
			md := make(map[string]string, len(r.Metadata))
			for k, v := range r.Metadata {
				md[k] = v
			}
			out[i].Metadata = md
		}
	}
	return out
}
