package memory

import (
	"container/list"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/toolgateway/gatekeeper/internal/domain/policy"
)

// DecisionCache is a fixed-size, xxhash-keyed LRU cache of policy
// decisions, grounded on the teacher's PolicyService.ResultCache.
type DecisionCache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	index    map[uint64]*list.Element
}

type decisionEntry struct {
	key      uint64
	decision policy.Decision
}

// NewDecisionCache builds a DecisionCache holding at most capacity entries.
func NewDecisionCache(capacity int) *DecisionCache {
	if capacity <= 0 {
		capacity = 1024
	}
	return &DecisionCache{
		capacity: capacity,
		ll:       list.New(),
		index:    make(map[uint64]*list.Element, capacity),
	}
}

// Get implements policy.DecisionCache.
func (c *DecisionCache) Get(evalCtx policy.EvaluationContext) (policy.Decision, bool) {
	key := computeCacheKey(evalCtx)

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[key]
	if !ok {
		return policy.Decision{}, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*decisionEntry).decision, true
}

// Put implements policy.DecisionCache.
func (c *DecisionCache) Put(evalCtx policy.EvaluationContext, d policy.Decision) {
	key := computeCacheKey(evalCtx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[key]; ok {
		el.Value.(*decisionEntry).decision = d
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&decisionEntry{key: key, decision: d})
	c.index[key] = el

	for c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.ll.Remove(oldest)
		delete(c.index, oldest.Value.(*decisionEntry).key)
	}
}

// Size reports the number of cached decisions, for tests and metrics.
func (c *DecisionCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// computeCacheKey hashes the parts of an EvaluationContext that affect the
// outcome: server, tool, consumer, sorted roles, and a stable rendering of
// the argument map. Argument values are formatted with %v, which is stable
// for the scalar/list/map shapes tool arguments take in practice.
func computeCacheKey(evalCtx policy.EvaluationContext) uint64 {
	var b strings.Builder
	b.WriteString(evalCtx.ServerID)
	b.WriteByte('|')
	b.WriteString(evalCtx.Tool)
	b.WriteByte('|')
	b.WriteString(evalCtx.ConsumerID)
	b.WriteByte('|')

	roles := append([]string(nil), evalCtx.Roles...)
	sort.Strings(roles)
	b.WriteString(strings.Join(roles, ","))
	b.WriteByte('|')

	keys := make([]string, 0, len(evalCtx.Arguments))
	for k := range evalCtx.Arguments {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%v;", k, evalCtx.Arguments[k])
	}

	return xxhash.Sum64String(b.String())
}
