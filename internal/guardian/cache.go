package guardian

import (
	"container/list"
	"sync"

	"github.com/flowforge/conductor/internal/core"
)

// verdictCache is a small fixed-capacity LRU of the latest verdict per
// agent, invalidated whenever that agent's current task completes or
// fails (state a new trajectory analysis should never cache across).
type verdictCache struct {
	mu       sync.Mutex
	capacity int
	items    map[core.AgentID]*list.Element
	order    *list.List // front = most recently used
}

type cacheEntry struct {
	agentID core.AgentID
	verdict *core.Verdict
}

func newVerdictCache(capacity int) *verdictCache {
	if capacity <= 0 {
		capacity = 256
	}
	return &verdictCache{
		capacity: capacity,
		items:    make(map[core.AgentID]*list.Element),
		order:    list.New(),
	}
}

func (c *verdictCache) Get(agentID core.AgentID) (*core.Verdict, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[agentID]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).verdict, true
}

func (c *verdictCache) Put(agentID core.AgentID, v *core.Verdict) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[agentID]; ok {
		el.Value.(*cacheEntry).verdict = v
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&cacheEntry{agentID: agentID, verdict: v})
	c.items[agentID] = el
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*cacheEntry).agentID)
		}
	}
}

func (c *verdictCache) Invalidate(agentID core.AgentID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[agentID]; ok {
		c.order.Remove(el)
		delete(c.items, agentID)
	}
}
