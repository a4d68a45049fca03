package ownership

import "sync"

// AgentSet is a set of agent ids.
type AgentSet map[string]struct{}

// Has reports whether agentID is in the set.
func (s AgentSet) Has(agentID string) bool {
	_, ok := s[agentID]
	return ok
}

func (s AgentSet) add(agentID string) {
	if agentID != "" {
		s[agentID] = struct{}{}
	}
}

// Cache holds one owned-agent set per organization. Entries never expire on
// their own; they are dropped by Invalidate or InvalidateAll.
type Cache struct {
	mu   sync.RWMutex
	sets map[string]AgentSet
}

func NewCache() *Cache {
	return &Cache{sets: make(map[string]AgentSet)}
}

// Get returns the cached set for orgID. The returned set must not be
// modified.
func (c *Cache) Get(orgID string) (AgentSet, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sets[orgID]
	return s, ok
}

func (c *Cache) Put(orgID string, set AgentSet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets[orgID] = set
}

func (c *Cache) Invalidate(orgID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sets, orgID)
}

func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets = make(map[string]AgentSet)
}
