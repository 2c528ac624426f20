package cache

import "sync"

// LinksCache keeps the raw share links most recently pulled from each
// node's guard user. The links task refreshes it every tick; the
// subscription endpoint reads it when rendering a bundle.
type LinksCache struct {
	mu     sync.RWMutex
	byNode map[uint][]string
}

func NewLinksCache() *LinksCache {
	return &LinksCache{byNode: make(map[uint][]string)}
}

func (c *LinksCache) Set(nodeID uint, links []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if links == nil {
		links = []string{}
	}
	c.byNode[nodeID] = links
}

func (c *LinksCache) Get(nodeID uint) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	links, ok := c.byNode[nodeID]
	return links, ok
}

func (c *LinksCache) Remove(nodeID uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byNode, nodeID)
}

func (c *LinksCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byNode = make(map[uint][]string)
}
