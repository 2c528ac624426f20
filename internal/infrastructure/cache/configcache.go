package cache

import (
	"sync"

	"github.com/moguard-inc/moguard/internal/infrastructure/nodeclient"
)

// ConfigCache keeps the last config inventory fetched from each node.
// A node that answered with zero configs is cached as known-empty, which
// is distinct from a node we have no answer from yet.
type ConfigCache struct {
	mu     sync.RWMutex
	byNode map[uint][]nodeclient.Config
}

func NewConfigCache() *ConfigCache {
	return &ConfigCache{byNode: make(map[uint][]nodeclient.Config)}
}

// Set stores the inventory for a node. An empty (or nil) slice is a valid
// known-empty answer.
func (c *ConfigCache) Set(nodeID uint, configs []nodeclient.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if configs == nil {
		configs = []nodeclient.Config{}
	}
	c.byNode[nodeID] = configs
}

// Get returns the cached inventory and whether the node has one at all.
func (c *ConfigCache) Get(nodeID uint) ([]nodeclient.Config, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	configs, ok := c.byNode[nodeID]
	return configs, ok
}

// Remove forgets one node's inventory.
func (c *ConfigCache) Remove(nodeID uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byNode, nodeID)
}

// Clear empties the cache.
func (c *ConfigCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byNode = make(map[uint][]nodeclient.Config)
}
