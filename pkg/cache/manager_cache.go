// Copyright 2025 The kafbridge Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cache

import (
	"container/list"
	"context"
	"sync"

	"github.com/streamgate/kafbridge/pkg/storage"
)

// Loader resolves a ConsumerManager from the ledger engine when the cache has
// no live handle for a topic.
type Loader func(ctx context.Context, fullTopicName string) (storage.ConsumerManager, error)

// ManagerCache provides an LRU cache of ConsumerManager handles keyed by
// fully-qualified topic name. Evicted or invalidated handles are closed;
// a handle obtained after an invalidation is a fresh one, so removal never
// affects other live requests holding a newer handle.
type ManagerCache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[string]*list.Element
	loader   Loader
}

type cacheEntry struct {
	key     string
	manager storage.ConsumerManager
}

// NewManagerCache creates a cache holding at most capacity handles.
func NewManagerCache(capacity int, loader Loader) *ManagerCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &ManagerCache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
		loader:   loader,
	}
}

// GetConsumerManager implements storage.TopicManager. A nil manager from the
// loader is passed through without caching.
func (c *ManagerCache) GetConsumerManager(ctx context.Context, fullTopicName string) (storage.ConsumerManager, error) {
	c.mu.Lock()
	if elem, ok := c.items[fullTopicName]; ok {
		c.ll.MoveToFront(elem)
		manager := elem.Value.(*cacheEntry).manager
		c.mu.Unlock()
		return manager, nil
	}
	c.mu.Unlock()

	manager, err := c.loader(ctx, fullTopicName)
	if err != nil || manager == nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[fullTopicName]; ok {
		// Lost the load race; keep the cached handle and close ours.
		manager.Close()
		c.ll.MoveToFront(elem)
		return elem.Value.(*cacheEntry).manager, nil
	}
	elem := c.ll.PushFront(&cacheEntry{key: fullTopicName, manager: manager})
	c.items[fullTopicName] = elem
	c.evictIfNeeded()
	return manager, nil
}

// Invalidate implements storage.TopicManager by removing and closing the
// cached handle. Idempotent.
func (c *ManagerCache) Invalidate(fullTopicName string) {
	c.RemoveAndClose(fullTopicName)
}

// RemoveAndClose drops the cached handle for a topic and closes it.
func (c *ManagerCache) RemoveAndClose(fullTopicName string) {
	c.mu.Lock()
	elem, ok := c.items[fullTopicName]
	if ok {
		delete(c.items, fullTopicName)
		c.ll.Remove(elem)
	}
	c.mu.Unlock()
	if ok {
		elem.Value.(*cacheEntry).manager.Close()
	}
}

// Len returns the number of cached handles.
func (c *ManagerCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *ManagerCache) evictIfNeeded() {
	for c.ll.Len() > c.capacity {
		elem := c.ll.Back()
		entry := elem.Value.(*cacheEntry)
		delete(c.items, entry.key)
		c.ll.Remove(elem)
		entry.manager.Close()
	}
}
