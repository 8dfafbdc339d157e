// elnorm: a tool for normalizing microarray probe intensities.
// Copyright (c) 2026 imec vzw.

// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version, and Additional Terms
// (see below).

// This program is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public
// License and Additional Terms along with this program. If not, see
// <https://github.com/ExaScience/elnorm/blob/master/LICENSE.txt>.

package store

import "container/list"

// columnCache is an LRU cache of dataset vectors in original probe
// order.
type columnCache struct {
	capacity  int
	items     map[int]*list.Element
	evictList *list.List
}

type cacheEntry struct {
	dataset int
	values  []float64
}

func newColumnCache(capacity int) *columnCache {
	return &columnCache{
		capacity:  capacity,
		items:     make(map[int]*list.Element),
		evictList: list.New(),
	}
}

func (c *columnCache) get(dataset int) ([]float64, bool) {
	if ent, ok := c.items[dataset]; ok {
		c.evictList.MoveToFront(ent)
		return ent.Value.(*cacheEntry).values, true
	}
	return nil, false
}

func (c *columnCache) put(dataset int, values []float64) {
	if c.capacity <= 0 {
		return
	}
	if ent, ok := c.items[dataset]; ok {
		c.evictList.MoveToFront(ent)
		ent.Value.(*cacheEntry).values = values
		return
	}
	for c.evictList.Len() >= c.capacity {
		c.removeElement(c.evictList.Back())
	}
	c.items[dataset] = c.evictList.PushFront(&cacheEntry{dataset: dataset, values: values})
}

func (c *columnCache) remove(dataset int) {
	if ent, ok := c.items[dataset]; ok {
		c.removeElement(ent)
	}
}

func (c *columnCache) removeElement(ent *list.Element) {
	c.evictList.Remove(ent)
	delete(c.items, ent.Value.(*cacheEntry).dataset)
}

func (c *columnCache) resize(capacity int) {
	c.capacity = capacity
	for c.evictList.Len() > 0 && c.evictList.Len() > capacity {
		c.removeElement(c.evictList.Back())
	}
}

func (c *columnCache) clear() {
	c.items = make(map[int]*list.Element)
	c.evictList.Init()
}
