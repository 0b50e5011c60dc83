package resolver

import (
	"container/list"
	"sync"
	"time"
)

const defaultCacheMaxEntries = 512

// linkCache maps an input URL to its resolved link. Entries expire after
// cacheTTL and the least recently used one is dropped when full. A nil
// cache never hits.
type linkCache struct {
	mu    sync.Mutex
	byURL map[string]*list.Element
	lru   *list.List
	max   int
}

type cachedLink struct {
	url       string
	link      string
	expiresAt time.Time
}

func newLinkCache(max int) *linkCache {
	if max <= 0 {
		return nil
	}

	return &linkCache{
		byURL: make(map[string]*list.Element, max),
		lru:   list.New(),
		max:   max,
	}
}

func (c *linkCache) get(url string, now time.Time) (string, bool) {
	if c == nil {
		return "", false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.byURL[url]
	if !ok {
		return "", false
	}

	cached := elem.Value.(*cachedLink)
	if now.After(cached.expiresAt) {
		c.drop(elem)
		return "", false
	}

	c.lru.MoveToFront(elem)

	return cached.link, true
}

func (c *linkCache) set(url string, link string, expiresAt time.Time, now time.Time) {
	if c == nil || link == "" || !expiresAt.After(now) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.byURL[url]; ok {
		cached := elem.Value.(*cachedLink)
		cached.link = link
		cached.expiresAt = expiresAt
		c.lru.MoveToFront(elem)

		return
	}

	c.byURL[url] = c.lru.PushFront(&cachedLink{url: url, link: link, expiresAt: expiresAt})

	for c.lru.Len() > c.max {
		c.drop(c.lru.Back())
	}
}

func (c *linkCache) drop(elem *list.Element) {
	delete(c.byURL, elem.Value.(*cachedLink).url)
	c.lru.Remove(elem)
}

func (c *linkCache) len() int {
	if c == nil {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lru.Len()
}
