package keyframe

import (
	"image"
	"sync"
)

// Cache memoizes per-frame features keyed by decode index.
// Records are immutable, so an entry stays valid for every round of a run.
// A Cache must not be shared between videos or between different hashers/encoders.
// All methods are safe for concurrent use and tolerate a nil receiver.
type Cache struct {
	mu         sync.RWMutex
	hashes     map[int]Hash
	thumbs     map[int]*image.Gray
	embeddings map[int][]float64
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{
		hashes:     make(map[int]Hash),
		thumbs:     make(map[int]*image.Gray),
		embeddings: make(map[int][]float64),
	}
}

func (c *Cache) Hash(index int) (Hash, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.hashes[index]
	return h, ok
}

func (c *Cache) StoreHash(index int, h Hash) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.hashes[index] = h
	c.mu.Unlock()
}

func (c *Cache) Thumbnail(index int) (*image.Gray, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.thumbs[index]
	return g, ok
}

func (c *Cache) StoreThumbnail(index int, g *image.Gray) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.thumbs[index] = g
	c.mu.Unlock()
}

// Embedding returns the cached unit-norm embedding of a frame.
func (c *Cache) Embedding(index int) ([]float64, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.embeddings[index]
	return v, ok
}

func (c *Cache) StoreEmbedding(index int, v []float64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.embeddings[index] = v
	c.mu.Unlock()
}

// Len reports how many frames have a cached hash, thumbnail and embedding respectively.
func (c *Cache) Len() (hashes, thumbs, embeddings int) {
	if c == nil {
		return 0, 0, 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.hashes), len(c.thumbs), len(c.embeddings)
}
