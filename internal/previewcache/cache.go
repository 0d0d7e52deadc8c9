package previewcache

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dunamismax/imageoptimizer/internal/domain"
	gocache "github.com/patrickmn/go-cache"
)

const DefaultTTL = 5 * time.Minute

type Transformer interface {
	Transform(ctx context.Context, input []byte, settings domain.TransformSettings) (domain.EncodedImage, error)
}

// Cache memoizes successful transforms keyed by source content and the
// settings that affect encoding. Naming fields and alt text are not part of
// the key. Failures are never cached. Every call returns its own copy of the
// encoded bytes, so callers may retain or mutate results independently.
type Cache struct {
	next   Transformer
	items  *gocache.Cache
	hits   atomic.Uint64
	misses atomic.Uint64
}

func New(next Transformer, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		next:  next,
		items: gocache.New(ttl, 2*ttl),
	}
}

func (c *Cache) Transform(ctx context.Context, input []byte, settings domain.TransformSettings) (domain.EncodedImage, error) {
	key := Key(input, settings)
	if cached, ok := c.items.Get(key); ok {
		c.hits.Add(1)
		out := cached.(domain.EncodedImage)
		out.Data = bytes.Clone(out.Data)
		return out, nil
	}
	c.misses.Add(1)

	out, err := c.next.Transform(ctx, input, settings)
	if err != nil {
		return domain.EncodedImage{}, err
	}
	stored := out
	stored.Data = bytes.Clone(out.Data)
	c.items.SetDefault(key, stored)
	return out, nil
}

func (c *Cache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *Cache) Len() int {
	return c.items.ItemCount()
}

func (c *Cache) Flush() {
	c.items.Flush()
}

// Key hashes the source bytes and the encoder-relevant settings. PNG keys use
// the effective quality, so quality edits on PNG items hit the same entry.
func Key(input []byte, settings domain.TransformSettings) string {
	d := xxhash.New()
	_, _ = d.Write(input)

	var buf [8]byte
	for _, v := range []int{settings.Width, settings.Height, settings.EffectiveQuality()} {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		_, _ = d.Write(buf[:])
	}
	_, _ = d.WriteString(string(settings.Format))

	return fmt.Sprintf("%016x", d.Sum64())
}
