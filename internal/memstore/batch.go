package memstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Batch operations split transparently into chunks of BatchChunkSize keys,
// issued sequentially with results merged preserving key order.

// MGet fetches many keys at once. The result maps each requested key to its
// value; absent keys are omitted.
func (c *Client) MGet(ctx context.Context, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	for _, chunk := range chunkKeys(keys, c.chunkSize) {
		chunk := chunk
		err := c.do(ctx, "mget", func(ctx context.Context) error {
			values, err := c.rdb.MGet(ctx, chunk...).Result()
			if err != nil {
				return err
			}
			for i, v := range values {
				if v == nil {
					continue
				}
				if s, ok := v.(string); ok {
					out[chunk[i]] = s
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// MSet writes many key/value pairs. A positive ttl applies uniformly via a
// transactional pipeline of SET + EXPIRE per key.
func (c *Client) MSet(ctx context.Context, entries map[string]string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	for _, chunk := range chunkKeys(keys, c.chunkSize) {
		chunk := chunk
		err := c.do(ctx, "mset", func(ctx context.Context) error {
			_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for _, k := range chunk {
					pipe.Set(ctx, k, entries[k], ttl)
				}
				return nil
			})
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// MDelete removes many keys, returning the total number that existed.
func (c *Client) MDelete(ctx context.Context, keys []string) (int64, error) {
	var total int64
	for _, chunk := range chunkKeys(keys, c.chunkSize) {
		n, err := c.Delete(ctx, chunk...)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// MIncr increments many counters by the given deltas, returning the new
// value per key in request order.
func (c *Client) MIncr(ctx context.Context, deltas map[string]int64) (map[string]int64, error) {
	out := make(map[string]int64, len(deltas))
	keys := make([]string, 0, len(deltas))
	for k := range deltas {
		keys = append(keys, k)
	}
	for _, chunk := range chunkKeys(keys, c.chunkSize) {
		chunk := chunk
		err := c.do(ctx, "mincr", func(ctx context.Context) error {
			cmds := make([]*redis.IntCmd, len(chunk))
			_, err := c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
				for i, k := range chunk {
					cmds[i] = pipe.IncrBy(ctx, k, deltas[k])
				}
				return nil
			})
			if err != nil {
				return err
			}
			for i, k := range chunk {
				out[k] = cmds[i].Val()
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func chunkKeys(keys []string, size int) [][]string {
	if len(keys) == 0 {
		return nil
	}
	if size <= 0 || len(keys) <= size {
		return [][]string{keys}
	}
	var chunks [][]string
	for start := 0; start < len(keys); start += size {
		end := start + size
		if end > len(keys) {
			end = len(keys)
		}
		chunks = append(chunks, keys[start:end])
	}
	return chunks
}
