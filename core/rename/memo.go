package rename

import (
	"hash/fnv"
	"sync"
	"time"
)

// memoEntry 带过期时间的缓存条目
type memoEntry[T any] struct {
	value   T
	expires time.Time
}

// memoCache 短TTL记忆表
//
// 以内容哈希为键，用很小的过期窗口换取快速连续调用
// （如输入联动刷新）下的去重，不是正确性机制。
type memoCache[T any] struct {
	mu      sync.Mutex
	entries map[uint64]memoEntry[T]
	ttl     time.Duration
}

func newMemoCache[T any](ttl time.Duration) *memoCache[T] {
	return &memoCache[T]{
		entries: make(map[uint64]memoEntry[T]),
		ttl:     ttl,
	}
}

func (c *memoCache[T]) get(key uint64) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expires) {
		var zero T
		return zero, false
	}
	return entry.value, true
}

func (c *memoCache[T]) put(key uint64, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// 顺带清理过期条目，避免长会话下无界增长
	now := time.Now()
	for k, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k)
		}
	}

	c.entries[key] = memoEntry[T]{value: value, expires: now.Add(c.ttl)}
}

// hashStrings 计算一组字符串的FNV-1a哈希作为缓存键
func hashStrings(parts ...string) uint64 {
	h := fnv.New64a()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return h.Sum64()
}
