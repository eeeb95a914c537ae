// Package bucket 实现 spec §4.B 描述的 Kademlia 风格 Bucket<T>：
// 一个以 DHT 键为索引、按 XOR 距离排序查询的扁平存储。
//
// 不同于经典 Kademlia 按公共前缀分桶、面向连接路由的路由表，这里的桶是
// 覆盖网络目录的权威存储本身：每个 RC / ISet 按其 DHT 键插入同一张
// map，查询时现算最近/随机子集。
package bucket

import (
	"crypto/rand"
	"math/big"
	"sort"
	"sync"

	"github.com/dr7ana/lokinet/internal/overlay/keyspace"
)

// Bucket 是以 keyspace.Key 为索引、值类型为 T 的并发安全存储。
type Bucket[T any] struct {
	mu    sync.RWMutex
	items map[keyspace.Key]T
	// order 维护插入顺序，保证同一任务内插入/删除时的迭代稳定性
	// （spec §4.B "iteration for TTL sweep: stable over insertion/deletion
	// done from the same task"）。
	order []keyspace.Key
}

// New 创建一个空桶。
func New[T any]() *Bucket[T] {
	return &Bucket[T]{items: make(map[keyspace.Key]T)}
}

// Put 插入或替换 k 对应的值。对相等的值是幂等的。
func (b *Bucket[T]) Put(k keyspace.Key, v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.items[k]; !exists {
		b.order = append(b.order, k)
	}
	b.items[k] = v
}

// Get 返回 k 对应的值；ok 为 false 表示不存在。
func (b *Bucket[T]) Get(k keyspace.Key) (v T, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok = b.items[k]
	return
}

// Has 报告 k 是否存在。
func (b *Bucket[T]) Has(k keyspace.Key) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.items[k]
	return ok
}

// Del 删除 k；k 不存在时是空操作。
func (b *Bucket[T]) Del(k keyspace.Key) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.items[k]; !ok {
		return
	}
	delete(b.items, k)
	for i, o := range b.order {
		if o == k {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// Len 返回桶中元素数量。
func (b *Bucket[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items)
}

// Keys 按插入顺序返回全部键，供清理扫描使用。
func (b *Bucket[T]) Keys() []keyspace.Key {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]keyspace.Key, len(b.order))
	copy(out, b.order)
	return out
}

// GetManyNearest 返回距离 target 最近的至多 n 个键（按 XOR 距离升序，
// 距离相等按字典序），排除 exclude 中出现的键。
//
// 若排除后可用键不足 n 个，返回全部可用键，并通过 insufficient=true
// 告知调用方（spec §4.B）。n == 0 时返回空集合且 insufficient 为
// false（spec §8 Boundary）。
func (b *Bucket[T]) GetManyNearest(target keyspace.Key, n int, exclude map[keyspace.Key]struct{}) (keys []keyspace.Key, insufficient bool) {
	if n == 0 {
		return nil, false
	}

	b.mu.RLock()
	candidates := make([]keyspace.Key, 0, len(b.items))
	for k := range b.items {
		if _, excluded := exclude[k]; excluded {
			continue
		}
		candidates = append(candidates, k)
	}
	b.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		return keyspace.CloserTo(target, candidates[i], candidates[j])
	})

	if len(candidates) <= n {
		return candidates, len(candidates) < n
	}
	return candidates[:n], false
}

// GetManyRandom 返回最多 n 个键的无重复均匀随机样本。
func (b *Bucket[T]) GetManyRandom(n int) []keyspace.Key {
	b.mu.RLock()
	all := make([]keyspace.Key, 0, len(b.items))
	for k := range b.items {
		all = append(all, k)
	}
	b.mu.RUnlock()

	if n >= len(all) {
		shuffle(all)
		return all
	}

	shuffle(all)
	return all[:n]
}

// FindClosest 返回桶中距离 target 最近的单个键。
func (b *Bucket[T]) FindClosest(target keyspace.Key) (keyspace.Key, bool) {
	keys, _ := b.GetManyNearest(target, 1, nil)
	if len(keys) == 0 {
		return keyspace.Key{}, false
	}
	return keys[0], true
}

// shuffle 使用 CSPRNG 对 ks 做 Fisher-Yates 随机打乱（均匀采样要求，
// spec §4.A "random key generation uses a uniform CSPRNG"）。
func shuffle(ks []keyspace.Key) {
	for i := len(ks) - 1; i > 0; i-- {
		jBig, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			continue
		}
		j := int(jBig.Int64())
		ks[i], ks[j] = ks[j], ks[i]
	}
}
