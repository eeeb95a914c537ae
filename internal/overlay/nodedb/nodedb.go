// Package nodedb 实现 spec §4.C 的 Node DB：已知路由器联系方式（RC）
// 的权威集合。内存索引由事件循环线程独占，磁盘写入通过注入的磁盘 I/O
// 队列完成，从不在事件循环上同步执行（spec §5 "Disk I/O ... is pushed
// to a separate disk queue"）。
package nodedb

import (
	"bytes"
	"encoding/gob"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dr7ana/lokinet/internal/overlay/bucket"
	"github.com/dr7ana/lokinet/internal/overlay/keyspace"
	"github.com/dr7ana/lokinet/internal/overlay/loop"
	"github.com/dr7ana/lokinet/internal/overlay/rc"
	"github.com/dr7ana/lokinet/internal/core/storage/engine"
	"github.com/dr7ana/lokinet/internal/core/storage/kv"
	"github.com/dr7ana/lokinet/pkg/lib/log"
	"github.com/dr7ana/lokinet/pkg/types"
)

var logger = log.Logger("overlay/nodedb")

// DiskQueueFunc 是 spec §6 "queue_disk_io(fn)" 的签名：fn 在后台
// worker 上运行，完成后必须通过 loop.CallSoon 把结果投递回事件循环。
type DiskQueueFunc func(fn func())

// verifiedCacheSize 是"最近已验证签名"LRU 缓存的容量，避免对短时间内
// 重复收到的同一条 RC 重新执行签名校验。
const verifiedCacheSize = 4096

// NodeDB 是已知 RC 的内存索引 + 磁盘持久化存储。
type NodeDB struct {
	loop    *loop.Loop
	store   *kv.Store
	disk    DiskQueueFunc
	checker rc.Checker

	byKey    *bucket.Bucket[*rc.RouterContact]
	verified *lru.Cache[types.NodeID, struct{}]
}

// New 创建一个 Node DB。store 通常是对 badger 引擎加了 "nodedb/" 前缀的
// kv.Store（router 即如此装配）；disk 是注入的磁盘
// I/O 队列；checker 校验签名与新鲜度（spec §4.C "validates signature
// and freshness via a checker callback"）。
func New(l *loop.Loop, store *kv.Store, disk DiskQueueFunc, checker rc.Checker) *NodeDB {
	cache, _ := lru.New[types.NodeID, struct{}](verifiedCacheSize)
	return &NodeDB{
		loop:     l,
		store:    store,
		disk:     disk,
		checker:  checker,
		byKey:    bucket.New[*rc.RouterContact](),
		verified: cache,
	}
}

// LoadAll 从磁盘读取所有已持久化的 RC，静默丢弃已过期的条目
// （spec §4.C "On load, reads all persisted RCs and rejects expired
// ones silently"）。必须在事件循环启动前、从单个 goroutine 调用。
func (db *NodeDB) LoadAll(now time.Time) error {
	return db.store.PrefixScan(nil, func(key, value []byte) bool {
		var entry rc.RouterContact
		if err := decodeRC(value, &entry); err != nil {
			logger.Warn("dropping corrupted RC record", "key", key, "err", err)
			return true
		}
		if !entry.IsLive(now) {
			return true
		}
		db.byKey.Put(keyspace.DeriveFromRID(entry.RID), &entry)
		return true
	})
}

// Get 返回 id 对应的 RC；ok 为 false 表示未知。
func (db *NodeDB) Get(id types.NodeID) (*rc.RouterContact, bool) {
	return db.byKey.Get(keyspace.DeriveFromRID(id))
}

// Has 报告 id 是否存在于 Node DB 中。
func (db *NodeDB) Has(id types.NodeID) bool {
	return db.byKey.Has(keyspace.DeriveFromRID(id))
}

// FindClosestTo 返回 Node DB 中距离 k 最近的 RC。
func (db *NodeDB) FindClosestTo(k keyspace.Key) (*rc.RouterContact, bool) {
	closest, ok := db.byKey.FindClosest(k)
	if !ok {
		return nil, false
	}
	return db.byKey.Get(closest)
}

// GetManyNearest 返回距离 k 最近的至多 n 个 RC（按 XOR 距离升序），排除
// exclude 中列出的 RID。insufficient 为 true 表示排除后可用 RC 不足 n 个
// （spec §4.E exploratory lookup、§13 relay_order 都依赖这个真正的
// N-近邻查询，而不是反复调用单点最近邻）。
func (db *NodeDB) GetManyNearest(k keyspace.Key, n int, exclude map[types.NodeID]struct{}) (out []*rc.RouterContact, insufficient bool) {
	excludedKeys := make(map[keyspace.Key]struct{}, len(exclude))
	for rid := range exclude {
		excludedKeys[keyspace.DeriveFromRID(rid)] = struct{}{}
	}

	keys, insufficient := db.byKey.GetManyNearest(k, n, excludedKeys)
	out = make([]*rc.RouterContact, 0, len(keys))
	for _, key := range keys {
		if entry, ok := db.byKey.Get(key); ok {
			out = append(out, entry)
		}
	}
	return out, insufficient
}

// PutRCAsync 校验 candidate（签名 + 新鲜度），成功后插入内存索引并把
// 持久化写入推给磁盘队列。done 在磁盘写入完成后经由事件循环调用，
// 不论成功与否。
func (db *NodeDB) PutRCAsync(candidate *rc.RouterContact, done func(error)) {
	now := db.loop.Now()

	if _, recentlyVerified := db.verified.Get(candidate.RID); !recentlyVerified {
		if err := db.checker(candidate, now); err != nil {
			if done != nil {
				db.loop.CallSoon(nil, func() { done(err) })
			}
			return
		}
		db.verified.Add(candidate.RID, struct{}{})
	}

	db.byKey.Put(keyspace.DeriveFromRID(candidate.RID), candidate)

	encoded, err := encodeRC(candidate)
	if err != nil {
		if done != nil {
			db.loop.CallSoon(nil, func() { done(err) })
		}
		return
	}

	db.disk(func() {
		putErr := db.store.Put(diskKey(candidate.RID), encoded)
		db.loop.CallSoon(nil, func() {
			if done != nil {
				done(putErr)
			}
		})
	})
}

// DelAsync 从内存索引中移除 id，并把删除操作推给磁盘队列。
func (db *NodeDB) DelAsync(id types.NodeID, done func(error)) {
	db.byKey.Del(keyspace.DeriveFromRID(id))
	db.verified.Remove(id)

	db.disk(func() {
		delErr := db.store.Delete(diskKey(id))
		if engine.IsNotFound(delErr) {
			delErr = nil
		}
		db.loop.CallSoon(nil, func() {
			if done != nil {
				done(delErr)
			}
		})
	})
}

// RandomLive 返回至多 n 个当前存活、且不在 exclude 中的 RC，用均匀随机
// 采样选出（供 overlay/pathbuilder 的跳选择使用；spec §4.H
// "get_hops_for_build: selects hops live in Node DB"）。候选数量可能
// 少于 n，调用方据此判断候选是否充足。
func (db *NodeDB) RandomLive(n int, now time.Time, exclude map[types.NodeID]struct{}) []*rc.RouterContact {
	if n <= 0 {
		return nil
	}

	out := make([]*rc.RouterContact, 0, n)
	for _, k := range db.byKey.GetManyRandom(db.byKey.Len()) {
		if len(out) >= n {
			break
		}
		entry, ok := db.byKey.Get(k)
		if !ok || !entry.IsLive(now) {
			continue
		}
		if _, excluded := exclude[entry.RID]; excluded {
			continue
		}
		out = append(out, entry)
	}
	return out
}

// Len 返回内存索引中已知 RC 的数量。
func (db *NodeDB) Len() int {
	return db.byKey.Len()
}

// CleanupExpired 移除 now 时刻已过期的 RC，返回被移除的数量
// （驱动 spec §4.E 的每秒清理 tick）。
func (db *NodeDB) CleanupExpired(now time.Time) int {
	removed := 0
	for _, k := range db.byKey.Keys() {
		entry, ok := db.byKey.Get(k)
		if !ok {
			continue
		}
		if !entry.IsLive(now) {
			db.byKey.Del(k)
			removed++
		}
	}
	return removed
}

func diskKey(id types.NodeID) []byte {
	return append([]byte("rc/"), id[:]...)
}

func encodeRC(r *rc.RouterContact) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	record := gobRouterContact{
		RID:        r.RID,
		Version:    r.Version,
		IssuedAt:   r.IssuedAt,
		Expiry:     r.Expiry,
		Sig:        r.Signature(),
		ExitPolicy: r.ExitPolicy.Allowed,
		Rules:      r.ExitPolicy.Rules,
	}
	for _, a := range r.Addresses {
		record.Addrs = append(record.Addrs, a.String())
	}
	if err := enc.Encode(record); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRC(data []byte, out *rc.RouterContact) error {
	var record gobRouterContact
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&record); err != nil {
		return err
	}
	out.RID = record.RID
	out.Version = record.Version
	out.IssuedAt = record.IssuedAt
	out.Expiry = record.Expiry
	out.ExitPolicy.Allowed = record.ExitPolicy
	out.ExitPolicy.Rules = record.Rules
	out.SetSignature(record.Sig)
	return nil
}

// gobRouterContact 是 RC 在磁盘上的载体表示；具体编码格式属于 spec §1
// 声明为外部依赖的持久化层，这里仅用最直接的 gob 序列化满足
// "eventually durable" 契约（spec §6）。
type gobRouterContact struct {
	RID        types.NodeID
	Addrs      []string
	Version    uint64
	ExitPolicy bool
	Rules      []string
	IssuedAt   time.Time
	Expiry     time.Time
	Sig        []byte
}
