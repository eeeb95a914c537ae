// Package pendingtx 实现 spec §4.D 的待决事务追踪器：把一次
// 请求/响应对变成带超时的异步查找（本包不做重试）。
//
// 三张并行表（router_lookups / introset_lookups / explore_lookups）
// 在本包中以 Table[V] 的三个独立实例体现，V 分别是 RC、ISet、
// types.NodeID——这样每张表的 Job 不需要做接口断言就能拿到正确
// 类型的结果（spec 设计笔记 §9 把具体 Job 变体留给 DHT Message
// Handler 实现，本包只定义追踪器本身与 Job 契约）。
package pendingtx

import (
	"time"

	"github.com/dr7ana/lokinet/internal/overlay/keyspace"
	"github.com/dr7ana/lokinet/internal/overlay/loop"
	"github.com/dr7ana/lokinet/pkg/types"
)

// Owner 唯一标识一次线上交换：(peer, txid)（spec §3 TX "owner"）。
type Owner struct {
	Peer types.NodeID
	TxID uint64
}

// Job 是一个待决事务的行为契约（spec §4.D "a TX job has three
// operations"）。具体实现（RecursiveRouterLookup、ExploreNetworkJob、
// ServiceAddressLookup ...）按查找种类各自实现。
type Job[V any] interface {
	// Start 在事务创建时调用一次，负责发出线上请求。
	Start(owner Owner)
	// OnValues 累积一批到达的结果；返回 true 表示事务已经可以终结
	// （成功或永久失败），调用方随即调用 SendReply(false)。
	OnValues(values []V) bool
	// SendReply 把最终结果交付给原始调用者；timedOut 为 true 表示
	// 事务因截止时间耗尽而终结，而不是因为 OnValues 判定完成。
	SendReply(timedOut bool)
}

// Transaction 是 spec §3 "Pending Transaction" 的内存表示。
type Transaction[V any] struct {
	Owner     Owner
	Asker     types.NodeID
	Target    keyspace.Key
	StartedAt time.Time
	Deadline  time.Time
	Attempts  int
	Job       Job[V]
}

// Table 是某一类别（router / introset / explore）的待决事务表。
// 整表的状态都限定在事件循环上，不需要互斥锁（spec §5）。
type Table[V any] struct {
	loop           *loop.Loop
	defaultTimeout time.Duration
	entries        map[Owner]*Transaction[V]
}

// NewTable 创建一张待决事务表，defaultTimeout 在 NewTX 未显式指定
// 超时时使用（spec §5 "Pending TX default timeout is
// implementation-chosen"）。
func NewTable[V any](l *loop.Loop, defaultTimeout time.Duration) *Table[V] {
	return &Table[V]{
		loop:           l,
		defaultTimeout: defaultTimeout,
		entries:        make(map[Owner]*Transaction[V]),
	}
}

// NewTX 插入一个新事务并调用 job.Start(owner) 发出线上请求
// （spec §4.D "new_tx(owner, asker, target, job, timeout)"）。
// timeout < 0 时使用表的默认超时；timeout == 0 时截止时间即为当前
// 时刻，事务在下一次 cleanup tick 超时（spec §8 Boundary）。
func (t *Table[V]) NewTX(owner Owner, asker types.NodeID, target keyspace.Key, job Job[V], timeout time.Duration) *Transaction[V] {
	if timeout < 0 {
		timeout = t.defaultTimeout
	}
	now := t.loop.Now()
	tx := &Transaction[V]{
		Owner:     owner,
		Asker:     asker,
		Target:    target,
		StartedAt: now,
		Deadline:  now.Add(timeout),
		Job:       job,
	}
	t.entries[owner] = tx
	job.Start(owner)
	return tx
}

// HasLookupFor 报告是否已有存活事务以 target 为查找目标
// （spec §4.D "has_lookup_for"，用于避免重复发起同一查找）。
func (t *Table[V]) HasLookupFor(target keyspace.Key) bool {
	for _, tx := range t.entries {
		if tx.Target == target {
			return true
		}
	}
	return false
}

// Get 返回 owner 对应的存活事务。
func (t *Table[V]) Get(owner Owner) (*Transaction[V], bool) {
	tx, ok := t.entries[owner]
	return tx, ok
}

// Len 返回当前存活事务数量。
func (t *Table[V]) Len() int {
	return len(t.entries)
}

// OnReply 把 values 投递给 owner 对应的事务。owner 未知时（事务已
// 完成或已过期）静默忽略——这正是 spec §8 Scenario 6 里"迟到的回复
// 在 t=2s 到达时被忽略"的机制：事务早已不在表中。
func (t *Table[V]) OnReply(owner Owner, values []V) bool {
	tx, ok := t.entries[owner]
	if !ok {
		return false
	}
	tx.Attempts++
	if tx.Job.OnValues(values) {
		delete(t.entries, owner)
		tx.Job.SendReply(false)
	}
	return true
}

// Expire 移除截止时间已过的事务，并以 timedOut=true 调用它们的
// SendReply（spec §4.D "expire(now)"）。返回被移除的事务数量。
func (t *Table[V]) Expire(now time.Time) int {
	var expired []*Transaction[V]
	for owner, tx := range t.entries {
		if !now.Before(tx.Deadline) {
			expired = append(expired, tx)
			delete(t.entries, owner)
		}
	}
	for _, tx := range expired {
		tx.Job.SendReply(true)
	}
	return len(expired)
}
