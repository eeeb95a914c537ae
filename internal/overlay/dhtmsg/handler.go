package dhtmsg

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"time"

	"go.uber.org/multierr"

	"github.com/dr7ana/lokinet/internal/overlay/bucket"
	"github.com/dr7ana/lokinet/internal/overlay/introset"
	"github.com/dr7ana/lokinet/internal/overlay/keyspace"
	"github.com/dr7ana/lokinet/internal/overlay/loop"
	"github.com/dr7ana/lokinet/internal/overlay/nodedb"
	"github.com/dr7ana/lokinet/internal/overlay/path"
	"github.com/dr7ana/lokinet/internal/overlay/pendingtx"
	"github.com/dr7ana/lokinet/internal/overlay/rc"
	"github.com/dr7ana/lokinet/pkg/lib/log"
	"github.com/dr7ana/lokinet/pkg/types"
)

var logger = log.Logger("overlay/dhtmsg")

// errInsufficientPeers 表示没有任何 DHT 邻居可用于探索式查找
// （spec §4.E "Errors if fewer than one qualifying node exists"）。
var errInsufficientPeers = errors.New("dhtmsg: no dht peers available")

// cleanupInterval 是 spec §4.E 的每秒清理 tick。
const cleanupInterval = 1 * time.Second

// exploratoryLookupCount 是 spec §4.E "returns up to 4 known nodes
// nearest target" 的上限。
const exploratoryLookupCount = 4

// Handler 实现 spec §4.E 的 DHT Message Handler。它的状态恰好是 spec
// 文字描述的那几项：ourKey、router 回调面、两个桶（RC 走 Node DB 内部
// 的索引,ISet 走本包自有的 services 桶)、三张 TX 表、CSPRNG 种子化的
// ids 计数器，以及一个 allow_transit 布尔量。
type Handler struct {
	ourKey types.NodeID

	nodeDB   *nodedb.NodeDB
	services *bucket.Bucket[*introset.IntroSet]
	isStore  *introset.Store

	routerLookups   *pendingtx.Table[*rc.RouterContact]
	introsetLookups *pendingtx.Table[*introset.IntroSet]
	exploreLookups  *pendingtx.Table[types.NodeID]

	ids          uint64
	allowTransit bool

	loop *loop.Loop

	// SendTo 把一条消息发往 peer，保活该会话一段时间（spec §4.E
	// "DHTSendTo ... keep the session with that peer alive for 10
	// seconds" — 本包经 sendAndPersist 调用 PersistUntil，固定保活 10 秒）。
	SendTo SendFunc
	// ReplyDownPath 把消息回送一条本地路径（见 overlay/pathctx 中挂的
	// Path；本包不直接持有 Path,只持有投递回调）。
	ReplyDownPath ReplyDownPathFunc
	// SessionAllowed 报告是否允许与 target 建立会话（会话策略本身不在
	// 核心范围内,由调用方注入）。
	SessionAllowed func(target types.NodeID) bool
	// BadForConnect 是 spec §13 "exploratory lookup reputation filter"：
	// 过滤掉声誉不佳、不值得介绍给探索者的候选节点。
	BadForConnect func(types.NodeID) bool
	// PersistUntil 延长与某个 peer 会话的保活截止时间。
	PersistUntil func(peer types.NodeID, deadline time.Time)

	stopCleanup func()
}

// New 创建一个尚未 Init 的 Handler。
func New(l *loop.Loop, db *nodedb.NodeDB) *Handler {
	return &Handler{
		nodeDB:          db,
		services:        bucket.New[*introset.IntroSet](),
		routerLookups:   pendingtx.NewTable[*rc.RouterContact](l, 2*time.Second),
		introsetLookups: pendingtx.NewTable[*introset.IntroSet](l, 2*time.Second),
		exploreLookups:  pendingtx.NewTable[types.NodeID](l, 2*time.Second),
		loop:            l,
	}
}

// SetStore 挂接一个磁盘持久化层，使经 PublishIntroSetMessage 写入
// services 桶的 ISet 在重启后可被恢复（spec §12 "cache + store"）。
// 不调用 SetStore 时 Handler 退化为纯内存行为，测试中无需构造
// kv.Store 即可工作。
func (h *Handler) SetStore(store *introset.Store) {
	h.isStore = store
}

// Init 设定 ourKey，用 CSPRNG 播种 TX id 计数器，从持久化层恢复本地
// 已发布的 ISet，并安排每秒清理 tick（spec §4.E "init(our_key,
// router): ... schedule a 1-second cleanup tick"）。
func (h *Handler) Init(ourKey types.NodeID) {
	h.ourKey = ourKey

	var seed [8]byte
	_, _ = rand.Read(seed[:])
	h.ids = binary.BigEndian.Uint64(seed[:])

	if h.isStore != nil {
		if restored, err := h.isStore.LoadAll(h.loop.Now()); err != nil {
			logger.Warn("failed to load persisted introsets", "err", err)
		} else {
			for _, is := range restored {
				h.services.Put(is.Location, is)
			}
		}
	}

	h.stopCleanup = h.loop.CallEvery(cleanupInterval, h.cleanupTick)
}

// Shutdown 取消清理 tick。
func (h *Handler) Shutdown() {
	if h.stopCleanup != nil {
		h.stopCleanup()
	}
}

// AllowTransit/IsTransitAllowed 暴露 handler 自身的 allow_transit 标志
// （spec §4.E 把它列为 handler 状态的一部分,独立于 Path Context 同名的
// 标志——两者职责不同：这里控制是否参与 DHT 路由中转,pathctx 的控制是
// 否接受电路中转）。
func (h *Handler) AllowTransit() {
	h.allowTransit = true
}

func (h *Handler) IsTransitAllowed() bool {
	return h.allowTransit
}

func (h *Handler) nextID() uint64 {
	h.ids++
	return h.ids
}

func (h *Handler) OurKey() types.NodeID { return h.ourKey }

// GetIntroSetByLocation 返回本地 services 桶中 location 对应的 ISet。
func (h *Handler) GetIntroSetByLocation(location types.NodeID) (*introset.IntroSet, bool) {
	return h.services.Get(location)
}

// cleanupTick 实现 spec §4.E "Cleanup tick (every 1s): expire TX
// tables; evict RC nodes whose RC has expired; evict IS nodes whose
// introset has expired."
func (h *Handler) cleanupTick() {
	now := h.loop.Now()
	logger.Debug("dht cleanup tick")

	h.routerLookups.Expire(now)
	h.introsetLookups.Expire(now)
	h.exploreLookups.Expire(now)

	h.nodeDB.CleanupExpired(now)

	var evictErr error
	for _, k := range h.services.Keys() {
		iset, ok := h.services.Get(k)
		if ok && !iset.IsLive(now) {
			h.services.Del(k)
			if h.isStore != nil {
				evictErr = multierr.Append(evictErr, h.isStore.Delete(k))
			}
		}
	}
	if evictErr != nil {
		logger.Warn("introset eviction errors during cleanup tick", "err", evictErr)
	}
}

// HandleMessage 按消息种类分派,可能追加零或多条回复消息（spec §4.E
// "handle_message(msg, replies_out) -> bool: ... Returns false only on
// a malformed message."）。本包内消息已经是类型化的内存对象,不存在
// "malformed" 这一层（留给外部 wire 解码做),因此总是返回 true。
func (h *Handler) HandleMessage(msg Message, requester types.NodeID) (replies []Message, ok bool) {
	switch m := msg.(type) {
	case *FindRouterMessage:
		replies = h.LookupRouterRelayed(requester, m.Tx, m.Target, m.Recursive)
	case *GotRouterMessage:
		h.routerLookups.OnReply(pendingtx.Owner{Peer: requester, TxID: m.Tx}, m.RCs)
	case *FindIntroSetMessage:
		if iset, found := h.GetIntroSetByLocation(m.Location); found {
			replies = append(replies, &GotIntroSetMessage{Tx: m.Tx, ISet: iset, Found: true})
		} else {
			replies = append(replies, &GotIntroSetMessage{Tx: m.Tx})
		}
	case *GotIntroSetMessage:
		var values []*introset.IntroSet
		if m.Found && m.ISet != nil {
			values = []*introset.IntroSet{m.ISet}
		}
		h.introsetLookups.OnReply(pendingtx.Owner{Peer: requester, TxID: m.Tx}, values)
	case *PublishIntroSetMessage:
		if m.ISet != nil {
			h.services.Put(m.ISet.Location, m.ISet)
			if h.isStore != nil {
				if err := h.isStore.Put(m.ISet); err != nil {
					logger.Warn("failed to persist introset", "location", m.ISet.Location, "err", err)
				}
			}
		}
	case *ExploreNetworkMessage:
		var err error
		replies, err = h.HandleExploratoryRouterLookup(requester, m.Tx, requester)
		if err != nil {
			replies = nil
		}
	default:
		return nil, true
	}
	return replies, true
}

// LookupRouter 实现 spec §4.E "lookup_router(target, handler)"：从本地
// 已知节点中挑一个最接近 target 的作为首跳,发起一次递归查找。
func (h *Handler) LookupRouter(target types.NodeID, handler func(*rc.RouterContact, bool)) bool {
	askpeer, ok := h.nodeDB.FindClosestTo(target)
	if !ok {
		handler(nil, false)
		return false
	}
	h.LookupRouterRecursive(target, h.ourKey, 0, askpeer.RID, handler)
	return true
}

// HasRouterLookup 报告是否已有存活事务以 target 为查找目标。
func (h *Handler) HasRouterLookup(target types.NodeID) bool {
	return h.routerLookups.HasLookupFor(target)
}

// LookupRouterRecursive 代表"我们"或者某个中间节点对外发起的递归查找
// （spec §4.E 内部用于 lookup_router 与 LookupRouterRelayed 的递归转发
// 分支）。handler 非 nil 时表示 whoasked 就是本节点自己,结果走进程内
// 回调；handler 为 nil 时结果经网络回送给 whoasked（携带 whoaskedTx）。
func (h *Handler) LookupRouterRecursive(target, whoasked types.NodeID, whoaskedTx uint64, askpeer types.NodeID, handler func(*rc.RouterContact, bool)) {
	owner := pendingtx.Owner{Peer: askpeer, TxID: h.nextID()}
	job := &RecursiveRouterLookup{Asker: whoasked, AskerTx: whoaskedTx, Target: target, Send: h.sendAndPersist, Handler: handler}
	h.routerLookups.NewTX(owner, whoasked, keyspace.DeriveFromRID(target), job, -1)
}

// LookupRouterForPath 实现 spec §4.E "lookup_router_for_path"：结果
// 通过 ReplyDownPath 回送 path。
func (h *Handler) LookupRouterForPath(target types.NodeID, txid uint64, pathID path.HopID, askpeer types.NodeID) {
	owner := pendingtx.Owner{Peer: askpeer, TxID: h.nextID()}
	job := &LocalRouterLookup{PathID: pathID, ReplyTx: txid, Target: target, Send: h.sendAndPersist, Reply: h.ReplyDownPath}
	h.routerLookups.NewTX(owner, h.ourKey, keyspace.DeriveFromRID(target), job, -1)
}

// LookupIntrosetForPath 实现 spec §4.E "lookup_introset_for_path"。
func (h *Handler) LookupIntrosetForPath(addr types.NodeID, txid uint64, pathID path.HopID, askpeer types.NodeID, relayOrder uint64) {
	owner := pendingtx.Owner{Peer: askpeer, TxID: h.nextID()}
	job := &LocalServiceAddressLookup{PathID: pathID, ReplyTx: txid, RelayOrder: relayOrder, Addr: addr, Send: h.sendAndPersist, Reply: h.ReplyDownPath}
	h.introsetLookups.NewTX(owner, h.ourKey, addr, job, -1)
}

// LookupIntrosetRelayed 实现 spec §4.E "lookup_introset_relayed" — 使用
// 表的默认超时。
func (h *Handler) LookupIntrosetRelayed(addr types.NodeID, askpeer types.NodeID, relayOrder uint64, handler func(*introset.IntroSet, bool)) {
	owner := pendingtx.Owner{Peer: askpeer, TxID: h.nextID()}
	job := &ServiceAddressLookup{Addr: addr, RelayOrder: relayOrder, Send: h.sendAndPersist, Handler: handler}
	h.introsetLookups.NewTX(owner, h.ourKey, addr, job, -1)
}

// LookupIntrosetDirect 实现 spec §4.E "lookup_introset_direct" — 1 秒
// 超时（spec §5 "1s direct introset"）。
func (h *Handler) LookupIntrosetDirect(addr types.NodeID, askpeer types.NodeID, handler func(*introset.IntroSet, bool)) {
	owner := pendingtx.Owner{Peer: askpeer, TxID: h.nextID()}
	job := &ServiceAddressLookup{Addr: addr, Send: h.sendAndPersist, Handler: handler}
	h.introsetLookups.NewTX(owner, h.ourKey, addr, job, 1*time.Second)
}

// PropagateLocalIntroset 实现 spec §4.E "propagate_local_introset"：
// 发布结果回送发起的本地路径。
func (h *Handler) PropagateLocalIntroset(pathID path.HopID, txid uint64, iset *introset.IntroSet, tellpeer types.NodeID, relayOrder uint64) {
	owner := pendingtx.Owner{Peer: tellpeer, TxID: h.nextID()}
	job := &PublishJob{RelayOrder: relayOrder, ISet: iset, Send: h.sendAndPersist, PathID: &pathID, ReplyTx: txid, Reply: h.ReplyDownPath}
	h.introsetLookups.NewTX(owner, h.ourKey, iset.Location, job, -1)
}

// PropagateIntrosetTo 实现 spec §4.E "propagate_introset_to"：纯粹的
// 存储转发,没有本地路径需要回复。
func (h *Handler) PropagateIntrosetTo(from types.NodeID, iset *introset.IntroSet, tellpeer types.NodeID, relayOrder uint64) {
	owner := pendingtx.Owner{Peer: tellpeer, TxID: h.nextID()}
	job := &PublishJob{RelayOrder: relayOrder, ISet: iset, Send: h.sendAndPersist}
	h.introsetLookups.NewTX(owner, from, iset.Location, job, -1)
}

// ReplicaIndex 实现 spec §13 的 relay_order 取模算法：
// candidateIndex = (closestIndex + relayOrder) % len(candidates)。
// closestIndex 是按距离升序排序后目标在 candidates 中的下标。
func ReplicaIndex(closestIndex int, relayOrder uint64, numCandidates int) int {
	if numCandidates == 0 {
		return 0
	}
	return (closestIndex + int(relayOrder)) % numCandidates
}

// replicaCandidateCount 是为一次 relay_order 选择而拉取的候选副本数量
// 上限（spec §13 未固定具体值,取跟探索式查找一致的窗口)。
const replicaCandidateCount = exploratoryLookupCount

// SelectReplica 按 location 找出最近的若干候选节点（升序排列,下标 0 即
// 最近),再用 relayOrder 对其取模选出一个（spec §13 relay_order 取模
// 算法,详见 ReplicaIndex)。这是 PropagateLocalIntroset/
// PropagateIntrosetTo 的候选选择前置步骤：它算出的 tellpeer 可直接传给
// 对应的 Propagate* 方法（本仓库中没有调用它的发布路径）。
func (h *Handler) SelectReplica(location types.NodeID, relayOrder uint64) (types.NodeID, bool) {
	candidates, _ := h.nodeBucketNear(location, replicaCandidateCount, map[keyspace.Key]struct{}{h.ourKey: {}})
	if len(candidates) == 0 {
		return types.NodeID{}, false
	}
	idx := ReplicaIndex(0, relayOrder, len(candidates))
	return candidates[idx], true
}

// HandleExploratoryRouterLookup 实现 spec §4.E
// "handle_exploratory_router_lookup"：返回距离 target 最近的至多 4 个
// 已知节点,排除 requester 与自身,并经 BadForConnect 过滤。
func (h *Handler) HandleExploratoryRouterLookup(requester types.NodeID, txid uint64, target types.NodeID) ([]Message, error) {
	exclude := map[keyspace.Key]struct{}{h.ourKey: {}, requester: {}}
	candidates, insufficient := h.nodeBucketNear(target, exploratoryLookupCount, exclude)
	if len(candidates) == 0 {
		return nil, errInsufficientPeers
	}
	_ = insufficient

	closer := make([]types.NodeID, 0, len(candidates))
	for _, id := range candidates {
		if h.BadForConnect != nil && h.BadForConnect(id) {
			continue
		}
		closer = append(closer, id)
	}
	if len(closer) == 0 {
		return nil, errInsufficientPeers
	}
	return []Message{&GotRouterMessage{Tx: txid, ClosestRouters: closer}}, nil
}

// nodeBucketNear 返回 Node DB 中距离 target 最近的至多 n 个节点,排除
// exclude 中列出的键（直接委托给 NodeDB.GetManyNearest 的真正 N-近邻
// 查询,而不是反复查单点最近邻)。
func (h *Handler) nodeBucketNear(target types.NodeID, n int, exclude map[keyspace.Key]struct{}) ([]types.NodeID, bool) {
	candidates, insufficient := h.nodeDB.GetManyNearest(target, n, exclude)
	out := make([]types.NodeID, len(candidates))
	for i, c := range candidates {
		out[i] = c.RID
	}
	return out, insufficient
}

// LookupRouterRelayed 实现 spec §4.E "lookup_router_relayed" 的完整
// 分支逻辑（对应原始 C++ 实现里 DHTMessageHandler::LookupRouterRelayed
// 的结构）。
func (h *Handler) LookupRouterRelayed(requester types.NodeID, txid uint64, target types.NodeID, recursive bool) []Message {
	if target.Equal(h.ourKey) {
		return []Message{&GotRouterMessage{Tx: txid, RCs: h.ownRCAsSlice()}}
	}

	if h.SessionAllowed != nil && !h.SessionAllowed(target) {
		return []Message{&GotRouterMessage{Tx: txid}}
	}

	next, ok := h.nodeDB.FindClosestTo(target)
	if !ok {
		return []Message{&GotRouterMessage{Tx: txid}}
	}

	now := h.loop.Now()

	switch {
	case next.RID.Equal(target):
		if !next.IsFresh(now, 5*time.Second) {
			h.LookupRouterRecursive(target, requester, txid, next.RID, nil)
			return nil
		}
		return []Message{&GotRouterMessage{Tx: txid, RCs: []*rc.RouterContact{next}}}

	case recursive && keyspace.CloserTo(target, next.RID, h.ourKey):
		h.LookupRouterRecursive(target, requester, txid, next.RID, nil)
		return nil

	case recursive:
		return []Message{&GotRouterMessage{Tx: txid}}

	default:
		return []Message{&GotRouterMessage{Tx: txid, ClosestRouters: []types.NodeID{next.RID}}}
	}
}

func (h *Handler) ownRC() (*rc.RouterContact, bool) {
	return h.nodeDB.Get(h.ourKey)
}

func (h *Handler) ownRCAsSlice() []*rc.RouterContact {
	if r, ok := h.ownRC(); ok {
		return []*rc.RouterContact{r}
	}
	return nil
}

// sendAndPersist 把消息发往 peer,并延长与其会话的保活时间
// （spec §4.E "DHTSendTo ... keepalive"）。
func (h *Handler) sendAndPersist(peer types.NodeID, msg Message) {
	if h.SendTo != nil {
		h.SendTo(peer, msg)
	}
	if h.PersistUntil != nil {
		h.PersistUntil(peer, h.loop.Now().Add(10*time.Second))
	}
}
