// Package path 实现 spec §4.F 描述的 Path：一条已建好的多跳电路。
// Path 负责对外发控制/数据帧做逐跳洋葱加密，对内收到的回复做逐层解密，
// 并维护自身的存活状态机。
//
// 洋葱层的具体 AEAD 原语由调用方注入（spec §1 "raw cryptographic
// primitives ... assumed available with stated contracts"，与
// overlay/introset.Decrypter 同一风格）；本包只负责按跳序正确地套娃/
// 拆娃,不实现原语本身。
package path

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dr7ana/lokinet/pkg/lib/log"
	"github.com/dr7ana/lokinet/pkg/types"
)

var logger = log.Logger("overlay/path")

// HopID 是一跳在本地节点范围内全局唯一的标识（spec §3 "Hop IDs are
// pairwise distinct within a single path and unique in Path Context"）。
// 用 UUID 生成，而不是从对端可预测地派生，天然满足这条唯一性不变量。
type HopID = uuid.UUID

// NewHopID 生成一个新的随机 HopID。
func NewHopID() HopID { return uuid.New() }

// State 是 spec §4.F 电路生命周期状态机的取值：
//
//	BUILDING --build-ok--> ESTABLISHED --expire--> EXPIRED
//	   |                        |
//	   +--build-fail--> DEAD    +--explicit-close--> CLOSED
//
// 只有 BUILDING -> ESTABLISHED 是可逆的（经由 Rebuild 重新走一次
// BUILDING，产生一条新 Path，而不是变回旧 Path 的状态）。
type State int32

const (
	StateBuilding State = iota
	StateEstablished
	StateExpired
	StateDead
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateBuilding:
		return "BUILDING"
	case StateEstablished:
		return "ESTABLISHED"
	case StateExpired:
		return "EXPIRED"
	case StateDead:
		return "DEAD"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ErrNotReady 表示在路径尚未就绪时尝试发送。
var ErrNotReady = errors.New("path: not ready")

// Hop 是 spec §3 "Hop = {rid, rx_id, tx_id, symmetric_keys, lifetime}"
// 的内存表示：本地节点通过该跳与远端建立的一段链路。
type Hop struct {
	RID      types.NodeID
	RxID     HopID
	TxID     HopID
	// Key 是该跳的对称密钥；套娃加密时逐跳使用，拆娃解密时逆序剥除。
	Key      [32]byte
	Lifetime time.Duration
}

// Sealer/Opener 把单层洋葱加密的具体原语留给调用方注入。
type (
	// SealFunc 用 hop 的对称密钥加密一层，返回密文。
	SealFunc func(key [32]byte, plaintext []byte) ([]byte, error)
	// OpenFunc 用 hop 的对称密钥解密一层，返回明文。
	OpenFunc func(key [32]byte, ciphertext []byte) ([]byte, error)
)

// ReplyFunc 是控制消息回复的回调契约（spec §4.F "cb(body, timed_out)"）。
type ReplyFunc func(body []byte, timedOut bool)

// ControlSender 把已经完成逐跳洋葱加密的字节发往本路径的上游第一跳
// （由 overlay/transport 实现，Path 本身不知道传输细节）。
type ControlSender func(upstream types.NodeID, payload []byte) error

// pendingCtl 是一条仍在等待回复的 send_path_control_message 调用。
type pendingCtl struct {
	deadline time.Time
	cb       ReplyFunc
}

// Path 是 spec §3/§4.F "一条我们自己建立的电路" 的内存表示。
type Path struct {
	hops []Hop

	isSession bool
	isClient  bool

	buildStarted time.Time

	state atomic.Int32

	mu           sync.Mutex
	lastRecvMsg  time.Time
	lastLatency  time.Time
	lastLatencyID uint64
	pending      map[uint64]*pendingCtl
	nextCtlID    uint64

	seal ControlSender
}

// New 用给定的跳序列构造一条新的 BUILDING 状态 Path。send 是逐跳加密
// 完成后把字节送给上游第一跳的回调（通常是 overlay/transport.SendControl
// 的一层薄包装）。
func New(hops []Hop, isSession, isClient bool, now time.Time, send ControlSender) *Path {
	p := &Path{
		hops:         append([]Hop(nil), hops...),
		isSession:    isSession,
		isClient:     isClient,
		buildStarted: now,
		lastRecvMsg:  now,
		pending:      make(map[uint64]*pendingCtl),
		seal:         send,
	}
	p.state.Store(int32(StateBuilding))
	return p
}

// State 返回当前状态。
func (p *Path) State() State { return State(p.state.Load()) }

// SetEstablished 把路径从 BUILDING 翻转为 ESTABLISHED（spec §3
// "established monotonically flips false->true at most once"）。
// 在任何其它状态上调用都是空操作。
func (p *Path) SetEstablished() {
	p.state.CompareAndSwap(int32(StateBuilding), int32(StateEstablished))
}

// MarkBuildFailed 把路径从 BUILDING 翻转为 DEAD。
func (p *Path) MarkBuildFailed() {
	p.state.CompareAndSwap(int32(StateBuilding), int32(StateDead))
}

// Close 显式关闭路径，转入 CLOSED；挂起的控制请求以 timed_out 解决
// （spec §5 "Path shutdown propagates close frames ... in-flight
// callbacks are resolved with a timeout flag"）。
func (p *Path) Close() {
	p.state.Store(int32(StateClosed))
	p.failAllPending()
}

// MarkExpired 把路径转入 EXPIRED 并解决挂起的控制请求。
func (p *Path) MarkExpired() {
	p.state.CompareAndSwap(int32(StateEstablished), int32(StateExpired))
	p.failAllPending()
}

func (p *Path) failAllPending() {
	p.mu.Lock()
	pending := p.pending
	p.pending = make(map[uint64]*pendingCtl)
	p.mu.Unlock()
	for _, pc := range pending {
		pc.cb(nil, true)
	}
}

// MarkActive 记录一次成功接收到的远端活动，时间只向前推进
// （spec "last_recv_msg = max(now, last_recv_msg)"）。
func (p *Path) MarkActive(now time.Time) {
	p.mu.Lock()
	if now.After(p.lastRecvMsg) {
		p.lastRecvMsg = now
	}
	p.mu.Unlock()
}

// LastRemoteActivityAt 返回最近一次收到远端消息的时间。
func (p *Path) LastRemoteActivityAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRecvMsg
}

// ExpireTime 返回本路径的到期时刻：build_started + 首跳的 lifetime
// （spec §3 "expire_at = build_started + hops[0].lifetime"）。
func (p *Path) ExpireTime() time.Time {
	if len(p.hops) == 0 {
		return p.buildStarted
	}
	return p.buildStarted.Add(p.hops[0].Lifetime)
}

// IsExpired 报告 now 是否已经过了本路径的到期时刻。
func (p *Path) IsExpired(now time.Time) bool {
	return !now.Before(p.ExpireTime())
}

// ExpiresSoon 报告本路径是否将在 dlt 之内到期，dlt<=0 时使用 spec §5
// 规定的默认护栏 5s。
func (p *Path) ExpiresSoon(now time.Time, dlt time.Duration) bool {
	if dlt <= 0 {
		dlt = 5 * time.Second
	}
	return !now.Before(p.ExpireTime().Add(-dlt))
}

// IsReady 报告路径已建立（不检查到期护栏）。调用方需要 spec §3 完整的
// "ready iff established and now < expire_at - guard" 语义时应使用
// IsReadyAt，而不是这个仅看状态机的版本。
func (p *Path) IsReady() bool {
	return p.State() == StateEstablished
}

// IsReadyAt 实现 spec §3 完整的 ready 判定：已建立且尚未临近到期，供
// 发往路径的 RPC 与查找（Path Context 存活扫描、Path Handler 就绪计数、
// Remote Handler 扇出）使用。
func (p *Path) IsReadyAt(now time.Time) bool {
	return p.IsReady() && !p.ExpiresSoon(now, 0)
}

// Hops 返回本路径的跳序列（只读视图）。
func (p *Path) Hops() []Hop { return p.hops }

// Upstream 返回首跳（本地节点直接相连的那一跳）的 RID。
func (p *Path) Upstream() types.NodeID {
	if len(p.hops) == 0 {
		return types.NodeID{}
	}
	return p.hops[0].RID
}

// PivotRID 返回末跳（电路的终点）的 RID。
func (p *Path) PivotRID() types.NodeID {
	if len(p.hops) == 0 {
		return types.NodeID{}
	}
	return p.hops[len(p.hops)-1].RID
}

// UpstreamRxID/UpstreamTxID/PivotRxID/PivotTxID 暴露首末跳的收发 ID，
// 供 Path Context 做双重注册（spec §4.G）。
func (p *Path) UpstreamRxID() HopID { return p.hops[0].RxID }
func (p *Path) UpstreamTxID() HopID { return p.hops[0].TxID }
func (p *Path) PivotRxID() HopID    { return p.hops[len(p.hops)-1].RxID }
func (p *Path) PivotTxID() HopID    { return p.hops[len(p.hops)-1].TxID }

// Equal 报告两条路径是否拥有相同的跳列表（spec §3 "Equality is by hop
// list"）。
func (p *Path) Equal(other *Path) bool {
	if other == nil || len(p.hops) != len(other.hops) {
		return false
	}
	for i := range p.hops {
		if p.hops[i].RID != other.hops[i].RID || p.hops[i].RxID != other.hops[i].RxID {
			return false
		}
	}
	return true
}

// Less 实现 spec §3 "ordering by (first_hop_rid, first_rx_id)"。
func (p *Path) Less(other *Path) bool {
	if len(p.hops) == 0 || len(other.hops) == 0 {
		return len(p.hops) < len(other.hops)
	}
	a, b := p.hops[0], other.hops[0]
	if a.RID != b.RID {
		return lessNodeID(a.RID, b.RID)
	}
	return a.RxID.String() < b.RxID.String()
}

func lessNodeID(a, b types.NodeID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Rebuild 产生一条拥有相同跳序列 RID、但密钥与收发 ID 全部重新生成的
// 新 Path（spec §3 "produces a fresh Path with same hop RIDs and new
// keys"）。调用方负责向 Path Context 注册返回值并丢弃旧实例。
func (p *Path) Rebuild(now time.Time) *Path {
	fresh := make([]Hop, len(p.hops))
	for i, h := range p.hops {
		fresh[i] = Hop{
			RID:      h.RID,
			RxID:     NewHopID(),
			TxID:     NewHopID(),
			Lifetime: h.Lifetime,
		}
	}
	return New(fresh, p.isSession, p.isClient, now, p.seal)
}

// IsSessionPath/IsClientPath 报告路径角色标记。
func (p *Path) IsSessionPath() bool { return p.isSession }
func (p *Path) IsClientPath() bool  { return p.isClient }

// --- 洋葱层 -----------------------------------------------------------

// wrap 从末跳到首跳依次加密 payload，使最外层由首跳（上游）的密钥剥除
// （spec §4.F "Encryption is performed hop-by-hop outbound"）。
func (p *Path) wrap(seal SealFunc, payload []byte) ([]byte, error) {
	out := payload
	for i := len(p.hops) - 1; i >= 0; i-- {
		var err error
		out, err = seal(p.hops[i].Key, out)
		if err != nil {
			return nil, fmt.Errorf("path: seal hop %d: %w", i, err)
		}
	}
	return out, nil
}

// unwrap 从首跳到末跳依次解密 reply 的每一层（spec §4.F "decryption is
// applied layer-by-layer to the reply"）。
func (p *Path) unwrap(open OpenFunc, reply []byte) ([]byte, error) {
	out := reply
	for i := 0; i < len(p.hops); i++ {
		var err error
		out, err = open(p.hops[i].Key, out)
		if err != nil {
			return nil, fmt.Errorf("path: open hop %d: %w", i, err)
		}
	}
	return out, nil
}

// SendPathControlMessage 实现 spec §4.F 的通用洋葱控制 RPC：method/body
// 逐跳加密后发往上游，应答（或超时）经 cb(body, timed_out) 交付。
func (p *Path) SendPathControlMessage(now time.Time, timeout time.Duration, seal SealFunc, method string, body []byte, cb ReplyFunc) error {
	if !p.IsReadyAt(now) {
		return ErrNotReady
	}

	p.mu.Lock()
	id := p.nextCtlID
	p.nextCtlID++
	p.mu.Unlock()

	frame := encodeControlFrame(id, method, body)
	wrapped, err := p.wrap(seal, frame)
	if err != nil {
		return err
	}
	if err := p.seal(p.Upstream(), wrapped); err != nil {
		return err
	}
	if cb != nil {
		p.mu.Lock()
		p.pending[id] = &pendingCtl{deadline: now.Add(timeout), cb: cb}
		p.mu.Unlock()
	}
	return nil
}

// HandleControlReply 把收到的已解密回复投递给等待中的回调。
// matched 为 false 表示没有任何挂起请求认领这条回复（调用方应静默丢弃）。
func (p *Path) HandleControlReply(id uint64, body []byte) (matched bool) {
	p.mu.Lock()
	pc, ok := p.pending[id]
	if ok {
		delete(p.pending, id)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	pc.cb(body, false)
	return true
}

// SendPathDataMessage 实现 spec §4.F "send_path_data_message"：无回调
// 的洋葱封装数据报发送。
func (p *Path) SendPathDataMessage(now time.Time, seal SealFunc, body []byte) error {
	if !p.IsReadyAt(now) {
		return ErrNotReady
	}
	wrapped, err := p.wrap(seal, body)
	if err != nil {
		return err
	}
	return p.seal(p.Upstream(), wrapped)
}

// ResolveONS 是 spec §4.F "resolve_ons(name, cb)" 的薄包装：发送一条
// method="find_name" 的控制消息。
func (p *Path) ResolveONS(now time.Time, timeout time.Duration, seal SealFunc, name string, cb ReplyFunc) error {
	return p.SendPathControlMessage(now, timeout, seal, "find_name", []byte(name), cb)
}

// FindIntro 是 spec §4.F "find_intro(location, is_relayed, order, cb)"。
func (p *Path) FindIntro(now time.Time, timeout time.Duration, seal SealFunc, location types.NodeID, isRelayed bool, order uint64, cb ReplyFunc) error {
	body := encodeFindIntro(location, isRelayed, order)
	return p.SendPathControlMessage(now, timeout, seal, "find_intro", body, cb)
}

// PublishIntro 是 spec §4.F "publish_intro(iset, is_relayed, order, cb)"。
func (p *Path) PublishIntro(now time.Time, timeout time.Duration, seal SealFunc, iset []byte, isRelayed bool, order uint64, cb ReplyFunc) error {
	body := encodeFindIntro(types.NodeID{}, isRelayed, order)
	body = append(body, iset...)
	return p.SendPathControlMessage(now, timeout, seal, "publish_intro", body, cb)
}

// ObtainExit/CloseExit/UpdateExit 实现 spec §4.F 出口角色生命周期；
// 出口 IP 路由语义本身在核心范围之外（spec §1 Non-goals），这里只负责
// 把请求套上洋葱层送出。
func (p *Path) ObtainExit(now time.Time, timeout time.Duration, seal SealFunc, flag uint64, txID string, cb ReplyFunc) error {
	return p.SendPathControlMessage(now, timeout, seal, "obtain_exit", []byte(fmt.Sprintf("%d:%s", flag, txID)), cb)
}

func (p *Path) CloseExit(now time.Time, timeout time.Duration, seal SealFunc, txID string, cb ReplyFunc) error {
	return p.SendPathControlMessage(now, timeout, seal, "close_exit", []byte(txID), cb)
}

func (p *Path) UpdateExit(now time.Time, timeout time.Duration, seal SealFunc, txID string, cb ReplyFunc) error {
	return p.SendPathControlMessage(now, timeout, seal, "update_exit", []byte(txID), cb)
}

// Tick 是由 Path Handler 周期性调用的存活检查（spec §4.F "if the last
// remote activity exceeds a threshold, emit a latency probe; if
// unanswered within another threshold, mark DEAD"）。
func (p *Path) Tick(now time.Time, idleThreshold, latencyTimeout time.Duration, seal SealFunc) {
	if p.State() != StateEstablished {
		p.expirePending(now)
		return
	}

	p.mu.Lock()
	sinceRecv := now.Sub(p.lastRecvMsg)
	sinceProbe := now.Sub(p.lastLatency)
	needProbe := sinceRecv > idleThreshold && sinceProbe > idleThreshold
	probeOverdue := !p.lastLatency.IsZero() && sinceProbe > latencyTimeout && sinceRecv > latencyTimeout
	p.mu.Unlock()

	if probeOverdue {
		logger.Warn("path latency probe unanswered, marking dead", "upstream", p.Upstream().ShortString())
		p.state.CompareAndSwap(int32(StateEstablished), int32(StateDead))
		p.failAllPending()
		return
	}

	if needProbe {
		p.sendLatencyProbe(now, seal)
	}

	p.expirePending(now)
}

func (p *Path) sendLatencyProbe(now time.Time, seal SealFunc) {
	p.mu.Lock()
	p.lastLatency = now
	p.lastLatencyID++
	id := p.lastLatencyID
	p.mu.Unlock()

	frame := encodeControlFrame(id, "latency", nil)
	wrapped, err := p.wrap(seal, frame)
	if err != nil {
		logger.Debug("failed to seal latency probe", "err", err)
		return
	}
	_ = p.seal(p.Upstream(), wrapped)
}

func (p *Path) expirePending(now time.Time) {
	p.mu.Lock()
	var expired []*pendingCtl
	for id, pc := range p.pending {
		if !now.Before(pc.deadline) {
			expired = append(expired, pc)
			delete(p.pending, id)
		}
	}
	p.mu.Unlock()
	for _, pc := range expired {
		pc.cb(nil, true)
	}
}

// encodeControlFrame 把控制 RPC 的关联 id、method 名字与 body 打包成
// 一个待加密的帧。id 原样嵌入帧头,期望对端在其回复里原样带回,这样
// HandleControlReply 才能把解密后的回复认领回正确的 pendingCtl——这是
// 跨 wire 的关联契约的一部分,具体回复帧如何解析出这个 id 留给调用方
// （通常是 overlay/transport 的入站解码路径）。
func encodeControlFrame(id uint64, method string, body []byte) []byte {
	out := make([]byte, 0, 8+1+len(method)+len(body))
	var idBuf [8]byte
	for i := 0; i < 8; i++ {
		idBuf[i] = byte(id >> (8 * i))
	}
	out = append(out, idBuf[:]...)
	out = append(out, byte(len(method)))
	out = append(out, method...)
	out = append(out, body...)
	return out
}

func encodeFindIntro(location types.NodeID, isRelayed bool, order uint64) []byte {
	out := make([]byte, 0, 32+1+8)
	out = append(out, location[:]...)
	if isRelayed {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	var o [8]byte
	for i := 0; i < 8; i++ {
		o[i] = byte(order >> (8 * i))
	}
	return append(out, o[:]...)
}
