// Package pathctx 实现 spec §4.G 的 Path Context：节点范围内"自己的
// 路径"与"为别人中转的跳"两份权威注册表，外加按源 IP 的建路限速。
//
// 直接对应原始 C++ 实现里的 llarp::path::PathContext：own_paths /
// transit_hops 两张双重注册的 map，以及一个衰减集合做限速。
package pathctx

import (
	"errors"
	"net/netip"
	"sync"
	"time"

	"github.com/dr7ana/lokinet/internal/overlay/path"
	"github.com/dr7ana/lokinet/pkg/lib/log"
	"github.com/dr7ana/lokinet/pkg/types"
)

var logger = log.Logger("overlay/pathctx")

// ErrHopIDCollision 表示试图注册一个已经存在的跳 ID（spec §4.G
// "put_transit_hop: reject on id collision"）。
var ErrHopIDCollision = errors.New("pathctx: hop id collision")

// defaultRateLimitWindow 是每 IP 建路限速衰减集合的默认窗口
// （spec §5 "per-IP build rate-limit window 500 ms"）。
const defaultRateLimitWindow = 500 * time.Millisecond

// TransitHop 是 spec §3 "a hop the local node serves on someone else's
// path" 的内存表示。
type TransitHop struct {
	Upstream   types.NodeID
	Downstream types.NodeID
	RxID       path.HopID
	TxID       path.HopID
	Key        [32]byte
	Lifetime   time.Duration
	buildStarted time.Time
}

// IsExpired 报告该中转跳是否已超出其生存期。
func (h *TransitHop) IsExpired(now time.Time) bool {
	return now.After(h.buildStarted.Add(h.Lifetime))
}

// PathOwner 是拥有路径集合的上层句柄（Path Handler/builder），
// AddOwnPath 会把新路径挂到它上面（spec §4.G "attach to handler"）。
type PathOwner interface {
	AddPath(p *path.Path)
}

type transitKey struct {
	rid types.NodeID
	hop path.HopID
}

// decayingSet 是一个固定窗口的去重集合：Insert 在窗口内重复插入同一
// 键时返回 false；Decay 清理过期条目（spec §4.G "decays per-IP
// rate-limit set"）。
type decayingSet struct {
	window time.Duration
	seen   map[netip.Addr]time.Time
}

func newDecayingSet(window time.Duration) *decayingSet {
	if window <= 0 {
		window = defaultRateLimitWindow
	}
	return &decayingSet{window: window, seen: make(map[netip.Addr]time.Time)}
}

func (s *decayingSet) Insert(now time.Time, addr netip.Addr) bool {
	if until, ok := s.seen[addr]; ok && now.Before(until) {
		return false
	}
	s.seen[addr] = now.Add(s.window)
	return true
}

func (s *decayingSet) Decay(now time.Time) {
	for addr, until := range s.seen {
		if !now.Before(until) {
			delete(s.seen, addr)
		}
	}
}

// Context 是 spec §4.G 的 Path Context：本地节点上"自己的路径"与
// "转发给别人的跳"的权威注册表。
type Context struct {
	ourRouterID types.NodeID
	allowTransit bool
	// testnet 为 true 时禁用按 IP 的建路限速检查
	// （spec §4.G "In test builds the check is disabled"）。
	testnet bool

	mu          sync.Mutex
	ownPaths    map[path.HopID]*path.Path
	transitHops map[transitKey]*TransitHop
	pathLimits  *decayingSet
}

// New 创建一个空的 Path Context。ourRouterID 用于 HopIsUs/OurRouterID；
// testnet 对应 spec 的测试构建开关。
func New(ourRouterID types.NodeID, testnet bool) *Context {
	return &Context{
		ourRouterID: ourRouterID,
		testnet:     testnet,
		ownPaths:    make(map[path.HopID]*path.Path),
		transitHops: make(map[transitKey]*TransitHop),
		pathLimits:  newDecayingSet(defaultRateLimitWindow),
	}
}

// AllowTransit 打开为他人中转路径的能力。
func (c *Context) AllowTransit() {
	c.mu.Lock()
	c.allowTransit = true
	c.mu.Unlock()
}

// IsTransitAllowed 报告本节点当前是否接受充当中转跳。
func (c *Context) IsTransitAllowed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.allowTransit
}

// HopIsUs 报告给定 RID 是否就是本路由器自身。
func (c *Context) HopIsUs(rid types.NodeID) bool {
	return c.ourRouterID.Equal(rid)
}

// OurRouterID 返回本地路由器 ID。
func (c *Context) OurRouterID() types.NodeID {
	return c.ourRouterID
}

// AddOwnPath 把 p 按其首跳的 RX/TX 两个 ID 注册进 own_paths，并挂到
// owner 上（spec §4.G "register under both ids; attach to handler"）。
func (c *Context) AddOwnPath(owner PathOwner, p *path.Path) {
	owner.AddPath(p)
	c.mu.Lock()
	c.ownPaths[p.UpstreamTxID()] = p
	c.ownPaths[p.UpstreamRxID()] = p
	c.mu.Unlock()
}

// PutTransitHop 按 (downstream, rx) 与 (upstream, tx) 双重注册一个中转
// 跳；任一键已存在即视为冲突并拒绝（spec §4.G "reject on id collision
// (invariant: hop IDs globally unique within the local node)"）。
func (c *Context) PutTransitHop(hop *TransitHop) error {
	down := transitKey{rid: hop.Downstream, hop: hop.RxID}
	up := transitKey{rid: hop.Upstream, hop: hop.TxID}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.transitHops[down]; exists {
		return ErrHopIDCollision
	}
	if _, exists := c.transitHops[up]; exists {
		return ErrHopIDCollision
	}
	c.transitHops[down] = hop
	c.transitHops[up] = hop
	return nil
}

// GetTransitHop 查找 (rid, hopID) 对应的中转跳。
func (c *Context) GetTransitHop(rid types.NodeID, hopID path.HopID) (*TransitHop, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.transitHops[transitKey{rid: rid, hop: hopID}]
	return h, ok
}

// GetPath 按 hopID 查找本地拥有的路径。
func (c *Context) GetPath(hopID path.HopID) (*path.Path, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.ownPaths[hopID]
	return p, ok
}

// FindOwnedPathsWithEndpoint 返回所有 pivot 为 rid 且已就绪的自有路径
// （spec §4.G "deduplicates by scanning only one of the two
// registrations (the RX side)"）。
func (c *Context) FindOwnedPathsWithEndpoint(now time.Time, rid types.NodeID) []*path.Path {
	c.mu.Lock()
	defer c.mu.Unlock()

	var found []*path.Path
	for hopID, p := range c.ownPaths {
		if hopID != p.UpstreamRxID() {
			continue
		}
		if p.PivotRID().Equal(rid) && p.IsReadyAt(now) {
			found = append(found, p)
		}
	}
	return found
}

// CurrentTransitPaths 返回当前中转跳数量；由于双重注册,结果是底层
// map 大小的一半（spec §4.G）。
func (c *Context) CurrentTransitPaths() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.transitHops) / 2
}

// CheckPathLimitHitByIP 把 ip（去掉端口）插入衰减集合；插入失败（命中
// 限速窗口内的重复）返回 true。testnet 构建下始终返回 false
// （spec §4.G）。
func (c *Context) CheckPathLimitHitByIP(now time.Time, ip netip.Addr) bool {
	if c.testnet {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.pathLimits.Insert(now, ip)
}

// ExpirePaths 衰减限速集合，并清除已过期的中转跳与自有路径
// （spec §13 "transit hop decay independent of owned-path decay": 两个
// 扫描保持独立循环，而不是合并成一个通用扫描）。
func (c *Context) ExpirePaths(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pathLimits.Decay(now)

	transitExpired, ownExpired := 0, 0
	for key, hop := range c.transitHops {
		if hop.IsExpired(now) {
			delete(c.transitHops, key)
			transitExpired++
		}
	}

	for hopID, p := range c.ownPaths {
		if p.IsExpired(now) {
			delete(c.ownPaths, hopID)
			ownExpired++
		}
	}

	if transitExpired > 0 || ownExpired > 0 {
		logger.Debug("expired paths", "transit_hops", transitExpired, "own_path_entries", ownExpired)
	}
}

// NewTransitHop 是一个便于测试/调用方构造 TransitHop 的辅助函数，填入
// buildStarted=now。
func NewTransitHop(upstream, downstream types.NodeID, rx, tx path.HopID, key [32]byte, lifetime time.Duration, now time.Time) *TransitHop {
	return &TransitHop{
		Upstream:     upstream,
		Downstream:   downstream,
		RxID:         rx,
		TxID:         tx,
		Key:          key,
		Lifetime:     lifetime,
		buildStarted: now,
	}
}
