// Package pathbuilder 实现 spec §4.H 的 Path Handler (builder)：为某个
// 消费者（ONS 查找、exit、隐藏服务）维持一批就绪路径。
//
// 对应原始 C++ 实现里 RemoteHandler 继承自的 path::PathHandler 基类角色——
// 该基类本身不在可查阅的源码范围内，这里按 spec §4.H 逐条协议描述重建：build_more、
// get_hops_for_build、urgent_build/should_build_more、
// handle_path_built/handle_path_died。
package pathbuilder

import (
	"sync"
	"time"

	"github.com/dr7ana/lokinet/internal/overlay/nodedb"
	"github.com/dr7ana/lokinet/internal/overlay/path"
	"github.com/dr7ana/lokinet/internal/overlay/pathctx"
	"github.com/dr7ana/lokinet/internal/overlay/rc"
	"github.com/dr7ana/lokinet/pkg/lib/log"
	"github.com/dr7ana/lokinet/pkg/types"
)

var logger = log.Logger("overlay/pathbuilder")

// DefaultHopLength 是未配置跳数时使用的默认值（spec §4.H "hop length
// (default 3)"）。
const DefaultHopLength = 3

// hopPoolFactor 控制 get_hops_for_build 从 Node DB 取样的候选池大小：
// hopLength * hopPoolFactor,留出余量给黑名单过滤与 pivot 条件筛选。
const hopPoolFactor = 4

// BuildFunc 执行一次实际的电路建立（逐跳握手、密钥交换），并异步地把
// 结果投递给 onResult；本包只负责挑跳与驱动节奏,不实现握手协议本身
// （跟 overlay/path 的 SealFunc/OpenFunc 一样,是 spec §1 "raw
// cryptographic primitives ... assumed available" 范围外的注入点）。
type BuildFunc func(hops []*rc.RouterContact, now time.Time, onResult func(*path.Path, error))

// Config 是构造一个 Builder 所需的参数（spec §4.H "Parameters: target
// path count, hop length (default 3), path role flags"）。
type Config struct {
	TargetPaths int
	HopLength   int
	// Blacklist 报告一个 RID 是否因本地黑名单被排除出跳选择。
	Blacklist func(types.NodeID) bool
	// PivotCriteria 非 nil 时,get_hops_for_build 挑出的最后一跳（pivot）
	// 必须满足它（spec §4.H "e.g. equal to an exit RID"）。
	PivotCriteria func(types.NodeID) bool
	Build         BuildFunc
}

// Builder 是 spec §4.H 的 Path Handler：维持 targetPaths 条就绪路径。
type Builder struct {
	nodeDB *nodedb.NodeDB
	ctx    *pathctx.Context

	targetPaths   int
	hopLength     int
	blacklist     func(types.NodeID) bool
	pivotCriteria func(types.NodeID) bool
	build         BuildFunc

	// pathsMu 是 spec §5 明确点名的唯一例外：一把读写锁,保护从入站
	// 传输回调中被迭代的 _paths map。
	pathsMu sync.RWMutex
	paths   map[types.NodeID]*path.Path // keyed by pivot RID

	inFlight int
}

// New 创建一个尚无路径的 Builder。hopLength<=0 时取 DefaultHopLength。
func New(db *nodedb.NodeDB, ctx *pathctx.Context, cfg Config) *Builder {
	hopLen := cfg.HopLength
	if hopLen <= 0 {
		hopLen = DefaultHopLength
	}
	return &Builder{
		nodeDB:        db,
		ctx:           ctx,
		targetPaths:   cfg.TargetPaths,
		hopLength:     hopLen,
		blacklist:     cfg.Blacklist,
		pivotCriteria: cfg.PivotCriteria,
		build:         cfg.Build,
		paths:         make(map[types.NodeID]*path.Path),
	}
}

// AddPath 实现 pathctx.PathOwner；pathctx.AddOwnPath 调用它把路径挂到
// 本 builder 的 _paths 上（按 pivot RID 索引）。
func (b *Builder) AddPath(p *path.Path) {
	b.pathsMu.Lock()
	defer b.pathsMu.Unlock()
	b.paths[p.PivotRID()] = p
}

// Paths 返回当前挂在本 builder 上的全部路径快照（供 RemoteHandler 之类
// 的消费者做扇出）。
func (b *Builder) Paths() []*path.Path {
	b.pathsMu.RLock()
	defer b.pathsMu.RUnlock()
	out := make([]*path.Path, 0, len(b.paths))
	for _, p := range b.paths {
		out = append(out, p)
	}
	return out
}

// ReadyCount 返回当前就绪（非 BUILDING、非终态、未临近到期)的路径数量。
func (b *Builder) ReadyCount(now time.Time) int {
	b.pathsMu.RLock()
	defer b.pathsMu.RUnlock()
	n := 0
	for _, p := range b.paths {
		if p.IsReadyAt(now) {
			n++
		}
	}
	return n
}

// GetHopsForBuild 实现 spec §4.H "get_hops_for_build() → Option<Vec<RC>>"：
// 从 Node DB 中选出 hopLength 个存活、不在黑名单、两两不同的 RC,并在配
// 置了 PivotCriteria 时把满足条件的那个放到末跳（pivot）位置。候选不足
// 时返回 ok=false。
func (b *Builder) GetHopsForBuild(now time.Time) (hops []*rc.RouterContact, ok bool) {
	pool := b.nodeDB.RandomLive(b.hopLength*hopPoolFactor, now, nil)

	filtered := make([]*rc.RouterContact, 0, len(pool))
	for _, candidate := range pool {
		if b.blacklist != nil && b.blacklist(candidate.RID) {
			continue
		}
		filtered = append(filtered, candidate)
	}
	if len(filtered) < b.hopLength {
		return nil, false
	}

	hops = filtered[:b.hopLength]
	if b.pivotCriteria == nil {
		return hops, true
	}

	pivotIdx := -1
	for i, h := range hops {
		if b.pivotCriteria(h.RID) {
			pivotIdx = i
			break
		}
	}
	if pivotIdx == -1 {
		for i := b.hopLength; i < len(filtered); i++ {
			if b.pivotCriteria(filtered[i].RID) {
				hops[b.hopLength-1] = filtered[i]
				pivotIdx = b.hopLength - 1
				break
			}
		}
	}
	if pivotIdx == -1 {
		return nil, false
	}
	hops[pivotIdx], hops[len(hops)-1] = hops[len(hops)-1], hops[pivotIdx]
	return hops, true
}

// buildPathToRandom 选跳并异步发起一次建路,返回该次建路是否成功发起
// （对应原始 C++ 实现里 build_path_to_random 的返回值语义：是否启动了
// 一次建路,而不是它是否最终建成）。
func (b *Builder) buildPathToRandom(now time.Time) bool {
	if b.build == nil {
		return false
	}
	hops, ok := b.GetHopsForBuild(now)
	if !ok {
		return false
	}

	b.inFlight++
	b.build(hops, now, func(p *path.Path, err error) {
		b.inFlight--
		if err != nil {
			logger.Debug("path build failed", "err", err)
			return
		}
		if p == nil {
			return
		}
		b.HandlePathBuilt(p)
	})
	return true
}

// BuildMore 实现 spec §4.H "build_more(n): initiate n builds via
// build_path_to_random(); report count initiated."
func (b *Builder) BuildMore(now time.Time, n int) int {
	count := 0
	for i := 0; i < n; i++ {
		if b.buildPathToRandom(now) {
			count++
		}
	}
	if count == n {
		logger.Debug("initiated path builds", "count", count)
	} else {
		logger.Warn("only initiated some path builds", "initiated", count, "needed", n)
	}
	return count
}

// ShouldBuildMore 实现 spec §4.H "should_build_more(now)"：就绪路径数
// （含尚在建路中的）低于目标值时为 true。
func (b *Builder) ShouldBuildMore(now time.Time) bool {
	return b.ReadyCount(now)+b.inFlight < b.targetPaths
}

// UrgentBuild 实现 spec §4.H "urgent_build(now)"：比
// ShouldBuildMore 更严格,专指"当前一条可用路径都没有"的紧急情况,即使
// 已有建路在途也要额外尝试（保证至少有一条路径在建）。spec §13 把
// urgent_build 与 should_build_more 列为两个独立调用点,而不是合并成
// 一个通用的"需要更多路径吗"判断——二者触发的调用方节奏不同：
// should_build_more 驱动常规补充,urgent_build 驱动"完全没有可用路径"
// 时的加急重试。
func (b *Builder) UrgentBuild(now time.Time) bool {
	return b.ReadyCount(now) == 0
}

// HandlePathBuilt 实现 spec §4.H "handle_path_built(p)"：把新建成的路径
// 注册进 Path Context（同时经 AddPath 挂到本 builder 上）。
func (b *Builder) HandlePathBuilt(p *path.Path) {
	p.SetEstablished()
	b.ctx.AddOwnPath(b, p)
	logger.Debug("path built", "pivot", p.PivotRID().ShortString())
}

// HandlePathDied 实现 spec §4.H "handle_path_died(p)"：从本 builder 的
// _paths 中摘除;Path Context 侧的清除由其独立的过期扫描
// (pathctx.Context.ExpirePaths) 负责,这里不重复处理。
func (b *Builder) HandlePathDied(p *path.Path) {
	b.pathsMu.Lock()
	defer b.pathsMu.Unlock()
	if current, ok := b.paths[p.PivotRID()]; ok && current == p {
		delete(b.paths, p.PivotRID())
	}
	logger.Debug("path died", "pivot", p.PivotRID().ShortString())
}

// Tick 驱动建路节奏：紧急时先补一条,再按常规判断是否继续补到目标值
// （spec §4.H 两个驱动调用点的组合入口,供事件循环的周期性任务调用）。
func (b *Builder) Tick(now time.Time) {
	if b.UrgentBuild(now) {
		b.BuildMore(now, 1)
		return
	}
	if b.ShouldBuildMore(now) {
		deficit := b.targetPaths - b.ReadyCount(now) - b.inFlight
		if deficit > 0 {
			b.BuildMore(now, deficit)
		}
	}
}
