// Package remote 实现 spec §4.I 的 Remote Handler：借助某个 Path
// Handler 已经维持的路径集合做名字/引入集合的扇出查找,并驱动会话建立
// 与地址映射。
//
// 对应原始 C++ 实现里的 RemoteHandler：resolve_ons、lookup_intro、
// initiate_session、map_remote_to_local_addr/range 及其逆映射。
package remote

import (
	"errors"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/dr7ana/lokinet/internal/overlay/introset"
	"github.com/dr7ana/lokinet/internal/overlay/keyspace"
	"github.com/dr7ana/lokinet/internal/overlay/loop"
	"github.com/dr7ana/lokinet/internal/overlay/path"
	"github.com/dr7ana/lokinet/internal/overlay/pathbuilder"
	"github.com/dr7ana/lokinet/pkg/lib/log"
	"github.com/dr7ana/lokinet/pkg/types"
)

var logger = log.Logger("overlay/remote")

// ErrExitToServiceNode 表示同时请求 exit 会话与 service-node 会话，
// 两者互斥（spec §4.I "initiate_session: rejects is_exit ∧ is_snode"）。
var ErrExitToServiceNode = errors.New("remote: cannot initiate exit session to a service node")

// NetworkAddress 复用 types.NodeID 作为对外暴露的客户端地址表示——spec
// 未给这个概念单独的结构,它在 §3 的 RC/ISet 模型之外没有新字段，本包
// 直接借用已经存在的 256 位键类型。
type NetworkAddress = types.NodeID

// ONSDecrypter 尝试用查询时使用的明文名字解密一条 find_name 回复的
// 原始载荷,得到对应的客户端地址。载荷的具体编码（ONS 加密记录的字节
// 布局）是 spec §1 范围外的外部契约,这里只消费结果。
type ONSDecrypter func(name string, body []byte) (NetworkAddress, bool)

// IntroSetDecoder 把一条 find_intro 回复的原始载荷解析成 ISet 结构；
// wire 编码本身同样是 spec §1 声明的外部依赖。
type IntroSetDecoder func(body []byte) (*introset.IntroSet, bool)

// NameValidator 报告一个查询名字是否语法合法（spec §4.I "validates name
// syntax"）。DefaultNameValidator 提供一个宽松的默认实现。
type NameValidator func(name string) bool

// DefaultNameValidator 接受非空、仅含小写字母数字与连字符/点号、以
// ".loki" 结尾的名字——跟 Lokinet 生态里 ONS 名字的一般约定一致。
func DefaultNameValidator(name string) bool {
	if name == "" || !strings.HasSuffix(name, ".loki") {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '.':
		default:
			return false
		}
	}
	return true
}

// Config 配置一个 Handler。
type Config struct {
	ValidateName    NameValidator
	DecryptONS      ONSDecrypter
	DecodeIntroSet  IntroSetDecoder
	DecryptIntroSet introset.Decrypter
	// Timeout 是单次路径控制 RPC 的超时（原样传给 path；为 0 时请求在
	// 下一次 Path.Tick 即超时）。
	Timeout time.Duration
	Seal    path.SealFunc
}

// Handler 实现 spec §4.I 的 Remote Handler。它没有自己的路径集合——
// 查找要借用的路径来自注入的 Builder（通常与本 Handler 共享同一个
// overlay/pathbuilder.Builder 实例）。
type Handler struct {
	name    string
	loop    *loop.Loop
	builder *pathbuilder.Builder

	validateName    NameValidator
	decryptONS      ONSDecrypter
	decodeIntroSet  IntroSetDecoder
	decryptIntroSet introset.Decrypter
	timeout         time.Duration
	seal            path.SealFunc

	mu         sync.Mutex
	addressMap map[netip.Addr]NetworkAddress
	addressInv map[NetworkAddress]netip.Addr
	rangeMap   map[netip.Prefix]NetworkAddress
	rangeInv   map[NetworkAddress]netip.Prefix
}

// New 创建一个 Remote Handler，name 仅用于日志（spec §4.I 没有给它单独
// 的身份,借用调用方传入的可读名字，跟 RemoteHandler::_name 一致）。
func New(name string, l *loop.Loop, builder *pathbuilder.Builder, cfg Config) *Handler {
	validate := cfg.ValidateName
	if validate == nil {
		validate = DefaultNameValidator
	}
	return &Handler{
		name:            name,
		loop:            l,
		builder:         builder,
		validateName:    validate,
		decryptONS:      cfg.DecryptONS,
		decodeIntroSet:  cfg.DecodeIntroSet,
		decryptIntroSet: cfg.DecryptIntroSet,
		timeout:         cfg.Timeout,
		seal:            cfg.Seal,
		addressMap:      make(map[netip.Addr]NetworkAddress),
		addressInv:      make(map[NetworkAddress]netip.Addr),
		rangeMap:        make(map[netip.Prefix]NetworkAddress),
		rangeInv:        make(map[NetworkAddress]netip.Prefix),
	}
}

// ResolveONS 实现 spec §4.I "resolve_ons(name, cb)"：校验语法后,对每条
// 当前建立好的路径并行发起名字查询；第一个在查询名字下成功解密的响应
// 解析回调,其余（包括超时）被忽略。全部失败时以 found=false 调用 cb。
func (h *Handler) ResolveONS(name string, cb func(addr NetworkAddress, found bool)) {
	if !h.validateName(name) {
		logger.Debug("invalid ONS name queried", "name", name)
		cb(NetworkAddress{}, false)
		return
	}

	paths := h.builder.Paths()
	logger.Info("resolving ONS name", "handler", h.name, "name", name, "fanout", len(paths))

	if len(paths) == 0 {
		cb(NetworkAddress{}, false)
		return
	}

	var (
		mu      sync.Mutex
		done    bool
		pending = len(paths)
	)

	finish := func(addr NetworkAddress, found bool) {
		mu.Lock()
		defer mu.Unlock()
		if done {
			return
		}
		pending--
		if found {
			done = true
			cb(addr, true)
			return
		}
		if pending == 0 {
			done = true
			cb(NetworkAddress{}, false)
		}
	}

	now := h.loop.Now()
	for _, p := range paths {
		if !p.IsReadyAt(now) {
			finish(NetworkAddress{}, false)
			continue
		}
		reply := func(body []byte, timedOut bool) {
			if timedOut || h.decryptONS == nil {
				finish(NetworkAddress{}, false)
				return
			}
			addr, ok := h.decryptONS(name, body)
			finish(addr, ok)
		}
		if err := p.ResolveONS(now, h.timeout, h.seal, name, reply); err != nil {
			finish(NetworkAddress{}, false)
		}
	}
}

// LookupIntro 实现 spec §4.I "lookup_intro(remote, is_relayed, order,
// cb)"：同样的扇出逻辑,以 K(remote) 为查找键。
func (h *Handler) LookupIntro(remote types.NodeID, isRelayed bool, order uint64, cb func(*introset.IntroSet, bool)) {
	remoteKey := keyspace.DeriveFromRID(remote)
	paths := h.builder.Paths()
	logger.Info("looking up introset", "handler", h.name, "remote", remote.ShortString(), "fanout", len(paths))

	if len(paths) == 0 {
		cb(nil, false)
		return
	}

	var (
		mu      sync.Mutex
		done    bool
		pending = len(paths)
	)

	finish := func(is *introset.IntroSet, found bool) {
		mu.Lock()
		defer mu.Unlock()
		if done {
			return
		}
		pending--
		if found {
			done = true
			cb(is, true)
			return
		}
		if pending == 0 {
			done = true
			cb(nil, false)
		}
	}

	now := h.loop.Now()
	for _, p := range paths {
		if !p.IsReadyAt(now) {
			finish(nil, false)
			continue
		}
		reply := func(body []byte, timedOut bool) {
			if timedOut || h.decodeIntroSet == nil {
				finish(nil, false)
				return
			}
			is, ok := h.decodeIntroSet(body)
			if !ok {
				finish(nil, false)
				return
			}
			if h.decryptIntroSet != nil {
				if _, err := introset.Decrypt(is, remote.String(), now, h.decryptIntroSet); err != nil {
					finish(nil, false)
					return
				}
			}
			finish(is, true)
		}
		if err := p.FindIntro(now, h.timeout, h.seal, remoteKey, isRelayed, order, reply); err != nil {
			finish(nil, false)
		}
	}
}

// InitiateSession 实现 spec §4.I "initiate_session(remote, is_exit,
// is_snode)"：拒绝 is_exit ∧ is_snode,否则在事件循环上安排一次引入集合
// 查找,成功后会话协商的具体细节超出本包范围（spec §4.I "on success
// negotiates a session (out of scope for this spec)"）。
func (h *Handler) InitiateSession(remote types.NodeID, isExit, isSnode bool) error {
	if isExit && isSnode {
		return ErrExitToServiceNode
	}

	h.loop.CallSoon(nil, func() {
		h.LookupIntro(remote, false, 0, func(is *introset.IntroSet, found bool) {
			if !found {
				logger.Debug("initiate_session: introset lookup failed", "remote", remote.ShortString())
				return
			}
			logger.Debug("initiate_session: introset resolved, session negotiation out of scope", "remote", remote.ShortString())
		})
	})
	return nil
}

// MapRemoteToLocalAddr/UnmapLocalAddrByRemote 实现 spec §4.I 的地址位图
// 互逆映射（一侧修改,另一侧同步更新,保证双向查找始终一致）。
func (h *Handler) MapRemoteToLocalAddr(remote NetworkAddress, local netip.Addr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if oldLocal, ok := h.addressInv[remote]; ok {
		delete(h.addressMap, oldLocal)
	}
	if oldRemote, ok := h.addressMap[local]; ok {
		delete(h.addressInv, oldRemote)
	}
	h.addressMap[local] = remote
	h.addressInv[remote] = local
}

func (h *Handler) UnmapLocalAddrByRemote(remote NetworkAddress) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if local, ok := h.addressInv[remote]; ok {
		delete(h.addressMap, local)
		delete(h.addressInv, remote)
	}
}

// LocalAddrForRemote 是地址位图的读侧查询,供流量面在发包时把远端地址
// 翻译成本地分配的地址。
func (h *Handler) LocalAddrForRemote(remote NetworkAddress) (netip.Addr, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	local, ok := h.addressInv[remote]
	return local, ok
}

// RemoteForLocalAddr 是上一个方法的逆查询。
func (h *Handler) RemoteForLocalAddr(local netip.Addr) (NetworkAddress, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	remote, ok := h.addressMap[local]
	return remote, ok
}

// MapRemoteToLocalRange/UnmapLocalRangeByRemote 是同一套互逆映射，作用
// 于 exit 流量用到的整段地址范围而不是单一地址。
func (h *Handler) MapRemoteToLocalRange(remote NetworkAddress, r netip.Prefix) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if oldRange, ok := h.rangeInv[remote]; ok {
		delete(h.rangeMap, oldRange)
	}
	if oldRemote, ok := h.rangeMap[r]; ok {
		delete(h.rangeInv, oldRemote)
	}
	h.rangeMap[r] = remote
	h.rangeInv[remote] = r
}

func (h *Handler) UnmapLocalRangeByRemote(remote NetworkAddress) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rangeInv[remote]; ok {
		delete(h.rangeMap, r)
		delete(h.rangeInv, remote)
	}
}
