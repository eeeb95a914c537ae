// Package router 把 internal/overlay 下的各个组件装配成一个可运行的
// 覆盖网络节点，对应 spec §6 的 configure/setup/run/close_async 生命周期。
//
// 装配顺序沿用 internal/app.Bootstrap 一贯的分层思路（先基础设施，再
// 传输，再上层协议），但层次本身换成了覆盖网络自己的依赖图：
// 身份/存储 -> Node DB -> DHT Message Handler -> Path Context/Builder
// -> Remote Handler -> Transport。
package router

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dr7ana/lokinet/config"
	"github.com/dr7ana/lokinet/internal/core/identity"
	"github.com/dr7ana/lokinet/internal/core/storage/engine"
	"github.com/dr7ana/lokinet/internal/core/storage/engine/badger"
	"github.com/dr7ana/lokinet/internal/core/storage/kv"
	"github.com/dr7ana/lokinet/internal/overlay/dhtmsg"
	"github.com/dr7ana/lokinet/internal/overlay/introset"
	"github.com/dr7ana/lokinet/internal/overlay/loop"
	"github.com/dr7ana/lokinet/internal/overlay/nodedb"
	"github.com/dr7ana/lokinet/internal/overlay/pathbuilder"
	"github.com/dr7ana/lokinet/internal/overlay/pathctx"
	"github.com/dr7ana/lokinet/internal/overlay/rc"
	"github.com/dr7ana/lokinet/internal/overlay/remote"
	"github.com/dr7ana/lokinet/internal/overlay/transport"
	identityif "github.com/dr7ana/lokinet/pkg/interfaces/identity"
	"github.com/dr7ana/lokinet/pkg/lib/log"
	"github.com/dr7ana/lokinet/pkg/types"
)

var logger = log.Logger("overlay/router")

// Router 是一个完全装配好的覆盖网络节点：事件循环 + Node DB + DHT
// Message Handler + Path Context/Builder + Remote Handler + Transport。
// 它的方法都只能在构造它的 goroutine 或 loop 上调用之前调用；一旦
// Start 完成，所有状态变更都经 loop.CallSoon 串行化。
type Router struct {
	cfg *config.Config

	loop     *loop.Loop
	identity identityif.Identity

	engine engine.InternalEngine

	nodeStore *kv.Store
	isetStore *introset.Store

	nodeDB    *nodedb.NodeDB
	dht       *dhtmsg.Handler
	pathCtx   *pathctx.Context
	builder   *pathbuilder.Builder
	remote    *remote.Handler
	transport *transport.Transport

	bootstrapPeers []string

	stopPathTick func()
}

// New 按 cfg 装配一个尚未启动的 Router：加载/生成身份密钥、打开磁盘
// 存储、构造 Node DB/DHT Handler/Path Context/Builder/Remote Handler，
// 但不监听网络、不安排清理 tick（由 Start 完成）。
func New(cfg *config.Config) (*Router, error) {
	if cfg == nil {
		return nil, fmt.Errorf("router: nil config")
	}

	ident, err := loadOrGenerateIdentity(cfg.Identity)
	if err != nil {
		return nil, fmt.Errorf("router: identity: %w", err)
	}
	ourKey := ident.ID()

	eng, err := badger.New(&engine.Config{
		Path:       cfg.Storage.DBPath(),
		SyncWrites: false,
	})
	if err != nil {
		return nil, fmt.Errorf("router: open storage engine: %w", err)
	}

	nodeStore := kv.New(eng, []byte("nodedb/"))
	isetStore := introset.NewStore(kv.New(eng, []byte("introset/")))

	l := loop.New(nil)

	checker := func(contact *rc.RouterContact, now time.Time) error {
		if !contact.IsLive(now) {
			return rc.ErrExpired
		}
		return nil
	}
	diskQueue := func(fn func()) { go fn() }

	db := nodedb.New(l, nodeStore, diskQueue, checker)

	dht := dhtmsg.New(l, db)
	dht.SetStore(isetStore)

	pctx := pathctx.New(ourKey, cfg.Overlay.Testnet)

	builder := pathbuilder.New(db, pctx, pathbuilder.Config{
		TargetPaths: cfg.Overlay.TargetPaths,
		HopLength:   cfg.Overlay.HopLength,
	})

	remoteHandler := remote.New("default", l, builder, remote.Config{
		Timeout: time.Duration(cfg.Overlay.TXTimeout),
	})

	tp, err := transport.NewWithConfig(l, ident, cfg.Transport.QUIC.ToTransportConfig())
	if err != nil {
		return nil, fmt.Errorf("router: transport: %w", err)
	}

	r := &Router{
		cfg:            cfg,
		loop:           l,
		identity:       ident,
		engine:         eng,
		nodeStore:      nodeStore,
		isetStore:      isetStore,
		nodeDB:         db,
		dht:            dht,
		pathCtx:        pctx,
		builder:        builder,
		remote:         remoteHandler,
		transport:      tp,
		bootstrapPeers: cfg.Discovery.Bootstrap.Peers,
	}

	dht.SendTo = r.sendDHTMessage
	tp.SetInboundHandler(r.handleInbound)

	return r, nil
}

// Identity 返回本节点的身份。
func (r *Router) Identity() identityif.Identity { return r.identity }

// NodeDB 返回本节点的 Node DB（供测试/诊断用途直接检视状态）。
func (r *Router) NodeDB() *nodedb.NodeDB { return r.nodeDB }

// DHT 返回 DHT Message Handler。
func (r *Router) DHT() *dhtmsg.Handler { return r.dht }

// PathContext 返回 Path Context。
func (r *Router) PathContext() *pathctx.Context { return r.pathCtx }

// Builder 返回 Path Handler/Builder。
func (r *Router) Builder() *pathbuilder.Builder { return r.builder }

// Remote 返回 Remote Handler。
func (r *Router) Remote() *remote.Handler { return r.remote }

// Start 实现 spec §6 "setup" + "run" 的网络可见部分：从磁盘恢复已知
// RC，监听传输层，安排清理/建路 tick，并经种子路由器发起首轮以本节点
// RID 为目标的递归路由器查找（§4.E Scenario 5）。
func (r *Router) Start(ctx context.Context) error {
	now := r.loop.Now()
	if err := r.nodeDB.LoadAll(now); err != nil {
		logger.Warn("failed to load persisted node db", "err", err)
	}

	r.dht.Init(r.identity.ID())

	if err := r.transport.Listen(r.cfg.Overlay.ListenAddr); err != nil {
		return fmt.Errorf("router: listen: %w", err)
	}

	r.stopPathTick = r.loop.CallEvery(1*time.Second, func() {
		now := r.loop.Now()
		r.pathCtx.ExpirePaths(now)
		r.builder.Tick(now)
		if r.builder.ShouldBuildMore(now) {
			r.builder.BuildMore(now, 1)
		}
	})

	for _, addr := range r.bootstrapPeers {
		r.bootstrapFrom(ctx, addr)
	}

	logger.Info("router started", "rid", r.identity.ID().ShortString(), "listen", r.cfg.Overlay.ListenAddr)
	return nil
}

// Close 实现 spec §6 "close_async"：停止周期性 tick，关闭传输层与磁盘
// 存储引擎。幂等，可安全多次调用。
func (r *Router) Close(ctx context.Context) error {
	if r.stopPathTick != nil {
		r.stopPathTick()
	}
	r.dht.Shutdown()

	if err := r.transport.Shutdown(); err != nil {
		logger.Warn("transport shutdown error", "err", err)
	}
	if err := r.engine.Close(); err != nil {
		return fmt.Errorf("router: close storage: %w", err)
	}
	return nil
}

// handleInbound 把 transport 投递的原始帧解码为 dhtmsg.Message 并交给
// DHT Handler 处理，再把产生的回复编码回去（spec §6 "an inbound
// callback delivering framed messages with source RID"）。始终在
// loop 上执行，tp.SetInboundHandler 注册的回调本身已经经 CallSoon
// 投递，这里不需要再次调度。
func (r *Router) handleInbound(from types.NodeID, buf []byte) {
	for len(buf) > 0 {
		msg, rest, err := dhtmsg.DecodeMessage(buf)
		if err != nil {
			logger.Warn("dropping malformed inbound frame", "from", from.ShortString(), "err", err)
			return
		}
		buf = rest

		replies, ok := r.dht.HandleMessage(msg, from)
		if !ok {
			continue
		}
		for _, reply := range replies {
			r.sendDHTMessage(from, reply)
		}
	}
}

// sendDHTMessage 实现 dhtmsg.SendFunc：编码一条消息并通过 send_control
// 发给 peer，顺带把该会话保活（spec §4.E "keep the session with that
// peer alive"）。
func (r *Router) sendDHTMessage(peer types.NodeID, msg dhtmsg.Message) {
	encoded, err := dhtmsg.EncodeMessage(msg)
	if err != nil {
		logger.Warn("failed to encode outbound dht message", "peer", peer.ShortString(), "err", err)
		return
	}
	if err := r.transport.SendControl(peer, encoded); err != nil {
		logger.Debug("send_control failed", "peer", peer.ShortString(), "err", err)
		return
	}
	r.transport.PersistUntil(peer, r.loop.Now().Add(10*time.Second))
}

// bootstrapFrom 向一个种子路由器地址拨号，并经它发起一次以本节点 RID
// 为目标的递归路由器查找，
// 让本节点的 Node DB 从空状态开始填充（spec §4.E Scenario 5
// "Bootstrap from seed nodes"）。
func (r *Router) bootstrapFrom(ctx context.Context, addr string) {
	dialCtx, cancel := context.WithTimeout(ctx, time.Duration(r.cfg.Transport.DialTimeout))
	defer cancel()

	// 种子地址尚未关联 RID：先用零值占位拨号，真实 RID 在握手完成后由
	// transport.Connect 的对端证书校验得到，随后的递归路由器查找直接
	// 针对已建立的会话进行。
	conn, err := r.transport.Connect(dialCtx, types.EmptyNodeID, addr)
	if err != nil {
		logger.Warn("bootstrap dial failed", "addr", addr, "err", err)
		return
	}

	seed := conn.RID()
	r.loop.CallSoon(nil, func() {
		r.dht.LookupRouterRecursive(r.identity.ID(), r.identity.ID(), 0, seed, func(*rc.RouterContact, bool) {})
	})
}

func loadOrGenerateIdentity(cfg config.IdentityConfig) (identityif.Identity, error) {
	if cfg.KeyFile != "" {
		if priv, err := identity.LoadPrivateKeyPEM(cfg.KeyFile); err == nil {
			return identity.NewIdentity(priv), nil
		} else if !cfg.AutoGenerate {
			return nil, err
		}
	}

	priv, pub, err := identity.GenerateEd25519KeyPair()
	if err != nil {
		return nil, err
	}
	if cfg.KeyFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.KeyFile), 0700); err != nil {
			return nil, err
		}
		if err := identity.SavePrivateKeyPEM(priv, cfg.KeyFile); err != nil {
			return nil, err
		}
	}
	return identity.NewIdentityFromKeyPair(priv, pub), nil
}
