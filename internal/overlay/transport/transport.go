package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/dr7ana/lokinet/internal/overlay/loop"
	identityif "github.com/dr7ana/lokinet/pkg/interfaces/identity"
	"github.com/dr7ana/lokinet/pkg/lib/log"
	"github.com/dr7ana/lokinet/pkg/types"
)

var logger = log.Logger("overlay/transport")

// InboundHandler 消费带来源 RID 的入站帧（spec §6 "an inbound callback
// delivering framed messages with source RID"）。始终经由 loop.CallSoon
// 投递，从不在读 goroutine 上直接调用。
type InboundHandler func(rid types.NodeID, msg []byte)

// Conn 是到某个 RID 的一条已建立的 QUIC 会话。
type Conn struct {
	rid    types.NodeID
	q      quic.Connection
	opened time.Time
}

// RID 返回此连接对端的 RID。
func (c *Conn) RID() types.NodeID { return c.rid }

// Transport 实现 spec §6 的抽象传输契约：connect/accept/send_control/
// open_stream/close/persist_until，直接基于 quic-go；不复用
// internal/core/transport/quic（理由见 DESIGN.md）。
//
// send_control 通过 QUIC Datagram（不可靠、无队头阻塞）发送，
// open_stream 通过 QUIC Stream（可靠、有序）发送；为此 New 在
// quic.Config 中打开了 EnableDatagrams。
type Transport struct {
	loop     *loop.Loop
	identity identityif.Identity

	serverCfg *tls.Config
	clientCfg *tls.Config
	quicCfg   *quic.Config

	mu        sync.Mutex
	listener  *quic.Listener
	conns     map[types.NodeID]*Conn
	persistAt map[types.NodeID]time.Time

	onMessage InboundHandler
}

// Config 是构造 Transport 时使用的 QUIC 参数，由 config.TransportConfig
// 转换而来（spec §10 配置小节）。
type Config struct {
	MaxIdleTimeout        time.Duration
	KeepAlivePeriod       time.Duration
	MaxIncomingStreams    int64
	MaxIncomingUniStreams int64
}

// DefaultConfig 返回 New 此前硬编码使用的那组参数。
func DefaultConfig() Config {
	return Config{
		MaxIdleTimeout:        30 * time.Second,
		KeepAlivePeriod:       10 * time.Second,
		MaxIncomingStreams:    256,
		MaxIncomingUniStreams: 16,
	}
}

// New 创建一个尚未监听的 Transport，使用 DefaultConfig；identity 用于
// 派生自签名 TLS 证书（RC 里的 RID 与这里派生的证书 NodeID 是同一个
// 身份）。
func New(l *loop.Loop, identity identityif.Identity) (*Transport, error) {
	return NewWithConfig(l, identity, DefaultConfig())
}

// NewWithConfig 与 New 相同，但 QUIC 参数来自 cfg 而不是默认值
// （供 internal/overlay 的路由器装配按 config.TransportConfig.QUIC 构造）。
func NewWithConfig(l *loop.Loop, identity identityif.Identity, cfg Config) (*Transport, error) {
	server, client, err := generateTLSConfig(identity)
	if err != nil {
		return nil, err
	}
	return &Transport{
		loop:      l,
		identity:  identity,
		serverCfg: server,
		clientCfg: client,
		quicCfg: &quic.Config{
			MaxIdleTimeout:        cfg.MaxIdleTimeout,
			KeepAlivePeriod:       cfg.KeepAlivePeriod,
			MaxIncomingStreams:    cfg.MaxIncomingStreams,
			MaxIncomingUniStreams: cfg.MaxIncomingUniStreams,
			EnableDatagrams:       true,
		},
		conns:     make(map[types.NodeID]*Conn),
		persistAt: make(map[types.NodeID]time.Time),
	}, nil
}

// SetInboundHandler 注册入站帧回调，必须在 Listen 之前调用。
func (t *Transport) SetInboundHandler(fn InboundHandler) {
	t.onMessage = fn
}

// Listen 在 addr（"host:port" 形式）上监听入站 QUIC 会话，后台协程接受
// 连接并为每条会话启动一个 datagram 读循环。
func (t *Transport) Listen(addr string) error {
	ln, err := quic.ListenAddr(addr, t.serverCfg, t.quicCfg)
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	t.mu.Lock()
	t.listener = ln
	t.mu.Unlock()

	go t.acceptLoop(ln)
	return nil
}

func (t *Transport) acceptLoop(ln *quic.Listener) {
	for {
		qc, err := ln.Accept(context.Background())
		if err != nil {
			logger.Debug("accept loop exiting", "err", err)
			return
		}
		rid, err := extractNodeID(qc.ConnectionState().TLS)
		if err != nil {
			logger.Warn("rejecting inbound session without a valid RID", "err", err)
			_ = qc.CloseWithError(0, "invalid identity")
			continue
		}
		conn := &Conn{rid: rid, q: qc, opened: time.Now()}
		t.mu.Lock()
		t.conns[rid] = conn
		t.mu.Unlock()
		go t.readDatagrams(conn)
	}
}

func (t *Transport) readDatagrams(c *Conn) {
	for {
		msg, err := c.q.ReceiveDatagram(context.Background())
		if err != nil {
			t.mu.Lock()
			if t.conns[c.rid] == c {
				delete(t.conns, c.rid)
			}
			t.mu.Unlock()
			return
		}
		if t.onMessage != nil {
			rid := c.rid
			buf := append([]byte(nil), msg...)
			t.loop.CallSoon(nil, func() { t.onMessage(rid, buf) })
		}
	}
}

// Connect 实现 spec §6 "connect(rid) → conn"：返回既有会话，否则向 addr
// 拨号建立一条新的（addr 通常来自该 RID 的 RC.Addresses）。rid 为空时
// 接受对端证书给出的任意 RID，会话以该 RID 登记。
func (t *Transport) Connect(ctx context.Context, rid types.NodeID, addr string) (*Conn, error) {
	if c, ok := t.GetConn(rid); ok {
		return c, nil
	}

	qc, err := quic.DialAddr(ctx, addr, t.clientCfg, t.quicCfg)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	got, err := extractNodeID(qc.ConnectionState().TLS)
	if err != nil {
		_ = qc.CloseWithError(0, "invalid identity")
		return nil, err
	}
	if !rid.IsEmpty() && !got.Equal(rid) {
		_ = qc.CloseWithError(0, "unexpected identity")
		return nil, fmt.Errorf("transport: dialed %s but peer presented %s", rid.ShortString(), got.ShortString())
	}

	conn := &Conn{rid: got, q: qc, opened: time.Now()}
	t.mu.Lock()
	t.conns[got] = conn
	t.mu.Unlock()
	go t.readDatagrams(conn)
	return conn, nil
}

// GetConn 实现 spec §6 "accept(rid) → conn" 的查询面：返回已建立的会话
// （不论其最初是本端拨出还是对端拨入）。
func (t *Transport) GetConn(rid types.NodeID) (*Conn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.conns[rid]
	return c, ok
}

// SendControl 实现 spec §6 "send_control(rid, msg_bytes)"：通过不可靠
// datagram 发送已编码好的控制消息；调用方（overlay/dhtmsg）负责消息内部
// 的长度前缀/编码，这里只负责把字节送上线。
func (t *Transport) SendControl(rid types.NodeID, msg []byte) error {
	c, ok := t.GetConn(rid)
	if !ok {
		return fmt.Errorf("transport: no session to %s", rid.ShortString())
	}
	return c.q.SendDatagram(msg)
}

// OpenStream 实现 spec §6 "open_stream(conn) → stream"：一条可靠、有序的
// QUIC 流，用于路径建立/数据转发等需要流式语义的操作。
func (t *Transport) OpenStream(ctx context.Context, c *Conn) (quic.Stream, error) {
	return c.q.OpenStreamSync(ctx)
}

// Close 实现 spec §6 "close(conn)"。
func (t *Transport) Close(c *Conn) error {
	t.mu.Lock()
	if t.conns[c.rid] == c {
		delete(t.conns, c.rid)
	}
	delete(t.persistAt, c.rid)
	t.mu.Unlock()
	return c.q.CloseWithError(0, "closed")
}

// PersistUntil 实现 spec §6 "persist_until(rid, deadline)"：标记与 rid
// 的会话在 deadline 之前不应因空闲而被回收。
func (t *Transport) PersistUntil(rid types.NodeID, deadline time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.persistAt[rid]; !ok || deadline.After(cur) {
		t.persistAt[rid] = deadline
	}
}

// IsPersisted 报告 rid 的会话是否仍在 persist_until 窗口内。
func (t *Transport) IsPersisted(rid types.NodeID, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	deadline, ok := t.persistAt[rid]
	return ok && now.Before(deadline)
}

// Shutdown 关闭监听器和所有活跃会话。
func (t *Transport) Shutdown() error {
	t.mu.Lock()
	conns := make([]*Conn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	ln := t.listener
	t.listener = nil
	t.mu.Unlock()

	for _, c := range conns {
		_ = c.q.CloseWithError(0, "shutdown")
	}
	if ln != nil {
		return ln.Close()
	}
	return nil
}
