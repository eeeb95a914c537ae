// Package rc 实现 spec §3 的 Router Contact（RC）数据模型：一条由路由器
// 自签名的可达性记录，是 Node DB（§4.C）与 DHT 目录（§4.E）的基本单元。
package rc

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"time"

	identityif "github.com/dr7ana/lokinet/pkg/interfaces/identity"
	"github.com/dr7ana/lokinet/pkg/types"
)

var (
	// ErrUnsigned 表示签名缺失，无法验证。
	ErrUnsigned = errors.New("rc: missing signature")
	// ErrBadSignature 表示签名与载荷或公钥不匹配。
	ErrBadSignature = errors.New("rc: signature verification failed")
	// ErrExpired 表示在校验时已过期。
	ErrExpired = errors.New("rc: expired")
)

// ExitPolicy 描述该路由器愿意转发的出口流量范围；具体 IP 路由语义
// 不在核心范围内（spec §1 Non-goals），此处仅携带不透明规则。
type ExitPolicy struct {
	Allowed bool
	Rules   []string
}

// RouterContact 是 spec §3 "RC" 的内存表示：
// {rid, addresses, version, exit_policy, issued_at, expiry}。
// RC 一经签发即不可变：更新路由器信息总是产生新的 RC 并替换旧的，
// 而不是就地修改（spec §3 "RCs are replaced, never mutated in place"）。
type RouterContact struct {
	RID        types.NodeID
	Addresses  []types.Multiaddr
	Version    uint64
	ExitPolicy ExitPolicy
	IssuedAt   time.Time
	Expiry     time.Time

	sig []byte
}

// IsLive 报告 now < Expiry（spec §3）。
func (rc *RouterContact) IsLive(now time.Time) bool {
	return now.Before(rc.Expiry)
}

// IsFresh 报告 now < Expiry-guard（spec §3 的 "fresh" 定义）。
func (rc *RouterContact) IsFresh(now time.Time, guard time.Duration) bool {
	return now.Before(rc.Expiry.Add(-guard))
}

// signingPayload 返回签名覆盖的规范字节序列。字段顺序固定，不依赖于
// 外部编码格式（spec §1 将具体的长度前缀字典编码列为外部依赖）。
func (rc *RouterContact) signingPayload() []byte {
	var buf bytes.Buffer
	buf.Write(rc.RID[:])
	for _, a := range rc.Addresses {
		s := a.String()
		var l [2]byte
		binary.BigEndian.PutUint16(l[:], uint16(len(s)))
		buf.Write(l[:])
		buf.WriteString(s)
	}
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], rc.Version)
	buf.Write(v[:])
	if rc.ExitPolicy.Allowed {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	for _, r := range rc.ExitPolicy.Rules {
		buf.WriteString(r)
		buf.WriteByte(0)
	}
	issued := rc.IssuedAt.UnixNano()
	expiry := rc.Expiry.UnixNano()
	var t [16]byte
	binary.BigEndian.PutUint64(t[0:8], uint64(issued))
	binary.BigEndian.PutUint64(t[8:16], uint64(expiry))
	buf.Write(t[:])
	return buf.Bytes()
}

// Sign 使用本地路由器身份对 RC 签名，写入内部签名字段。
func (rc *RouterContact) Sign(identity identityif.Identity) error {
	sig, err := identity.Sign(rc.signingPayload())
	if err != nil {
		return err
	}
	rc.sig = sig
	return nil
}

// Signature 返回 RC 的原始签名字节，供编码层写出。
func (rc *RouterContact) Signature() []byte {
	return rc.sig
}

// SetSignature 在解码时还原签名字段。
func (rc *RouterContact) SetSignature(sig []byte) {
	rc.sig = sig
}

// wireRouterContact 是 RouterContact 面向 gob 的可导出镜像；sig 不导出
// 字段本身不会被 gob 序列化，GobEncode/GobDecode 借这个镜像把签名也带
// 上线（overlay/dhtmsg 的帧里携带的 RC 必须连带签名,否则对端无法
// Verify）。
type wireRouterContact struct {
	RID        types.NodeID
	Addresses  []types.Multiaddr
	Version    uint64
	ExitPolicy ExitPolicy
	IssuedAt   time.Time
	Expiry     time.Time
	Sig        []byte
}

func (rc *RouterContact) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	w := wireRouterContact{
		RID:        rc.RID,
		Addresses:  rc.Addresses,
		Version:    rc.Version,
		ExitPolicy: rc.ExitPolicy,
		IssuedAt:   rc.IssuedAt,
		Expiry:     rc.Expiry,
		Sig:        rc.sig,
	}
	if err := gob.NewEncoder(&buf).Encode(w); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (rc *RouterContact) GobDecode(data []byte) error {
	var w wireRouterContact
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return err
	}
	rc.RID = w.RID
	rc.Addresses = w.Addresses
	rc.Version = w.Version
	rc.ExitPolicy = w.ExitPolicy
	rc.IssuedAt = w.IssuedAt
	rc.Expiry = w.Expiry
	rc.sig = w.Sig
	return nil
}

// Verify 校验签名是否由 rc.RID 对应的公钥签发，并检查新鲜度。
// pubkey 通常通过 RID 派生或从传输层证书取得，由调用方提供。
func Verify(rc *RouterContact, pubkey identityif.PublicKey, now time.Time) error {
	if len(rc.sig) == 0 {
		return ErrUnsigned
	}
	ok, err := pubkey.Verify(rc.signingPayload(), rc.sig)
	if err != nil {
		return err
	}
	if !ok {
		return ErrBadSignature
	}
	if !rc.IsLive(now) {
		return ErrExpired
	}
	return nil
}

// Checker 是 §4.C Node DB 注入的校验回调类型：验证签名与新鲜度，
// 决定一条收到的 RC 是否可被接受存入 Node DB。
type Checker func(rc *RouterContact, now time.Time) error

// DefaultChecker 返回一个使用给定公钥解析函数的默认校验器。
func DefaultChecker(resolvePubkey func(types.NodeID) (identityif.PublicKey, error)) Checker {
	return func(rc *RouterContact, now time.Time) error {
		pub, err := resolvePubkey(rc.RID)
		if err != nil {
			return err
		}
		return Verify(rc, pub, now)
	}
}
