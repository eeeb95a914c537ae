// Package keyspace 实现覆盖网络的 256 位密钥空间与 XOR 距离度量。
//
// K 复用 types.NodeID：路由器的 K(RID) 即该路由器自身的公钥派生 ID，
// 隐藏服务地址派生 K 的方式通过 DeriveFunc 注入（§4.A 的 "derivation is
// injected"）。
package keyspace

import (
	"bytes"
	"crypto/rand"

	"github.com/dr7ana/lokinet/pkg/types"
)

// Key 是覆盖网络 DHT 中的 256 位标识符。
type Key = types.NodeID

// Distance 返回 a、b 的 XOR 距离，按无符号大端整数比较。
func Distance(a, b Key) Key {
	var d Key
	for i := range d {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// Less 按无符号大端字节序比较两个距离，用于排序与 tie-break。
func Less(a, b Key) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

// CloserTo 报告 a 是否比 b 更接近 c（即 distance(a,c) < distance(b,c)）。
// 距离相等时按键本身的字典序打破平局（spec §4.D tie-break 规则）。
func CloserTo(c, a, b Key) bool {
	da, db := Distance(a, c), Distance(b, c)
	if cmp := bytes.Compare(da[:], db[:]); cmp != 0 {
		return cmp < 0
	}
	return bytes.Compare(a[:], b[:]) < 0
}

// DeriveFromRID 返回路由器 ID 对应的 DHT 键。对路由器而言 K(RID) = RID。
func DeriveFromRID(rid types.NodeID) Key {
	return rid
}

// DeriveFunc 是服务地址到 DHT 键的派生函数类型，由调用方注入
// （隐藏服务地址 → 位置键的映射属于上层协议，不属于密钥空间本身）。
type DeriveFunc func(addr string) (Key, error)

// Random 返回一个使用 CSPRNG 生成的均匀随机键。
func Random() (Key, error) {
	var k Key
	if _, err := rand.Read(k[:]); err != nil {
		return Key{}, err
	}
	return k, nil
}

// Sorter 按距离目标升序排序一组键，距离相等时按字典序。
type Sorter struct {
	Target Key
	Keys   []Key
}

func (s *Sorter) Len() int      { return len(s.Keys) }
func (s *Sorter) Swap(i, j int) { s.Keys[i], s.Keys[j] = s.Keys[j], s.Keys[i] }
func (s *Sorter) Less(i, j int) bool {
	return CloserTo(s.Target, s.Keys[i], s.Keys[j])
}
