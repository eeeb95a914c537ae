// Package types 定义 DeP2P 的公共数据结构
//
// 这是整个系统的最底层包，不依赖任何其他 dep2p 内部包。
// 所有类型都是纯值类型，用于在各模块间传递数据。
//
// # 文件组织
//
//   - ids.go       - NodeID（32 字节节点标识，公钥派生）
//   - enums.go     - KeyType（Ed25519/ECDSA/RSA）
//   - base58.go    - Base58 编解码，NodeID 的外部表示格式
//   - multiaddr.go - Multiaddr 多地址类型，承载 host:port 与内嵌 NodeID
//
// # 使用示例
//
//	import "github.com/dr7ana/lokinet/pkg/types"
//
//	// 从公钥派生的字节解析 NodeID
//	id, err := types.NodeIDFromBytes(pubKeyHash)
//
//	// 解析带节点 ID 的多地址
//	addr, err := types.ParseMultiaddr("/ip4/127.0.0.1/udp/1090/quic-v1/p2p/" + id.String())
package types
