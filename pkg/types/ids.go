// Package types 定义 DeP2P 的基础类型
//
// 这是整个系统的最底层包，不依赖任何其他 dep2p 内部包。
// 所有类型都是纯值类型，用于在各模块间传递数据。
package types

import (
	"errors"
)

// ============================================================================
//                              NodeID - 节点标识
// ============================================================================

// NodeID 节点唯一标识符
// 由公钥派生（通常是公钥的 SHA256 哈希）
//
// 外部表示格式：
//   - String(): Base58 编码（用户可读、可分享）
//   - ShortString(): Base58 前缀（日志简短标识）
type NodeID [32]byte

// EmptyNodeID 空节点ID
var EmptyNodeID NodeID

// ErrInvalidNodeID 无效的节点ID错误
var ErrInvalidNodeID = errors.New("invalid node ID: must be Base58")

// String 返回 NodeID 的 Base58 字符串表示
//
// 这是 NodeID 的规范外部表示，用于：
//   - Bootstrap 地址中的 /p2p/<NodeID>
//   - 用户间分享节点身份
//   - 配置文件
func (id NodeID) String() string {
	if id.IsEmpty() {
		return ""
	}
	return Base58Encode(id[:])
}

// ShortString 返回 NodeID 的短字符串表示
//
// 格式：Base58 前 8 个字符，用于日志中的简短标识。
func (id NodeID) ShortString() string {
	s := id.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// Bytes 返回 NodeID 的字节切片
func (id NodeID) Bytes() []byte {
	return id[:]
}

// Equal 比较两个 NodeID 是否相等
func (id NodeID) Equal(other NodeID) bool {
	return id == other
}

// IsEmpty 检查 NodeID 是否为空
func (id NodeID) IsEmpty() bool {
	return id == EmptyNodeID
}

// NodeIDFromBytes 从字节切片创建 NodeID
func NodeIDFromBytes(b []byte) (NodeID, error) {
	if len(b) != 32 {
		return EmptyNodeID, ErrInvalidNodeID
	}
	var id NodeID
	copy(id[:], b)
	return id, nil
}

// ParseNodeID 从字符串解析 NodeID
//
// 仅支持 Base58 编码（用于用户输入和配置）。
//
// 示例：
//
//	// Base58 格式
//	id, err := ParseNodeID("5Q2STWvBFn...")
func ParseNodeID(s string) (NodeID, error) {
	if s == "" {
		return EmptyNodeID, ErrInvalidNodeID
	}

	// 尝试 Base58 解码
	b, err := Base58Decode(s)
	if err != nil {
		return EmptyNodeID, ErrInvalidNodeID
	}
	if len(b) != 32 {
		return EmptyNodeID, ErrInvalidNodeID
	}

	var id NodeID
	copy(id[:], b)
	return id, nil
}

