// Package lib 包含基础设施工具库
//
// 本目录包含与架构组件无关的通用工具库：
//
//   - log: 日志封装
//
// 节点身份用到的密码学原语（Ed25519 密钥、签名）由
// internal/core/identity 直接基于标准库 crypto/ed25519 实现，不再经由
// 本目录下的通用 crypto 封装——那层封装声明了 RSA/ECDSA/Secp256k1 等
// 从未真正实现的密钥类型分支，本节点目前只需要 Ed25519。
//
// 节点地址使用 pkg/types.Multiaddr（字符串值对象，解析/拨号字段直接嵌入
// 其方法集），因此不再需要本目录下独立的 go-multiaddr 风格二进制编解码
// 实现——那层实现是为 swarm/relay/realm 等传输多路复用场景准备的，本节点
// 的 overlay 域只有一条 QUIC 传输、一个 RID 概念，不存在需要它的调用方。
//
// # 与 pkg/ 其他目录的关系
//
// pkg/ 目录包含三类内容：
//
//   - interfaces/: 组件公共接口（架构核心）
//   - types/: 公共类型定义（架构核心）
//   - lib/: 基础设施工具库（本目录）
//
// # 使用示例
//
//	import "github.com/dr7ana/lokinet/pkg/lib/log"
package lib
