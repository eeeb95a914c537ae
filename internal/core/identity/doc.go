// Package identity 实现节点身份：Ed25519 密钥对的生成、PEM 持久化，
// 以及从公钥派生 NodeID。
//
// # 核心功能
//
//   - Ed25519PrivateKey/Ed25519PublicKey 实现 pkg/interfaces/identity 的
//     PrivateKey/PublicKey 接口（ed25519.go）
//   - GenerateEd25519KeyPair 生成新密钥对；NodeIDFromPublicKey 从公钥
//     派生 32 字节 NodeID（SHA256）
//   - Save/LoadPrivateKeyPEM、Save/LoadPublicKeyPEM 提供磁盘持久化，
//     原子写入避免半写损坏（storage.go）
//   - KeyFactoryImpl 实现 identityif.KeyFactory，供需要按 KeyType 动态
//     构造密钥的调用方使用（keyfactory.go）
//
// # 快速开始
//
//	priv, pub, _ := identity.GenerateEd25519KeyPair()
//	id := identity.NewIdentity(priv)
//
//	sig, _ := id.Sign([]byte("data"))
//	ok, _ := id.Verify([]byte("data"), sig, id.PublicKey())
//
// # 架构定位
//
// 本包不依赖其他 dep2p 内部包之外的任何东西（仅 pkg/types 与
// pkg/interfaces/identity），被 internal/overlay/router 用于装配节点
// 身份。
package identity
