// Package interfaces 定义存储引擎的公共接口
//
// 覆盖网络节点从本包消费 storage.go 的 Engine/EngineStats 契约，由
// internal/core/storage/engine（及其 badger 实现）满足。
//
// 节点自身的身份/RID/密钥相关接口在 pkg/interfaces/identity 子包中。
package interfaces
