// Package identity 提供身份管理模块的实现
package identity

import (
	identityif "github.com/dr7ana/lokinet/pkg/interfaces/identity"
	"github.com/dr7ana/lokinet/pkg/types"
)

// ============================================================================
//                              KeyFactory 实现
// ============================================================================

// KeyFactoryImpl 密钥工厂实现
//
// 实现 identityif.KeyFactory 接口，提供从字节创建公钥/私钥的能力。
type KeyFactoryImpl struct{}

// 确保实现接口
var _ identityif.KeyFactory = (*KeyFactoryImpl)(nil)

// NewKeyFactory 创建密钥工厂
func NewKeyFactory() *KeyFactoryImpl {
	return &KeyFactoryImpl{}
}

// PublicKeyFromBytes 从字节创建公钥
//
// 根据 keyType 自动选择对应的密钥实现。
// 仅支持 Ed25519；其他 keyType 返回 ErrUnsupportedKeyType。
func (f *KeyFactoryImpl) PublicKeyFromBytes(keyBytes []byte, keyType types.KeyType) (identityif.PublicKey, error) {
	return PublicKeyFromBytes(keyBytes, keyType)
}

// PrivateKeyFromBytes 从字节创建私钥
//
// 根据 keyType 自动选择对应的密钥实现。
func (f *KeyFactoryImpl) PrivateKeyFromBytes(keyBytes []byte, keyType types.KeyType) (identityif.PrivateKey, error) {
	return PrivateKeyFromBytes(keyBytes, keyType)
}

