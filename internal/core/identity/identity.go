package identity

import (
	identityif "github.com/dr7ana/lokinet/pkg/interfaces/identity"
	"github.com/dr7ana/lokinet/pkg/types"
)

// ============================================================================
//                              Identity 实现
// ============================================================================

// identity Identity 接口的实现
type identity struct {
	privateKey identityif.PrivateKey
	publicKey  identityif.PublicKey
	nodeID     types.NodeID
}

// 确保实现接口
var _ identityif.Identity = (*identity)(nil)

// NewIdentity 从私钥创建身份
func NewIdentity(priv identityif.PrivateKey) *identity {
	pub := priv.PublicKey()
	return &identity{
		privateKey: priv,
		publicKey:  pub,
		nodeID:     NodeIDFromPublicKey(pub),
	}
}

// NewIdentityFromKeyPair 从密钥对创建身份
func NewIdentityFromKeyPair(priv identityif.PrivateKey, pub identityif.PublicKey) *identity {
	return &identity{
		privateKey: priv,
		publicKey:  pub,
		nodeID:     NodeIDFromPublicKey(pub),
	}
}

// ID 返回节点 ID
func (i *identity) ID() types.NodeID {
	return i.nodeID
}

// PublicKey 返回公钥
func (i *identity) PublicKey() identityif.PublicKey {
	return i.publicKey
}

// PrivateKey 返回私钥
func (i *identity) PrivateKey() identityif.PrivateKey {
	return i.privateKey
}

// Sign 签名数据
func (i *identity) Sign(data []byte) ([]byte, error) {
	return i.privateKey.Sign(data)
}

// Verify 验证签名
func (i *identity) Verify(data, signature []byte, pubKey identityif.PublicKey) (bool, error) {
	return pubKey.Verify(data, signature)
}

// KeyType 返回密钥类型
func (i *identity) KeyType() types.KeyType {
	return i.privateKey.Type()
}

