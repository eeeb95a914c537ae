package identity

import (
	"testing"

	identityif "github.com/dr7ana/lokinet/pkg/interfaces/identity"
)

func TestIdentityImplementsInterface(t *testing.T) {
	var _ identityif.Identity = (*identity)(nil)
}

func TestNewIdentityDerivesNodeID(t *testing.T) {
	priv, pub, err := GenerateEd25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateEd25519KeyPair() error: %v", err)
	}

	id := NewIdentity(priv)
	if id.ID() != NodeIDFromPublicKey(pub) {
		t.Error("NewIdentity().ID() does not match NodeIDFromPublicKey(pub)")
	}
	if !id.PublicKey().Equal(pub) {
		t.Error("NewIdentity().PublicKey() does not match generated public key")
	}
}

func TestNewIdentityFromKeyPair(t *testing.T) {
	priv, pub, err := GenerateEd25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateEd25519KeyPair() error: %v", err)
	}

	id := NewIdentityFromKeyPair(priv, pub)
	if !id.PrivateKey().Equal(priv) {
		t.Error("PrivateKey() does not match supplied key")
	}
	if id.KeyType() != priv.Type() {
		t.Errorf("KeyType() = %v, want %v", id.KeyType(), priv.Type())
	}
}

func TestIdentitySignVerify(t *testing.T) {
	priv, _, err := GenerateEd25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateEd25519KeyPair() error: %v", err)
	}
	id := NewIdentity(priv)

	data := []byte("router contact payload")
	sig, err := id.Sign(data)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}

	ok, err := id.Verify(data, sig, id.PublicKey())
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if !ok {
		t.Error("Verify() returned false for a valid signature")
	}
}
