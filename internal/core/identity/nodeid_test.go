package identity

import "testing"

func TestNodeIDFromPublicKeyDeterministic(t *testing.T) {
	_, pub, err := GenerateEd25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateEd25519KeyPair() error: %v", err)
	}

	id1 := NodeIDFromPublicKey(pub)
	id2 := NodeIDFromPublicKey(pub)
	if !id1.Equal(id2) {
		t.Error("NodeIDFromPublicKey() is not deterministic for the same key")
	}
}

func TestNodeIDFromPublicKeyDistinctKeys(t *testing.T) {
	_, pub1, err := GenerateEd25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateEd25519KeyPair() error: %v", err)
	}
	_, pub2, err := GenerateEd25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateEd25519KeyPair() error: %v", err)
	}

	if NodeIDFromPublicKey(pub1).Equal(NodeIDFromPublicKey(pub2)) {
		t.Error("NodeIDFromPublicKey() collided for two distinct keys")
	}
}
