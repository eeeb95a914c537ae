package identity

import (
	"bytes"
	"testing"
)

func TestGenerateEd25519KeyPair(t *testing.T) {
	priv, pub, err := GenerateEd25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateEd25519KeyPair() error: %v", err)
	}
	if priv.Type() != pub.Type() {
		t.Fatalf("private/public key type mismatch: %v != %v", priv.Type(), pub.Type())
	}
	if !priv.PublicKey().Equal(pub) {
		t.Error("PrivateKey.PublicKey() does not match generated public key")
	}
}

func TestEd25519SignVerify(t *testing.T) {
	priv, pub, err := GenerateEd25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateEd25519KeyPair() error: %v", err)
	}

	data := []byte("hello overlay")
	sig, err := priv.Sign(data)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}

	ok, err := pub.Verify(data, sig)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if !ok {
		t.Error("Verify() returned false for a valid signature")
	}

	ok, err = pub.Verify([]byte("tampered"), sig)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if ok {
		t.Error("Verify() returned true for tampered data")
	}
}

func TestNewEd25519PrivateKeyBadSize(t *testing.T) {
	if _, err := NewEd25519PrivateKey(make([]byte, 10)); err == nil {
		t.Error("NewEd25519PrivateKey() with wrong size should fail")
	}
}

func TestNewEd25519PublicKeyBadSize(t *testing.T) {
	if _, err := NewEd25519PublicKey(make([]byte, 10)); err == nil {
		t.Error("NewEd25519PublicKey() with wrong size should fail")
	}
}

func TestEd25519KeyRoundTripBytes(t *testing.T) {
	priv, pub, err := GenerateEd25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateEd25519KeyPair() error: %v", err)
	}

	priv2, err := NewEd25519PrivateKey(priv.Bytes())
	if err != nil {
		t.Fatalf("NewEd25519PrivateKey() error: %v", err)
	}
	if !bytes.Equal(priv2.Bytes(), priv.Bytes()) {
		t.Error("round-tripped private key bytes differ")
	}

	pub2, err := NewEd25519PublicKey(pub.Bytes())
	if err != nil {
		t.Fatalf("NewEd25519PublicKey() error: %v", err)
	}
	if !pub2.Equal(pub) {
		t.Error("round-tripped public key does not equal original")
	}
}
