package crypto

import (
	"testing"

	"github.com/google/uuid"
)

func TestSealUnsealRoundTrip(t *testing.T) {
	salt, err := GenSalt()
	if err != nil {
		t.Fatalf("GenSalt: %v", err)
	}
	enc, err := NewEncryptor(salt, []byte("replica secret"))
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}

	versionID := uuid.New()
	plaintext := []byte(`[{"Create":{"uuid":"` + versionID.String() + `"}}]`)

	sealed, err := enc.Seal(Unsealed{VersionID: versionID, Payload: plaintext})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if sealed.Payload[0] != envelopeVersion {
		t.Errorf("envelope version = %d, want %d", sealed.Payload[0], envelopeVersion)
	}

	unsealed, err := enc.Unseal(Sealed{VersionID: versionID, Payload: sealed.Payload})
	if err != nil {
		t.Fatalf("Unseal: %v", err)
	}
	if string(unsealed.Payload) != string(plaintext) {
		t.Errorf("got %q, want %q", unsealed.Payload, plaintext)
	}
}

func TestUnsealRejectsWrongVersionID(t *testing.T) {
	salt, _ := GenSalt()
	enc, _ := NewEncryptor(salt, []byte("secret"))

	versionID := uuid.New()
	sealed, _ := enc.Seal(Unsealed{VersionID: versionID, Payload: []byte("hello")})

	_, err := enc.Unseal(Sealed{VersionID: uuid.New(), Payload: sealed.Payload})
	if err == nil {
		t.Fatal("expected unseal to fail when the version_id does not match the AAD it was sealed under")
	}
}

func TestUnsealRejectsWrongKey(t *testing.T) {
	salt, _ := GenSalt()
	enc1, _ := NewEncryptor(salt, []byte("secret one"))
	enc2, _ := NewEncryptor(salt, []byte("secret two"))

	versionID := uuid.New()
	sealed, _ := enc1.Seal(Unsealed{VersionID: versionID, Payload: []byte("hello")})

	_, err := enc2.Unseal(Sealed{VersionID: versionID, Payload: sealed.Payload})
	if err == nil {
		t.Fatal("expected unseal to fail with the wrong key")
	}
}

func TestUnsealRejectsBadVersion(t *testing.T) {
	salt, _ := GenSalt()
	enc, _ := NewEncryptor(salt, []byte("secret"))

	// Long enough to hold a nonce and a tag, so the version byte is what
	// gets it rejected.
	payload := append([]byte{0x02}, make([]byte, 12+16)...)
	_, err := enc.Unseal(Sealed{VersionID: uuid.New(), Payload: payload})
	if err == nil {
		t.Fatal("expected unseal to reject an unrecognized envelope version")
	}
}

func TestUnsealRejectsTruncatedEnvelope(t *testing.T) {
	salt, _ := GenSalt()
	enc, _ := NewEncryptor(salt, []byte("secret"))

	_, err := enc.Unseal(Sealed{VersionID: uuid.New(), Payload: []byte{envelopeVersion, 1, 2}})
	if err == nil {
		t.Fatal("expected unseal to reject a too-short envelope")
	}
}
