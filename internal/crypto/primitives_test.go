package crypto

import (
	"bytes"
	"errors"
	"testing"

	"github.com/mundrapranay/silhouette-ste/internal/errs"
)

func mustKey(t *testing.T) []byte {
	t.Helper()
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	return key
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	key := mustKey(t)
	plaintext := []byte("record-42")

	ct, err := Encrypt(key, plaintext)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if len(ct.IV) != IVSize {
		t.Fatalf("Expected %d byte IV, got %d", IVSize, len(ct.IV))
	}

	got, err := Decrypt(key, ct)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("Expected %q, got %q", plaintext, got)
	}
}

func TestDecrypt_TamperedFailsClosed(t *testing.T) {
	key := mustKey(t)
	ct, err := Encrypt(key, []byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	ct.Data[0] ^= 0x01

	got, err := Decrypt(key, ct)
	if !errors.Is(err, errs.ErrAuthentication) {
		t.Fatalf("Expected ErrAuthentication, got %v", err)
	}
	if got != nil {
		t.Errorf("Expected no plaintext on failure, got %q", got)
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	ct, err := Encrypt(mustKey(t), []byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if _, err := Decrypt(mustKey(t), ct); !errors.Is(err, errs.ErrAuthentication) {
		t.Fatalf("Expected ErrAuthentication, got %v", err)
	}
}

func TestEncryptWithIV_Deterministic(t *testing.T) {
	key := mustKey(t)
	iv := bytes.Repeat([]byte{7}, IVSize)

	a, err := EncryptWithIV(key, iv, []byte("x"))
	if err != nil {
		t.Fatalf("EncryptWithIV failed: %v", err)
	}
	b, err := EncryptWithIV(key, iv, []byte("x"))
	if err != nil {
		t.Fatalf("EncryptWithIV failed: %v", err)
	}
	if !bytes.Equal(a.Data, b.Data) {
		t.Error("Same key and IV should give the same ciphertext")
	}

	if _, err := EncryptWithIV(key, []byte{1}, []byte("x")); !errors.Is(err, errs.ErrInvalidParameter) {
		t.Errorf("Expected ErrInvalidParameter for short IV, got %v", err)
	}
}

func TestPRF(t *testing.T) {
	key := mustKey(t)
	a := PRF(key, []byte("label"))
	b := PRF(key, []byte("lab"), []byte("el"))
	if len(a) != PRFSize {
		t.Fatalf("Expected %d byte output, got %d", PRFSize, len(a))
	}
	if !bytes.Equal(a, b) {
		t.Error("PRF should be a function of the concatenated input")
	}
	if bytes.Equal(a, PRF(mustKey(t), []byte("label"))) {
		t.Error("Different keys gave the same output")
	}
}

func TestDigest(t *testing.T) {
	if len(Digest([]byte("a"))) != PRFSize {
		t.Fatal("Digest should be 64 bytes")
	}
	if bytes.Equal(Digest([]byte("a")), Digest([]byte("b"))) {
		t.Error("Distinct inputs gave the same digest")
	}
}

func TestDeriveKeys(t *testing.T) {
	master := mustKey(t)
	k1, err := DeriveKeys(master)
	if err != nil {
		t.Fatalf("DeriveKeys failed: %v", err)
	}
	k2, err := DeriveKeys(master)
	if err != nil {
		t.Fatalf("DeriveKeys failed: %v", err)
	}
	if !bytes.Equal(k1.Enc, k2.Enc) || !bytes.Equal(k1.GGM, k2.GGM) {
		t.Error("DeriveKeys should be deterministic")
	}
	if bytes.Equal(k1.Enc, k1.PRF) || bytes.Equal(k1.PRF, k1.DPRF) {
		t.Error("Sub-keys should be independent")
	}

	if _, err := DeriveKeys([]byte("short")); !errors.Is(err, errs.ErrInvalidParameter) {
		t.Errorf("Expected ErrInvalidParameter, got %v", err)
	}
}

func TestCasting(t *testing.T) {
	v, err := BytesUint64(Uint64Bytes(1 << 40))
	if err != nil {
		t.Fatalf("BytesUint64 failed: %v", err)
	}
	if v != 1<<40 {
		t.Errorf("Expected %d, got %d", uint64(1<<40), v)
	}
	if _, err := BytesUint64([]byte{1}); err == nil {
		t.Error("Expected error for short input")
	}

	if bytes.Equal(LengthPrefixed([]byte("ab"), []byte("c")), LengthPrefixed([]byte("a"), []byte("bc"))) {
		t.Error("LengthPrefixed must separate part boundaries")
	}
	if got := ReduceMod([]byte{0x01, 0x00}, 7); got != 256%7 {
		t.Errorf("Expected %d, got %d", 256%7, got)
	}
}
