package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestBlockCipherKnownAnswer(t *testing.T) {
	// FIPS-197 appendix C.1, repeated to check blocks are independent.
	key := mustHex(t, "000102030405060708090a0b0c0d0e0f")
	plain := mustHex(t, "00112233445566778899aabbccddeeff")
	cipherBlock := mustHex(t, "69c4e0d86a7b0430d8cdb78070b4c55a")

	buf := append(append([]byte{}, plain...), plain...)
	if err := EncryptInPlace(key, buf); err != nil {
		t.Fatalf("EncryptInPlace() error = %v", err)
	}
	if !bytes.Equal(buf[:16], cipherBlock) || !bytes.Equal(buf[16:], cipherBlock) {
		t.Errorf("EncryptInPlace() = %x, want %x twice", buf, cipherBlock)
	}

	out, err := DecryptInPlace(key, buf, 20)
	if err != nil {
		t.Fatalf("DecryptInPlace() error = %v", err)
	}
	if len(out) != 20 || !bytes.Equal(out[:16], plain) || !bytes.Equal(out[16:], plain[:4]) {
		t.Errorf("DecryptInPlace() = %x", out)
	}
}

func TestBlockCipherAES256(t *testing.T) {
	// FIPS-197 appendix C.3.
	key := mustHex(t, "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	buf := mustHex(t, "8ea2b7ca516745bfeafc49904b496089")

	out, err := DecryptInPlace(key, buf, 16)
	if err != nil {
		t.Fatalf("DecryptInPlace() error = %v", err)
	}
	if want := mustHex(t, "00112233445566778899aabbccddeeff"); !bytes.Equal(out, want) {
		t.Errorf("DecryptInPlace() = %x, want %x", out, want)
	}
}

func TestDecryptInPlaceErrors(t *testing.T) {
	tests := []struct {
		name         string
		keyLen       int
		bufLen       int
		plaintextLen int
		want         error
	}{
		{"bad key", 10, 16, 16, ErrKeySize},
		{"unaligned", 16, 17, 17, ErrBlockAlignment},
		{"plaintext longer than buffer", 16, 16, 17, ErrPlaintextLength},
		{"negative plaintext", 32, 32, -1, ErrPlaintextLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecryptInPlace(make([]byte, tt.keyLen), make([]byte, tt.bufLen), tt.plaintextLen)
			if !errors.Is(err, tt.want) {
				t.Errorf("DecryptInPlace() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCTRNonce(t *testing.T) {
	n := CTRNonce(0x04030201, 0x0c0b0a09)
	want := [BlockSize]byte{1, 2, 3, 4, 0, 0, 0, 0, 9, 10, 11, 12, 0, 0, 0, 0}
	if n != want {
		t.Errorf("CTRNonce() = %x, want %x", n, want)
	}
}

func TestCTRCipherRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 16)
	msg := []byte("odd length plaintext")

	buf := append([]byte{}, msg...)
	var c Cipher = NewCTRCipher(7, 99)
	if err := c.Encrypt(key, buf); err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if bytes.Equal(buf, msg) {
		t.Fatal("Encrypt() left the buffer unchanged")
	}

	out, err := c.Decrypt(key, buf, len(msg))
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(out, msg) {
		t.Errorf("Decrypt() = %q, want %q", out, msg)
	}

	// A different packet ID yields a different key stream.
	other := append([]byte{}, msg...)
	NewCTRCipher(8, 99).Encrypt(key, other)
	if bytes.Equal(other, buf) {
		t.Error("different nonces produced the same ciphertext")
	}
}

func TestCipherInterface(t *testing.T) {
	key := bytes.Repeat([]byte{1}, 32)
	for name, c := range map[string]Cipher{"block": BlockCipher{}, "ctr": NewCTRCipher(1, 2)} {
		t.Run(name, func(t *testing.T) {
			buf := bytes.Repeat([]byte("0123456789abcdef"), 2)
			orig := append([]byte{}, buf...)
			if err := c.Encrypt(key, buf); err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			out, err := c.Decrypt(key, buf, len(buf))
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(out, orig) {
				t.Error("round trip mismatch")
			}
		})
	}
}
