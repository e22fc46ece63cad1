package protocol

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"testing"
)

type edSigner struct {
	priv ed25519.PrivateKey
}

func newEdSigner(seedByte byte) *edSigner {
	return &edSigner{priv: ed25519.NewKeyFromSeed(bytes.Repeat([]byte{seedByte}, ed25519.SeedSize))}
}

func (s *edSigner) PublicKey() [PublicKeySize]byte {
	var pub [PublicKeySize]byte
	copy(pub[:], s.priv.Public().(ed25519.PublicKey))
	return pub
}

func (s *edSigner) Sign(msg []byte) [SignatureSize]byte {
	var sig [SignatureSize]byte
	copy(sig[:], ed25519.Sign(s.priv, msg))
	return sig
}

func u16(v uint16) *uint16 { return &v }

func TestAdvertTypeString(t *testing.T) {
	tests := []struct {
		typ  AdvertType
		want string
	}{
		{AdvertTypeNone, "none"},
		{AdvertTypeChat, "chat"},
		{AdvertTypeRepeater, "repeater"},
		{AdvertTypeRoom, "room"},
		{AdvertType(9), "type(9)"},
	}

	for _, tt := range tests {
		if got := tt.typ.String(); got != tt.want {
			t.Errorf("AdvertType(%d).String() = %s, want %s", uint8(tt.typ), got, tt.want)
		}
	}
}

func TestParseAdvertType(t *testing.T) {
	typ, err := ParseAdvertType("Repeater")
	if err != nil || typ != AdvertTypeRepeater {
		t.Errorf("ParseAdvertType(Repeater) = %v, %v", typ, err)
	}
	if _, err := ParseAdvertType("gateway"); err == nil {
		t.Error("ParseAdvertType(gateway) should fail")
	}
}

func TestPutParseAdvert(t *testing.T) {
	signer := newEdSigner(0x42)

	tests := []struct {
		name string
		info AdvertInfo
	}{
		{"bare", AdvertInfo{Type: AdvertTypeRepeater}},
		{"name only", AdvertInfo{Type: AdvertTypeChat, Name: "BOT"}},
		{"battery", AdvertInfo{Type: AdvertTypeChat, Battery: u16(3700)}},
		{"temperature and name", AdvertInfo{Type: AdvertTypeRoom, Temperature: u16(215), Name: "attic"}},
		{"all fields", AdvertInfo{
			Type:        AdvertTypeChat,
			LatLong:     &LatLong{Lat: 59436961, Lon: -24753575},
			Battery:     u16(4100),
			Temperature: u16(180),
			Name:        "node-1",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, MaxPacketSize)
			scratch := make([]byte, MaxPacketSize)

			n, err := PutAdvert(buf, scratch, signer, 1672534719, tt.info)
			if err != nil {
				t.Fatalf("PutAdvert() error = %v", err)
			}

			a, err := ParseAdvert(buf[:n])
			if err != nil {
				t.Fatalf("ParseAdvert() error = %v", err)
			}
			if a.PublicKey != signer.PublicKey() {
				t.Error("public key mismatch")
			}
			if a.Timestamp != 1672534719 {
				t.Errorf("Timestamp = %d", a.Timestamp)
			}
			if a.Flags.Type() != tt.info.Type {
				t.Errorf("Type = %s, want %s", a.Flags.Type(), tt.info.Type)
			}
			if string(a.Name) != tt.info.Name {
				t.Errorf("Name = %q, want %q", a.Name, tt.info.Name)
			}
			if (a.LatLong == nil) != (tt.info.LatLong == nil) || (a.LatLong != nil && *a.LatLong != *tt.info.LatLong) {
				t.Errorf("LatLong = %v, want %v", a.LatLong, tt.info.LatLong)
			}
			if (a.Battery == nil) != (tt.info.Battery == nil) || (a.Battery != nil && *a.Battery != *tt.info.Battery) {
				t.Errorf("Battery = %v, want %v", a.Battery, tt.info.Battery)
			}
			if (a.Temperature == nil) != (tt.info.Temperature == nil) || (a.Temperature != nil && *a.Temperature != *tt.info.Temperature) {
				t.Errorf("Temperature = %v, want %v", a.Temperature, tt.info.Temperature)
			}

			msg := a.SignedData(nil)
			if !ed25519.Verify(a.PublicKey[:], msg, a.Signature[:]) {
				t.Error("signature does not verify over SignedData")
			}
		})
	}
}

func TestAdvertSignedDataLayout(t *testing.T) {
	payload := make([]byte, AdvertHeaderSize+3)
	for i := range payload {
		payload[i] = byte(i)
	}
	payload[advertFlagsOff] = byte(AdvertHasName) | byte(AdvertTypeChat)

	a, err := ParseAdvert(payload)
	if err != nil {
		t.Fatalf("ParseAdvert() error = %v", err)
	}

	want := append(append([]byte{}, payload[:36]...), payload[100:]...)
	if got := a.SignedData(nil); !bytes.Equal(got, want) {
		t.Errorf("SignedData() = %x, want %x", got, want)
	}
}

func TestAdvertTamperBreaksSignature(t *testing.T) {
	signer := newEdSigner(1)
	buf := make([]byte, MaxPacketSize)
	n, err := PutAdvert(buf, make([]byte, MaxPacketSize), signer, 1000, AdvertInfo{Type: AdvertTypeChat, Name: "BOT"})
	if err != nil {
		t.Fatalf("PutAdvert() error = %v", err)
	}

	for _, off := range []int{0, advertTimestampOff, advertFlagsOff, n - 1} {
		tampered := append([]byte{}, buf[:n]...)
		tampered[off] ^= 0x01

		a, err := ParseAdvert(tampered)
		if err != nil {
			continue
		}
		if ed25519.Verify(a.PublicKey[:], a.SignedData(nil), a.Signature[:]) {
			t.Errorf("flipping byte %d still verifies", off)
		}
	}
}

func TestParseAdvertOptionalOrder(t *testing.T) {
	payload := make([]byte, AdvertHeaderSize, MaxPacketSize)
	payload[advertFlagsOff] = byte(AdvertHasLatLong | AdvertHasTemperature | AdvertHasName)
	var field [8]byte
	lat0 := int32(-1000000)
	binary.LittleEndian.PutUint32(field[0:4], uint32(lat0))
	binary.LittleEndian.PutUint32(field[4:8], 2500000)
	payload = append(payload, field[:]...)
	payload = append(payload, 0x10, 0x01) // temperature 0x0110
	payload = append(payload, "relay"...)

	a, err := ParseAdvert(payload)
	if err != nil {
		t.Fatalf("ParseAdvert() error = %v", err)
	}
	if a.LatLong == nil || a.LatLong.Lat != -1000000 || a.LatLong.Lon != 2500000 {
		t.Errorf("LatLong = %v", a.LatLong)
	}
	lat, lon := a.LatLong.Degrees()
	if lat != -1.0 || lon != 2.5 {
		t.Errorf("Degrees() = %v, %v", lat, lon)
	}
	if a.Battery != nil {
		t.Error("Battery parsed although flag was clear")
	}
	if a.Temperature == nil || *a.Temperature != 0x0110 {
		t.Errorf("Temperature = %v", a.Temperature)
	}
	if string(a.Name) != "relay" {
		t.Errorf("Name = %q", a.Name)
	}
}

func TestParseAdvertErrors(t *testing.T) {
	if _, err := ParseAdvert(make([]byte, AdvertHeaderSize-1)); !errors.Is(err, ErrTruncated) {
		t.Errorf("short advert error = %v, want ErrTruncated", err)
	}

	payload := make([]byte, AdvertHeaderSize+5)
	payload[advertFlagsOff] = byte(AdvertHasLatLong)
	if _, err := ParseAdvert(payload); !errors.Is(err, ErrFieldTruncated) {
		t.Errorf("truncated lat/long error = %v, want ErrFieldTruncated", err)
	}

	payload = make([]byte, AdvertHeaderSize+1)
	payload[advertFlagsOff] = byte(AdvertHasBattery)
	if _, err := ParseAdvert(payload); !errors.Is(err, ErrFieldTruncated) {
		t.Errorf("truncated battery error = %v, want ErrFieldTruncated", err)
	}
}

func TestParseAdvertIgnoresNameWithoutFlag(t *testing.T) {
	payload := append(make([]byte, AdvertHeaderSize), "trailing"...)
	a, err := ParseAdvert(payload)
	if err != nil {
		t.Fatalf("ParseAdvert() error = %v", err)
	}
	if a.Name != nil {
		t.Errorf("Name = %q, want nil", a.Name)
	}
	// Trailing bytes are still covered by the signature.
	if got := len(a.SignedData(nil)); got != 36+1+len("trailing") {
		t.Errorf("SignedData length = %d", got)
	}
}

func TestAdvertDisplayName(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		want string
	}{
		{"plain", []byte("BOT"), "BOT"},
		{"control chars", []byte("a\x00b\nc"), "abc"},
		{"decomposed accent", []byte("Jose\u0301"), "Jos\u00e9"},
		{"invalid utf8", []byte{'o', 'k', 0xFF}, "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Advert{Name: tt.raw}
			if got := a.DisplayName(); got != tt.want {
				t.Errorf("DisplayName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPutAdvertBufferTooSmall(t *testing.T) {
	_, err := PutAdvert(make([]byte, 50), make([]byte, 256), newEdSigner(2), 0, AdvertInfo{})
	if !errors.Is(err, ErrBufferTooSmall) {
		t.Errorf("PutAdvert() error = %v, want ErrBufferTooSmall", err)
	}
}
