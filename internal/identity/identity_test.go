package identity

import (
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/postalsys/meshcore/internal/config"
	"github.com/postalsys/meshcore/internal/crypto"
)

func TestHardcoded(t *testing.T) {
	p := Hardcoded()

	pub := p.SigningKeys().PublicKey()
	if got := hex.EncodeToString(pub[:]); got != "e328a2807d8935d175cff8b12f07368b11d047bf221bae31339e1b5786b33f92" {
		t.Errorf("public key = %s", got)
	}
	if p.SigningKeys().Hash() != 0xe3 {
		t.Errorf("Hash() = 0x%02x, want 0xe3", p.SigningKeys().Hash())
	}

	if len(p.Contacts()) != 1 || p.Contacts()[0].PublicKey != OtherDevicePublicKey {
		t.Errorf("Contacts() = %v", p.Contacts())
	}
	if p.Contacts()[0].Hash() != 0x4f {
		t.Errorf("contact Hash() = 0x%02x, want 0x4f", p.Contacts()[0].Hash())
	}

	if len(p.Channels()) != 1 || p.Channels()[0].Hash() != 0x11 {
		t.Errorf("Channels() = %v", p.Channels())
	}
}

func TestStaticCopiesSlices(t *testing.T) {
	keys, _ := crypto.GenerateSigningKeys()
	contacts := []Contact{{Name: "a"}}
	p := NewStatic(keys, contacts, nil)

	contacts[0].Name = "changed"
	if p.Contacts()[0].Name != "a" {
		t.Error("NewStatic() did not copy the contact slice")
	}
}

func TestFind(t *testing.T) {
	p := Hardcoded()

	if c, ok := FindContact(p, "other"); !ok || c.PublicKey != OtherDevicePublicKey {
		t.Errorf("FindContact(other) = %v, %v", c, ok)
	}
	if _, ok := FindContact(p, "nobody"); ok {
		t.Error("FindContact(nobody) should fail")
	}
	if c, ok := FindChannel(p, PublicChannelName); !ok || c.Secret != PublicGroupPSK {
		t.Errorf("FindChannel(public) = %v, %v", c, ok)
	}
}

func TestContactString(t *testing.T) {
	c := Contact{Name: "other", PublicKey: OtherDevicePublicKey}
	if got := c.String(); got != "other (4f83e8c3)" {
		t.Errorf("String() = %s", got)
	}
}

func TestParseSeed(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", strings.Repeat("a1", 32), false},
		{"with prefix", "0x" + strings.Repeat("a1", 32), false},
		{"whitespace", "  " + strings.Repeat("a1", 32) + "\n", false},
		{"too short", strings.Repeat("a1", 31), true},
		{"not hex", strings.Repeat("zz", 32), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSeed(tt.input)
			if tt.wantErr && !errors.Is(err, ErrInvalidSeed) {
				t.Errorf("ParseSeed() error = %v, want ErrInvalidSeed", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ParseSeed() error = %v", err)
			}
		})
	}
}

func TestStoreAndLoadSeed(t *testing.T) {
	dir := t.TempDir()
	keys, _ := crypto.GenerateSigningKeys()

	if err := StoreSeed(dir, keys); err != nil {
		t.Fatalf("StoreSeed() error = %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, seedFileName))
	if err != nil {
		t.Fatalf("seed file missing: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("seed file mode = %v, want 0600", info.Mode().Perm())
	}

	loaded, err := LoadSeed(dir)
	if err != nil {
		t.Fatalf("LoadSeed() error = %v", err)
	}
	if loaded.PublicKey() != keys.PublicKey() {
		t.Error("LoadSeed() returned different keys")
	}
}

func TestLoadSeed_NotFound(t *testing.T) {
	_, err := LoadSeed(t.TempDir())
	if !errors.Is(err, ErrSeedNotFound) {
		t.Errorf("LoadSeed() error = %v, want ErrSeedNotFound", err)
	}
}

func TestLoadSeed_Corrupted(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, seedFileName), []byte("garbage\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSeed(dir); !errors.Is(err, ErrInvalidSeed) {
		t.Errorf("LoadSeed() error = %v, want ErrInvalidSeed", err)
	}

	// A corrupted seed must not be silently replaced.
	if _, _, err := LoadOrCreate(dir); err == nil {
		t.Error("LoadOrCreate() should fail on a corrupted seed")
	}
}

func TestLoadOrCreate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")

	if SeedExists(dir) {
		t.Fatal("SeedExists() = true before creation")
	}

	keys1, created, err := LoadOrCreate(dir)
	if err != nil {
		t.Fatalf("LoadOrCreate() error = %v", err)
	}
	if !created {
		t.Error("LoadOrCreate() created = false on first call")
	}
	if !SeedExists(dir) {
		t.Error("SeedExists() = false after creation")
	}

	keys2, created, err := LoadOrCreate(dir)
	if err != nil {
		t.Fatalf("LoadOrCreate() second call error = %v", err)
	}
	if created {
		t.Error("LoadOrCreate() created = true on second call")
	}
	if keys1.PublicKey() != keys2.PublicKey() {
		t.Error("LoadOrCreate() returned a different identity on reload")
	}
}

func TestFromConfig(t *testing.T) {
	cfg := config.IdentityConfig{
		Seed:          config.SeedHardcoded,
		PublicChannel: true,
		Contacts: []config.ContactConfig{
			{Name: "other", PublicKey: hex.EncodeToString(OtherDevicePublicKey[:])},
		},
		Channels: []config.ChannelConfig{
			{Name: "team", Secret: "000102030405060708090a0b0c0d0e0f"},
		},
	}

	p, err := FromConfig(cfg, t.TempDir())
	if err != nil {
		t.Fatalf("FromConfig() error = %v", err)
	}

	if p.SigningKeys().PublicKey() != HardcodedKeys().PublicKey() {
		t.Error("hardcoded seed mode did not use the compiled-in keys")
	}
	if len(p.Contacts()) != 1 || p.Contacts()[0].PublicKey != OtherDevicePublicKey {
		t.Errorf("Contacts() = %v", p.Contacts())
	}
	if len(p.Channels()) != 2 {
		t.Fatalf("len(Channels()) = %d, want 2", len(p.Channels()))
	}
	if p.Channels()[0].Name != PublicChannelName {
		t.Errorf("Channels()[0] = %s, want the public channel first", p.Channels()[0].Name)
	}
	if p.Channels()[1].Secret[15] != 0x0f {
		t.Errorf("team secret = %x", p.Channels()[1].Secret)
	}
}

func TestFromConfig_SeedModes(t *testing.T) {
	dir := t.TempDir()

	auto, err := FromConfig(config.IdentityConfig{Seed: config.SeedAuto}, dir)
	if err != nil {
		t.Fatalf("FromConfig(auto) error = %v", err)
	}
	again, err := FromConfig(config.IdentityConfig{Seed: config.SeedAuto}, dir)
	if err != nil {
		t.Fatalf("FromConfig(auto) second call error = %v", err)
	}
	if auto.SigningKeys().PublicKey() != again.SigningKeys().PublicKey() {
		t.Error("auto seed is not persisted between runs")
	}
	if len(auto.Channels()) != 0 {
		t.Errorf("Channels() = %v, want none without public_channel", auto.Channels())
	}

	seed := strings.Repeat("07", 32)
	literal, err := FromConfig(config.IdentityConfig{Seed: seed}, dir)
	if err != nil {
		t.Fatalf("FromConfig(hex) error = %v", err)
	}
	s := literal.SigningKeys().Seed()
	if hex.EncodeToString(s[:]) != seed {
		t.Error("literal seed not used")
	}
}

func TestFromConfig_BadKeys(t *testing.T) {
	_, err := FromConfig(config.IdentityConfig{
		Seed:     config.SeedHardcoded,
		Contacts: []config.ContactConfig{{Name: "x", PublicKey: "1234"}},
	}, t.TempDir())
	if err == nil {
		t.Error("FromConfig() should fail for a short contact key")
	}

	_, err = FromConfig(config.IdentityConfig{
		Seed:     config.SeedHardcoded,
		Channels: []config.ChannelConfig{{Name: "x", Secret: "!!"}},
	}, t.TempDir())
	if err == nil {
		t.Error("FromConfig() should fail for a bad channel secret")
	}
}
