package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Node.DataDir != "./data" {
		t.Errorf("Node.DataDir = %s, want ./data", cfg.Node.DataDir)
	}
	if cfg.Node.LogLevel != "info" {
		t.Errorf("Node.LogLevel = %s, want info", cfg.Node.LogLevel)
	}
	if cfg.Identity.Seed != SeedAuto {
		t.Errorf("Identity.Seed = %s, want auto", cfg.Identity.Seed)
	}
	if !cfg.Identity.PublicChannel {
		t.Error("Identity.PublicChannel = false, want true")
	}
	if cfg.Radio.Transport != TransportUDP {
		t.Errorf("Radio.Transport = %s, want udp", cfg.Radio.Transport)
	}
	if cfg.Radio.ReceiveTimeout != 5*time.Second {
		t.Errorf("Radio.ReceiveTimeout = %v, want 5s", cfg.Radio.ReceiveTimeout)
	}
	if cfg.Dispatch.EventQueueSize != 64 {
		t.Errorf("Dispatch.EventQueueSize = %d, want 64", cfg.Dispatch.EventQueueSize)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestParse_ValidConfig(t *testing.T) {
	yamlConfig := `
node:
  name: "roof-node"
  data_dir: "/var/lib/meshcore"
  log_level: "debug"
  log_format: "json"

identity:
  seed: "5b249a29e3697d05528d76a107587719c7052b2baa0e0fa2b4a2ed1f812a7833"
  public_channel: false
  contacts:
    - name: "other"
      public_key: "4f83e8c310aa7b40d132c9ce7dc47c0ee672885f11d9ae695f90e4f907c06d40"
  channels:
    - name: "team"
      secret: "izOH6cXN6mrJ5e26oRXNcg=="

radio:
  transport: quic
  address: "10.0.0.2:4433"
  receive_timeout: 2s
  airtime_bytes_per_second: 120
  tls:
    insecure_skip_verify: true

advert:
  enabled: true
  interval: 10m
  type: repeater
  latitude: 59.4369
  longitude: 24.7535

dispatch:
  event_queue_size: 8
  outbox_size: 4
  seen_cache_size: 0

health:
  enabled: true
  address: "127.0.0.1:9090"
`

	cfg, err := Parse([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Node.Name != "roof-node" {
		t.Errorf("Node.Name = %s, want roof-node", cfg.Node.Name)
	}
	if cfg.Node.LogFormat != "json" {
		t.Errorf("Node.LogFormat = %s, want json", cfg.Node.LogFormat)
	}
	if cfg.Identity.PublicChannel {
		t.Error("Identity.PublicChannel = true, want false")
	}
	if len(cfg.Identity.Contacts) != 1 || cfg.Identity.Contacts[0].Name != "other" {
		t.Errorf("Identity.Contacts = %+v", cfg.Identity.Contacts)
	}
	if len(cfg.Identity.Channels) != 1 {
		t.Errorf("len(Identity.Channels) = %d, want 1", len(cfg.Identity.Channels))
	}
	if cfg.Radio.Transport != TransportQUIC || cfg.Radio.Address != "10.0.0.2:4433" {
		t.Errorf("Radio = %+v", cfg.Radio)
	}
	if cfg.Radio.ReceiveTimeout != 2*time.Second {
		t.Errorf("Radio.ReceiveTimeout = %v, want 2s", cfg.Radio.ReceiveTimeout)
	}
	if cfg.Radio.AirtimeBytesPerSecond != 120 {
		t.Errorf("Radio.AirtimeBytesPerSecond = %d, want 120", cfg.Radio.AirtimeBytesPerSecond)
	}
	if cfg.Advert.Interval != 10*time.Minute || cfg.Advert.Type != "repeater" {
		t.Errorf("Advert = %+v", cfg.Advert)
	}
	if cfg.Advert.Latitude == nil || *cfg.Advert.Latitude != 59.4369 {
		t.Errorf("Advert.Latitude = %v, want 59.4369", cfg.Advert.Latitude)
	}
	if cfg.Dispatch.SeenCacheSize != 0 {
		t.Errorf("Dispatch.SeenCacheSize = %d, want 0", cfg.Dispatch.SeenCacheSize)
	}
	if !cfg.Health.Enabled || cfg.Health.Address != "127.0.0.1:9090" {
		t.Errorf("Health = %+v", cfg.Health)
	}
}

func TestParse_MinimalConfig(t *testing.T) {
	cfg, err := Parse([]byte("node:\n  name: tiny\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	// Unset sections keep their defaults
	if cfg.Node.DataDir != "./data" {
		t.Errorf("Node.DataDir = %s, want ./data", cfg.Node.DataDir)
	}
	if cfg.Advert.Interval != 2*time.Minute {
		t.Errorf("Advert.Interval = %v, want 2m", cfg.Advert.Interval)
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("node: [unclosed"))
	if err == nil {
		t.Error("Parse() should fail for invalid YAML")
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name      string
		yaml      string
		wantError string
	}{
		{
			name:      "invalid log level",
			yaml:      "node:\n  log_level: loud\n",
			wantError: "invalid log_level",
		},
		{
			name:      "invalid log format",
			yaml:      "node:\n  log_format: xml\n",
			wantError: "invalid log_format",
		},
		{
			name:      "empty data dir",
			yaml:      "node:\n  data_dir: \"\"\n",
			wantError: "node.data_dir is required",
		},
		{
			name:      "long name",
			yaml:      "node:\n  name: " + strings.Repeat("n", 33) + "\n",
			wantError: "node.name must be at most 32 bytes",
		},
		{
			name:      "bad seed",
			yaml:      "identity:\n  seed: nothex\n",
			wantError: "identity.seed must be",
		},
		{
			name: "contact key too short",
			yaml: `
identity:
  contacts:
    - name: a
      public_key: "abcd"
`,
			wantError: "identity.contacts[0]: public_key",
		},
		{
			name: "contact without name",
			yaml: `
identity:
  contacts:
    - public_key: "4f83e8c310aa7b40d132c9ce7dc47c0ee672885f11d9ae695f90e4f907c06d40"
`,
			wantError: "identity.contacts[0]: name is required",
		},
		{
			name: "channel secret wrong size",
			yaml: `
identity:
  channels:
    - name: c
      secret: "8b3387e9c5cdea6a"
`,
			wantError: "identity.channels[0]: secret",
		},
		{
			name:      "unknown transport",
			yaml:      "radio:\n  transport: lora\n",
			wantError: "invalid transport",
		},
		{
			name:      "udp not multicast",
			yaml:      "radio:\n  transport: udp\n  address: 10.0.0.1:4000\n",
			wantError: "not a multicast group",
		},
		{
			name:      "ws bad url",
			yaml:      "radio:\n  transport: ws\n  address: http://hub\n",
			wantError: "ws:// or wss://",
		},
		{
			name:      "quic without endpoint",
			yaml:      "radio:\n  transport: quic\n",
			wantError: "quic needs address",
		},
		{
			name:      "quic with both",
			yaml:      "radio:\n  transport: quic\n  address: a:1\n  listen: :1\n",
			wantError: "either address or listen",
		},
		{
			name:      "zero receive timeout",
			yaml:      "radio:\n  receive_timeout: 0s\n",
			wantError: "receive_timeout must be positive",
		},
		{
			name:      "advert interval",
			yaml:      "advert:\n  interval: 10ms\n",
			wantError: "advert.interval must be at least 1s",
		},
		{
			name:      "advert type",
			yaml:      "advert:\n  type: gateway\n",
			wantError: "invalid advert.type",
		},
		{
			name:      "latitude without longitude",
			yaml:      "advert:\n  latitude: 10.5\n",
			wantError: "must be set together",
		},
		{
			name:      "latitude range",
			yaml:      "advert:\n  latitude: 91\n  longitude: 0\n",
			wantError: "advert.latitude must be between",
		},
		{
			name:      "drop rate range",
			yaml:      "radio:\n  transport: memory\n  faults:\n    drop_rate: 1.5\n",
			wantError: "faults: drop_rate must be between 0 and 1",
		},
		{
			name:      "delay order",
			yaml:      "radio:\n  transport: memory\n  faults:\n    min_delay: 2s\n    max_delay: 1s\n",
			wantError: "max_delay must not be less than min_delay",
		},
		{
			name:      "event queue",
			yaml:      "dispatch:\n  event_queue_size: 0\n",
			wantError: "dispatch.event_queue_size must be positive",
		},
		{
			name:      "health without address",
			yaml:      "health:\n  enabled: true\n  address: \"\"\n",
			wantError: "health.address is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Error("Parse() should fail")
				return
			}
			if !strings.Contains(err.Error(), tt.wantError) {
				t.Errorf("Error = %v, want to contain %q", err, tt.wantError)
			}
		})
	}
}

func TestDecodeKey(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		size    int
		wantErr bool
	}{
		{"hex", "8b3387e9c5cdea6ac9e5edbaa115cd72", 16, false},
		{"hex with prefix", "0x8b3387e9c5cdea6ac9e5edbaa115cd72", 16, false},
		{"base64", "izOH6cXN6mrJ5e26oRXNcg==", 16, false},
		{"surrounding space", "  izOH6cXN6mrJ5e26oRXNcg==\n", 16, false},
		{"wrong size", "8b3387e9", 16, true},
		{"garbage", "not a key", 16, true},
		{"32 byte hex", strings.Repeat("ab", 32), 32, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := DecodeKey(tt.in, tt.size)
			if tt.wantErr {
				if err == nil {
					t.Error("DecodeKey() should fail")
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeKey() error = %v", err)
			}
			if len(b) != tt.size {
				t.Errorf("len = %d, want %d", len(b), tt.size)
			}
		})
	}

	hexKey, _ := DecodeKey("8b3387e9c5cdea6ac9e5edbaa115cd72", 16)
	b64Key, _ := DecodeKey("izOH6cXN6mrJ5e26oRXNcg==", 16)
	if string(hexKey) != string(b64Key) {
		t.Error("hex and base64 forms of the same key decode differently")
	}
}

func TestParse_EnvVarSubstitution(t *testing.T) {
	t.Setenv("TEST_DATA_DIR", "/custom/data")
	t.Setenv("TEST_HUB_URL", "ws://hub.local:8765/air")

	yamlConfig := `
node:
  data_dir: "${TEST_DATA_DIR}"
radio:
  transport: ws
  address: "$TEST_HUB_URL"
`

	cfg, err := Parse([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Node.DataDir != "/custom/data" {
		t.Errorf("Node.DataDir = %s, want /custom/data", cfg.Node.DataDir)
	}
	if cfg.Radio.Address != "ws://hub.local:8765/air" {
		t.Errorf("Radio.Address = %s, want ws://hub.local:8765/air", cfg.Radio.Address)
	}
}

func TestParse_EnvVarDefaultValue(t *testing.T) {
	os.Unsetenv("NONEXISTENT_VAR")

	cfg, err := Parse([]byte("node:\n  data_dir: \"${NONEXISTENT_VAR:-/default/path}\"\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Node.DataDir != "/default/path" {
		t.Errorf("Node.DataDir = %s, want /default/path", cfg.Node.DataDir)
	}
}

func TestParse_EnvVarNotFound(t *testing.T) {
	os.Unsetenv("NONEXISTENT_VAR")

	cfg, err := Parse([]byte("node:\n  data_dir: \"${NONEXISTENT_VAR}\"\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	// Should keep the original placeholder if not found
	if cfg.Node.DataDir != "${NONEXISTENT_VAR}" {
		t.Errorf("Node.DataDir = %s, want ${NONEXISTENT_VAR}", cfg.Node.DataDir)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Error("Load() should fail for nonexistent file")
	}
}

func TestLoad_ValidFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("node:\n  log_level: debug\n"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Node.LogLevel != "debug" {
		t.Errorf("Node.LogLevel = %s, want debug", cfg.Node.LogLevel)
	}
}

func TestConfig_Redacted(t *testing.T) {
	cfg := Default()
	cfg.Identity.Seed = strings.Repeat("ab", 32)
	cfg.Identity.Channels = []ChannelConfig{{Name: "team", Secret: "izOH6cXN6mrJ5e26oRXNcg=="}}
	cfg.Radio.TLS.Key = "/etc/meshcore/key.pem"

	if !cfg.HasSensitiveData() {
		t.Error("HasSensitiveData() = false, want true")
	}

	r := cfg.Redacted()
	if r.Identity.Seed != redactedValue {
		t.Errorf("Identity.Seed = %s, want redacted", r.Identity.Seed)
	}
	if r.Identity.Channels[0].Secret != redactedValue {
		t.Errorf("Channels[0].Secret = %s, want redacted", r.Identity.Channels[0].Secret)
	}
	if r.Identity.Channels[0].Name != "team" {
		t.Errorf("Channels[0].Name = %s, want team", r.Identity.Channels[0].Name)
	}
	if r.Radio.TLS.Key != redactedValue {
		t.Errorf("Radio.TLS.Key = %s, want redacted", r.Radio.TLS.Key)
	}

	// The original is untouched
	if cfg.Identity.Seed == redactedValue {
		t.Error("Redacted() modified the original config")
	}

	s := cfg.String()
	if strings.Contains(s, "izOH6cXN6mrJ5e26oRXNcg==") || strings.Contains(s, strings.Repeat("ab", 32)) {
		t.Error("String() leaks secrets")
	}
	if !strings.Contains(cfg.StringUnsafe(), "izOH6cXN6mrJ5e26oRXNcg==") {
		t.Error("StringUnsafe() should include secrets")
	}
}

func TestConfig_RedactedKeepsModes(t *testing.T) {
	cfg := Default()
	cfg.Identity.Seed = SeedHardcoded

	if cfg.HasSensitiveData() {
		t.Error("HasSensitiveData() = true for hardcoded seed mode")
	}
	if r := cfg.Redacted(); r.Identity.Seed != SeedHardcoded {
		t.Errorf("Identity.Seed = %s, want hardcoded", r.Identity.Seed)
	}
}
