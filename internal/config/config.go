// Package config provides configuration parsing and validation for a MeshCore node.
package config

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Seed modes accepted by identity.seed besides a literal hex seed.
const (
	SeedAuto      = "auto"
	SeedHardcoded = "hardcoded"
)

// Radio transports.
const (
	TransportMemory = "memory"
	TransportUDP    = "udp"
	TransportWS     = "ws"
	TransportQUIC   = "quic"
)

// Config represents the complete node configuration.
type Config struct {
	Node     NodeConfig     `yaml:"node"`
	Identity IdentityConfig `yaml:"identity"`
	Radio    RadioConfig    `yaml:"radio"`
	Advert   AdvertConfig   `yaml:"advert"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Health   HealthConfig   `yaml:"health"`
}

// NodeConfig contains process-level settings.
type NodeConfig struct {
	Name      string `yaml:"name"`       // Advertised node name
	DataDir   string `yaml:"data_dir"`   // Directory for the identity seed
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // text, json
}

// IdentityConfig contains key material.
type IdentityConfig struct {
	Seed          string          `yaml:"seed"`           // "auto", "hardcoded" or 64 hex chars
	PublicChannel bool            `yaml:"public_channel"` // Join the well-known public channel
	Contacts      []ContactConfig `yaml:"contacts"`
	Channels      []ChannelConfig `yaml:"channels"`
}

// ContactConfig is a known peer.
type ContactConfig struct {
	Name      string `yaml:"name"`
	PublicKey string `yaml:"public_key"` // 64 hex chars
}

// ChannelConfig is a group channel and its pre-shared key.
type ChannelConfig struct {
	Name   string `yaml:"name"`
	Secret string `yaml:"secret"` // 16 bytes, hex or base64
}

// RadioConfig selects and tunes the radio transport.
type RadioConfig struct {
	Transport             string        `yaml:"transport"` // memory, udp, ws, quic
	Address               string        `yaml:"address"`   // multicast group, hub URL or QUIC peer
	Listen                string        `yaml:"listen"`    // QUIC listen address
	Interface             string        `yaml:"interface"` // multicast interface name
	TLS                   TLSConfig     `yaml:"tls"`
	ReceiveTimeout        time.Duration `yaml:"receive_timeout"`
	AirtimeBytesPerSecond int           `yaml:"airtime_bytes_per_second"` // 0 = unlimited
	Faults                FaultsConfig  `yaml:"faults"`
}

// FaultsConfig impairs the radio link for testing. All zero disables it.
type FaultsConfig struct {
	DropRate    float64       `yaml:"drop_rate"`    // chance a received frame is lost, 0.0 to 1.0
	CorruptRate float64       `yaml:"corrupt_rate"` // chance a received frame has a bit flipped
	MinDelay    time.Duration `yaml:"min_delay"`    // added before each transmit
	MaxDelay    time.Duration `yaml:"max_delay"`
	Seed        int64         `yaml:"seed"` // 0 = random
}

// TLSConfig defines TLS settings for the QUIC link.
type TLSConfig struct {
	Cert               string `yaml:"cert"`                 // Certificate file path
	Key                string `yaml:"key"`                  // Private key file path
	CA                 string `yaml:"ca"`                   // CA certificate file path
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"` // Skip verification (dev only)
}

// AdvertConfig controls the periodic self-advert.
type AdvertConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Interval  time.Duration `yaml:"interval"`
	Type      string        `yaml:"type"` // none, chat, repeater, room
	Latitude  *float64      `yaml:"latitude,omitempty"`
	Longitude *float64      `yaml:"longitude,omitempty"`
}

// DispatchConfig sizes the dispatcher queues.
type DispatchConfig struct {
	EventQueueSize int `yaml:"event_queue_size"`
	OutboxSize     int `yaml:"outbox_size"`
	SeenCacheSize  int `yaml:"seen_cache_size"`
}

// HealthConfig defines health check server settings.
type HealthConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			Name:      "meshcore",
			DataDir:   "./data",
			LogLevel:  "info",
			LogFormat: "text",
		},
		Identity: IdentityConfig{
			Seed:          SeedAuto,
			PublicChannel: true,
			Contacts:      []ContactConfig{},
			Channels:      []ChannelConfig{},
		},
		Radio: RadioConfig{
			Transport:      TransportUDP,
			Address:        "239.77.67.1:47300",
			ReceiveTimeout: 5 * time.Second,
		},
		Advert: AdvertConfig{
			Enabled:  true,
			Interval: 2 * time.Minute,
			Type:     "chat",
		},
		Dispatch: DispatchConfig{
			EventQueueSize: 64,
			OutboxSize:     16,
			SeenCacheSize:  128,
		},
		Health: HealthConfig{
			Enabled:      false,
			Address:      ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// envVarRegex matches ${VAR} or $VAR patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces environment variable references with their values.
// ${VAR:-default} falls back to default; unknown variables are left as is.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		if idx := strings.Index(name, ":-"); idx != -1 {
			if val, ok := os.LookupEnv(name[:idx]); ok {
				return val
			}
			return name[idx+2:]
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// DecodeKey decodes a hex (optionally 0x prefixed) or standard base64 key of
// exactly size bytes.
func DecodeKey(s string, size int) ([]byte, error) {
	s = strings.TrimSpace(s)
	h := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(h) == size*2 {
		if b, err := hex.DecodeString(h); err == nil {
			return b, nil
		}
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil && len(b) == size {
		return b, nil
	}
	return nil, fmt.Errorf("expected %d bytes as hex or base64", size)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Node.DataDir == "" {
		errs = append(errs, "node.data_dir is required")
	}
	if len(c.Node.Name) > 32 {
		errs = append(errs, "node.name must be at most 32 bytes")
	}
	if !isValidLogLevel(c.Node.LogLevel) {
		errs = append(errs, fmt.Sprintf("invalid log_level: %s (must be debug, info, warn, or error)", c.Node.LogLevel))
	}
	if !isValidLogFormat(c.Node.LogFormat) {
		errs = append(errs, fmt.Sprintf("invalid log_format: %s (must be text or json)", c.Node.LogFormat))
	}

	switch c.Identity.Seed {
	case SeedAuto, SeedHardcoded:
	default:
		if _, err := hex.DecodeString(c.Identity.Seed); err != nil || len(c.Identity.Seed) != 64 {
			errs = append(errs, "identity.seed must be auto, hardcoded, or 64 hex characters")
		}
	}
	for i, ct := range c.Identity.Contacts {
		if ct.Name == "" {
			errs = append(errs, fmt.Sprintf("identity.contacts[%d]: name is required", i))
		}
		if _, err := DecodeKey(ct.PublicKey, 32); err != nil {
			errs = append(errs, fmt.Sprintf("identity.contacts[%d]: public_key: %v", i, err))
		}
	}
	for i, ch := range c.Identity.Channels {
		if ch.Name == "" {
			errs = append(errs, fmt.Sprintf("identity.channels[%d]: name is required", i))
		}
		if _, err := DecodeKey(ch.Secret, 16); err != nil {
			errs = append(errs, fmt.Sprintf("identity.channels[%d]: secret: %v", i, err))
		}
	}

	if err := validateRadio(c.Radio); err != nil {
		errs = append(errs, fmt.Sprintf("radio: %v", err))
	}

	if c.Advert.Enabled && c.Advert.Interval < time.Second {
		errs = append(errs, "advert.interval must be at least 1s")
	}
	if !isValidAdvertType(c.Advert.Type) {
		errs = append(errs, fmt.Sprintf("invalid advert.type: %s (must be none, chat, repeater, or room)", c.Advert.Type))
	}
	if (c.Advert.Latitude == nil) != (c.Advert.Longitude == nil) {
		errs = append(errs, "advert.latitude and advert.longitude must be set together")
	}
	if c.Advert.Latitude != nil && (*c.Advert.Latitude < -90 || *c.Advert.Latitude > 90) {
		errs = append(errs, "advert.latitude must be between -90 and 90")
	}
	if c.Advert.Longitude != nil && (*c.Advert.Longitude < -180 || *c.Advert.Longitude > 180) {
		errs = append(errs, "advert.longitude must be between -180 and 180")
	}

	if c.Dispatch.EventQueueSize < 1 {
		errs = append(errs, "dispatch.event_queue_size must be positive")
	}
	if c.Dispatch.OutboxSize < 1 {
		errs = append(errs, "dispatch.outbox_size must be positive")
	}
	if c.Dispatch.SeenCacheSize < 0 {
		errs = append(errs, "dispatch.seen_cache_size must not be negative")
	}

	if c.Health.Enabled && c.Health.Address == "" {
		errs = append(errs, "health.address is required when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch format {
	case "text", "json":
		return true
	default:
		return false
	}
}

func isValidAdvertType(t string) bool {
	switch t {
	case "none", "chat", "repeater", "room":
		return true
	default:
		return false
	}
}

func validateRadio(r RadioConfig) error {
	if r.ReceiveTimeout <= 0 {
		return fmt.Errorf("receive_timeout must be positive")
	}
	if r.AirtimeBytesPerSecond < 0 {
		return fmt.Errorf("airtime_bytes_per_second must not be negative")
	}
	if err := validateFaults(r.Faults); err != nil {
		return fmt.Errorf("faults: %w", err)
	}

	switch r.Transport {
	case TransportMemory:
		return nil
	case TransportUDP:
		addr, err := net.ResolveUDPAddr("udp4", r.Address)
		if err != nil {
			return fmt.Errorf("address: %v", err)
		}
		if !addr.IP.IsMulticast() {
			return fmt.Errorf("address %s is not a multicast group", r.Address)
		}
		return nil
	case TransportWS:
		u, err := url.Parse(r.Address)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return fmt.Errorf("address must be a ws:// or wss:// URL")
		}
		return nil
	case TransportQUIC:
		if r.Address == "" && r.Listen == "" {
			return fmt.Errorf("quic needs address (dial) or listen")
		}
		if r.Address != "" && r.Listen != "" {
			return fmt.Errorf("quic takes either address or listen, not both")
		}
		if r.Listen != "" && (r.TLS.Cert == "") != (r.TLS.Key == "") {
			return fmt.Errorf("tls.cert and tls.key must be set together")
		}
		return nil
	default:
		return fmt.Errorf("invalid transport: %s (must be memory, udp, ws, or quic)", r.Transport)
	}
}

func validateFaults(f FaultsConfig) error {
	if f.DropRate < 0 || f.DropRate > 1 {
		return fmt.Errorf("drop_rate must be between 0 and 1")
	}
	if f.CorruptRate < 0 || f.CorruptRate > 1 {
		return fmt.Errorf("corrupt_rate must be between 0 and 1")
	}
	if f.MinDelay < 0 || f.MaxDelay < 0 {
		return fmt.Errorf("delays must not be negative")
	}
	if f.MaxDelay > 0 && f.MaxDelay < f.MinDelay {
		return fmt.Errorf("max_delay must not be less than min_delay")
	}
	return nil
}

// String returns a string representation of the config (for debugging).
// Sensitive values are redacted. Use StringUnsafe() for full output.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c.Redacted())
	return string(data)
}

// StringUnsafe returns a string representation including sensitive values.
// Use with caution - do not log the output.
func (c *Config) StringUnsafe() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// redactedValue is the placeholder for sensitive values.
const redactedValue = "[REDACTED]"

// Redacted returns a copy of the config with seeds, channel secrets and TLS
// key paths replaced. This is safe to log or display to users.
func (c *Config) Redacted() *Config {
	// Deep copy by marshaling and unmarshaling
	data, err := yaml.Marshal(c)
	if err != nil {
		return c
	}

	redacted := &Config{}
	if err := yaml.Unmarshal(data, redacted); err != nil {
		return c
	}

	if s := redacted.Identity.Seed; s != SeedAuto && s != SeedHardcoded && s != "" {
		redacted.Identity.Seed = redactedValue
	}
	for i := range redacted.Identity.Channels {
		if redacted.Identity.Channels[i].Secret != "" {
			redacted.Identity.Channels[i].Secret = redactedValue
		}
	}
	if redacted.Radio.TLS.Key != "" {
		redacted.Radio.TLS.Key = redactedValue
	}

	return redacted
}

// HasSensitiveData returns true if the config embeds a seed or channel secret.
func (c *Config) HasSensitiveData() bool {
	if s := c.Identity.Seed; s != SeedAuto && s != SeedHardcoded && s != "" {
		return true
	}
	for _, ch := range c.Identity.Channels {
		if ch.Secret != "" {
			return true
		}
	}
	return false
}
