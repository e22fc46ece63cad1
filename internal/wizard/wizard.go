// Package wizard provides the interactive `meshcore init` setup wizard.
package wizard

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/postalsys/meshcore/internal/config"
	"github.com/postalsys/meshcore/internal/crypto"
	"github.com/postalsys/meshcore/internal/identity"
)

// Default radio addresses offered for each transport.
const (
	DefaultUDPGroup   = "239.77.67.1:47300"
	DefaultHubURL     = "ws://127.0.0.1:8765/radio"
	DefaultQUICListen = "0.0.0.0:4433"
)

// Answers holds everything the wizard asks for.
type Answers struct {
	DataDir    string
	ConfigPath string
	NodeName   string

	Transport string
	Address   string
	Listen    string

	AdvertEnabled bool
	AdvertType    string
	Latitude      string
	Longitude     string

	PublicChannel  bool
	PrivateChannel string // name of a new private channel, empty for none

	HealthEnabled bool
	LogLevel      string
}

// DefaultAnswers returns the values the forms start from.
func DefaultAnswers() Answers {
	return Answers{
		DataDir:       "./data",
		ConfigPath:    "./config.yaml",
		NodeName:      "meshcore",
		Transport:     config.TransportUDP,
		Address:       DefaultUDPGroup,
		AdvertEnabled: true,
		AdvertType:    "chat",
		PublicChannel: true,
		HealthEnabled: true,
		LogLevel:      "info",
	}
}

// Result contains the wizard output.
type Result struct {
	Config     *config.Config
	ConfigPath string
	PublicKey  [crypto.PublicKeySize]byte
	NewSeed    bool
}

// Wizard manages the interactive setup process.
type Wizard struct {
	theme *huh.Theme
}

// New creates a new setup wizard.
func New() *Wizard {
	return &Wizard{
		theme: huh.ThemeDracula(),
	}
}

// Run executes the interactive setup wizard.
func (w *Wizard) Run() (*Result, error) {
	w.printBanner()

	a := DefaultAnswers()
	steps := []func(*Answers) error{
		w.askBasicSetup,
		w.askRadio,
		w.askAdvert,
		w.askChannels,
		w.askAdvancedOptions,
	}
	for _, step := range steps {
		if err := step(&a); err != nil {
			return nil, err
		}
	}

	res, err := Apply(a)
	if err != nil {
		return nil, err
	}

	w.printSummary(res)
	return res, nil
}

// Apply builds the configuration from a, creates the identity seed and
// writes the config file.
func Apply(a Answers) (*Result, error) {
	cfg, err := BuildConfig(a)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	keys, created, err := identity.LoadOrCreate(cfg.Node.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize node identity: %w", err)
	}

	if err := WriteConfig(cfg, a.ConfigPath); err != nil {
		return nil, err
	}

	return &Result{
		Config:     cfg,
		ConfigPath: a.ConfigPath,
		PublicKey:  keys.PublicKey(),
		NewSeed:    created,
	}, nil
}

func (w *Wizard) printBanner() {
	banner := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("212")).
		Render(`
  __  __           _      ____
 |  \/  | ___  ___| |__  / ___|___  _ __ ___
 | |\/| |/ _ \/ __| '_ \| |   / _ \| '__/ _ \
 | |  | |  __/\__ \ | | | |__| (_) | | |  __/
 |_|  |_|\___||___/_| |_|\____\___/|_|  \___|
`)

	subtitle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render("  Mesh Radio Node - Setup Wizard\n")

	fmt.Println(banner)
	fmt.Println(subtitle)
}

func (w *Wizard) askBasicSetup(a *Answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Basic Setup").
				Description("Name your node and choose where its files live."),

			huh.NewInput().
				Title("Node Name").
				Description("Advertised to other nodes (at most 32 bytes)").
				Value(&a.NodeName).
				Validate(ValidateNodeName),

			huh.NewInput().
				Title("Data Directory").
				Description("Where to store the identity seed").
				Placeholder("./data").
				Value(&a.DataDir).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("data directory is required")
					}
					return nil
				}),

			huh.NewInput().
				Title("Config File Path").
				Description("Where to write the configuration file").
				Placeholder("./config.yaml").
				Value(&a.ConfigPath).
				Validate(ValidateConfigPath),
		),
	).WithTheme(w.theme)

	return form.Run()
}

func (w *Wizard) askRadio(a *Answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Radio").
				Description("Pick the link that carries frames between nodes."),

			huh.NewSelect[string]().
				Title("Transport").
				Options(
					huh.NewOption("UDP multicast (nodes on the same LAN)", config.TransportUDP),
					huh.NewOption("WebSocket hub (meshcore hub)", config.TransportWS),
					huh.NewOption("QUIC link (point to point)", config.TransportQUIC),
				).
				Value(&a.Transport),
		),
	).WithTheme(w.theme)

	if err := form.Run(); err != nil {
		return err
	}

	a.Address = defaultAddress(a.Transport)
	if a.Transport == config.TransportQUIC {
		return w.askQUIC(a)
	}

	addrForm := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Radio Address").
				Description(addressHelp(a.Transport)).
				Value(&a.Address).
				Validate(func(s string) error {
					return ValidateAddress(a.Transport, s)
				}),
		),
	).WithTheme(w.theme)

	return addrForm.Run()
}

func (w *Wizard) askQUIC(a *Answers) error {
	listen := true
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Listen for the other end?").
				Description("One side listens, the other dials").
				Value(&listen),
		),
	).WithTheme(w.theme)
	if err := form.Run(); err != nil {
		return err
	}

	target := &a.Address
	title := "Peer Address"
	if listen {
		a.Address = ""
		a.Listen = DefaultQUICListen
		target = &a.Listen
		title = "Listen Address"
	}

	addrForm := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(title).
				Description("host:port").
				Value(target).
				Validate(ValidateHostPort),
		),
	).WithTheme(w.theme)

	return addrForm.Run()
}

func (w *Wizard) askAdvert(a *Answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Advertisement").
				Description("A signed advert tells other nodes your key and name."),

			huh.NewConfirm().
				Title("Send periodic adverts?").
				Value(&a.AdvertEnabled),

			huh.NewSelect[string]().
				Title("Node Type").
				Options(
					huh.NewOption("Chat", "chat"),
					huh.NewOption("Repeater", "repeater"),
					huh.NewOption("Room server", "room"),
					huh.NewOption("Unspecified", "none"),
				).
				Value(&a.AdvertType),

			huh.NewInput().
				Title("Latitude").
				Description("Decimal degrees, leave empty to omit the position").
				Value(&a.Latitude).
				Validate(coordinate(90)),

			huh.NewInput().
				Title("Longitude").
				Description("Decimal degrees").
				Value(&a.Longitude).
				Validate(coordinate(180)),
		),
	).WithTheme(w.theme)

	return form.Run()
}

func (w *Wizard) askChannels(a *Answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Channels").
				Description("Group messages are readable by everyone holding the channel secret."),

			huh.NewConfirm().
				Title("Join the public channel?").
				Value(&a.PublicChannel),

			huh.NewInput().
				Title("Private Channel").
				Description("Name for a new channel with a random secret, empty to skip").
				Value(&a.PrivateChannel),
		),
	).WithTheme(w.theme)

	return form.Run()
}

func (w *Wizard) askAdvancedOptions(a *Answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Advanced Options").
				Description("Configure monitoring and logging."),

			huh.NewSelect[string]().
				Title("Log Level").
				Options(
					huh.NewOption("Debug (shows dropped packets)", "debug"),
					huh.NewOption("Info (recommended)", "info"),
					huh.NewOption("Warning", "warn"),
					huh.NewOption("Error (quiet)", "error"),
				).
				Value(&a.LogLevel),

			huh.NewConfirm().
				Title("Enable health check endpoint?").
				Description("HTTP endpoint for monitoring (/health, /healthz, /metrics)").
				Value(&a.HealthEnabled),
		),
	).WithTheme(w.theme)

	return form.Run()
}

// BuildConfig turns wizard answers into a node configuration.
func BuildConfig(a Answers) (*config.Config, error) {
	cfg := config.Default()

	cfg.Node.Name = a.NodeName
	cfg.Node.DataDir = a.DataDir
	cfg.Node.LogLevel = a.LogLevel
	cfg.Node.LogFormat = "text"

	cfg.Radio.Transport = a.Transport
	cfg.Radio.Address = a.Address
	cfg.Radio.Listen = a.Listen

	cfg.Advert.Enabled = a.AdvertEnabled
	cfg.Advert.Type = a.AdvertType
	if a.Latitude != "" || a.Longitude != "" {
		lat, err := strconv.ParseFloat(strings.TrimSpace(a.Latitude), 64)
		if err != nil {
			return nil, fmt.Errorf("latitude: %w", err)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(a.Longitude), 64)
		if err != nil {
			return nil, fmt.Errorf("longitude: %w", err)
		}
		cfg.Advert.Latitude = &lat
		cfg.Advert.Longitude = &lon
	}

	cfg.Identity.Seed = config.SeedAuto
	cfg.Identity.PublicChannel = a.PublicChannel
	if name := strings.TrimSpace(a.PrivateChannel); name != "" {
		var secret [crypto.ChannelSecretSize]byte
		if _, err := rand.Read(secret[:]); err != nil {
			return nil, fmt.Errorf("failed to generate channel secret: %w", err)
		}
		cfg.Identity.Channels = append(cfg.Identity.Channels, config.ChannelConfig{
			Name:   name,
			Secret: hex.EncodeToString(secret[:]),
		})
	}

	cfg.Health.Enabled = a.HealthEnabled

	return cfg, nil
}

// WriteConfig writes cfg as YAML with a header comment.
func WriteConfig(cfg *config.Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := `# MeshCore node configuration
# Generated by meshcore init

`
	// Channel secrets make the file sensitive.
	mode := os.FileMode(0644)
	if cfg.HasSensitiveData() {
		mode = 0600
	}
	if err := os.WriteFile(path, []byte(header+string(data)), mode); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

func (w *Wizard) printSummary(res *Result) {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("42"))

	divider := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render("─────────────────────────────────────────────────")

	cfg := res.Config
	fmt.Println()
	fmt.Println(divider)
	fmt.Println(style.Render("✓ Setup Complete!"))
	fmt.Println(divider)
	fmt.Println()

	fmt.Printf("  Public key:   %s\n", hex.EncodeToString(res.PublicKey[:]))
	fmt.Printf("  Node hash:    %02x\n", crypto.PublicKeyHash(res.PublicKey))
	fmt.Printf("  Config file:  %s\n", res.ConfigPath)
	fmt.Printf("  Data dir:     %s\n", cfg.Node.DataDir)
	if !res.NewSeed {
		fmt.Println("  Identity:     existing seed reused")
	}
	fmt.Println()

	radio := cfg.Radio.Address
	if cfg.Radio.Listen != "" {
		radio = "listen " + cfg.Radio.Listen
	}
	fmt.Printf("  Radio:        %s %s\n", cfg.Radio.Transport, radio)

	for _, ch := range cfg.Identity.Channels {
		fmt.Printf("  Channel:      %s (share the secret from the config file)\n", ch.Name)
	}

	if cfg.Health.Enabled {
		fmt.Printf("  Health:       http://%s/health\n", cfg.Health.Address)
	}

	fmt.Println()
	fmt.Println("  To start the node:")
	fmt.Printf("    meshcore run -c %s\n", res.ConfigPath)
	fmt.Println()
}

func defaultAddress(transport string) string {
	switch transport {
	case config.TransportWS:
		return DefaultHubURL
	case config.TransportQUIC:
		return ""
	default:
		return DefaultUDPGroup
	}
}

func addressHelp(transport string) string {
	if transport == config.TransportWS {
		return "Hub URL, e.g. " + DefaultHubURL
	}
	return "Multicast group and port, e.g. " + DefaultUDPGroup
}

// ValidateNodeName checks the advertised name length.
func ValidateNodeName(s string) error {
	if len(s) > 32 {
		return fmt.Errorf("name is %d bytes, at most 32 allowed", len(s))
	}
	return nil
}

// ValidateConfigPath requires a YAML file name.
func ValidateConfigPath(s string) error {
	if s == "" {
		return fmt.Errorf("config path is required")
	}
	if !strings.HasSuffix(s, ".yaml") && !strings.HasSuffix(s, ".yml") {
		return fmt.Errorf("config file should have .yaml or .yml extension")
	}
	return nil
}

// ValidateHostPort requires host:port.
func ValidateHostPort(s string) error {
	if s == "" {
		return fmt.Errorf("address is required")
	}
	if _, _, err := net.SplitHostPort(s); err != nil {
		return fmt.Errorf("invalid address format (use host:port)")
	}
	return nil
}

// ValidateAddress checks a radio address for the given transport.
func ValidateAddress(transport, s string) error {
	switch transport {
	case config.TransportWS:
		u, err := url.Parse(s)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			return fmt.Errorf("enter a ws:// or wss:// URL")
		}
		return nil
	case config.TransportUDP:
		if err := ValidateHostPort(s); err != nil {
			return err
		}
		host, _, _ := net.SplitHostPort(s)
		if ip := net.ParseIP(host); ip == nil || !ip.IsMulticast() {
			return fmt.Errorf("%s is not a multicast group", host)
		}
		return nil
	default:
		return ValidateHostPort(s)
	}
}

func coordinate(limit float64) func(string) error {
	return func(s string) error {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("enter decimal degrees")
		}
		if v < -limit || v > limit {
			return fmt.Errorf("must be between %v and %v", -limit, limit)
		}
		return nil
	}
}
