// Package main provides the CLI entry point for a MeshCore node.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/postalsys/meshcore/internal/config"
	"github.com/postalsys/meshcore/internal/crypto"
	"github.com/postalsys/meshcore/internal/dispatch"
	"github.com/postalsys/meshcore/internal/health"
	"github.com/postalsys/meshcore/internal/identity"
	"github.com/postalsys/meshcore/internal/logging"
	"github.com/postalsys/meshcore/internal/metrics"
	"github.com/postalsys/meshcore/internal/node"
	"github.com/postalsys/meshcore/internal/protocol"
	"github.com/postalsys/meshcore/internal/recovery"
	"github.com/postalsys/meshcore/internal/transport"
	"github.com/postalsys/meshcore/internal/wizard"
)

var (
	// Version is set at build time
	Version = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "meshcore",
		Short: "MeshCore - mesh radio node",
		Long: `MeshCore runs a node of a low-bandwidth mesh radio network.

It receives frames from a radio link, authenticates adverts, direct
messages and channel messages, answers text messages with acks and
advertises its own identity. Radio links are simulated on a host over
UDP multicast, a WebSocket hub or QUIC.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(keygenCmd())
	rootCmd.AddCommand(decodeCmd())
	rootCmd.AddCommand(sendCmd())
	rootCmd.AddCommand(channelHashCmd())
	rootCmd.AddCommand(hubCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a configuration and identity interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := wizard.New().Run()
			return err
		},
	}
}

func runCmd() *cobra.Command {
	var (
		configPath string
		stdin      bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the node",
		Long: `Start the node with the specified configuration.

With --stdin, lines typed on standard input are sent:
  #channel text   sends text to a channel
  @contact text   sends a direct message`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			out := newPrinter(os.Stdout)
			n, err := node.New(cfg, node.Options{OnEvent: out.event})
			if err != nil {
				return fmt.Errorf("failed to create node: %w", err)
			}

			pub := n.Identity().SigningKeys().PublicKey()
			fmt.Printf("Starting MeshCore node %q...\n", cfg.Node.Name)
			fmt.Printf("Public key: %s\n", hex.EncodeToString(pub[:]))

			startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			err = n.Start(startCtx)
			cancel()
			if err != nil {
				return fmt.Errorf("failed to start node: %w", err)
			}

			fmt.Printf("Radio: %s %s\n", cfg.Radio.Transport, radioTarget(cfg.Radio))
			if addr := n.HealthAddress(); addr != "" {
				fmt.Printf("Health: http://%s/healthz\n", addr)
			}

			if stdin {
				go readCommands(n, out)
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case sig := <-sigCh:
				fmt.Printf("\nReceived signal %v, shutting down...\n", sig)
			case <-n.Done():
				fmt.Println("Dispatcher stopped, shutting down...")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := n.StopWithContext(ctx); err != nil {
				fmt.Printf("Shutdown error: %v\n", err)
				return err
			}

			fmt.Println("Node stopped.")
			return n.Err()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "Path to configuration file")
	cmd.Flags().BoolVar(&stdin, "stdin", false, "Send messages typed on standard input")

	return cmd
}

// readCommands sends "#channel text" and "@contact text" lines.
func readCommands(n *node.Node, out *printer) {
	defer recovery.RecoverWithLog(nil, "cli.stdin")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		target, text, _ := strings.Cut(line[1:], " ")
		var err error
		switch line[0] {
		case '#':
			err = n.SendChannelText(target, text)
		case '@':
			var ack [crypto.AckHashSize]byte
			ack, err = n.SendDirectText(target, text)
			if err == nil {
				out.note("sent, expecting ack %x", ack)
			}
		default:
			err = errors.New("start the line with #channel or @contact")
		}
		if err != nil {
			out.errorf("%v", err)
		}
	}
}

func keygenCmd() *cobra.Command {
	var (
		dataDir string
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a node identity",
		Long: `Generate a new Ed25519 identity seed.

With --data-dir the seed is stored there for seed: auto; otherwise it is
printed so it can be pasted into identity.seed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dataDir != "" && identity.SeedExists(dataDir) && !force {
				return fmt.Errorf("identity already exists in %s (use --force to replace it)", dataDir)
			}

			keys, err := crypto.GenerateSigningKeys()
			if err != nil {
				return err
			}

			out := newPrinter(os.Stdout)
			pub := keys.PublicKey()
			out.title("New identity")
			out.field("Public key", hex.EncodeToString(pub[:]))
			out.field("Node hash", fmt.Sprintf("%02x", keys.Hash()))

			if dataDir != "" {
				if err := identity.StoreSeed(dataDir, keys); err != nil {
					return err
				}
				out.field("Stored in", dataDir)
				return nil
			}

			seed := keys.Seed()
			out.field("Seed", hex.EncodeToString(seed[:]))
			out.note("keep the seed secret")
			return nil
		},
	}

	cmd.Flags().StringVarP(&dataDir, "data-dir", "d", "", "Store the seed in this directory")
	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing seed")

	return cmd
}

func decodeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "decode <hex>",
		Short: "Decode and authenticate a packet",
		Long: `Decode a raw frame given as hex. Adverts are verified. With --config
the node's contacts and channels are used to authenticate and decrypt
direct and group messages; without it only the public channel is known.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			frame, err := hex.DecodeString(strings.ReplaceAll(strings.TrimSpace(args[0]), " ", ""))
			if err != nil {
				return fmt.Errorf("invalid hex: %w", err)
			}

			ident, err := decodeIdentity(configPath)
			if err != nil {
				return err
			}

			radio := transport.NewMedium().Attach("decode")
			defer radio.Close()
			d, err := dispatch.New(dispatch.Config{Radio: radio, Identity: ident})
			if err != nil {
				return err
			}

			out := newPrinter(os.Stdout)
			pkt, derr := protocol.Decode(frame)
			if derr == nil {
				out.packet(&pkt)
			}

			ev, err := d.Inspect(frame)
			if err != nil {
				var drop *dispatch.DropError
				if errors.As(err, &drop) {
					out.field("Verdict", "rejected ("+drop.Reason+")")
					if drop.Err != nil {
						out.field("Detail", drop.Err.Error())
					}
					return nil
				}
				return err
			}

			out.field("Verdict", "accepted")
			if ev != nil {
				out.event(ev)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Configuration with contacts and channels")

	return cmd
}

func decodeIdentity(configPath string) (identity.Provider, error) {
	if configPath == "" {
		keys, err := crypto.GenerateSigningKeys()
		if err != nil {
			return nil, err
		}
		return identity.NewStatic(keys, nil, []identity.Channel{identity.PublicChannel()}), nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return identity.FromConfig(cfg.Identity, cfg.Node.DataDir)
}

func sendCmd() *cobra.Command {
	var (
		configPath string
		channel    string
		to         string
		wait       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send --channel NAME | --to CONTACT TEXT",
		Short: "Compose and transmit one message",
		Long: `Compose a message and transmit it once on the configured radio.

A direct message (--to) waits up to --wait for the recipient's ack.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (channel == "") == (to == "") {
				return errors.New("give exactly one of --channel or --to")
			}
			text := []byte(strings.Join(args, " "))

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			ident, err := identity.FromConfig(cfg.Identity, cfg.Node.DataDir)
			if err != nil {
				return err
			}

			var (
				buf  [protocol.MaxPacketSize]byte
				size int
				ack  [crypto.AckHashSize]byte
			)
			ts := uint32(time.Now().Unix())
			if channel != "" {
				ch, ok := identity.FindChannel(ident, channel)
				if !ok {
					return fmt.Errorf("unknown channel %q", channel)
				}
				size, err = dispatch.ComposeGroupText(buf[:], ch, protocol.RouteFlood, ts, 0, text)
			} else {
				c, ok := identity.FindContact(ident, to)
				if !ok {
					return fmt.Errorf("unknown contact %q", to)
				}
				size, ack, err = dispatch.ComposeDirect(buf[:], ident.SigningKeys(), c, protocol.PayloadTxt, protocol.RouteFlood, ts, 0, text)
			}
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			logger := logging.NewLogger(cfg.Node.LogLevel, cfg.Node.LogFormat)
			radio, err := transport.New(ctx, cfg.Radio, logger)
			if err != nil {
				return fmt.Errorf("failed to open radio: %w", err)
			}
			defer radio.Close()

			if err := radio.Transmit(ctx, buf[:size]); err != nil {
				return fmt.Errorf("transmit: %w", err)
			}

			out := newPrinter(os.Stdout)
			out.field("Sent", fmt.Sprintf("%d bytes", size))
			if to == "" || wait <= 0 {
				return nil
			}

			out.field("Ack", fmt.Sprintf("%x", ack))
			took, err := waitForAck(ctx, radio, ack, wait)
			if err != nil {
				return err
			}
			out.field("Acknowledged", "after "+took.Round(time.Millisecond).String())
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "Path to configuration file")
	cmd.Flags().StringVar(&channel, "channel", "", "Channel to send to")
	cmd.Flags().StringVar(&to, "to", "", "Contact to send a direct message to")
	cmd.Flags().DurationVar(&wait, "wait", 10*time.Second, "How long to wait for the ack of a direct message (0 to skip)")

	return cmd
}

// waitForAck listens until an ACK carrying want arrives or wait elapses.
func waitForAck(ctx context.Context, radio transport.Radio, want [crypto.AckHashSize]byte, wait time.Duration) (time.Duration, error) {
	start := time.Now()
	deadline := start.Add(wait)
	buf := make([]byte, transport.MaxFrameSize)

	for {
		left := time.Until(deadline)
		if left <= 0 {
			return 0, fmt.Errorf("no ack within %s", wait)
		}
		n, err := radio.Receive(ctx, buf, left)
		if errors.Is(err, transport.ErrTimeout) {
			continue
		}
		if err != nil {
			return 0, err
		}

		pkt, err := protocol.Decode(buf[:n])
		if err != nil || pkt.PayloadType() != protocol.PayloadAck {
			continue
		}
		if got, err := protocol.ParseAck(pkt.Payload); err == nil && bytes.Equal(got[:], want[:]) {
			return time.Since(start), nil
		}
	}
}

func channelHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "channel-hash <secret>",
		Short: "Print the hash of a channel secret",
		Long:  "Print the one-byte channel hash of a 16-byte secret given as hex or base64.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := config.DecodeKey(args[0], crypto.ChannelSecretSize)
			if err != nil {
				return err
			}
			var secret [crypto.ChannelSecretSize]byte
			copy(secret[:], b)
			fmt.Printf("%02x\n", crypto.ChannelHash(secret))
			return nil
		},
	}
}

func hubCmd() *cobra.Command {
	var (
		listen      string
		metricsAddr string
		logLevel    string
	)

	cmd := &cobra.Command{
		Use:   "hub",
		Short: "Run a WebSocket airwave hub",
		Long: `Run a hub that relays every frame a connected radio sends to all other
connected radios. Nodes join with transport: ws and address
ws://HOST:PORT` + transport.HubPath + `.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.NewLogger(logLevel, "text")

			hub := transport.NewHub(logger, metrics.Default())
			if err := hub.Start(listen); err != nil {
				return fmt.Errorf("failed to start hub: %w", err)
			}
			fmt.Printf("Hub listening on ws://%s%s\n", hub.Addr(), transport.HubPath)

			var hs *health.Server
			if metricsAddr != "" {
				cfg := health.DefaultServerConfig()
				cfg.Address = metricsAddr
				hs = health.NewServer(cfg, nil)
				if err := hs.Start(); err != nil {
					hub.Close()
					return fmt.Errorf("failed to start metrics server: %w", err)
				}
				fmt.Printf("Metrics: http://%s/metrics\n", hs.Address())
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			sig := <-sigCh
			fmt.Printf("\nReceived signal %v, shutting down...\n", sig)

			if hs != nil {
				hs.Stop()
			}
			return hub.Close()
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", ":8765", "Address to listen on")
	cmd.Flags().StringVar(&metricsAddr, "metrics", "", "Serve Prometheus metrics on this address")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	return cmd
}

func radioTarget(r config.RadioConfig) string {
	if r.Listen != "" {
		return "listening on " + r.Listen
	}
	return r.Address
}
