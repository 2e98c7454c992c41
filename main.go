package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tomaslejdung/goflash/pkg/bridge"
	"github.com/tomaslejdung/goflash/pkg/discovery"
	"github.com/tomaslejdung/goflash/pkg/relay"
)

var config = &Config{}

var rootCmd = &cobra.Command{
	Use:   "goflash",
	Short: "GoFlash - push images to always-on-top viewers",
	Long: `GoFlash pushes an image from a control window to viewer windows across
the local network. Each broadcast carries a display time and a screen position.

Without a subcommand the control window starts.`,
	Example: `  # Start the control window
  goflash

  # Connect straight away
  goflash --relay 192.168.1.10:3000 --key brave-otter-42 --username alice

  # Show broadcasts received by the local control window
  goflash viewer

  # Run a relay on the LAN
  goflash relay --port 3000

  # Find relays on the LAN
  goflash discover`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runControl(cmd.Context())
	},
}

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Capture, edit and broadcast images (default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runControl(cmd.Context())
	},
}

var viewerCmd = &cobra.Command{
	Use:   "viewer",
	Short: "Display broadcasts forwarded by the local control window",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runViewer(cmd.Context())
	},
}

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run a relay: handshake, uploads, fan-out and image hosting",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRelay(cmd.Context())
	},
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "List relays announced on the local network",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDiscover(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&config.Debug, "debug", false,
		"Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&config.LogFile, "log-file",
		getEnv("GOFLASH_LOG_FILE", DefaultLogFile),
		"Log file used while a TUI owns the terminal")
	rootCmd.PersistentFlags().StringVar(&config.BridgeAddr, "bridge",
		getEnv("GOFLASH_BRIDGE", ""),
		"Loopback address shared by the control window and local viewers (default from settings, "+bridge.DefaultAddr+")")

	// Control window options, also accepted by the root command
	for _, fs := range []*cobra.Command{rootCmd, controlCmd} {
		fs.Flags().StringVar(&config.Relay, "relay", getEnv("GOFLASH_RELAY", ""),
			"Relay address to connect to on start (e.g. 192.168.1.10:3000, wss://relay.example.com)")
		fs.Flags().StringVar(&config.Key, "key", getEnv("GOFLASH_KEY", ""),
			"Relay shared key")
		fs.Flags().StringVar(&config.Username, "username", getEnv("GOFLASH_USERNAME", ""),
			"Username announced to the relay")
	}

	viewerCmd.Flags().StringVar(&config.RelayBase, "relay-base", getEnv("GOFLASH_RELAY_BASE", ""),
		"Relay that relative image URLs are fetched from (default from settings)")

	relayCmd.Flags().IntVarP(&config.Port, "port", "p", getEnvInt("GOFLASH_PORT", 3000),
		"Relay listen port")
	relayCmd.Flags().StringVar(&config.Key, "key", getEnv("GOFLASH_KEY", ""),
		"Shared key sessions must present (generated when empty)")
	relayCmd.Flags().StringVar(&config.JWTSecret, "jwt-secret", getEnv("GOFLASH_JWT_SECRET", ""),
		"Secret signing upload tokens (random when empty)")
	relayCmd.Flags().StringVar(&config.PublicURL, "public-url", getEnv("GOFLASH_PUBLIC_URL", ""),
		"Public base URL; makes announced image URLs absolute")
	relayCmd.Flags().DurationVar(&config.ImageTTL, "image-ttl", getEnvDuration("GOFLASH_IMAGE_TTL", time.Hour),
		"How long uploaded images stay available")
	relayCmd.Flags().StringVar(&config.RedisAddr, "redis-addr", getEnv("GOFLASH_REDIS_ADDR", ""),
		"Store images in redis at this address instead of memory")
	relayCmd.Flags().StringVar(&config.RedisPassword, "redis-password", getEnv("GOFLASH_REDIS_PASSWORD", ""),
		"Redis password")
	relayCmd.Flags().IntVar(&config.RedisDB, "redis-db", getEnvInt("GOFLASH_REDIS_DB", 0),
		"Redis database")
	relayCmd.Flags().BoolVar(&config.Announce, "announce", true,
		"Announce the relay on the local network")
	relayCmd.Flags().StringVar(&config.Name, "name", getEnv("GOFLASH_NAME", ""),
		"Announced relay name (generated when empty)")

	discoverCmd.Flags().DurationVarP(&config.BrowseTimeout, "timeout", "t", 3*time.Second,
		"How long to listen for announcements")

	rootCmd.AddCommand(controlCmd, viewerCmd, relayCmd, discoverCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// setupLogging configures the global logger. TUI modes log to a file so the
// display is not corrupted; the returned func closes it.
func setupLogging(tui bool) func() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if config.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if !tui {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
		return func() {}
	}

	logFile, err := os.Create(config.LogFile)
	if err != nil {
		// Fall back to discarding if we can't create the log file
		log.Logger = zerolog.Nop()
		return func() {}
	}
	log.Logger = zerolog.New(logFile).With().Timestamp().Logger()
	log.Info().Str("started", time.Now().Format(time.RFC3339)).Msg("=== GoFlash started ===")
	return func() {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		logFile.Close()
	}
}

func runRelay(ctx context.Context) error {
	defer setupLogging(false)()

	cfg := relay.DefaultConfig()
	cfg.Addr = fmt.Sprintf(":%d", config.Port)
	cfg.Key = config.Key
	if cfg.Key == "" {
		cfg.Key = relay.GenerateKey()
	}
	cfg.JWTSecret = config.JWTSecret
	cfg.PublicURL = strings.TrimSuffix(config.PublicURL, "/")
	cfg.ImageTTL = config.ImageTTL
	cfg.Redis = relay.RedisConfig{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	}

	var store relay.ImageStore
	if cfg.Redis.Addr != "" {
		rs, err := relay.NewRedisStore(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		store = rs
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Storing images in redis")
	}

	srv, err := relay.New(cfg, relay.Options{Store: store})
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}
	port := ln.Addr().(*net.TCPAddr).Port

	name := config.Name
	if name == "" {
		name = relay.GenerateName()
	}
	if config.Announce {
		ann, err := discovery.Announce(name, port, cfg.Version, strings.HasPrefix(cfg.PublicURL, "https://"))
		if err != nil {
			log.Warn().Err(err).Msg("Relay will not be discoverable")
		} else {
			defer ann.Shutdown()
		}
	}

	fmt.Println(titleStyle.Render("GoFlash relay") + dimStyle.Render(" - "+name))
	fmt.Println(statusStyle.Render("Port: ") + urlStyle.Render(fmt.Sprint(port)))
	fmt.Println(statusStyle.Render("Key:  ") + urlStyle.Render(cfg.Key))
	fmt.Println()

	return srv.Serve(ctx, ln)
}

func runDiscover(ctx context.Context) error {
	defer setupLogging(false)()

	ctx, cancel := context.WithTimeout(ctx, config.BrowseTimeout)
	defer cancel()

	relays, err := discovery.Browse(ctx)
	if err != nil {
		return err
	}
	if len(relays) == 0 {
		fmt.Println(dimStyle.Render("No relays found"))
		return nil
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("Relays (%d)", len(relays))))
	for _, r := range relays {
		line := "  " + normalStyle.Render(truncate(r.Name, 32)) + "  " + urlStyle.Render(r.Address())
		if r.Version != "" {
			line += dimStyle.Render("  v" + r.Version)
		}
		fmt.Println(line)
	}
	return nil
}
