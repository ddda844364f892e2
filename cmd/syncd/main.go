package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vaultforge/syncd/pkg/api"
	"github.com/vaultforge/syncd/pkg/client"
	"github.com/vaultforge/syncd/pkg/config"
	"github.com/vaultforge/syncd/pkg/hub"
	"github.com/vaultforge/syncd/pkg/identity"
	"github.com/vaultforge/syncd/pkg/log"
	"github.com/vaultforge/syncd/pkg/metrics"
	"github.com/vaultforge/syncd/pkg/publish"
	"github.com/vaultforge/syncd/pkg/security"
	"github.com/vaultforge/syncd/pkg/storage"
	"github.com/vaultforge/syncd/pkg/sync"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "syncd",
	Short: "syncd - an Obsidian-compatible vault sync server",
	Long: `syncd accepts Obsidian's Sync plugin over WebSocket and serves
published vault notes over plain HTTP, backed by a single embedded
BoltDB file. No external database, no message broker.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"syncd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("data-dir", "", "Override DATA_DIR for this invocation")
	rootCmd.PersistentFlags().String("config", "", "Optional YAML config file overlay")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokenCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	yamlPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(yamlPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP+WebSocket sync server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		store, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()
		fmt.Printf("✓ Storage opened at %s\n", cfg.DataDir)
		metrics.RegisterComponent("storage", true, "open")

		secret, err := security.LoadOrCreateSecret(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("load signing secret: %w", err)
		}
		fmt.Println("✓ Signing secret loaded")

		ids := identity.NewService(store, secret, cfg.SignupKey)
		h := hub.New()
		metrics.RegisterComponent("hub", true, "ready")
		engine := sync.NewEngine(store, ids, h, cfg)
		pub := publish.NewService(store, cfg)
		pubRtr := publish.NewRouter(store)

		collector := metrics.NewCollector(store, h)
		collector.Start()
		fmt.Println("✓ Metrics collector started")

		metrics.SetVersion(Version)

		server := api.NewServer(store, ids, engine, pub, pubRtr, cfg)

		errCh := make(chan error, 1)
		go func() {
			if err := server.Start(); err != nil {
				errCh <- fmt.Errorf("http server error: %w", err)
			}
		}()
		time.Sleep(200 * time.Millisecond)

		fmt.Printf("✓ Listening on %s\n", cfg.Host)
		fmt.Printf("  WebSocket:  ws://%s/ws\n", cfg.Host)
		fmt.Printf("  Health:     http://%s/health\n", cfg.Host)
		fmt.Printf("  Readiness:  http://%s/ready\n", cfg.Host)
		fmt.Printf("  Metrics:    http://%s/metrics\n", cfg.Host)
		fmt.Println()
		fmt.Println("syncd is running. Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\n%v\n", err)
		}

		collector.Stop()
		if err := server.Stop(); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}

		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Inspect or mint bearer tokens around the signing secret",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue <email>",
	Short: "Mint a bearer token for an email without going through signin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		secret, err := security.LoadOrCreateSecret(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("load signing secret: %w", err)
		}
		ids := identity.NewService(nil, secret, "")
		token, err := ids.IssueToken(args[0])
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}
		fmt.Println(token)
		return nil
	},
}

var tokenInspectCmd = &cobra.Command{
	Use:   "inspect <token>",
	Short: "Print a bearer token's claims",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		secret, err := security.LoadOrCreateSecret(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("load signing secret: %w", err)
		}
		ids := identity.NewService(nil, secret, "")
		claims, err := ids.Inspect(args[0])
		if err != nil {
			return fmt.Errorf("inspect token: %w", err)
		}
		fmt.Printf("email:      %s\n", claims.Email)
		fmt.Printf("issued at:  %s\n", claims.IssuedAt.Format(time.RFC3339))
		fmt.Printf("expires at: %s\n", claims.ExpiresAt.Format(time.RFC3339))
		if time.Now().After(claims.ExpiresAt) {
			fmt.Println("status:     expired")
		} else {
			fmt.Println("status:     valid")
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running server's /health and /ready endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		server, _ := cmd.Flags().GetString("server")
		if server == "" {
			server = "http://" + cfg.Host
		}
		c := client.NewClient(server)

		health, err := c.Health()
		if err != nil {
			return fmt.Errorf("fetch health: %w", err)
		}
		fmt.Printf("health:  %s\n", health.Status)
		if health.Message != "" {
			fmt.Printf("         %s\n", health.Message)
		}
		for name, state := range health.Components {
			fmt.Printf("  - %-10s %s\n", name, state)
		}

		ready, err := c.Ready()
		if err != nil {
			return fmt.Errorf("fetch readiness: %w", err)
		}
		fmt.Printf("ready:   %s\n", ready.Status)
		fmt.Printf("version: %s\n", ready.Version)
		fmt.Printf("uptime:  %s\n", ready.Uptime)
		return nil
	},
}

var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Inspect vaults on a running server",
}

var vaultListCmd = &cobra.Command{
	Use:   "list",
	Short: "Sign in and list a user's owned and shared vaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		server, _ := cmd.Flags().GetString("server")
		if server == "" {
			server = "http://" + cfg.Host
		}
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")
		if email == "" || password == "" {
			return fmt.Errorf("--email and --password are required")
		}

		c := client.NewClient(server)
		token, err := c.Signin(email, password)
		if err != nil {
			return fmt.Errorf("signin: %w", err)
		}

		owned, shared, err := c.VaultList(token)
		if err != nil {
			return fmt.Errorf("list vaults: %w", err)
		}

		fmt.Println("owned:")
		for _, v := range owned {
			fmt.Printf("  - %s  %s  v%d\n", v.ID, v.Name, v.Version)
		}
		fmt.Println("shared:")
		for _, v := range shared {
			fmt.Printf("  - %s  %s  v%d\n", v.ID, v.Name, v.Version)
		}
		return nil
	},
}

func init() {
	tokenCmd.AddCommand(tokenIssueCmd)
	tokenCmd.AddCommand(tokenInspectCmd)

	statusCmd.Flags().String("server", "", "Server base URL (default http://<HOST> from config)")
	rootCmd.AddCommand(statusCmd)

	vaultListCmd.Flags().String("server", "", "Server base URL (default http://<HOST> from config)")
	vaultListCmd.Flags().String("email", "", "Account email")
	vaultListCmd.Flags().String("password", "", "Account password")
	vaultCmd.AddCommand(vaultListCmd)
	rootCmd.AddCommand(vaultCmd)
}
