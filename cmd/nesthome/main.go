// Package main provides the NestHome CLI entry point.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"

	"github.com/captian-latiao/NestStupidHome-sub000/pkg/auth"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/clock"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/config"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/nesthome"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/server"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// configFile is the name init writes inside the data directory.
const configFile = "nesthome.yaml"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// cli holds the persistent flags shared by every command.
type cli struct {
	configPath string
	dataDir    string
	household  string
	now        string
	advance    time.Duration
	lang       string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	rootCmd := &cobra.Command{
		Use:   "nesthome",
		Short: "NestHome - household upkeep tracker",
		Long: `NestHome tracks the slowly decaying state of a home: how much water is
left in the dispenser tank, how long since each chore was done, and how
fast consumables run out.

The water tank learns the household's drinking rate from refills and
skips the hours everyone is asleep.`,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "Config file (default <data-dir>/"+configFile+")")
	flags.StringVar(&c.dataDir, "data-dir", "", "Data directory")
	flags.StringVar(&c.household, "household", "", "Household ID (default from config)")
	flags.StringVar(&c.now, "now", "", "Pin the virtual clock to this instant (RFC 3339 or Unix milliseconds)")
	flags.DurationVar(&c.advance, "advance", 0, "Shift the virtual clock forward")
	flags.StringVar(&c.lang, "lang", "en", "Language for number formatting")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "Log at info level")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "NestHome v%s (%s)\n", version, commit)
		},
	})

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE:  c.runServe,
	}
	serveCmd.Flags().Int("port", 0, "HTTP port (overrides config)")
	serveCmd.Flags().String("address", "", "Bind address (overrides config)")
	rootCmd.AddCommand(serveCmd)

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create a config file and the default household",
		RunE:  c.runInit,
	}
	initCmd.Flags().String("name", "", "Household display name")
	initCmd.Flags().String("passphrase", "", "Register a passphrase for the household")
	initCmd.Flags().Bool("no-auth", false, "Disable authentication")
	initCmd.Flags().Bool("force", false, "Overwrite an existing config file")
	rootCmd.AddCommand(initCmd)

	rootCmd.AddCommand(
		c.statusCmd(),
		c.refillCmd(),
		c.calibrateCmd(),
		c.cleanCmd(),
		c.stockCmd(),
		c.trendCmd(),
		c.chartCmd(),
		c.activityCmd(),
	)
	return rootCmd
}

// resolveConfig returns the config file to load, or "" for defaults.
func (c *cli) resolveConfig() string {
	if c.configPath != "" {
		return c.configPath
	}
	dir := c.dataDir
	if dir == "" {
		dir = config.Default().Database.DataDir
	}
	path := filepath.Join(dir, configFile)
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}

func (c *cli) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.resolveConfig())
	if err != nil {
		return nil, fmt.Errorf("loading config (run 'nesthome init' first?): %w", err)
	}
	if c.dataDir != "" {
		cfg.Database.DataDir = c.dataDir
	}
	return cfg, nil
}

// pinnedNow parses --now. The zero time means the flag is unset.
func (c *cli) pinnedNow() (time.Time, error) {
	if c.now == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, c.now); err == nil {
			return t, nil
		}
	}
	if ms, err := strconv.ParseInt(c.now, 10, 64); err == nil {
		return clock.FromMillis(ms), nil
	}
	return time.Time{}, fmt.Errorf("invalid --now %q: want RFC 3339 or Unix milliseconds", c.now)
}

func (c *cli) printer() *message.Printer {
	tag, err := language.Parse(c.lang)
	if err != nil {
		tag = language.English
	}
	return message.NewPrinter(tag)
}

func authConfig(a config.AuthConfig) auth.Config {
	return auth.Config{
		MinPasswordLength: a.MinPasswordLength,
		JWTSecret:         []byte(a.JWTSecret),
		TokenExpiry:       a.TokenExpiry,
		MaxFailedLogins:   a.MaxFailedLogins,
		LockoutDuration:   a.LockoutDuration,
		SecurityEnabled:   a.Enabled,
		DefaultHousehold:  a.DefaultHousehold,
	}
}

// session is one opened database for a single command.
type session struct {
	cfg      *config.Config
	db       *nesthome.DB
	log      *slog.Logger
	id       string
	p        *message.Printer
	closeLog func() error
}

// openDB opens the database with the virtual clock flags applied. With
// --now the wall clock is frozen at that instant so repeated invocations
// agree on the time.
func (c *cli) openDB(cfg *config.Config, log *slog.Logger) (*nesthome.DB, error) {
	pinned, err := c.pinnedNow()
	if err != nil {
		return nil, err
	}
	if !pinned.IsZero() {
		cfg.Household.ClockOffset = 0
	}
	cfg.Household.ClockOffset += c.advance

	db, err := nesthome.Open(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if !pinned.IsZero() {
		db.SetWallClock(func() time.Time { return pinned })
	}
	return db, nil
}

// open loads the configuration and opens the database for a one-shot
// command. Logging drops to warn unless --verbose.
func (c *cli) open() (*session, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	if !c.verbose {
		cfg.Logging.Level = "warn"
	}

	log, closeLog, err := cfg.Logging.NewLogger()
	if err != nil {
		return nil, err
	}
	db, err := c.openDB(cfg, log)
	if err != nil {
		closeLog()
		return nil, err
	}

	id := c.household
	if id == "" {
		id = cfg.Auth.DefaultHousehold
	}
	return &session{cfg: cfg, db: db, log: log, id: id, p: c.printer(), closeLog: closeLog}, nil
}

func (s *session) Close() error {
	err := s.db.Close()
	if cerr := s.closeLog(); err == nil {
		err = cerr
	}
	return err
}

// ensureHousehold creates the session household when it does not exist.
func (s *session) ensureHousehold(ctx context.Context, name string) (bool, error) {
	if name == "" {
		name = s.cfg.Household.DefaultName
	}
	_, err := s.db.Create(ctx, s.id, name)
	if errors.Is(err, nesthome.ErrExists) {
		return false, nil
	}
	return err == nil, err
}

func (c *cli) runServe(cmd *cobra.Command, args []string) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Server.Port = port
	}
	if addr, _ := cmd.Flags().GetString("address"); addr != "" {
		cfg.Server.Address = addr
	}
	pinned, err := c.pinnedNow()
	if err != nil {
		return err
	}
	if !pinned.IsZero() {
		cfg.Household.ClockOffset = time.Until(pinned)
	}
	cfg.Household.ClockOffset += c.advance

	log, closeLog, err := cfg.Logging.NewLogger()
	if err != nil {
		return err
	}
	defer closeLog()
	log.Info("starting NestHome", "version", version, "config", cfg.String())

	db, err := nesthome.Open(cfg, log)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	authenticator, err := auth.NewAuthenticator(authConfig(cfg.Auth), db.Storage())
	if err != nil {
		return fmt.Errorf("creating authenticator: %w", err)
	}
	authenticator.SetLogger(log)

	out := cmd.OutOrStdout()
	if !cfg.Auth.Enabled {
		s := &session{cfg: cfg, db: db, id: cfg.Auth.DefaultHousehold}
		if created, err := s.ensureHousehold(cmd.Context(), ""); err != nil {
			return fmt.Errorf("creating default household: %w", err)
		} else if created {
			log.Info("created default household", "id", s.id)
		}
		fmt.Fprintln(out, "⚠️  Authentication disabled: every request acts on", cfg.Auth.DefaultHousehold)
	}

	httpServer, err := server.New(db, authenticator, &cfg.Server, log)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	stopMaintenance := db.StartMaintenance(context.Background(), cfg.Database.GCInterval)
	defer stopMaintenance()

	fmt.Fprintln(out, "✅ NestHome is ready!")
	fmt.Fprintf(out, "  • HTTP API:  http://%s/api/v1\n", httpServer.Addr())
	fmt.Fprintf(out, "  • Health:    http://%s/health\n", httpServer.Addr())
	if cfg.Server.EnableMetrics {
		fmt.Fprintf(out, "  • Metrics:   http://%s/metrics\n", httpServer.Addr())
	}
	fmt.Fprintln(out, "Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Fprintln(out, "\n🛑 Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Stop(ctx); err != nil {
		return fmt.Errorf("stopping server: %w", err)
	}
	fmt.Fprintln(out, "✅ Server stopped gracefully")
	return nil
}

func (c *cli) runInit(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("name")
	passphrase, _ := cmd.Flags().GetString("passphrase")
	noAuth, _ := cmd.Flags().GetBool("no-auth")
	force, _ := cmd.Flags().GetBool("force")
	if _, err := c.pinnedNow(); err != nil {
		return err
	}

	cfg := config.Default()
	if c.dataDir != "" {
		cfg.Database.DataDir = c.dataDir
	}
	if c.household != "" {
		cfg.Auth.DefaultHousehold = c.household
	}
	if name != "" {
		cfg.Household.DefaultName = name
	}
	cfg.Auth.Enabled = !noAuth
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("generating jwt secret: %w", err)
	}
	cfg.Auth.JWTSecret = hex.EncodeToString(secret)
	if err := cfg.Validate(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "📂 Initializing NestHome in %s\n", cfg.Database.DataDir)
	if err := os.MkdirAll(cfg.Database.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", cfg.Database.DataDir, err)
	}

	path := c.configPath
	if path == "" {
		path = filepath.Join(cfg.Database.DataDir, configFile)
	}
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	data = append([]byte("# NestHome Configuration\n"), data...)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	fmt.Fprintf(out, "   ✅ Config written to %s\n", path)

	log, closeLog, err := cfg.Logging.NewLogger()
	if err != nil {
		return err
	}
	defer closeLog()
	if !c.verbose {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	db, err := c.openDB(cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	s := &session{cfg: cfg, db: db, id: cfg.Auth.DefaultHousehold}
	created, err := s.ensureHousehold(cmd.Context(), name)
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintf(out, "   ✅ Household %q created\n", s.id)
	} else {
		fmt.Fprintf(out, "   ⚠️  Household %q already exists\n", s.id)
	}

	if passphrase != "" {
		authenticator, err := auth.NewAuthenticator(authConfig(cfg.Auth), db.Storage())
		if err != nil {
			return err
		}
		if err := authenticator.Register(cmd.Context(), s.id, passphrase, db.Now()); err != nil {
			return fmt.Errorf("registering passphrase: %w", err)
		}
		fmt.Fprintln(out, "   ✅ Passphrase registered")
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Start the API with: nesthome serve --data-dir", cfg.Database.DataDir)
	return nil
}
