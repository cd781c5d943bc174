package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/FlowForge/FlowForge/internal/api"
	"github.com/FlowForge/FlowForge/internal/genai"
	"github.com/FlowForge/FlowForge/internal/store"
	"github.com/FlowForge/FlowForge/internal/whatsapp"
)

const (
	// DefaultStateDir is where FlowForge keeps its local databases.
	DefaultStateDir = "/var/lib/flowforge"
	// DefaultDBFileName is the SQLite file used when no DSN is configured.
	DefaultDBFileName = "flowforge.db"
)

// Config holds environment-derived configuration values.
type Config struct {
	StateDir     string
	DatabaseDSN  string
	OpenAIAPIKey string
	APIAddr      string
}

// Flags holds parsed command-line flag values.
type Flags struct {
	QROutput    string
	NumericCode bool
	StateDir    string
	DBDSN       string
	OpenAIKey   string
	APIAddr     string
}

func main() {
	initializeLogger()

	cfg := loadEnvironmentConfig()
	flags := parseCommandLineFlags(cfg)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create state directories", "error", err)
		fmt.Fprintf(os.Stderr, "Failed to create state directories: %v\n", err)
		os.Exit(1)
	}

	waOpts := buildWhatsAppOptions(flags)
	storeOpts := buildStoreOptions(flags)
	genaiOpts := buildGenAIOptions(flags)
	apiOpts := buildAPIOptions(flags)

	slog.Info("FlowForge starting", "state_dir", flags.StateDir, "api_addr", flags.APIAddr)
	if err := api.Run(waOpts, storeOpts, genaiOpts, apiOpts); err != nil {
		slog.Error("FlowForge terminated with error", "error", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func initializeLogger() {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	slog.SetDefault(slog.New(handler))
}

func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "reason", err)
	}

	cfg := Config{
		StateDir:     os.Getenv("FLOWFORGE_STATE_DIR"),
		DatabaseDSN:  os.Getenv("DATABASE_URL"),
		OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),
		APIAddr:      os.Getenv("API_ADDR"),
	}
	if cfg.StateDir == "" {
		cfg.StateDir = DefaultStateDir
	}
	if cfg.DatabaseDSN == "" {
		cfg.DatabaseDSN = filepath.Join(cfg.StateDir, DefaultDBFileName)
	}
	if cfg.APIAddr == "" {
		cfg.APIAddr = api.DefaultAddr
	}
	return cfg
}

func parseCommandLineFlags(cfg Config) Flags {
	var f Flags
	flag.StringVar(&f.QROutput, "qr-output", "", "file to write the WhatsApp login QR code to (default: stdout)")
	flag.BoolVar(&f.NumericCode, "numeric-code", false, "print a numeric WhatsApp pairing code instead of a QR code")
	flag.StringVar(&f.StateDir, "state-dir", cfg.StateDir, "directory for FlowForge state files")
	flag.StringVar(&f.DBDSN, "db-dsn", cfg.DatabaseDSN, "database DSN (PostgreSQL URL or SQLite file path)")
	flag.StringVar(&f.OpenAIKey, "openai-api-key", cfg.OpenAIAPIKey, "OpenAI API key for the AI fallback")
	flag.StringVar(&f.APIAddr, "api-addr", cfg.APIAddr, "address for the management API to listen on")
	flag.Parse()

	// Moving the state dir also moves the default SQLite file with it.
	if f.StateDir != cfg.StateDir && f.DBDSN == cfg.DatabaseDSN {
		f.DBDSN = filepath.Join(f.StateDir, DefaultDBFileName)
	}
	return f
}

// ensureDirectoriesExist creates the state directory and, for a file-based
// DSN, the directory holding the database file.
func ensureDirectoriesExist(flags Flags) error {
	if err := os.MkdirAll(flags.StateDir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory %s: %w", flags.StateDir, err)
	}
	if flags.DBDSN != "" && store.DetectDSNType(flags.DBDSN) == "sqlite" {
		dir := filepath.Dir(strings.TrimPrefix(flags.DBDSN, "file:"))
		if dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create database directory %s: %w", dir, err)
			}
		}
	}
	return nil
}

func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	opts := []whatsapp.Option{
		whatsapp.WithDBDSN(filepath.Join(flags.StateDir, "whatsmeow.db")),
	}
	if flags.QROutput != "" {
		opts = append(opts, whatsapp.WithQRCodeOutput(flags.QROutput))
	}
	if flags.NumericCode {
		opts = append(opts, whatsapp.WithNumericCode())
	}
	return opts
}

func buildStoreOptions(flags Flags) []store.Option {
	var opts []store.Option
	if flags.DBDSN != "" {
		opts = append(opts, store.WithDSN(flags.DBDSN))
	}
	return opts
}

func buildGenAIOptions(flags Flags) []genai.Option {
	var opts []genai.Option
	if flags.OpenAIKey != "" {
		opts = append(opts, genai.WithAPIKey(flags.OpenAIKey))
	}
	return opts
}

func buildAPIOptions(flags Flags) []api.Option {
	var opts []api.Option
	if flags.APIAddr != "" {
		opts = append(opts, api.WithAddr(flags.APIAddr))
	}
	return opts
}
