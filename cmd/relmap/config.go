package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/hlop3z/relmap/internal/alerr"
	"github.com/hlop3z/relmap/internal/connect"
	"github.com/hlop3z/relmap/internal/declfile"
	"github.com/hlop3z/relmap/internal/rql"
	"github.com/hlop3z/relmap/pkg/relmap"
)

// Config represents the relmap.yaml configuration file.
type Config struct {
	DatabaseURL string        `yaml:"database_url"`
	Database    string        `yaml:"database"`
	Schema      string        `yaml:"schema"`
	Timeout     time.Duration `yaml:"timeout"`
}

const (
	defaultSchema  = "schema.yaml"
	defaultTimeout = 30 * time.Second
)

// loadConfig loads configuration from file, env vars, and CLI flags.
// Precedence: CLI flags > env vars > config file > defaults
func loadConfig() (*Config, error) {
	cfg := &Config{
		Schema:  defaultSchema,
		Timeout: defaultTimeout,
	}

	// A missing .env file is not an error.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, alerr.Wrap(alerr.ErrConfig, err, "failed to load .env file")
	}

	if data, err := os.ReadFile(configFile); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, alerr.Wrap(alerr.ErrConfig, err, "failed to parse config file").With("file", configFile)
		}
		cfg.DatabaseURL = expandEnvVars(cfg.DatabaseURL)
		cfg.Database = expandEnvVars(cfg.Database)
		cfg.Schema = expandEnvVars(cfg.Schema)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, alerr.Wrap(alerr.ErrConfig, err, "failed to read config file").With("file", configFile)
	}

	if envURL := os.Getenv("RELMAP_DATABASE_URL"); envURL != "" {
		cfg.DatabaseURL = envURL
	} else if envURL := os.Getenv("DATABASE_URL"); envURL != "" {
		cfg.DatabaseURL = envURL
	}
	if envSchema := os.Getenv("RELMAP_SCHEMA"); envSchema != "" {
		cfg.Schema = envSchema
	}

	// Override with CLI flags (highest priority)
	if databaseURL != "" {
		cfg.DatabaseURL = databaseURL
	}
	if schemaFile != "" {
		cfg.Schema = schemaFile
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	return cfg, nil
}

// expandEnvVars expands ${VAR} patterns in a string.
func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

// newLogger builds a production logger, or a development logger writing to
// stderr with --verbose.
func newLogger() (*zap.Logger, error) {
	if !verbose {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
		cfg.OutputPaths = []string{"stderr"}
		return cfg.Build()
	}
	z := zap.NewDevelopmentConfig()
	z.OutputPaths = []string{"stderr"}
	return z.Build()
}

// app is everything a command needs: the declared tables and, for commands
// that touch data, a session.
type app struct {
	cfg  *Config
	env  *relmap.Environment
	sess *rql.Session
	log  *zap.Logger
}

// loadApp reads the config and declaration file without connecting.
func loadApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := newLogger()
	if err != nil {
		return nil, alerr.Wrap(alerr.ErrConfig, err, "failed to initialize logger")
	}
	env, err := declfile.Load(cfg.Schema, relmap.WithLogger(log))
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, env: env, log: log}, nil
}

// connectApp is loadApp followed by opening the configured store.
func connectApp(ctx context.Context) (*app, error) {
	a, err := loadApp()
	if err != nil {
		return nil, err
	}
	if err := a.env.Validate(); err != nil {
		return nil, err
	}
	st, err := connect.Open(ctx, a.cfg.DatabaseURL, connect.Options{Database: a.cfg.Database, Logger: a.log})
	if err != nil {
		return nil, err
	}
	a.sess = rql.NewSession(st, rql.WithLogger(a.log))
	return a, nil
}

func (a *app) close() {
	if a.sess != nil {
		_ = a.sess.Close()
	}
	_ = a.log.Sync()
}

// withTimeout bounds a command by the configured timeout.
func (a *app) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.cfg.Timeout)
}
