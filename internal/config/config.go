package config

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/rakunlabs/chu/loader/external/loaderconsul"
	_ "github.com/rakunlabs/chu/loader/external/loadervault"
	"github.com/rakunlabs/chu/loader/loaderenv"
	"github.com/rakunlabs/logi"

	"github.com/rakunlabs/chu"
	"github.com/rakunlabs/tell"
)

var Service = ""

// Config is the top-level configuration, loaded by chu from file + env.
// Environment variables use the RMJAC_ prefix (e.g. RMJAC_STORE_POSTGRES_DATASOURCE).
type Config struct {
	LogLevel string `cfg:"log_level,no_prefix" default:"info"`

	Store     Store       `cfg:"store"`
	Server    Server      `cfg:"server"`
	Edge      Edge        `cfg:"edge"`
	Auth      Auth        `cfg:"auth"`
	Telemetry tell.Config `cfg:"telemetry,noprefix"`
}

type Server struct {
	BasePath string `cfg:"base_path"`

	Port string `cfg:"port" default:"8080"`
	Host string `cfg:"host"`

	// AdminToken protects /api/settings/* endpoints with bearer token auth;
	// when empty, those endpoints answer 403.
	AdminToken string `cfg:"admin_token" log:"-"`
}

// Edge configures the EdgeBus worker-facing WebSocket listener.
type Edge struct {
	Port string `cfg:"port" default:"8081"`

	// PublicKeyFile points at the PEM-encoded public key used to verify the
	// signed-nonce handshake performed by connecting edge workers.
	PublicKeyFile string `cfg:"public_key_file"`

	// HeartbeatInterval is loaded from configuration only: the EdgeBus
	// listener does not read it, heartbeat frames are merely echoed back,
	// and a worker is evicted only when its connection closes.
	HeartbeatInterval time.Duration `cfg:"heartbeat_interval" default:"30s"`
}

type Auth struct {
	// CaptchaSecret is handed to the external CAPTCHA verifier; the core
	// never generates challenges itself (see SPEC_FULL 4.6 / out-of-scope
	// collaborators in spec.md section 1).
	CaptchaSecret string `cfg:"captcha_secret" log:"-"`

	ShortTokenTTL time.Duration `cfg:"short_token_ttl" default:"24h"`
	LongTokenTTL  time.Duration `cfg:"long_token_ttl" default:"720h"`
}

type Store struct {
	Postgres *StorePostgres `cfg:"postgres"`
	SQLite   *StoreSQLite   `cfg:"sqlite"`

	// EncryptionKey, if set, enables AES-256-GCM encryption for vjudge
	// account credentials (tokens/passwords) stored at rest. Any non-empty
	// string works; it is hashed to a 32-byte key internally.
	EncryptionKey string `cfg:"encryption_key" log:"-"`
}

type StorePostgres struct {
	TablePrefix     *string        `cfg:"table_prefix"`
	Datasource      string         `cfg:"datasource" log:"-"`
	Schema          string         `cfg:"schema"`
	ConnMaxLifetime *time.Duration `cfg:"conn_max_lifetime"`
	MaxIdleConns    *int           `cfg:"max_idle_conns"`
	MaxOpenConns    *int           `cfg:"max_open_conns"`

	Migrate Migrate `cfg:"migrate"`
}

type StoreSQLite struct {
	TablePrefix *string `cfg:"table_prefix"`
	Datasource  string  `cfg:"datasource"`

	Migrate Migrate `cfg:"migrate"`
}

type Migrate struct {
	Datasource string            `cfg:"datasource" log:"-"`
	Schema     string            `cfg:"schema"`
	Table      string            `cfg:"table"`
	Values     map[string]string `cfg:"values"`
}

func Load(ctx context.Context, path string) (*Config, error) {
	var cfg Config
	if err := chu.Load(ctx, path, &cfg, chu.WithLoaderOption(loaderenv.New(loaderenv.WithPrefix("RMJAC_")))); err != nil {
		return nil, err
	}

	if err := logi.SetLogLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("set log level %s: %w", cfg.LogLevel, err)
	}

	slog.Info("loaded configuration", "config", chu.MarshalMap(cfg))

	return &cfg, nil
}
