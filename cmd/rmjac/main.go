package main

import (
	"context"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rakunlabs/into"
	"github.com/rakunlabs/logi"

	"github.com/oj-federate/rmjac/internal/auth"
	"github.com/oj-federate/rmjac/internal/authcrypto"
	"github.com/oj-federate/rmjac/internal/config"
	"github.com/oj-federate/rmjac/internal/crypto"
	"github.com/oj-federate/rmjac/internal/edgebus"
	"github.com/oj-federate/rmjac/internal/entity"
	"github.com/oj-federate/rmjac/internal/graph"
	"github.com/oj-federate/rmjac/internal/iden"
	"github.com/oj-federate/rmjac/internal/kv"
	"github.com/oj-federate/rmjac/internal/scheduler"
	"github.com/oj-federate/rmjac/internal/server"
	"github.com/oj-federate/rmjac/internal/store"
	"github.com/oj-federate/rmjac/internal/store/memory"
	"github.com/oj-federate/rmjac/internal/store/postgres"
	"github.com/oj-federate/rmjac/internal/store/sqlite3"
	"github.com/oj-federate/rmjac/internal/vjudge"
	"github.com/oj-federate/rmjac/internal/workflow"
)

var (
	name    = "rmjac"
	version = "v0.0.0"
)

func main() {
	config.Service = name + "/" + version

	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		cmd = args[0]
		args = args[1:]
	}

	var run func(context.Context) error
	switch cmd {
	case "serve":
		run = runServe
	case "migrate":
		up := true
		for _, a := range args {
			if a == "--down" {
				up = false
			}
		}
		run = func(ctx context.Context) error { return runMigrate(ctx, up) }
	case "test":
		run = runSmokeTest
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (want: serve, migrate [--up|--down], test)\n", cmd)
		os.Exit(2)
	}

	into.Init(run,
		into.WithLogger(logi.InitializeLog(logi.WithCaller(false))),
		into.WithMsgf("%s [%s] %s", name, version, cmd),
	)
}

// ///////////////////////////////////////////////////////////////////

// openStore picks the configured backend. Postgres wins if both are set;
// with neither set it falls back to the in-memory store so `rmjac test`
// and local development work without any datasource configured.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch {
	case cfg.Store.Postgres != nil:
		return postgres.New(ctx, cfg.Store.Postgres)
	case cfg.Store.SQLite != nil:
		return sqlite3.New(ctx, cfg.Store.SQLite)
	default:
		slog.Warn("no store configured, using an in-memory store")
		return memory.New(), nil
	}
}

// runMigrate applies pending migrations by constructing the configured
// store, whose New() already runs MigrateDB before returning. muz's
// Migrate driver is forward-only, so --down has nothing to call into;
// it fails loudly rather than silently doing an "up".
func runMigrate(ctx context.Context, up bool) error {
	if !up {
		return fmt.Errorf("migrate --down: not supported, migrations are forward-only in this backend")
	}

	cfg, err := config.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	defer st.Close()

	slog.Info("migrations applied")
	return nil
}

// runSmokeTest loads config and exercises the store with a throwaway
// node, the same round trip every other boot path depends on, then
// reports ok. It is not `go test`; it is an operator-facing connectivity
// check, the way a health-check subcommand would be in any service CLI.
func runSmokeTest(ctx context.Context) error {
	cfg, err := config.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	n, err := st.CreateNode(ctx, graph.Node{Type: graph.NodeIden, Payload: map[string]any{"probe": "rmjac-test"}})
	if err != nil {
		return fmt.Errorf("store round trip: %w", err)
	}
	if err := st.DeleteNode(ctx, n.ID); err != nil {
		return fmt.Errorf("store round trip cleanup: %w", err)
	}

	slog.Info("store reachable", "backend", fmt.Sprintf("%T", st))
	return nil
}

// runServe boots every component and blocks serving the HTTP API and the
// EdgeBus worker WebSocket listener until ctx is cancelled.
func runServe(ctx context.Context) error {
	cfg, err := config.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	cache := kv.New(st, time.Minute, 5*time.Minute)

	trie := iden.New(st, cache, nil)
	if err := trie.EnsureRoot(ctx); err != nil {
		return fmt.Errorf("ensure identifier root: %w", err)
	}

	perms := entity.NewPermRegistry(st)
	if err := perms.Boot(ctx); err != nil {
		return fmt.Errorf("boot permission registry: %w", err)
	}

	hasher := authcrypto.NewBcryptHasher(0)
	authSvc := auth.New(st, cache, hasher, cfg.Auth.ShortTokenTTL, cfg.Auth.LongTokenTTL)

	systemUser, err := ensureSystemUser(ctx, st)
	if err != nil {
		return fmt.Errorf("ensure system user: %w", err)
	}

	bus := edgebus.New()

	aggregator := vjudge.NewAggregator(st, cache)
	batch := vjudge.NewBatch(st, trie, aggregator, systemUser.ID)

	registry := vjudge.NewRegistry()
	vjudge.RegisterLocalServices(registry, st, batch)

	// Remote-proxy services come and go as workers connect; keep the
	// registry in sync with the bus's own registrations so the workflow
	// planner can route to whichever platform operations are online.
	bus.SetHooks(
		func(_ string, meta edgebus.ServiceMetadata) { registry.Register(vjudge.NewRemoteProxy(bus, meta)) },
		func(serviceKey string) { registry.Unregister(serviceKey) },
	)

	taskSt := vjudge.NewTaskStore(st)
	sched := scheduler.New(st, cronTaskRunner(registry, taskSt))
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	if cfg.Edge.PublicKeyFile != "" {
		edgeListener, err := newEdgeListener(cfg.Edge.PublicKeyFile, bus)
		if err != nil {
			return fmt.Errorf("start edge listener: %w", err)
		}
		go func() {
			slog.Info("edge worker listener starting", "port", cfg.Edge.Port)
			if err := edgeListener.ListenAndServe(ctx, cfg.Edge.Port); err != nil && ctx.Err() == nil {
				slog.Error("edge worker listener stopped", "error", err)
			}
		}()
	} else {
		slog.Warn("edge.public_key_file not set, EdgeBus worker listener disabled")
	}

	var encKey []byte
	if cfg.Store.EncryptionKey != "" {
		encKey, err = crypto.DeriveKey(cfg.Store.EncryptionKey)
		if err != nil {
			return fmt.Errorf("derive credential encryption key: %w", err)
		}
	}

	srv := server.New(cfg.Server, st, trie, perms, authSvc, hasher, registry, aggregator, encKey)

	slog.Info("serving", "host", cfg.Server.Host, "port", cfg.Server.Port)
	return srv.Start(ctx)
}

// cronTaskRunner adapts the workflow registry to scheduler.TaskRunner: a
// cron-recovered task resumes at its named service with its decoded
// payload promoted to trusted workflow values, the same shape
// ExecuteWorkflowAPI builds for an HTTP-triggered run.
func cronTaskRunner(registry *vjudge.Registry, taskSt *vjudge.TaskStore) scheduler.TaskRunner {
	return func(ctx context.Context, taskName string, payload map[string]any) error {
		values := workflow.NewValues(nil)
		for key, v := range payload {
			values.AddTrusted(key, workflow.BaseValueFromJSON(v), "cron")
		}

		executor := workflow.NewExecutor(registry.All(), taskName, taskSt)
		status := workflow.NewNowStatus(taskName, values)
		_, _, err := executor.Advance(ctx, status)
		return err
	}
}

// ensureSystemUser returns the attribution account vjudge.Batch uses for
// placeholder problems and crawl-discovered records it creates without an
// owning human, creating it on first boot.
func ensureSystemUser(ctx context.Context, st store.Store) (*entity.User, error) {
	nodes, err := st.ListNodesByType(ctx, graph.NodeUser)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		if n.PayloadString("iden") == "system" {
			return entity.GetUser(ctx, st, n.ID)
		}
	}
	return entity.CreateUser(ctx, st, "system", "system", "", "")
}

// edgeListener accepts EdgeBus worker WebSocket connections, pinned
// against the single public key configured at edge.public_key_file.
type edgeListener struct {
	bus       *edgebus.Bus
	pinnedKey *rsa.PublicKey
	upgrader  websocket.Upgrader
}

func newEdgeListener(publicKeyFile string, bus *edgebus.Bus) (*edgeListener, error) {
	der, err := os.ReadFile(publicKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read edge public key: %w", err)
	}
	key, err := edgebus.ParsePinnedKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse edge public key: %w", err)
	}
	return &edgeListener{bus: bus, pinnedKey: key}, nil
}

func (l *edgeListener) ListenAndServe(ctx context.Context, port string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/edge/connect", func(w http.ResponseWriter, r *http.Request) {
		conn, err := l.upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("edge upgrade failed", "error", err)
			return
		}
		go func() {
			if err := edgebus.Accept(r.Context(), l.bus, conn, l.pinnedKey); err != nil {
				slog.Warn("edge connection closed", "error", err)
			}
		}()
	})

	httpSrv := &http.Server{Handler: mux}
	ln, err := net.Listen("tcp", net.JoinHostPort("", port))
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		_ = httpSrv.Close()
	}()

	if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
