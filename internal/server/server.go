// Package server implements the HTTP boundary (component K): a REST-shaped
// surface over the entity/auth/workflow/vjudge layers, the
// {code, data|error|msg} envelope, and Bearer/query/cookie auth.
//
// Grounded on the teacher's internal/server/server.go: same ada middleware
// chain (recover -> server -> cors -> requestid -> log -> telemetry),
// route-group shape, and admin-token bearer-auth pattern, re-pointed at
// spec.md 6's judge-platform route set instead of the LLM gateway's.
package server

import (
	"context"
	"net"

	"github.com/rakunlabs/ada"
	mcors "github.com/rakunlabs/ada/middleware/cors"
	mlog "github.com/rakunlabs/ada/middleware/log"
	mrecover "github.com/rakunlabs/ada/middleware/recover"
	mrequestid "github.com/rakunlabs/ada/middleware/requestid"
	mserver "github.com/rakunlabs/ada/middleware/server"
	mtelemetry "github.com/rakunlabs/ada/middleware/telemetry"

	"github.com/oj-federate/rmjac/internal/auth"
	"github.com/oj-federate/rmjac/internal/authcrypto"
	"github.com/oj-federate/rmjac/internal/config"
	"github.com/oj-federate/rmjac/internal/entity"
	"github.com/oj-federate/rmjac/internal/iden"
	"github.com/oj-federate/rmjac/internal/store"
	"github.com/oj-federate/rmjac/internal/vjudge"
)

// Server wires every core component behind one ada mux.
type Server struct {
	config config.Server
	server *ada.Server

	st         store.Store
	trie       *iden.Trie
	perms      *entity.PermRegistry
	authSvc    *auth.Service
	hasher     authcrypto.Hasher
	registry   *vjudge.Registry
	aggregator *vjudge.Aggregator
	taskSt     *vjudge.TaskStore

	// encKey is the at-rest key for vjudge account credentials (derived
	// from config.Store.EncryptionKey); nil when no key is configured, in
	// which case internal/crypto's Encrypt/DecryptCredential are no-ops.
	encKey []byte
}

// New builds the server and registers every route group. encKey is the
// derived AES-256 key (see internal/crypto.DeriveKey) used to encrypt
// vjudge account credentials at rest; pass nil to disable encryption.
func New(cfg config.Server, st store.Store, trie *iden.Trie, perms *entity.PermRegistry, authSvc *auth.Service, hasher authcrypto.Hasher, registry *vjudge.Registry, aggregator *vjudge.Aggregator, encKey []byte) *Server {
	mux := ada.New()
	mux.Use(
		mrecover.Middleware(),
		mserver.Middleware(config.Service),
		mcors.Middleware(),
		mrequestid.Middleware(),
		mlog.Middleware(),
		mtelemetry.Middleware(),
	)

	s := &Server{
		config:     cfg,
		server:     mux,
		st:         st,
		trie:       trie,
		perms:      perms,
		authSvc:    authSvc,
		hasher:     hasher,
		registry:   registry,
		aggregator: aggregator,
		taskSt:     vjudge.NewTaskStore(st),
		encKey:     encKey,
	}

	base := mux.Group(cfg.BasePath)
	api := base.Group("/api")

	userGroup := api.Group("/user")
	userGroup.POST("/auth/register", s.RegisterAPI)
	userGroup.POST("/auth/login", s.LoginAPI)
	userGroup.GET("/info/info", s.InfoAPI)

	problemGroup := api.Group("/problem")
	problemGroup.POST("/create/", s.CreateProblemAPI)
	problemGroup.GET("/view/*", s.ViewProblemAPI)
	problemGroup.POST("/manage/*/add_statement", s.AddStatementAPI)

	recordGroup := api.Group("/record")
	recordGroup.POST("/create/*", s.CreateRecordAPI)
	recordGroup.GET("/view/*", s.ViewRecordAPI)

	api.POST("/submit/vjudge/", s.SubmitVjudgeAPI)

	vjudgeGroup := api.Group("/vjudge")
	vjudgeGroup.POST("/bind/", s.BindVjudgeAPI)
	vjudgeGroup.POST("/assign_task/", s.AssignTaskAPI)
	vjudgeGroup.GET("/tasks/list", s.ListTasksAPI)
	vjudgeGroup.POST("/workflow/execute", s.ExecuteWorkflowAPI)
	vjudgeGroup.GET("/workflow/status/*", s.WorkflowStatusAPI)

	settingsGroup := api.Group("/settings")
	settingsGroup.Use(s.adminAuthMiddleware())
	settingsGroup.POST("/rotate-key", s.RotateKeyAPI)

	return s
}

func (s *Server) Start(ctx context.Context) error {
	return s.server.StartWithContext(ctx, net.JoinHostPort(s.config.Host, s.config.Port))
}
