package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sakif/streakwatch/internal/apperror"
	"github.com/sakif/streakwatch/internal/auth"
	"github.com/sakif/streakwatch/internal/command"
	"github.com/sakif/streakwatch/internal/config"
	"github.com/sakif/streakwatch/internal/credential"
	"github.com/sakif/streakwatch/internal/handler"
	"github.com/sakif/streakwatch/internal/httpclient"
	"github.com/sakif/streakwatch/internal/kv"
	"github.com/sakif/streakwatch/internal/leetcode"
	"github.com/sakif/streakwatch/internal/logging"
	"github.com/sakif/streakwatch/internal/mirror"
	"github.com/sakif/streakwatch/internal/notify"
	"github.com/sakif/streakwatch/internal/repository"
	"github.com/sakif/streakwatch/internal/schedule"
	"github.com/sakif/streakwatch/internal/server"
	"github.com/sakif/streakwatch/internal/service"
	"github.com/sakif/streakwatch/internal/syncer"
	"github.com/sakif/streakwatch/internal/writequeue"
)

const writeBacklog = 64

// app is the fully wired daemon. Every subcommand builds one, uses the parts
// it needs, and closes it.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	store     kv.Store
	queue     *writequeue.Queue
	repo      *repository.Store
	http      *httpclient.Client
	vault     *credential.Vault
	content   *mirror.ContentClient
	mirror    *mirror.Engine
	notify    *notify.Engine
	syncer    *syncer.Orchestrator
	scheduler *schedule.Scheduler
	dispatch  *command.Dispatcher

	logCloser io.Closer
}

func newApp(cmd *cobra.Command) (*app, error) {
	// === 1. CONFIGURATION ===
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory %s: %w", cfg.DataDir, err)
	}

	// === 2. LOGGING ===
	logger, logCloser, err := logging.New(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}

	// === 3. STORAGE ===
	// The write queue is the only path to the store for mutations.
	store, err := kv.Open(cfg.Store.DSN, cfg.Store.QuotaBytes)
	if err != nil {
		logCloser.Close()
		return nil, err
	}
	queue := writequeue.New(logger, writeBacklog)
	repo := repository.New(store, queue, logger)

	a := &app{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		queue:     queue,
		repo:      repo,
		logCloser: logCloser,
	}

	// === 4. REMOTE CLIENTS ===
	a.http = httpclient.New(logger, httpclient.Config{
		CallsPerWindow: cfg.HTTP.CallsPerMinute,
		Window:         time.Minute,
		Timeout:        cfg.HTTP.Timeout,
		Attempts:       cfg.HTTP.Attempts,
	})
	remote := leetcode.New(a.http, logger,
		leetcode.WithEndpoint(cfg.LeetCode.Endpoint),
		leetcode.WithSession(cfg.LeetCode.Session),
	)

	// === 5. NOTIFICATIONS ===
	sinks := notify.Fanout{notify.LogSink{Logger: logger}}
	if cfg.Notify.WebhookURL != "" {
		sinks = append(sinks, notify.WebhookSink{Client: a.http, URL: cfg.Notify.WebhookURL})
	}
	a.notify = notify.NewEngine(repo, sinks, logger)

	// === 6. MIRROR ===
	a.vault = credential.New(repo, credential.LocalPassphrase(cfg.DataDir), logger)
	a.content = mirror.NewContentClient(a.http, cfg.GitHub.APIBase, cfg.GitHub.Owner, cfg.GitHub.Repo, a.mirrorToken)
	a.mirror = mirror.NewEngine(a.content, repo, logger)

	// === 7. ORCHESTRATION ===
	syncOpts := []syncer.Option{syncer.WithDelay(cfg.Sync.Delay)}
	if cfg.GitHub.Mirror {
		syncOpts = append(syncOpts, syncer.WithMirror(a.mirror))
	}
	a.syncer = syncer.New(remote, repo, a.notify, logger, syncOpts...)
	a.scheduler = schedule.New(repo, cfg.Schedule, logger)

	dispatchOpts := []command.Option{command.WithRearmer(a.scheduler)}
	if cfg.GitHub.Mirror {
		dispatchOpts = append(dispatchOpts, command.WithMirror(a.mirror))
	}
	a.dispatch = command.NewDispatcher(a.syncer, a.notify, repo, logger, dispatchOpts...)
	return a, nil
}

// mirrorToken reads the stored GitHub token. A missing token reads as empty,
// which the content client reports as unauthorized.
func (a *app) mirrorToken(ctx context.Context) (string, error) {
	secret, err := a.vault.Get(ctx, credential.MirrorToken)
	if errors.Is(err, apperror.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(secret), nil
}

// tokens is nil when no JWT secret is configured.
func (a *app) tokens() (*auth.TokenService, error) {
	if a.cfg.Control.JWTSecret == "" {
		return nil, nil
	}
	return auth.NewTokenService(a.cfg.Control.JWTSecret)
}

// login builds the GitHub sign-in service. The repository step is skipped
// until an owner is configured.
func (a *app) login() *service.LoginService {
	flow := auth.NewDeviceFlow(auth.NewGitHubConfig(a.cfg.GitHub.ClientID), a.http, a.logger,
		auth.WithAPIBase(a.cfg.GitHub.APIBase))
	identity := func(ctx context.Context, token string) (*auth.GitHubUser, error) {
		return auth.FetchGitHubUser(ctx, a.http, a.cfg.GitHub.APIBase, token)
	}
	var repo service.RepoPreparer
	if a.cfg.GitHub.Owner != "" {
		repo = a.content
	}
	return service.NewLoginService(flow, a.vault, repo, identity, a.logger)
}

func (a *app) server(tokens *auth.TokenService) *server.Server {
	cfg := server.DefaultConfig()
	cfg.Addr = a.cfg.Control.Addr
	control := handler.NewControlHandler(a.dispatch, a.logger)
	return server.New(cfg, control, tokens, a.logger)
}

// Close drains pending writes before closing the store.
func (a *app) Close() {
	a.queue.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing store", slog.String("error", err.Error()))
	}
	a.logCloser.Close()
}
