package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/xela07ax/approval-gateway/internal/audit"
	"github.com/xela07ax/approval-gateway/internal/dispatch"
	"github.com/xela07ax/approval-gateway/internal/domain"
	"github.com/xela07ax/approval-gateway/internal/engine"
	"github.com/xela07ax/approval-gateway/internal/executors/ec2"
	"github.com/xela07ax/approval-gateway/internal/executors/kube"
	"github.com/xela07ax/approval-gateway/internal/gate"
	"github.com/xela07ax/approval-gateway/internal/infra"
	"github.com/xela07ax/approval-gateway/internal/metrics"
	"github.com/xela07ax/approval-gateway/internal/notify"
	"github.com/xela07ax/approval-gateway/internal/policy"
	"github.com/xela07ax/approval-gateway/internal/repository/postgres"
	"github.com/xela07ax/approval-gateway/internal/server"
	"github.com/xela07ax/approval-gateway/internal/tools"
	"github.com/xela07ax/approval-gateway/internal/webhook"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the approval gateway (Slack callback, MCP tools, metrics)",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	// Контекст жизненного цикла: SIGINT/SIGTERM останавливает сервер и слушателей
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Метрики
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// 2. Журнал аудита
	trail, closeAudit, err := buildAudit(ctx, cfg.Audit, m, logger)
	if err != nil {
		return err
	}
	defer closeAudit()

	// 3. Redis: маркер однократности и заморозка исполнения
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
	}

	var once engine.OnceGuard
	if cfg.Dedup.Enabled {
		if rdb != nil {
			once = engine.NewRedisOnce(rdb, cfg.Dedup.TTL)
		} else {
			once = engine.NewMemoryOnce(cfg.Dedup.TTL)
		}
	} else {
		logger.Warn("once-only execution marker disabled: duplicate callbacks will execute again")
	}

	var freeze *engine.FreezeManager
	if rdb != nil {
		freeze = engine.NewFreezeManager(rdb, logger)
		if err := freeze.Init(ctx); err != nil {
			return fmt.Errorf("freeze init: %w", err)
		}
	} else {
		freeze = engine.NewFreezeManager(nil, logger)
	}
	if err := freeze.Seed(ctx, cfg.Executor.Frozen); err != nil {
		return fmt.Errorf("freeze seed: %w", err)
	}

	// 4. Исполнители
	cs, err := kube.NewClientset(kube.Config{Kubeconfig: cfg.Kube.Kubeconfig, Context: cfg.Kube.Context, Timeout: cfg.Kube.Timeout})
	if err != nil {
		return err
	}
	kubeClient := kube.NewClient(cs)

	ec2Client, err := ec2.New(ctx, ec2.Config{
		Region:          cfg.AWS.Region,
		Profile:         cfg.AWS.Profile,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
		Endpoint:        cfg.AWS.Endpoint,
	})
	if err != nil {
		return err
	}

	pcfg := dispatch.ProtectConfig{
		Timeout:     cfg.Executor.Timeout,
		RatePerSec:  cfg.Executor.RatePerSec,
		Burst:       cfg.Executor.Burst,
		MaxFailures: cfg.Executor.MaxFailures,
		OpenTimeout: cfg.Executor.OpenTimeout,
	}
	registry, err := dispatch.NewBuilder().
		Register(domain.ResourcePod, dispatch.Protect("pod", kubeClient.PodExecutor(), pcfg, m)).
		Register(domain.ResourceDeployment, dispatch.Protect("deployment", kubeClient.DeploymentExecutor(), pcfg, m)).
		Register(domain.ResourceInstance, dispatch.Protect("instance", ec2Client.StopExecutor(), pcfg, m), "ec2").
		Build()
	if err != nil {
		return err
	}
	dispatcher := dispatch.NewDispatcher(registry, m, logger)

	// 5. Канал уведомлений
	poster := notify.NewReliablePoster(notify.NewWebhookPoster(cfg.Slack.WebhookURL, cfg.Notify.Timeout), notify.ReliableConfig{
		Attempts:     cfg.Notify.Attempts,
		RatePerSec:   cfg.Notify.RatePerSec,
		Burst:        cfg.Notify.Burst,
		MaxRetryWait: cfg.Notify.MaxRetryWait,
	})

	// 6. Ядро: шлюз подтверждений, обработчик колбэков, инструменты
	enforcer := policy.NewMemoEnforcer(tools.DefaultPolicies(), logger)
	enforcer.Refresh(cfg.Policy.Actions)
	// policy.actions перечитывается без рестарта: инструменты сверяются с таблицей на каждом вызове
	watching, err := infra.WatchPolicy(configPath, enforcer.Refresh, func(err error) {
		logger.Warn("policy reload failed, keeping previous table", zap.Error(err))
	})
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	if !watching {
		logger.Info("no config file found, policy reload disabled")
	}

	g := gate.New(notify.NewApprovalEmitter(poster), trail, cfg.Slack.MaxValueLen, m, logger)
	gw := engine.NewGateway(dispatcher, trail, notify.NewResultNotifier(poster), once, freeze, m, logger)

	opts := server.Options{CallbackPath: cfg.Server.CallbackPath, MCPPath: cfg.MCP.Path}
	if cfg.MCP.Enabled {
		ts := tools.NewServer(g, enforcer, dispatcher, trail, kubeClient, ec2Client,
			tools.Options{Version: version, DefaultRegion: cfg.AWS.Region}, logger)
		opts.MCP = ts.Handler()
		logger.Info("mcp tools registered", zap.Strings("tools", ts.Names()))
	}

	verifier := webhook.NewVerifier(cfg.Slack.SigningSecret, cfg.Slack.Window, logger)
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server.NewGatewayServer(opts, logger, verifier, gw.HandleCallback, reg, m),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 7. Запуск и Graceful Shutdown
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		logger.Info("approval gateway started", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	if rdb != nil {
		eg.Go(func() error {
			freeze.Listen(egCtx, rdb)
			return nil
		})
	}
	eg.Go(func() error {
		<-egCtx.Done()
		logger.Info("approval gateway stopping")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(egCtx), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := eg.Wait(); err != nil {
		logger.Error("approval gateway exited with error", zap.Error(err))
		return err
	}
	logger.Info("approval gateway exited properly")
	return nil
}

// buildAudit собирает приёмники журнала. closeFn сливает буфер и закрывает файлы.
func buildAudit(ctx context.Context, cfg infra.AuditConfig, m *metrics.Metrics, logger *zap.Logger) (*audit.Trail, func(), error) {
	var (
		sinks   []audit.Sink
		closers []func()
	)
	closeAll := func() {
		// В обратном порядке: сначала батчер, потом БД
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.File != "" {
		fs, err := audit.NewFileSink(cfg.File, cfg.MaxSizeMB)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, fs)
		closers = append(closers, func() { _ = fs.Close() })
	}

	if cfg.PostgresURL != "" {
		db, err := postgres.Open(ctx, cfg.PostgresURL)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = db.Close() })

		repo := postgres.NewAuditRepo(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			closeAll()
			return nil, nil, err
		}
		batcher := audit.NewBatcher(repo, audit.BatcherConfig{
			BufferSize:    cfg.BufferSize,
			BatchSize:     cfg.BatchSize,
			FlushInterval: cfg.FlushInterval,
		}, m.AuditBufferFill, logger)
		batcher.Start()
		sinks = append(sinks, batcher)
		closers = append(closers, batcher.Stop)
	}

	if len(sinks) == 0 {
		logger.Warn("no audit sink configured, audit entries go to the log only")
		sinks = append(sinks, audit.NewLogSink(logger))
	}
	return audit.NewTrail(audit.NewMultiSink(sinks...), logger), closeAll, nil
}
