package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"emote-tracker/backfill"
	"emote-tracker/bot"
	"emote-tracker/command"
	"emote-tracker/config"
	"emote-tracker/database"
	"emote-tracker/database/postgres"
	healthgrpc "emote-tracker/grpc"
	"emote-tracker/grpc/client"
	"emote-tracker/handlers"
	"emote-tracker/handlers/message"
	"emote-tracker/ingest"
	"emote-tracker/metrics"
	"emote-tracker/models"
	"emote-tracker/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// store is implemented by both the sqlite and the postgres backends.
type store interface {
	backfill.CursorStore
	ingest.UsageStore
	CountUsage(ctx context.Context) (int64, error)
	Close() error
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		os.Exit(healthcheck(os.Args[2:]))
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading config:", err)
		os.Exit(1)
	}

	logger, discordLog := utils.NewLogger(cfg.Log, cfg.Bot.LogChannelID)
	if err := run(cfg, logger, discordLog); err != nil {
		logger.Fatal().Err(err).Msg("emote tracker stopped with an error")
	}
}

func run(cfg models.Config, logger zerolog.Logger, discordLog *utils.DiscordWriter) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	status := database.NewStatusManager(cfg.Backfill.StatusFile)
	if err := status.Load(); err != nil {
		logger.Warn().Err(err).Msg("ignoring unreadable backfill status file")
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)
	health := healthgrpc.NewHealthServer(logger)
	if cfg.Backfill.Disabled {
		health.SetBackfillIdle(true)
	}

	b, err := bot.NewBot(cfg, logger)
	if err != nil {
		return err
	}
	source := bot.NewSource(b.Session)
	backfilled := backfill.NewChannelSet()
	index := ingest.NewEmoteIndex()
	ingester := ingest.NewIngester(st, index, backfilled, logger)
	reconciler := ingest.NewReconciler(source, st, ingester, cfg.Ingest.ConsiderationPeriod, logger)
	sched := backfill.New(source, st, ingester, status, backfilled, backfill.Options{
		Disabled:      cfg.Backfill.Disabled,
		PageSize:      cfg.Backfill.PageSize,
		Workers:       cfg.Backfill.Workers,
		RatePerSecond: cfg.Backfill.RatePerSecond,
		Burst:         cfg.Backfill.Burst,
		Health:        health.SetBackfillIdle,
	}, logger)

	messages := message.NewEmoteHandler(ctx, ingester, reconciler, logger)
	defer messages.Close()
	h := handlers.New(ctx, handlers.Deps{
		Backfill: sched,
		Source:   source,
		Index:    index,
		Messages: messages,
		Status:   status,
		Usage:    st,
		Auth:     utils.NewAuth(cfg.Commands),
	}, logger)

	commands := make([]bot.Command, 0, len(command.AllCommands))
	for _, c := range command.AllCommands {
		commands = append(commands, c)
	}
	b.RegisterCommands(commands)

	jobs := bot.NewScheduler(logger)
	if !sched.Disabled() {
		err := jobs.Add(cfg.Backfill.ResumeSchedule, "resume-backfill", func() {
			n, err := sched.Resume(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("failed to resume backfill")
				return
			}
			if n > 0 {
				logger.Info().Int("channels", n).Msg("resumed stopped backfills")
			}
		})
		if err != nil {
			return err
		}
	}
	if err := jobs.Add("@every 1m", "save-backfill-status", func() {
		if err := status.Save(); err != nil {
			logger.Error().Err(err).Msg("failed to save backfill status")
		}
	}); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Addr != "" {
		metrics.StartServer(gctx, logger, cfg.Metrics.Addr)
	}
	if cfg.GRPC.Addr != "" {
		g.Go(func() error { return health.ListenAndServe(gctx, cfg.GRPC.Addr) })
	}

	sched.Start(gctx)
	if err := b.Start(h.Register); err != nil {
		return err
	}
	discordLog.Attach(b.Session)
	jobs.Start()

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	runErr := g.Wait()

	logger.Info().Msg("shutting down")
	jobs.Stop()
	b.Stop()
	discordLog.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := sched.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("backfill did not stop in time")
	}
	if err := status.Save(); err != nil {
		logger.Error().Err(err).Msg("failed to save backfill status")
	}
	health.Stop()
	return runErr
}

func openStore(ctx context.Context, cfg models.DatabaseConfig, logger zerolog.Logger) (store, error) {
	switch cfg.Driver {
	case "postgres":
		return postgres.Connect(ctx, cfg.DSN, logger)
	default:
		return database.Open(ctx, cfg.Path, logger)
	}
}

// healthcheck queries a running instance: healthcheck [addr] [service].
// It exits 0 when the service is SERVING.
func healthcheck(args []string) int {
	addr, service := "localhost:50051", ""
	if len(args) > 0 {
		addr = args[0]
	}
	if len(args) > 1 {
		service = args[1]
	}

	c, err := client.NewHealthClient(addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := c.Check(ctx, service)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println(st)
	if st != healthpb.HealthCheckResponse_SERVING {
		return 1
	}
	return 0
}
