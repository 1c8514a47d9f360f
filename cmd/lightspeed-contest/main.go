package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"github.com/tcriess/lightspeed-contest/auth"
	"github.com/tcriess/lightspeed-contest/broadcast"
	"github.com/tcriess/lightspeed-contest/config"
	"github.com/tcriess/lightspeed-contest/coordinator"
	"github.com/tcriess/lightspeed-contest/globals"
	"github.com/tcriess/lightspeed-contest/grading"
	"github.com/tcriess/lightspeed-contest/judge"
	"github.com/tcriess/lightspeed-contest/metrics"
	"github.com/tcriess/lightspeed-contest/persistence"
	"github.com/tcriess/lightspeed-contest/room"
	"github.com/tcriess/lightspeed-contest/scoring"
	"github.com/tcriess/lightspeed-contest/ws"
)

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
	sslCert    = pflag.String("ssl-cert", "", "SSL cert for websocket (optional)")
	sslKey     = pflag.String("ssl-key", "", "SSL key for websocket (optional)")
)

const shutdownTimeout = 10 * time.Second

func main() {
	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()

	cfg, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		globals.AppLogger.Error("could not read configuration", "error", err)
		os.Exit(1)
	}
	globals.AppLogger.SetLevel(hclog.LevelFromString(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, globals.AppLogger); err != nil {
		globals.AppLogger.Error("stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger hclog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	store, err := persistence.NewDocumentStore(ctx, cfg.PersistenceConfig)
	if err != nil {
		return err
	}
	defer store.Close()
	docs := persistence.NewDocuments(store, logger.Named("persistence"), m, persistence.RetryOptions{
		MessageAttempts:    cfg.RetryConfig.MessageAttempts,
		MembershipAttempts: cfg.RetryConfig.MembershipAttempts,
		Delay:              cfg.RetryConfig.Delay,
		SettleDelay:        cfg.RetryConfig.SettleDelay,
	})

	verifier, err := auth.NewVerifier(cfg, logger.Named("auth"))
	if err != nil {
		return err
	}
	formula, err := scoring.Compile(cfg.GradingConfig.Formula)
	if err != nil {
		return err
	}

	rooms := room.NewStore(cfg.HistoryConfig.Size)
	fanout := broadcast.NewFanout(logger.Named("broadcast"), m)
	registry := coordinator.NewRegistry()
	leaderboards := grading.NewLeaderboards(rooms, fanout, docs, cfg.LeaderboardConfig.Size, logger.Named("leaderboard"))
	judgeClient := judge.NewClient(judge.Options{
		URL:          cfg.JudgeConfig.Url,
		APIKey:       cfg.JudgeConfig.ApiKey,
		APIHost:      cfg.JudgeConfig.ApiHost,
		PollAttempts: cfg.JudgeConfig.PollAttempts,
		PollInterval: cfg.JudgeConfig.PollInterval,
		Timeout:      cfg.JudgeConfig.Timeout,
	}, logger.Named("judge"))
	grader := grading.NewGrader(grading.Deps{
		Rooms:        rooms,
		Fanout:       fanout,
		Documents:    docs,
		Judge:        judgeClient,
		Formula:      formula,
		Conns:        registry,
		Leaderboards: leaderboards,
		Logger:       logger.Named("grader"),
		Metrics:      m,
	}, grading.Options{
		Workers:   cfg.GradingConfig.Workers,
		QueueSize: cfg.GradingConfig.QueueSize,
	})
	coord := coordinator.New(coordinator.Deps{
		Rooms:     rooms,
		Fanout:    fanout,
		Registry:  registry,
		Documents: docs,
		Verifier:  verifier,
		Grader:    grader,
		Logger:    logger.Named("coordinator"),
		Metrics:   m,
	}, coordinator.Options{
		JoinHistory:     cfg.HistoryConfig.JoinSize,
		DefaultDuration: cfg.ContestConfig.DefaultDuration,
		EventsPerSecond: cfg.RateLimitConfig.EventsPerSecond,
		Burst:           cfg.RateLimitConfig.Burst,
	})

	gradingCtx, stopGrading := context.WithCancel(context.Background())
	gradingDone := make(chan struct{})
	go func() {
		defer close(gradingDone)
		grader.Run(gradingCtx)
	}()

	var refresher *grading.Refresher
	if cfg.LeaderboardConfig.RefreshSpec != "" {
		refresher, err = grading.NewRefresher(cfg.LeaderboardConfig.RefreshSpec, leaderboards, rooms, logger.Named("refresher"))
		if err != nil {
			stopGrading()
			return err
		}
		refresher.Start()
	}

	router := mux.NewRouter()
	wsHandler := ws.NewHandler(coord, ws.Options{
		SendQueueSize:  cfg.WSConfig.SendQueueSize,
		MaxMessageSize: cfg.WSConfig.MaxMessageSize,
	}, logger.Named("ws"), m)
	router.Handle("/ws", wsHandler).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	newAPI(rooms, docs, leaderboards, cfg.HistoryConfig.JoinSize, logger.Named("api")).routes(router)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr)
		if *sslCert != "" && *sslKey != "" {
			serveErr <- srv.ListenAndServeTLS(*sslCert, *sslKey)
		} else {
			serveErr <- srv.ListenAndServe()
		}
	}()

	select {
	case err = <-serveErr:
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("http shutdown", "error", serr)
	}
	if serr := wsHandler.CloseAll(shutdownCtx); serr != nil {
		logger.Warn("websocket sessions still running", "error", serr)
	}
	if refresher != nil {
		<-refresher.Stop().Done()
	}
	stopGrading()
	<-gradingDone
	coord.Shutdown(shutdownCtx)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
