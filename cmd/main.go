package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/immxrtalbeast/marketcall/internal/api/http"
	"github.com/immxrtalbeast/marketcall/internal/config"
	"github.com/immxrtalbeast/marketcall/internal/media"
	"github.com/immxrtalbeast/marketcall/internal/peer"
	"github.com/immxrtalbeast/marketcall/internal/repository"
	"github.com/immxrtalbeast/marketcall/internal/repository/model"
	"github.com/immxrtalbeast/marketcall/internal/service"
	"github.com/immxrtalbeast/marketcall/lib/logger/sl"
	"github.com/immxrtalbeast/marketcall/lib/logger/slogpretty"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	_ = godotenv.Load(".env")

	cfg := config.MustLoad()
	log := setupLogger(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, conversations, err := setupStore(ctx, cfg.Store, log)
	if err != nil {
		log.Error("failed to set up signaling store", sl.Err(err), slog.String("driver", cfg.Store.Driver))
		os.Exit(1)
	}

	peerCfg := peer.Config{
		STUNServers:          cfg.WebRTC.STUNServers,
		ICECandidatePoolSize: cfg.WebRTC.ICECandidatePoolSize,
	}
	callService := service.NewCallService(service.CallDeps{
		Store:         store,
		Conversations: conversations,
		Media:         media.NewAcquirer(media.NewSyntheticDevice(), log),
		NewPeer: func() (service.PeerConnection, error) {
			return peer.New(peerCfg, log)
		},
		Sink:         peer.DiscardSink{Log: log},
		Log:          log,
		StoreTimeout: cfg.Store.Timeout,
	})

	callController := httpapi.NewCallController(callService, log)
	conversationController := httpapi.NewConversationController(conversations)

	router := httpapi.SetupRouter(callController, conversationController, cfg.HTTP.AllowOrigins)
	srv := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("starting application", slog.String("addr", cfg.HTTP.Address), slog.String("store", cfg.Store.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server stopped", sl.Err(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop http server", sl.Err(err))
	}
	if err := callService.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to tear down calls", sl.Err(err))
	}
	if err := store.Close(shutdownCtx); err != nil {
		log.Error("failed to close signaling store", sl.Err(err))
	}
}

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = setupPrettySlog()
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = setupPrettySlog()
	}

	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}

func setupStore(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (repository.SignalingStore, repository.ConversationRepository, error) {
	switch cfg.Driver {
	case config.StoreMongo:
		connectCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		store, err := repository.NewMongoSignalingStore(connectCtx, cfg.Mongo.URI, cfg.Mongo.Database, log)
		if err != nil {
			return nil, nil, err
		}
		return store, repository.NewMongoConversationRepository(store.Database()), nil
	case config.StorePostgres:
		db, err := connectDatabase(cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewPostgresSignalingStore(db, cfg.Postgres.PollInterval, log),
			repository.NewPostgresConversationRepository(db), nil
	default:
		return repository.NewInMemorySignalingStore(), repository.NewInMemoryConversationRepository(), nil
	}
}

func connectDatabase(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, errors.New("database dsn is empty")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(model.All()...); err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}
