package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/cache"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/config"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/httpapi"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/logger"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/mpesa"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/notify"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/scheduler"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/service"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/store"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/store/memory"
	pgstore "github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: cfg.LogOutput})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 3)
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Warn("close error", zap.Error(err))
			}
		}
	}()

	var repo store.Repository
	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(startCtx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres unavailable and DATABASE_URL is set; refusing in-memory fallback: %w", err)
		}
		closers = append(closers, pg.Close)
		migrator, err := pgstore.NewMigrator(pg.DB(), log.Named("migrate"))
		if err != nil {
			return err
		}
		if err := migrator.Up(); err != nil {
			return err
		}
		repo = pg
		log.Info("repository ready", zap.String("kind", "postgres"))
	} else {
		repo = memory.NewSeeded()
		log.Info("repository ready", zap.String("kind", "memory"))
	}

	var idem cache.IdempotencyStore = cache.NewMemoryIdempotencyStore()
	if cfg.RedisAddr != "" {
		redisStore := cache.NewRedisIdempotencyStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisStore.Ping(startCtx); err != nil {
			log.Warn("redis unavailable, using in-process idempotency keys", zap.Error(err))
			_ = redisStore.Close()
		} else {
			idem = redisStore
			closers = append(closers, redisStore.Close)
			log.Info("idempotency store ready", zap.String("kind", "redis"))
		}
	}

	var notifier notify.Notifier = notify.NewLogNotifier(log)
	if cfg.Twilio.Enabled() {
		sms, err := notify.NewTwilio(cfg.Twilio, log)
		if err != nil {
			return err
		}
		notifier = sms
		log.Info("alerts via twilio sms")
	}

	var provider mpesa.Provider
	if cfg.Mpesa.Enabled() {
		client, err := mpesa.NewClient(cfg.Mpesa)
		if err != nil {
			return fmt.Errorf("mpesa client: %w", err)
		}
		provider = client
		log.Info("mpesa gateway ready", zap.String("base_url", cfg.Mpesa.BaseURL))
	} else {
		provider = mpesa.NewSimulator()
		log.Warn("mpesa credentials missing, using simulator")
	}

	loc := time.UTC
	if cfg.Scheduler.DailySummaryTZName != "" {
		loaded, err := time.LoadLocation(cfg.Scheduler.DailySummaryTZName)
		if err != nil {
			return fmt.Errorf("load timezone %q: %w", cfg.Scheduler.DailySummaryTZName, err)
		}
		loc = loaded
	}

	svc := service.New(repo, provider,
		service.WithLogger(log),
		service.WithNotifier(notifier),
		service.WithIdempotencyStore(idem),
		service.WithCallbackToken(cfg.Mpesa.CallbackToken),
		service.WithDefaults(cfg.Defaults),
		service.WithDefaultStoreID(cfg.StoreID),
		service.WithLocation(loc),
	)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN, repo, log)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, log)

	if cfg.Scheduler.Enabled {
		jobs, err := scheduler.New(cfg.Scheduler, svc, log)
		if err != nil {
			return err
		}
		jobs.Start()
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer stopCancel()
			if err := jobs.Stop(stopCtx); err != nil {
				log.Warn("scheduler stop", zap.Error(err))
			}
		}()
	}

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// No WriteTimeout: settlement streams stay open until the sale settles.
		IdleTimeout: 60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("pos backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}
	log.Info("server stopped")
	return nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	if cfg.Mpesa.Enabled() && len(cfg.Mpesa.CallbackToken) < 16 {
		return fmt.Errorf("MPESA_CALLBACK_TOKEN must be at least 16 characters when Daraja is configured")
	}
	return nil
}

// validatePINStrength rejects PINs that repeat one digit, run in sequence or
// appear on the common-PIN list.
func validatePINStrength(pin string) error {
	common := map[string]bool{
		"123456": true, "654321": true, "000000": true, "121212": true,
		"112233": true, "123123": true, "696969": true, "159753": true,
	}
	if common[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	repeated := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			repeated = false
			break
		}
	}
	if repeated {
		return fmt.Errorf("repeated-digit PIN not allowed")
	}

	up, down := true, true
	for i := 1; i < len(pin); i++ {
		step := int(pin[i]) - int(pin[i-1])
		up = up && step == 1
		down = down && step == -1
	}
	if up || down {
		return fmt.Errorf("sequential PIN not allowed")
	}
	return nil
}
