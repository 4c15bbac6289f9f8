package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"kasapos/backend/internal/config"
	"kasapos/backend/internal/httpapi"
	"kasapos/backend/internal/idempo"
	"kasapos/backend/internal/ledger"
	"kasapos/backend/internal/ledger/memory"
	pgledger "kasapos/backend/internal/ledger/postgres"
	"kasapos/backend/internal/service"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	var pinHash []byte
	if cfg.SupervisorPIN != "" {
		if err := validateSupervisorPIN(cfg.SupervisorPIN); err != nil {
			logger.Fatal().Err(err).Msg("SUPERVISOR_PIN rejected")
		}
		pinHash, err = bcrypt.GenerateFromPassword([]byte(cfg.SupervisorPIN), bcrypt.DefaultCost)
		if err != nil {
			logger.Fatal().Err(err).Msg("hash supervisor pin")
		}
	} else {
		logger.Warn().Msg("SUPERVISOR_PIN not set; overrides and corrections will be refused")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var ldg ledger.Ledger
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgledger.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres unavailable and DATABASE_URL is set; refusing in-memory fallback")
		}
		ldg = pg
		closers = append(closers, pg.Close)
		logger.Info().Msg("ledger: postgres")
	} else {
		ldg = memory.NewSeeded()
		logger.Info().Msg("ledger: in-memory")
	}

	var keys idempo.Registry = idempo.NewMemoryRegistry()
	if cfg.RedisAddr != "" {
		redisKeys := idempo.NewRedisRegistry(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisKeys.Ping(ctx); err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, idempotency registry stays in-memory")
		} else {
			keys = redisKeys
			closers = append(closers, redisKeys.Close)
			logger.Info().Msg("idempotency registry: redis")
		}
	}

	svc := service.New(ldg, keys, logger, service.Options{
		DefaultLocationID: cfg.DefaultLocationID,
		SupervisorPINHash: pinHash,
		IdempotencyTTL:    time.Duration(cfg.IdempotencyTTLMinutes) * time.Minute,
	})
	api := httpapi.New(svc, logger, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Address()).Msg("POS core listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Error().Err(err).Msg("close error")
		}
	}

	logger.Info().Msg("server stopped")
}

// validateSupervisorPIN rejects PINs that are too short, all the same
// digit or sequential.
func validateSupervisorPIN(pin string) error {
	if len(pin) < 4 {
		return fmt.Errorf("must be at least 4 digits")
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return fmt.Errorf("must contain digits only")
		}
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}

	return nil
}
