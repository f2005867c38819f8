package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/SamandarAlimov/accounts-sub001/instrumentation"
	"github.com/SamandarAlimov/accounts-sub001/security"
	"github.com/SamandarAlimov/accounts-sub001/storage"
	"github.com/SamandarAlimov/accounts-sub001/storage/memory"
	"github.com/SamandarAlimov/accounts-sub001/storage/postgres"
	"github.com/SamandarAlimov/accounts-sub001/storage/valkey"
)

// backend is what the daemon needs from a store: the flows plus seeding.
type backend interface {
	storage.Store
	storage.AdminStore
}

// openStore connects the configured backend. The returned stop function
// releases it.
func openStore(ctx context.Context, cfg storeConfig, logger *slog.Logger, inst *instrumentation.Instrumentation) (backend, func(), error) {
	switch cfg.Backend {
	case "valkey":
		s, err := valkey.New(valkey.Config{
			Address:   cfg.Valkey.Address,
			Password:  cfg.Valkey.Password,
			DB:        cfg.Valkey.DB,
			KeyPrefix: cfg.Valkey.KeyPrefix,
			Logger:    logger,
		})
		if err != nil {
			return nil, nil, err
		}
		if cfg.Valkey.EncryptionKey != "" {
			key, err := security.KeyFromBase64(cfg.Valkey.EncryptionKey)
			if err != nil {
				s.Close()
				return nil, nil, fmt.Errorf("invalid store.valkey.encryption_key: %w", err)
			}
			enc, err := security.NewEncryptor(key)
			if err != nil {
				s.Close()
				return nil, nil, err
			}
			s.SetEncryptor(enc)
		}
		s.SetInstrumentation(inst)
		return s, s.Close, nil

	case "postgres":
		s, err := postgres.New(ctx, postgres.Config{
			DSN:          cfg.Postgres.DSN,
			MaxOpenConns: cfg.Postgres.MaxOpenConns,
			MaxIdleConns: cfg.Postgres.MaxIdleConns,
			Logger:       logger,
		})
		if err != nil {
			return nil, nil, err
		}
		s.SetInstrumentation(inst)

		cleanupCtx, cancel := context.WithCancel(context.Background())
		go runCleanup(cleanupCtx, s, cfg.CleanupInterval, logger)
		return s, func() {
			cancel()
			if err := s.Close(); err != nil {
				logger.Warn("Failed to close postgres store", "error", err)
			}
		}, nil

	default:
		s := memory.New()
		s.SetLogger(logger)
		s.SetInstrumentation(inst)
		logger.Warn("Using in-memory storage; all state is lost on restart")
		return s, s.Stop, nil
	}
}

type expirer interface {
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

func runCleanup(ctx context.Context, s expirer, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.DeleteExpired(ctx, time.Now())
			if err != nil {
				logger.Error("Expired credential cleanup failed", "error", err)
				continue
			}
			logger.Debug("Expired credentials removed", "count", n)
		}
	}
}

// seed upserts the clients and profiles from the configuration.
func seed(ctx context.Context, store storage.AdminStore, cfg *config, logger *slog.Logger) error {
	for _, cc := range cfg.Clients {
		client, err := buildClient(cc, hashCost)
		if err != nil {
			return err
		}
		if err := store.SaveClient(ctx, client); err != nil {
			return fmt.Errorf("failed to save client %s: %w", cc.ID, err)
		}
		logger.Info("Client registered",
			"client_id", client.ClientID,
			"confidential", client.IsConfidential(),
			"redirect_uris", client.RedirectURIs)
	}

	for _, pc := range cfg.Profiles {
		if err := store.SaveProfile(ctx, buildProfile(pc)); err != nil {
			return fmt.Errorf("failed to save profile %s: %w", pc.UserID, err)
		}
	}
	if len(cfg.Profiles) > 0 {
		logger.Info("Profiles loaded", "count", len(cfg.Profiles))
	}
	return nil
}

func buildClient(cc clientConfig, cost int) (*storage.Client, error) {
	client := &storage.Client{
		ClientID:      cc.ID,
		RedirectURIs:  cc.RedirectURIs,
		AllowedScopes: cc.Scopes,
		IsActive:      !cc.Disabled,
		CreatedAt:     time.Now(),
	}
	if len(client.AllowedScopes) == 0 {
		client.AllowedScopes = []string{"openid", "profile", "email"}
	}
	if cc.Secret != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(cc.Secret), cost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash secret for client %s: %w", cc.ID, err)
		}
		client.ClientSecretHash = string(hash)
	}
	return client, nil
}

func buildProfile(pc profileConfig) *storage.Profile {
	return &storage.Profile{
		UserID:              pc.UserID,
		Name:                pc.Name,
		GivenName:           pc.GivenName,
		FamilyName:          pc.FamilyName,
		Picture:             pc.Picture,
		Email:               pc.Email,
		EmailVerified:       pc.EmailVerified,
		PhoneNumber:         pc.Phone,
		PhoneNumberVerified: pc.PhoneVerified,
		UpdatedAt:           time.Now(),
	}
}
