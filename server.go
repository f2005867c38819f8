package oauth

import (
	"fmt"
	"log/slog"

	"github.com/SamandarAlimov/accounts-sub001/security"
	"github.com/SamandarAlimov/accounts-sub001/server"
	"github.com/SamandarAlimov/accounts-sub001/storage"
)

// NewServer wires a server.Server over store with the optional auditing,
// instrumentation, notification and rate limiting from cfg, and returns the
// HTTP handler for it. Call Handler.Close to stop background goroutines.
func NewServer(store storage.Store, cfg *Config) (*Handler, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	serverCfg := cfg.Server
	srv, err := server.New(store, &serverCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	var auditor *security.Auditor
	if cfg.Security.EnableAuditLogging {
		auditor = security.NewAuditor(logger, true)
		srv.SetAuditor(auditor)
	}
	srv.SetInstrumentation(cfg.Instrumentation)
	if cfg.Queue != nil && cfg.Notifier != nil {
		srv.SetNotifier(cfg.Queue, cfg.Notifier)
	}

	h := NewHandler(srv, logger)
	h.trustProxy = cfg.Security.TrustProxy
	h.SetAuditor(auditor)
	h.SetInstrumentation(cfg.Instrumentation)
	if cfg.RateLimit.Rate > 0 {
		maxEntries := cfg.RateLimit.MaxEntries
		if maxEntries == 0 {
			maxEntries = security.DefaultMaxEntries
		}
		burst := cfg.RateLimit.Burst
		if burst <= 0 {
			burst = cfg.RateLimit.Rate
		}
		h.SetRateLimiter(security.NewRateLimiterWithConfig(cfg.RateLimit.Rate, burst, maxEntries, logger))
	}

	logger.Info("OAuth server configured",
		"issuer", srv.Config.Issuer,
		"audit", cfg.Security.EnableAuditLogging,
		"rate_limit", cfg.RateLimit.Rate,
		"refresh_rotation", srv.Config.RefreshTokenRotation)

	return h, nil
}
