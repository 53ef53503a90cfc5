package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/caddyserver/certmagic"
)

// TLSConfig controls automatic certificates for the edge listener.
type TLSConfig struct {
	Domains []string
	Email   string
	Staging bool
}

// CertManager obtains and renews certificates for a fixed set of domains.
type CertManager struct {
	domains []string
	cfg     *certmagic.Config
	logger  *slog.Logger
}

// NewCertManager configures certmagic's default ACME issuer for cfg.
func NewCertManager(cfg TLSConfig, logger *slog.Logger) (*CertManager, error) {
	if len(cfg.Domains) == 0 {
		return nil, fmt.Errorf("tls: at least one domain is required")
	}
	certmagic.DefaultACME.Email = cfg.Email
	certmagic.DefaultACME.Agreed = true
	if cfg.Staging {
		certmagic.DefaultACME.CA = certmagic.LetsEncryptStagingCA
	}
	return &CertManager{
		domains: cfg.Domains,
		cfg:     certmagic.NewDefault(),
		logger:  logger,
	}, nil
}

// ListenAndServe obtains certificates, then serves handler over TLS on
// addr until ctx is cancelled. HTTP-01 challenges arrive on the plain
// listener; wrap its handler with HTTPChallengeHandler.
func (cm *CertManager) ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	cm.logger.Info("managing certificates", "domains", cm.domains)
	if err := cm.cfg.ManageSync(ctx, cm.domains); err != nil {
		return fmt.Errorf("manage domains: %w", err)
	}

	ln, err := tls.Listen("tcp", addr, cm.cfg.TLSConfig())
	if err != nil {
		return fmt.Errorf("tls listen: %w", err)
	}

	srv := NewHTTPServer(addr, handler)
	srv.Handler = handler
	return Serve(ctx, cm.logger, "edge-tls", srv, ln)
}

// HTTPChallengeHandler answers ACME HTTP-01 challenges and passes every
// other request to next.
func (cm *CertManager) HTTPChallengeHandler(next http.Handler) http.Handler {
	for _, issuer := range cm.cfg.Issuers {
		if am, ok := issuer.(*certmagic.ACMEIssuer); ok {
			return am.HTTPChallengeHandler(next)
		}
	}
	return next
}
