// Package serversupervisor wires the fleet server's boot sequence: load
// config, open the store, start TLS cert management (if configured), mount
// the HTTP router, and run the nightly retention/session-GC background
// workers. Run blocks until a terminating signal arrives, then drains
// within a bounded grace period.
package serversupervisor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/atlasfleet/atlas/internal/auth"
	"github.com/atlasfleet/atlas/internal/certmgr"
	"github.com/atlasfleet/atlas/internal/cryptobox"
	"github.com/atlasfleet/atlas/internal/fleethttp"
	"github.com/atlasfleet/atlas/internal/fleetlog"
	"github.com/atlasfleet/atlas/internal/serverconfig"
	"github.com/atlasfleet/atlas/internal/store"
)

// shutdownGrace bounds how long http.Server.Shutdown waits for in-flight
// requests to finish before the process exits, spec §5 "Server".
const shutdownGrace = 30 * time.Second

// sessionGCInterval is how often expired sessions are pruned from the
// store, independent of the nightly retention job.
const sessionGCInterval = 10 * time.Minute

// Supervisor owns every long-lived component of one fleet-server process.
type Supervisor struct {
	cfg   serverconfig.Config
	log   *fleetlog.Logger
	store *store.Store
	auth  *auth.Authenticator
	certs *certmgr.Manager // nil when TLS is not configured
	fleet *fleethttp.Server
	cron  *cron.Cron
}

// New builds a Supervisor from a loaded config.
func New(cfg serverconfig.Config, log *fleetlog.Logger) (*Supervisor, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("serversupervisor: create data dir: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "fleet.db")
	st, err := store.New(dbPath, cfg.Server.HistorySize, log)
	if err != nil {
		return nil, fmt.Errorf("serversupervisor: open store: %w", err)
	}

	authn := auth.New(cfg.Server.APIKey, st)

	var certs *certmgr.Manager
	if cfg.SSL.CertFile != "" {
		certs, err = certmgr.New(cfg.SSL.CertFile, cfg.SSL.KeyFile, log)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("serversupervisor: %w", err)
		}
	}

	var encryptionKey []byte
	if cfg.Server.EncryptionKey != "" {
		encryptionKey, err = cryptobox.ParseKey(cfg.Server.EncryptionKey)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("serversupervisor: %w", err)
		}
	}

	bindAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	fleet := fleethttp.New(st, authn, certs, log, cfg.Thresholds(), cfg.AgentInterval(),
		cfg.SessionTTL(), encryptionKey, cfg.Server.StrictEncryption, cfg.AllowedOrigins, bindAddr)

	return &Supervisor{cfg: cfg, log: log, store: st, auth: authn, certs: certs, fleet: fleet}, nil
}

// Run starts every worker, serves HTTP(S), and blocks until ctx is
// canceled or a terminating signal arrives.
func (s *Supervisor) Run(ctx context.Context) error {
	runCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if s.certs != nil {
		if err := s.certs.Watch(); err != nil {
			return fmt.Errorf("serversupervisor: start cert watcher: %w", err)
		}
		defer s.certs.Stop()
	}

	s.cron = cron.New()
	s.cron.AddFunc("@daily", s.pruneRetention(runCtx))
	go s.runSessionGC(runCtx)
	s.cron.Start()
	defer s.cron.Stop()

	bindAddr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         bindAddr,
		Handler:      s.fleet.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}
	if s.certs != nil {
		httpServer.TLSConfig = s.certs.TLSConfig()
	}

	serveErr := make(chan error, 1)
	go func() {
		var err error
		if s.certs != nil {
			// Certificates come from TLSConfig.GetCertificate, not files
			// passed here — cert/key args are ignored in that case.
			err = httpServer.ListenAndServeTLS("", "")
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	s.log.WithField("bind_addr", bindAddr).Info("serversupervisor: listening")

	select {
	case <-runCtx.Done():
		s.log.Info("serversupervisor: shutdown signal received, draining")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serversupervisor: listen: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.WithField("error", err).Warn("serversupervisor: shutdown did not complete cleanly")
	}
	return s.store.Close()
}

// pruneRetention returns the nightly cron job closure, spec §4.4 "history
// older than history_retention_days is pruned."
func (s *Supervisor) pruneRetention(ctx context.Context) func() {
	return func() {
		n, err := s.store.PruneRetention(ctx, s.cfg.Server.HistoryRetentionDays)
		if err != nil {
			s.log.WithField("error", err).Warn("serversupervisor: retention prune failed")
			return
		}
		s.log.WithField("rows_deleted", n).Info("serversupervisor: retention prune complete")
	}
}

// runSessionGC periodically removes expired session rows from the store.
// Login-throttle entries are not pruned here.
func (s *Supervisor) runSessionGC(ctx context.Context) {
	ticker := time.NewTicker(sessionGCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.auth.PruneExpiredSessions(ctx); err != nil {
				s.log.WithField("error", err).Warn("serversupervisor: session prune failed")
			} else if n > 0 {
				s.log.WithField("sessions_pruned", n).Info("serversupervisor: session prune complete")
			}
		}
	}
}
