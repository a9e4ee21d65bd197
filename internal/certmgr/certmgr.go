// Package certmgr loads the fleet server's TLS certificate and key, watches
// both files for changes, and swaps the active *tls.Config atomically so
// in-flight connections keep using the config they started with (spec §4.7).
package certmgr

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"github.com/atlasfleet/atlas/internal/domain"
	"github.com/atlasfleet/atlas/internal/fleetlog"
)

// Manager loads a certificate/key pair and keeps a *tls.Config current as
// the files change on disk, grounded on the hot-reload watch pattern the
// pack uses for config files (99souls-ariadne's fsnotify-backed
// HotReloadSystem), applied here to cert material instead.
type Manager struct {
	certFile string
	keyFile  string
	log      *fleetlog.Logger

	current atomic.Pointer[tls.Config]
	leaf    atomic.Pointer[x509.Certificate]

	watcher *fsnotify.Watcher
	cron    *cron.Cron
}

// New loads certFile/keyFile once and returns a ready Manager. Returns
// ErrCertInvalid if the pair cannot be parsed, and logs (but does not fail
// on) an expired certificate. No hostname check is made: the certificate's
// names are not compared against any configured host.
func New(certFile, keyFile string, log *fleetlog.Logger) (*Manager, error) {
	m := &Manager{certFile: certFile, keyFile: keyFile, log: log}
	if err := m.reload(); err != nil {
		return nil, err
	}
	return m, nil
}

// TLSConfig returns a *tls.Config whose GetCertificate callback always
// resolves to the most recently loaded certificate, so a hot-swap never
// requires rebinding the listener.
func (m *Manager) TLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			cfg := m.current.Load()
			if cfg == nil || len(cfg.Certificates) == 0 {
				return nil, fmt.Errorf("certmgr: no certificate loaded")
			}
			return &cfg.Certificates[0], nil
		},
	}
}

// ExpiresInDays returns the number of whole days until the currently loaded
// certificate expires. Negative if already expired.
func (m *Manager) ExpiresInDays() int {
	leaf := m.leaf.Load()
	if leaf == nil {
		return 0
	}
	return int(math.Floor(time.Until(leaf.NotAfter).Hours() / 24))
}

func (m *Manager) reload() error {
	cert, err := tls.LoadX509KeyPair(m.certFile, m.keyFile)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCertInvalid, err)
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return fmt.Errorf("%w: parse leaf: %v", domain.ErrCertInvalid, err)
	}

	now := time.Now()
	if now.After(leaf.NotAfter) {
		m.log.WithField("not_after", leaf.NotAfter).Warn("certmgr: loaded certificate has already expired")
	}

	m.current.Store(&tls.Config{MinVersion: tls.VersionTLS12, Certificates: []tls.Certificate{cert}})
	m.leaf.Store(leaf)
	m.log.WithFields(map[string]any{
		"cert_file":  m.certFile,
		"not_after":  leaf.NotAfter,
		"subject":    leaf.Subject.CommonName,
	}).Info("certmgr: certificate loaded")
	return nil
}

// Watch starts watching certFile/keyFile for changes (fsnotify fires on the
// containing directory, same approach as a config-file watcher) and a daily
// cron tick that logs a warning once the certificate is within 30 days of
// expiry. Both run until Stop is called.
func (m *Manager) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("certmgr: create watcher: %w", err)
	}
	dirs := map[string]bool{
		filepath.Dir(m.certFile): true,
		filepath.Dir(m.keyFile):  true,
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return fmt.Errorf("certmgr: watch %s: %w", dir, err)
		}
	}
	m.watcher = watcher

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != m.certFile && ev.Name != m.keyFile {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := m.reload(); err != nil {
					m.log.WithField("error", err).Warn("certmgr: reload failed, keeping previous certificate")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.log.WithField("error", err).Warn("certmgr: watcher error")
			}
		}
	}()

	c := cron.New()
	if _, err := c.AddFunc("@daily", m.checkExpiry); err != nil {
		return fmt.Errorf("certmgr: schedule expiry check: %w", err)
	}
	c.Start()
	m.cron = c
	return nil
}

func (m *Manager) checkExpiry() {
	days := m.ExpiresInDays()
	if days <= 30 {
		m.log.WithField("expires_in_days", days).Warn("certmgr: certificate nearing expiry")
	}
}

// Stop releases the watcher and cron resources.
func (m *Manager) Stop() {
	if m.watcher != nil {
		m.watcher.Close()
	}
	if m.cron != nil {
		m.cron.Stop()
	}
}
