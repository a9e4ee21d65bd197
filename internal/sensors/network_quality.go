package sensors

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"time"

	"github.com/atlasfleet/atlas/internal/domain"
)

// NetworkQualityTargets are the probe endpoints SampleNetworkQuality times
// against. It is an exported package variable a caller may replace;
// agentconfig has no setting for it, so the default below is what runs.
var NetworkQualityTargets = []string{"https://www.cloudflare.com/cdn-cgi/trace"}

// SampleNetworkQuality measures DNS, TLS, and HTTP round-trip latency
// against a small set of well-known endpoints. Unlike the other monitors,
// this one needs no OS-specific probe — it rides entirely on net/http and
// net/http/httptrace, so it is fully implemented rather than deferred as an
// opaque collaborator.
func SampleNetworkQuality(ctx context.Context) (domain.NetworkQualitySnapshot, error) {
	ctx, cancel := withTimeout(ctx, domain.MonitorIntervals[domain.MonitorNetworkQuality])
	defer cancel()

	if len(NetworkQualityTargets) == 0 {
		return domain.NetworkQualitySnapshot{}, &domain.SensorError{
			Kind:    domain.SensorFailureUnavailable,
			Monitor: domain.MonitorNetworkQuality,
			Message: "no probe targets configured",
		}
	}

	snap := domain.NetworkQualitySnapshot{
		DNSLatencyMS: make(map[string]float64),
	}

	var totalHTTP, totalTLS time.Duration
	var sampled int
	for _, target := range NetworkQualityTargets {
		timing, err := probeOnce(ctx, target)
		if err != nil {
			continue
		}
		snap.DNSLatencyMS[hostOf(target)] = float64(timing.dns.Milliseconds())
		totalTLS += timing.tls
		totalHTTP += timing.total
		sampled++
	}

	if sampled == 0 {
		return domain.NetworkQualitySnapshot{}, &domain.SensorError{
			Kind:    domain.SensorFailureTimeout,
			Monitor: domain.MonitorNetworkQuality,
			Message: "all network quality probes failed",
		}
	}

	snap.TLSHandshakeMS = float64(totalTLS.Milliseconds()) / float64(sampled)
	snap.HTTPRoundTripMS = float64(totalHTTP.Milliseconds()) / float64(sampled)
	return snap, nil
}

type probeTiming struct {
	dns   time.Duration
	tls   time.Duration
	total time.Duration
}

func probeOnce(ctx context.Context, url string) (probeTiming, error) {
	var timing probeTiming
	var dnsStart, tlsStart, reqStart time.Time

	trace := &httptrace.ClientTrace{
		DNSStart: func(httptrace.DNSStartInfo) { dnsStart = time.Now() },
		DNSDone: func(httptrace.DNSDoneInfo) {
			if !dnsStart.IsZero() {
				timing.dns = time.Since(dnsStart)
			}
		},
		TLSHandshakeStart: func() { tlsStart = time.Now() },
		TLSHandshakeDone: func(tls.ConnectionState, error) {
			if !tlsStart.IsZero() {
				timing.tls = time.Since(tlsStart)
			}
		},
	}

	reqStart = time.Now()
	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace), http.MethodGet, url, nil)
	if err != nil {
		return timing, err
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return timing, err
	}
	defer resp.Body.Close()

	timing.total = time.Since(reqStart)
	return timing, nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Host
}
