package client

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"reacher-sentinel/models"
)

const (
	probeDialTimeout     = 5 * time.Second
	probeKeepAlive       = 30 * time.Second
	probeIdleConnTimeout = 90 * time.Second
	probeTLSTimeout      = 5 * time.Second
	probeMaxIdleConns    = 100
	probeMaxDrainBytes   = 64 * 1024
)

// HTTPProber sends heartbeat requests. It is shared by every service monitor
// of a process so connections get reused.
type HTTPProber struct {
	client *http.Client
	now    func() time.Time
}

func NewHTTPProber() *HTTPProber {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   probeDialTimeout,
			KeepAlive: probeKeepAlive,
		}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        probeMaxIdleConns,
		IdleConnTimeout:     probeIdleConnTimeout,
		TLSHandshakeTimeout: probeTLSTimeout,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
	}
	return &HTTPProber{
		client: &http.Client{Transport: transport},
		now:    time.Now,
	}
}

// Probe issues a GET against url and classifies the answer. It never returns
// an error: every failure mode is an outcome.
func (p *HTTPProber) Probe(ctx context.Context, url string, timeout time.Duration) models.ProbeResult {
	start := p.now()
	result := models.ProbeResult{CheckedAt: start.UTC()}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		result.Outcome = models.ProbeConnectionError
		result.Error = "build request: " + err.Error()
		return result
	}
	req.Header.Set("User-Agent", "reacher-sentinel/1")

	resp, err := p.client.Do(req)
	result.Latency = p.now().Sub(start)
	result.LatencyMs = result.Latency.Milliseconds()
	if err != nil {
		result.Outcome = classifyProbeError(ctx, err)
		result.Error = err.Error()
		return result
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, probeMaxDrainBytes))

	result.StatusCode = resp.StatusCode
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		result.Outcome = models.ProbeSuccess
	} else {
		result.Outcome = models.ProbeHTTPError
		result.Error = resp.Status
	}
	return result
}

func classifyProbeError(ctx context.Context, err error) models.ProbeOutcome {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return models.ProbeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.ProbeTimeout
	}
	return models.ProbeConnectionError
}
