package remote

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bissquit/shelfsync/internal/replication"
)

const (
	defaultHealthPath   = "/health"
	defaultProbeTimeout = 3 * time.Second
)

// Prober checks backend reachability with a GET on its health path.
type Prober struct {
	url        string
	httpClient *http.Client
}

var _ replication.Prober = (*Prober)(nil)

// NewProber creates a prober for baseURL + healthPath.
func NewProber(baseURL, healthPath string, timeout time.Duration) *Prober {
	if healthPath == "" {
		healthPath = defaultHealthPath
	}
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	if timeout == 0 {
		timeout = defaultProbeTimeout
	}

	return &Prober{
		url:        strings.TrimRight(baseURL, "/") + healthPath,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Probe returns true only on a 2xx answer. Any other outcome is offline.
func (p *Prober) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return false
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	return resp.StatusCode >= 200 && resp.StatusCode <= 299
}
