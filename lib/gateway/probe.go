// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ProbePath is the gateway endpoint used for reachability checks.
const ProbePath = "/__openclaw__/canvas/"

// Prober reports whether the gateway is reachable. Failures of any
// kind, including timeouts, are reported as false rather than errors.
type Prober interface {
	Reachable(ctx context.Context) bool
}

// HTTPProber issues a GET against URL. Any HTTP response counts as
// reachable, regardless of status code.
type HTTPProber struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
}

// NewHTTPProber returns a prober for the gateway on the loopback
// interface at port.
func NewHTTPProber(port int, timeout time.Duration) *HTTPProber {
	return &HTTPProber{
		URL:     fmt.Sprintf("http://127.0.0.1:%d%s", port, ProbePath),
		Timeout: timeout,
	}
}

func (p *HTTPProber) Reachable(ctx context.Context) bool {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return false
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	response, err := client.Do(request)
	if err != nil {
		return false
	}
	io.Copy(io.Discard, io.LimitReader(response.Body, 64<<10))
	response.Body.Close()
	return true
}
