// Copyright 2025 Coolsheets
// SPDX-License-Identifier: Apache-2.0

package connectivity

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// probeTimeout bounds the health probe round trip. Exceeding it is treated as
// "remote unreachable", not a hang.
const probeTimeout = 5 * time.Second

// HealthProbe checks whether the reconciliation endpoint is reachable. Its
// result is advisory: it decides whether to attempt a push cycle when the
// verdict is ambiguous, but it never flips the monitor by itself.
type HealthProbe struct {
	baseURL string
	httpc   *http.Client
}

// NewHealthProbe creates a probe against the given API base URL.
func NewHealthProbe(baseURL string) *HealthProbe {
	return &HealthProbe{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: probeTimeout},
	}
}

// Check issues HEAD {base}/inspections/health. Any non-2xx status, transport
// error, or timeout is reported as an error.
func (p *HealthProbe) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.baseURL+"/inspections/health", nil)
	if err != nil {
		return fmt.Errorf("health probe: %w", err)
	}
	resp, err := p.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("health probe: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health probe: remote returned status %d", resp.StatusCode)
	}
	return nil
}
