package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ghostpub/ghostd/internal/store"
)

// Prober checks whether an item's external reference is still reachable.
// Implementations own the probing protocol; the scanner only consumes the
// mapped status.
type Prober interface {
	Probe(ctx context.Context, sourceURI string) (store.AvailabilityStatus, error)
	Close()
}

// ProberFactory builds a Prober per scan. A factory error means the probing
// backend is unavailable; the scanner then resolves every sampled item to
// Unknown instead of failing the scan.
type ProberFactory func() (Prober, error)

// GatewayProber asks an availability gateway service about a reference.
type GatewayProber struct {
	baseURL string
	client  *http.Client
}

// NewGatewayProber verifies the gateway is reachable and returns a prober
// bound to it.
func NewGatewayProber(baseURL string) (*GatewayProber, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("no probe gateway configured")
	}
	client := &http.Client{}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/healthz", nil)
	if err != nil {
		return nil, fmt.Errorf("build gateway health request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("probe gateway unreachable: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("probe gateway unhealthy: status %d", resp.StatusCode)
	}

	return &GatewayProber{baseURL: baseURL, client: client}, nil
}

type gatewayResponse struct {
	Available bool `json:"available"`
	Peers     int  `json:"peers"`
}

// Probe maps the gateway's verdict onto an availability status. Errors are
// returned to the scanner, which records Unknown for that item.
func (g *GatewayProber) Probe(ctx context.Context, sourceURI string) (store.AvailabilityStatus, error) {
	probeURL := fmt.Sprintf("%s/probe?uri=%s", g.baseURL, url.QueryEscape(sourceURI))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return store.StatusUnknown, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return store.StatusUnknown, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return store.StatusUnknown, fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}
	var body gatewayResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return store.StatusUnknown, fmt.Errorf("decode gateway response: %w", err)
	}
	if body.Available {
		return store.StatusActive, nil
	}
	return store.StatusStale, nil
}

// Close releases gateway resources. The HTTP client has none.
func (g *GatewayProber) Close() {}
