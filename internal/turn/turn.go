// Package turn fetches TURN relays from the load balancer.
package turn

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/chatroom/internal/config"
	"github.com/pion/webrtc/v4"
)

type relay struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Transport string `json:"transport"`
}

type Provider struct {
	cfg    config.TurnConfig
	anonID func() string
	http   *http.Client
}

// New creates a provider. anonID, when set, supplies the anonymous call id
// the load balancer uses to pick a region.
func New(cfg config.TurnConfig, anonID func() string) *Provider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Provider{cfg: cfg, anonID: anonID, http: &http.Client{Timeout: cfg.Timeout}}
}

// RetrieveTurnServers returns the advertised relays. An empty list from the
// load balancer is not an error.
func (p *Provider) RetrieveTurnServers(ctx context.Context) ([]webrtc.ICEServer, error) {
	if p.cfg.LoadBalancerURL == "" {
		return nil, fmt.Errorf("turn: load balancer url not configured")
	}
	u, err := url.Parse(p.cfg.LoadBalancerURL)
	if err != nil {
		return nil, fmt.Errorf("turn: %w", err)
	}
	q := u.Query()
	q.Set("service", "turn")
	anon := ""
	if p.anonID != nil {
		anon = p.anonID()
	}
	q.Set("anonid", anon)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("turn: %w", err)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("turn: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("turn: load balancer returned %d", resp.StatusCode)
	}
	var body struct {
		Turn []relay `json:"turn"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("turn: decode: %w", err)
	}
	return p.servers(body.Turn), nil
}

func (p *Provider) servers(relays []relay) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(relays))
	for _, r := range relays {
		transport := r.Transport
		if transport == "" {
			transport = "udp"
		}
		out = append(out, webrtc.ICEServer{
			URLs:       []string{"turn:" + r.Host + ":" + strconv.Itoa(r.Port) + "?transport=" + transport},
			Username:   p.cfg.Username,
			Credential: p.cfg.Credential,
		})
	}
	return out
}
