// Package wol wakes powered-off cluster nodes and waits for their web UI.
package wol

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/fgeck/pve-homelab/internal/models"
	"github.com/mdlayher/wol"
	"github.com/rs/zerolog"
)

// ProxmoxUIPort is polled to detect a node that finished booting.
const ProxmoxUIPort = 8006

// Service defines the interface for Wake-on-LAN operations.
type Service interface {
	Wake(ctx context.Context, cfg models.WOLConfig) (*models.WOLResult, error)
}

// Client wraps the wol library for mocking.
type Client interface {
	Wake(broadcastIP string, mac net.HardwareAddr) error
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// DefaultClient sends magic packets with mdlayher/wol.
type DefaultClient struct{}

// Wake sends a magic packet to mac on the broadcast address, UDP port 9.
func (c *DefaultClient) Wake(broadcastIP string, mac net.HardwareAddr) error {
	client, err := wol.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create WOL client: %w", err)
	}
	defer func() { _ = client.Close() }()

	ip := net.ParseIP(broadcastIP)
	if ip == nil {
		return fmt.Errorf("invalid broadcast IP: %s", broadcastIP)
	}

	if err := client.Wake(net.JoinHostPort(ip.String(), "9"), mac); err != nil {
		return fmt.Errorf("failed to send WOL packet: %w", err)
	}
	return nil
}

// Impl implements the WOL Service interface.
type Impl struct {
	wolClient  Client
	httpClient HTTPClient
	logger     zerolog.Logger
}

// New creates a new WOL service. The poll client accepts the self-signed
// certificate every Proxmox node ships with.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		wolClient: &DefaultClient{},
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // self-signed node certificates
			},
		},
		logger: logger,
	}
}

// NewWithClients creates a new WOL service with custom clients (for testing).
func NewWithClients(logger zerolog.Logger, wolClient Client, httpClient HTTPClient) *Impl {
	return &Impl{
		wolClient:  wolClient,
		httpClient: httpClient,
		logger:     logger,
	}
}

// ConfigForNode combines the shared settings with one node's MAC and address.
// Nodes without an address are polled by name.
// A node-level broadcast address overrides the shared one.
func ConfigForNode(node models.Node, override models.NodeConfig, settings models.WOLSettings) models.WOLConfig {
	cfg := models.WOLConfig{
		Node:          node.Name,
		MACAddress:    node.MACAddress,
		BroadcastIP:   settings.BroadcastIP,
		Timeout:       settings.Timeout,
		PollInterval:  settings.PollInterval,
		StabilizeWait: settings.StabilizeWait,
	}
	if override.BroadcastIP != "" {
		cfg.BroadcastIP = override.BroadcastIP
	}
	host := node.Address
	if host == "" {
		host = node.Name
	}
	if host != "" {
		cfg.PollURL = fmt.Sprintf("https://%s/", net.JoinHostPort(host, fmt.Sprint(ProxmoxUIPort)))
	}
	return cfg
}

// Wake sends a WOL packet and, when PollURL is set, waits for the node to answer.
func (s *Impl) Wake(ctx context.Context, cfg models.WOLConfig) (*models.WOLResult, error) {
	result := &models.WOLResult{}
	start := time.Now()
	logger := s.logger.With().Str("node", cfg.Node).Logger()

	mac, err := net.ParseMAC(cfg.MACAddress)
	if err != nil {
		result.Error = fmt.Errorf("invalid MAC address %q: %w", cfg.MACAddress, err)
		return result, nil
	}

	logger.Info().
		Str("mac", cfg.MACAddress).
		Str("broadcast", cfg.BroadcastIP).
		Msg("sending WOL packet")

	if err := s.wolClient.Wake(cfg.BroadcastIP, mac); err != nil {
		result.Error = err
		return result, nil //nolint:nilerr // error is carried in the result
	}
	result.PacketSent = true

	if cfg.PollURL == "" {
		result.WaitDuration = time.Since(start)
		result.TargetReady = true
		return result, nil
	}

	logger.Info().
		Str("url", cfg.PollURL).
		Dur("timeout", cfg.Timeout).
		Msg("waiting for node to boot")

	if err := s.waitForTarget(ctx, logger, cfg); err != nil {
		result.WaitDuration = time.Since(start)
		result.Error = err
		return result, nil //nolint:nilerr // error is carried in the result
	}

	if cfg.StabilizeWait > 0 {
		logger.Debug().Str("wait", cfg.StabilizeWait.Round(time.Millisecond).String()).Msg("waiting for services to settle")
		select {
		case <-ctx.Done():
			result.WaitDuration = time.Since(start)
			result.Error = ctx.Err()
			return result, nil
		case <-time.After(cfg.StabilizeWait):
		}
	}

	result.TargetReady = true
	result.WaitDuration = time.Since(start)
	logger.Info().Dur("duration", result.WaitDuration).Msg("node is up")

	return result, nil
}

func (s *Impl) waitForTarget(ctx context.Context, logger zerolog.Logger, cfg models.WOLConfig) error {
	deadline := time.Now().Add(cfg.Timeout)
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for %s at %s", cfg.Node, cfg.PollURL)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.PollURL, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := s.httpClient.Do(req)
		if err == nil {
			// any HTTP answer means pveproxy is running
			_ = resp.Body.Close()
			return nil
		}

		logger.Debug().Err(err).Msg("node not up yet")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
