package banking

import (
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/owa-release/internal/domain"
	"go.uber.org/zap"
)

// Registry maps each rail to its Port. It is built once at start and passed
// to the services that need it.
type Registry struct {
	ports map[domain.Rail]Port
}

// NewRegistry requires a port for every supported rail.
func NewRegistry(ports map[domain.Rail]Port) (*Registry, error) {
	for _, rail := range domain.Rails {
		if ports[rail] == nil {
			return nil, fmt.Errorf("banking registry: no port for rail %s", rail)
		}
	}
	copied := make(map[domain.Rail]Port, len(ports))
	for k, v := range ports {
		copied[k] = v
	}
	return &Registry{ports: copied}, nil
}

// For returns the port serving rail.
func (r *Registry) For(rail domain.Rail) (Port, error) {
	p, ok := r.ports[rail]
	if !ok {
		return nil, domain.NewValidationError("destination.rail", fmt.Sprintf("unsupported rail %q", rail))
	}
	return p, nil
}

// Config selects the provider mode for all rails.
type Config struct {
	Mode          string // mock, real or shadow
	Gateway       HTTPClientConfig
	ShadowTimeout time.Duration
}

// Build constructs the registry for the configured mode.
func Build(cfg Config, logger *zap.Logger) (*Registry, error) {
	ports := make(map[domain.Rail]Port, len(domain.Rails))
	switch strings.ToLower(strings.TrimSpace(cfg.Mode)) {
	case "mock", "":
		for _, rail := range domain.Rails {
			ports[rail] = NewMockPort()
		}
	case "real":
		client, err := NewHTTPClient(cfg.Gateway)
		if err != nil {
			return nil, fmt.Errorf("build banking client: %w", err)
		}
		for _, rail := range domain.Rails {
			ports[rail] = client
		}
	case "shadow":
		client, err := NewHTTPClient(cfg.Gateway)
		if err != nil {
			return nil, fmt.Errorf("build banking client: %w", err)
		}
		for _, rail := range domain.Rails {
			ports[rail] = NewShadowPort(client, NewMockPort(), logger, cfg.ShadowTimeout)
		}
	default:
		return nil, fmt.Errorf("unknown banking mode %q", cfg.Mode)
	}
	return NewRegistry(ports)
}
