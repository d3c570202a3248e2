package gateways

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Settings carries the credentials of every supported gateway. Production and
// Timeout apply to all of them.
type Settings struct {
	Production bool
	Timeout    time.Duration
	PayFast    PayFastConfig
	Payflex    PayflexConfig
	PayJustNow PayJustNowConfig
}

// Registry maps gateway ids to adapters. It is built once at startup and is
// read-only afterwards.
type Registry struct {
	gateways map[string]Gateway
}

func NewRegistry(gws ...Gateway) *Registry {
	r := &Registry{gateways: make(map[string]Gateway, len(gws))}
	for _, gw := range gws {
		r.gateways[gw.ID()] = gw
	}
	return r
}

// Build constructs each enabled gateway. An unknown id or a gateway missing
// credentials is a CONFIG error.
func Build(enabled []string, s Settings) (*Registry, error) {
	if len(enabled) == 0 {
		return nil, configError("", "no payment gateways enabled")
	}

	gws := make([]Gateway, 0, len(enabled))
	for _, raw := range enabled {
		id := strings.ToLower(strings.TrimSpace(raw))
		if id == "" {
			continue
		}

		var (
			gw  Gateway
			err error
		)
		switch id {
		case PayFastID:
			cfg := s.PayFast
			cfg.Production = s.Production
			gw, err = NewPayFast(cfg)
		case PayflexID:
			cfg := s.Payflex
			cfg.Production = s.Production
			if cfg.Timeout == 0 {
				cfg.Timeout = s.Timeout
			}
			gw, err = NewPayflex(cfg)
		case PayJustNowID:
			cfg := s.PayJustNow
			cfg.Production = s.Production
			if cfg.Timeout == 0 {
				cfg.Timeout = s.Timeout
			}
			gw, err = NewPayJustNow(cfg)
		default:
			return nil, configError(id, fmt.Sprintf("unsupported payment gateway %q", id))
		}
		if err != nil {
			return nil, err
		}
		gws = append(gws, gw)
	}

	return NewRegistry(gws...), nil
}

// Resolve returns the adapter for id. There is no default gateway.
func (r *Registry) Resolve(id string) (Gateway, error) {
	if gw, ok := r.gateways[id]; ok {
		return gw, nil
	}
	return nil, configError(id, fmt.Sprintf("unsupported payment gateway %q", id))
}

// IDs lists the enabled gateways in a stable order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.gateways))
	for id := range r.gateways {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
