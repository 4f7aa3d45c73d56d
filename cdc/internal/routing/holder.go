package routing

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// PolicyHolder publishes the active policy. Reload builds a new Policy and
// swaps it in; readers never see a partially loaded policy.
type PolicyHolder struct {
	path   string
	logger *slog.Logger
	policy atomic.Pointer[Policy]
}

// NewPolicyHolder loads the policy at path.
func NewPolicyHolder(path string, logger *slog.Logger) (*PolicyHolder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p, err := LoadPolicy(path)
	if err != nil {
		return nil, err
	}
	h := &PolicyHolder{path: path, logger: logger.With(slog.String("component", "routing"))}
	h.policy.Store(p)
	h.logger.Info("Routing policy loaded",
		slog.String("version", p.Version),
		slog.Int("segments", len(p.Segments)),
		slog.Int("regions", len(p.Regions)),
		slog.Int("owners", len(p.Owners)))
	return h, nil
}

// NewStaticHolder wraps a policy that is never reloaded.
func NewStaticHolder(p *Policy) *PolicyHolder {
	h := &PolicyHolder{logger: slog.Default()}
	h.policy.Store(p)
	return h
}

// Policy returns the active policy.
func (h *PolicyHolder) Policy() *Policy {
	return h.policy.Load()
}

// Version returns the active policy version.
func (h *PolicyHolder) Version() string {
	return h.Policy().Version
}

// Reload re-reads the policy file. On failure the active policy is kept.
func (h *PolicyHolder) Reload() (*Policy, error) {
	if h.path == "" {
		return nil, errors.New("policy holder has no file to reload")
	}
	p, err := LoadPolicy(h.path)
	if err != nil {
		h.logger.Error("Policy reload failed, keeping active policy",
			slog.String("active_version", h.Version()),
			slog.String("error", err.Error()))
		return nil, err
	}
	old := h.policy.Swap(p)
	h.logger.Info("Routing policy reloaded",
		slog.String("previous_version", old.Version),
		slog.String("version", p.Version))
	return p, nil
}

// Watch reloads the policy every interval until ctx is done. onReload is
// called after each successful swap and may be nil.
func (h *PolicyHolder) Watch(ctx context.Context, interval time.Duration, onReload func(*Policy)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p, err := h.Reload()
			if err == nil && onReload != nil {
				onReload(p)
			}
		}
	}
}
