package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/leadpulse/leadpulse/cdc/internal/flywheel"
	"github.com/leadpulse/leadpulse/cdc/internal/salesforce"
	svcconfig "github.com/leadpulse/leadpulse/common/config"
)

// backend is the Salesforce store and decision log a one-shot command runs
// against, opened the same way the service opens them.
type backend struct {
	cfg     *svcconfig.Config
	store   salesforce.Store
	emitter *flywheel.Emitter
	logger  *slog.Logger
}

func openBackend(cmd *cobra.Command) (*backend, error) {
	svc, err := serviceConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := commandLogger(cmd)

	store, err := salesforce.Open(svc, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open salesforce backend: %w", err)
	}
	emitter, err := flywheel.NewEmitter(flywheel.Config{
		Enabled:  svc.Flywheel.Enabled,
		LogDir:   svc.Flywheel.LogDir,
		ClientID: svc.Flywheel.ClientID,
	}, logger)
	if err != nil {
		return nil, err
	}
	return &backend{cfg: svc, store: store, emitter: emitter, logger: logger}, nil
}

// persist writes memory-backend mutations back to the fixtures file so the
// next invocation sees them.
func (b *backend) persist() error {
	mem, ok := b.store.(*salesforce.MemoryStore)
	if !ok || b.cfg.Salesforce.FixturesPath == "" {
		return nil
	}
	if err := mem.SaveFixtures(b.cfg.Salesforce.FixturesPath); err != nil {
		return fmt.Errorf("failed to save fixtures: %w", err)
	}
	return nil
}
