package salesforce

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/leadpulse/leadpulse/common/config"
)

// Store is the record access shared by the REST client and MemoryStore.
type Store interface {
	GetRecord(ctx context.Context, sobject, id string, fields []string) (Record, error)
	UpdateRecord(ctx context.Context, sobject, id string, fields map[string]any) error
	CreateRecord(ctx context.Context, sobject string, fields map[string]any) (string, error)
	Query(ctx context.Context, q Query) ([]Record, error)
}

var (
	_ Store = (*Client)(nil)
	_ Store = (*MemoryStore)(nil)
)

// Open builds the Store selected by cfg.Salesforce.Backend.
func Open(cfg *config.Config, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sfc := cfg.Salesforce

	if sfc.Backend == "memory" {
		store := NewMemoryStore()
		if sfc.FixturesPath != "" {
			if err := store.LoadFixtures(sfc.FixturesPath); err != nil {
				return nil, err
			}
		}
		logger.Info("Using in-memory Salesforce store", slog.String("fixtures", sfc.FixturesPath))
		return store, nil
	}

	key, err := LoadPrivateKey(sfc.PrivateKeyPath)
	if err != nil {
		return nil, err
	}
	httpClient := &http.Client{Timeout: sfc.Timeout}
	auth, err := NewAuthenticator(AuthConfig{
		LoginURL:   sfc.LoginURL,
		ClientID:   sfc.ClientID,
		Username:   sfc.Username,
		PrivateKey: key,
		HTTPClient: httpClient,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to configure salesforce auth: %w", err)
	}
	logger.Info("Using Salesforce REST API",
		slog.String("login_url", sfc.LoginURL),
		slog.String("api_version", sfc.APIVersion))
	return NewClient(auth, ClientConfig{
		InstanceURL: sfc.InstanceURL,
		APIVersion:  sfc.APIVersion,
		HTTPClient:  httpClient,
		Logger:      logger,
	}), nil
}
