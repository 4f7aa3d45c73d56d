package salesforce

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadpulse/leadpulse/common/config"
)

func TestOpen_MemoryWithFixtures(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	fixtures := filepath.Join(t.TempDir(), "fixtures.json")
	require.NoError(t, os.WriteFile(fixtures, []byte(`{"Lead":[{"Id":"00Q000000000001","Company":"Acme"}]}`), 0o600))
	cfg.Salesforce.Backend = "memory"
	cfg.Salesforce.FixturesPath = fixtures

	store, err := Open(cfg, nil)
	require.NoError(t, err)

	rec, err := store.GetRecord(context.Background(), "Lead", "00Q000000000001", []string{"Company"})
	require.NoError(t, err)
	assert.Equal(t, "Acme", rec.String("Company"))
}

func TestOpen_BadFixtures(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Salesforce.Backend = "memory"
	cfg.Salesforce.FixturesPath = filepath.Join(t.TempDir(), "missing.json")

	_, err = Open(cfg, nil)
	require.Error(t, err)
}

func TestOpen_RestMissingKey(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Salesforce.Backend = "rest"
	cfg.Salesforce.PrivateKeyPath = filepath.Join(t.TempDir(), "missing.pem")

	_, err = Open(cfg, nil)
	require.Error(t, err)
}
