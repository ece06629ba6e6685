package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryarc/queryarc-api/internal/config"
)

func TestStoreTarget(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.Config
		driver  string
		dsn     string
		wantErr string
	}{
		{
			name:   "explicit sqlite",
			cfg:    config.Config{Store: config.StoreConfig{Driver: "sqlite", SQLitePath: "a.db", DatabaseURL: "postgres://x"}},
			driver: "sqlite",
			dsn:    "a.db",
		},
		{
			name:   "postgres with url",
			cfg:    config.Config{Store: config.StoreConfig{Driver: "postgres", DatabaseURL: "postgres://x"}},
			driver: "postgres",
			dsn:    "postgres://x",
		},
		{
			name:   "default driver uses url",
			cfg:    config.Config{Store: config.StoreConfig{DatabaseURL: "postgres://x"}},
			driver: "postgres",
			dsn:    "postgres://x",
		},
		{
			name:   "development falls back to sqlite",
			cfg:    config.Config{Env: "development", Store: config.StoreConfig{SQLitePath: "local.db"}},
			driver: "sqlite",
			dsn:    "local.db",
		},
		{
			name:    "production requires url",
			cfg:     config.Config{Env: config.EnvProduction, Store: config.StoreConfig{SQLitePath: "local.db"}},
			wantErr: "database_url is required",
		},
		{
			name:    "unknown driver",
			cfg:     config.Config{Store: config.StoreConfig{Driver: "mysql"}},
			wantErr: "unsupported store driver",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			driver, dsn, err := storeTarget(&tt.cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.driver, driver)
			assert.Equal(t, tt.dsn, dsn)
		})
	}
}

func TestInitStore_SQLite(t *testing.T) {
	c := &config.Config{Store: config.StoreConfig{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "q.db")}}

	st, err := initStore(context.Background(), c)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	require.NoError(t, st.Migrate(context.Background()))
	h, err := st.Health(context.Background())
	require.NoError(t, err)
	assert.Empty(t, h.Missing)
}
