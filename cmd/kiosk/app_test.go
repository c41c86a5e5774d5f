package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booth-pos/models"
)

func TestParseItem(t *testing.T) {
	spec, err := parseItem("2:3")
	require.NoError(t, err)
	assert.Equal(t, itemSpec{ID: 2, Quantity: 3}, spec)

	spec, err = parseItem("4")
	require.NoError(t, err)
	assert.Equal(t, 1, spec.Quantity)

	for _, bad := range []string{"x:1", "1:y", "0:1"} {
		_, err := parseItem(bad)
		assert.Error(t, err, bad)
	}
}

func TestBuildItemsMergesAndPrices(t *testing.T) {
	menu := []models.MenuItem{
		{ID: 1, Name: "Fries S", Price: 35, Available: true},
		{ID: 2, Name: "Fries M", Price: 45, Available: true},
		{ID: 3, Name: "Fries L", Price: 59, Available: false},
	}
	items, err := buildItems(menu, []itemSpec{{1, 1}, {2, 1}, {1, 1}})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, 2, items[0].Quantity)
	assert.Equal(t, 115.0, models.TotalOf(items))

	_, err = buildItems(menu, []itemSpec{{3, 1}})
	assert.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("KIOSK_SERVER_URL", "")
	t.Setenv("BOOTH_TIMEZONE", "")
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, defaultConfig(), cfg)

	path := filepath.Join(t.TempDir(), "kiosk.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server_url: http://booth:9000\nprobe_interval: 2s\nchannel: pos\n"), 0o600))
	cfg, err = loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "http://booth:9000", cfg.ServerURL)
	assert.Equal(t, 2*time.Second, cfg.ProbeInterval)
	assert.Equal(t, "pos", cfg.Channel)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
}

func TestLoadConfigEnvOverridesWithoutFile(t *testing.T) {
	t.Setenv("KIOSK_SERVER_URL", "http://10.0.0.5:8080")
	t.Setenv("BOOTH_TIMEZONE", "UTC")

	cfg, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5:8080", cfg.ServerURL)
	assert.Equal(t, "UTC", cfg.Timezone)

	path := filepath.Join(t.TempDir(), "kiosk.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server_url: http://booth:9000\n"), 0o600))
	cfg, err = loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5:8080", cfg.ServerURL)

	loc, err := cfg.location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestNewAppRejectsUnknownTimezone(t *testing.T) {
	logger, _ := test.NewNullLogger()
	cfg := defaultConfig()
	cfg.StorePath = filepath.Join(t.TempDir(), "kiosk.db")
	cfg.Timezone = "Mars/Olympus"

	_, err := newApp(cfg, logger, &bytes.Buffer{})
	assert.Error(t, err)
}

func newTestApp(t *testing.T, serverURL string) (*app, *bytes.Buffer) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	cfg := defaultConfig()
	cfg.ServerURL = serverURL
	cfg.StorePath = filepath.Join(t.TempDir(), "kiosk.db")
	cfg.RequestTimeout = 200 * time.Millisecond

	var out bytes.Buffer
	a, err := newApp(cfg, logger, &out)
	require.NoError(t, err)
	t.Cleanup(a.close)
	return a, &out
}

func TestSubmitOfflineUsesCachedMenu(t *testing.T) {
	var down atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if down.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode([]models.MenuItem{{ID: 1, Name: "Fries S", Price: 35, Available: true}})
	}))
	defer srv.Close()

	a, out := newTestApp(t, srv.URL)
	ctx := context.Background()
	require.NoError(t, a.dispatch(ctx, "menu", nil))
	assert.Contains(t, out.String(), "Fries S")

	down.Store(true)
	out.Reset()
	require.NoError(t, a.dispatch(ctx, "submit", []string{"-name", "Somchai", "-item", "1:2"}))
	assert.Contains(t, out.String(), "saved offline as TEMP-")
	assert.Contains(t, out.String(), "total 70.00")

	n, err := a.store.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDispatchUnknownCommand(t *testing.T) {
	a, _ := newTestApp(t, "http://127.0.0.1:1")
	assert.ErrorIs(t, a.dispatch(context.Background(), "dance", nil), errUsage)
}
