package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/emoconnect/pkg/client"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "emoconnect.toml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestHelpListsSubcommands(t *testing.T) {
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--help"})
	require.NoError(t, root.Execute())

	help := out.String()
	assert.Contains(t, help, "emoconnect")
	for _, sub := range []string{"serve", "sampler", "companion", "start", "stop", "status"} {
		assert.Contains(t, help, sub)
	}
}

func TestSetupAppliesLogLevelOverride(t *testing.T) {
	path := writeConfig(t, "[log]\nlevel = \"info\"\ncolor = false\n")
	cfg, log, closeLog, err := setup(&GlobalFlags{ConfigPath: path, LogLevel: "debug"}, "sampler")
	require.NoError(t, err)
	defer closeLog()
	assert.Equal(t, "debug", string(cfg.Log.Slog.Level))
	assert.True(t, log.Enabled(context.Background(), slog.LevelDebug))
}

func TestSetupRejectsBadConfig(t *testing.T) {
	_, _, _, err := setup(&GlobalFlags{ConfigPath: filepath.Join(t.TempDir(), "missing.toml")}, "daemon")
	assert.Error(t, err)
}

func TestRunStatusAgainstDaemon(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/status":
			_, _ = w.Write([]byte(`{"producer_running":false,"consumer_running":false,"producer_pid":null,"consumer_pid":null,"producer_reachable":false}`))
		case "/services":
			_, _ = w.Write([]byte(`[{"name":"emotion","state":"stopped","running":false}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	c := client.New(client.Config{BaseURL: srv.URL})

	var out bytes.Buffer
	require.NoError(t, runStatus(context.Background(), c, false, &out))
	assert.Contains(t, out.String(), `"producer_pid": null`)

	out.Reset()
	require.NoError(t, runStatus(context.Background(), c, true, &out))
	assert.Contains(t, out.String(), `"state": "stopped"`)
}

func TestRunStatusUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := runStatus(context.Background(), client.New(client.Config{BaseURL: url}), false, io.Discard)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "not reachable"))
}

func TestNewClientUsesConfiguredListen(t *testing.T) {
	path := writeConfig(t, "[server]\nlisten = \"127.0.0.1:9123\"\nbase_path = \"/ctl\"\n")
	c, err := newClient(&GlobalFlags{ConfigPath: path}, &ControlFlags{})
	require.NoError(t, err)
	// unreachable port, but the URL must come from the config
	assert.False(t, c.IsReachable(context.Background()))
}
