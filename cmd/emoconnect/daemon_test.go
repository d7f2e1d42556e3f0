//go:build !windows

package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/emoconnect/internal/config"
	"github.com/loykin/emoconnect/internal/orchestrator"
)

func TestDaemonStartStatusStop(t *testing.T) {
	health := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"window_size":0,"data":[]}`))
	}))
	defer health.Close()

	path := writeConfig(t, `
[supervisor]
grace_period = "500ms"

[producer]
command = "sleep"
args = ["30"]
health_url = "`+health.URL+`/emotion"

[consumer]
command = "sleep"
args = ["30"]
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	d, err := newDaemon(cfg, discard())
	require.NoError(t, err)
	api := httptest.NewServer(d.handler)
	defer api.Close()
	defer func() { _ = d.shutdown(discard()) }()

	resp, err := http.Post(api.URL+"/start", "", nil)
	require.NoError(t, err)
	var start orchestrator.StartResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&start))
	_ = resp.Body.Close()
	assert.True(t, start.Producer.OK, start.Producer.Message)
	assert.True(t, start.ProducerReady)
	assert.True(t, start.Consumer.OK, start.Consumer.Message)
	assert.Equal(t, "Started bot", start.Consumer.Message)

	resp, err = http.Get(api.URL + "/status")
	require.NoError(t, err)
	var st orchestrator.StatusResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	_ = resp.Body.Close()
	assert.True(t, st.ProducerRunning)
	assert.True(t, st.ConsumerRunning)
	assert.True(t, st.ProducerReachable)
	require.NotNil(t, st.ConsumerPID)

	require.NoError(t, d.shutdown(discard()))
	assert.Error(t, syscall.Kill(*st.ConsumerPID, 0), "consumer must be gone after shutdown")
}
