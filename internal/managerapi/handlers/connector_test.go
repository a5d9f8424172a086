package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thrillee/aegisrouter/internal/managerapi/handlers/dto"
	"github.com/thrillee/aegisrouter/internal/smppclient"
	"github.com/thrillee/aegisrouter/pkg/codes"
)

func TestConnectorLifecycle(t *testing.T) {
	f := newAPIFixture(t)

	var cfg smppclient.ClientConfig
	rec := f.do(t, http.MethodPost, "/connectors", dto.CreateConnectorRequest{
		CID:    "smsc_1",
		Config: map[string]string{"host": "10.0.0.5", "port": "2776", "password": "pwd"},
	}, &cfg)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "10.0.0.5", cfg.Host)
	assert.Equal(t, 2776, cfg.Port)
	assert.Equal(t, "********", cfg.Password)

	rec = f.do(t, http.MethodPost, "/connectors", dto.CreateConnectorRequest{CID: "smsc_1"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/connectors/smsc_1/start", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodPost, "/connectors/smsc_1/start", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var list []smppclient.ConnectorInfo
	rec = f.do(t, http.MethodGet, "/connectors", nil, &list)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, list, 1)
	assert.Equal(t, codes.ServiceStarted, list[0].ServiceStatus)

	var upd dto.UpdateConnectorResponse
	rec = f.do(t, http.MethodPatch, "/connectors/smsc_1", dto.UpdateConnectorRequest{
		Config: map[string]string{"host": "10.0.0.6", "submit_sm_throughput": "20"},
	}, &upd)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"host", "submit_sm_throughput"}, upd.Keys)
	assert.True(t, upd.Restart)

	rec = f.do(t, http.MethodGet, "/connectors/smsc_1", nil, &cfg)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "10.0.0.6", cfg.Host)

	rec = f.do(t, http.MethodPost, "/connectors/smsc_1/stop", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodDelete, "/connectors/smsc_1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodGet, "/connectors/smsc_1", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConnectorConfigErrors(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name   string
		req    dto.CreateConnectorRequest
		reason string
	}{
		{"invalid id", dto.CreateConnectorRequest{CID: "x"}, "invalid id"},
		{"unknown key", dto.CreateConnectorRequest{CID: "smsc_1", Config: map[string]string{"colour": "red"}}, "unknown value"},
		{"bad port", dto.CreateConnectorRequest{CID: "smsc_1", Config: map[string]string{"port": "abc"}}, "port"},
		{"bad bind", dto.CreateConnectorRequest{CID: "smsc_1", Config: map[string]string{"bind": "sideways"}}, "bind"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/connectors", tt.req, nil)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Contains(t, reasonOf(t, rec), tt.reason)
		})
	}
	assert.Empty(t, f.connectors.List())

	rec := f.do(t, http.MethodPatch, "/connectors/ghost", dto.UpdateConnectorRequest{Config: map[string]string{"host": "h"}}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodPost, "/connectors/ghost/stop", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
