package gooseberry_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"goji.io"

	"github.com/nasa-jpl/gooseberry/gooseberry"
	"github.com/nasa-jpl/gooseberry/server"
)

func newTestServer(t *testing.T) (*httptest.Server, *gooseberry.Gooseberry) {
	gb, _, err := running(time.Millisecond)
	require.NoError(t, err)
	_, err = gb.AddGate("P1", gooseberry.Single(4), 0)
	require.NoError(t, err)

	mux := goji.NewMux()
	gooseberry.NewHTTPWrapper(gb).RT().Bind(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, gb
}

func post(t *testing.T, srv *httptest.Server, path, body string) *http.Response {
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, srv *httptest.Server, path string) *http.Response {
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHTTPEnableAndOwner(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := post(t, srv, "/enable", `{"ids":[20,18]}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = get(t, srv, "/owner")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ids []int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ids))
	assert.Equal(t, []int{18, 20}, ids)
}

func TestHTTPErrorStatus(t *testing.T) {
	srv, _ := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, post(t, srv, "/enable", `{"ids":[40]}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, post(t, srv, "/enable", `not json`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, post(t, srv, "/atest", `{"int":-2}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest,
		post(t, srv, "/clock", `{"fdiv":1,"oscSel":1,"oscTrim":3,"oscEnable":true}`).StatusCode)
	assert.Equal(t, http.StatusConflict, post(t, srv, "/power-up", ``).StatusCode)
	assert.Equal(t, http.StatusNotFound, post(t, srv, "/gate/nope/voltage", `{"f64":0.1}`).StatusCode)
}

func TestHTTPGateVoltage(t *testing.T) {
	srv, gb := newTestServer(t)

	assert.Equal(t, http.StatusNoContent, get(t, srv, "/gate/P1/voltage").StatusCode)
	assert.Equal(t, http.StatusOK, post(t, srv, "/gate/P1/voltage", `{"f64":0.7}`).StatusCode)

	resp := get(t, srv, "/gate/P1/voltage")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	f := server.FloatT{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&f))
	assert.Equal(t, 0.7, f.F64)

	owner, ok := gb.EnabledOwner()
	require.True(t, ok)
	assert.Equal(t, []int{4}, owner.IDs())
}

func TestHTTPStateAndPowerDown(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := get(t, srv, "/state")
	s := server.StrT{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&s))
	assert.Equal(t, "running", s.Str)

	assert.Equal(t, http.StatusOK, post(t, srv, "/power-down", ``).StatusCode)
	resp = get(t, srv, "/state")
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&s))
	assert.Equal(t, "unpowered", s.Str)
	assert.Equal(t, http.StatusConflict, post(t, srv, "/hard-reset", ``).StatusCode)
}

func TestHTTPRouteList(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := get(t, srv, "/route-list")
	var routes []string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&routes))
	assert.Contains(t, routes, "POST /enable")
	assert.Contains(t, routes, "GET /gate/:name/voltage")
}
