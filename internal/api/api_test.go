package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bluenviron/mediacompose/internal/conf"
	"github.com/bluenviron/mediacompose/internal/defs"
	"github.com/bluenviron/mediacompose/internal/logger"
	"github.com/bluenviron/mediacompose/internal/test"
)

type dummyRunner struct {
	status   *defs.APIStatus
	canceled bool
}

func (r *dummyRunner) APIStatus() *defs.APIStatus {
	return r.status
}

func (r *dummyRunner) APICancel() error {
	if r.canceled {
		return fmt.Errorf("no composition is running")
	}
	r.canceled = true
	return nil
}

func httpRequest(t *testing.T, hc *http.Client, method string, ur string, out interface{}) int {
	req, err := http.NewRequest(method, ur, nil)
	require.NoError(t, err)

	res, err := hc.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	if out != nil {
		err = json.NewDecoder(res.Body).Decode(out)
		require.NoError(t, err)
	}

	return res.StatusCode
}

func TestStatus(t *testing.T) {
	runID := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

	runner := &dummyRunner{
		status: &defs.APIStatus{
			RunID:           &runID,
			State:           defs.APIRunStateRunning,
			Output:          "/tmp/out.mp4",
			Clips:           2,
			TotalDurationUs: 8000000,
			Progress:        0.5,
		},
	}

	api := API{
		Version: "v1.2.3",
		Started: time.Date(2008, 11, 7, 11, 22, 0, 0, time.UTC),
		Address: "localhost:9997",
		Conf:    &conf.Conf{LogLevel: conf.LogLevel(logger.Info), Output: "/tmp/out.mp4"},
		Runner:  runner,
		Parent:  test.NilLogger,
	}
	err := api.Initialize()
	require.NoError(t, err)
	defer api.Close()

	tr := &http.Transport{}
	defer tr.CloseIdleConnections()
	hc := &http.Client{Transport: tr}

	var info defs.APIInfo
	code := httpRequest(t, hc, http.MethodGet, "http://localhost:9997/v1/info", &info)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "v1.2.3", info.Version)
	require.True(t, api.Started.Equal(info.Started))

	var status defs.APIStatus
	code = httpRequest(t, hc, http.MethodGet, "http://localhost:9997/v1/status", &status)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, *runner.status, status)

	var out map[string]interface{}
	code = httpRequest(t, hc, http.MethodGet, "http://localhost:9997/v1/config/get", &out)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "/tmp/out.mp4", out["output"])

	api.ReloadConf(&conf.Conf{LogLevel: conf.LogLevel(logger.Info), Output: "/tmp/other.mp4"})

	code = httpRequest(t, hc, http.MethodGet, "http://localhost:9997/v1/config/get", &out)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "/tmp/other.mp4", out["output"])
}

func TestCancel(t *testing.T) {
	runner := &dummyRunner{}

	api := API{
		Address: "localhost:9997",
		Runner:  runner,
		Parent:  test.NilLogger,
	}
	err := api.Initialize()
	require.NoError(t, err)
	defer api.Close()

	tr := &http.Transport{}
	defer tr.CloseIdleConnections()
	hc := &http.Client{Transport: tr}

	var ok defs.APIOK
	code := httpRequest(t, hc, http.MethodPost, "http://localhost:9997/v1/run/cancel", &ok)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", ok.Status)
	require.True(t, runner.canceled)

	var apiErr defs.APIError
	code = httpRequest(t, hc, http.MethodPost, "http://localhost:9997/v1/run/cancel", &apiErr)
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, defs.APIError{Status: "error", Error: "no composition is running"}, apiErr)
}

func TestPreflightRequest(t *testing.T) {
	api := API{
		Address: "localhost:9997",
		Runner:  &dummyRunner{},
		Parent:  test.NilLogger,
	}
	err := api.Initialize()
	require.NoError(t, err)
	defer api.Close()

	tr := &http.Transport{}
	defer tr.CloseIdleConnections()
	hc := &http.Client{Transport: tr}

	req, err := http.NewRequest(http.MethodOptions, "http://localhost:9997/v1/status", nil)
	require.NoError(t, err)
	req.Header.Add("Access-Control-Request-Method", "GET")

	res, err := hc.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, http.StatusNoContent, res.StatusCode)
	require.Equal(t, "OPTIONS, GET, POST", res.Header.Get("Access-Control-Allow-Methods"))
}

func TestNotFound(t *testing.T) {
	api := API{
		Address: "localhost:9997",
		Runner:  &dummyRunner{},
		Parent:  test.NilLogger,
	}
	err := api.Initialize()
	require.NoError(t, err)
	defer api.Close()

	tr := &http.Transport{}
	defer tr.CloseIdleConnections()
	hc := &http.Client{Transport: tr}

	var apiErr defs.APIError
	code := httpRequest(t, hc, http.MethodGet, "http://localhost:9997/v3/paths/list", &apiErr)
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, "not found", apiErr.Error)
}
