package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRespondError(t *testing.T) {
	w := httptest.NewRecorder()
	RespondError(w, http.StatusBadRequest, errors.New("camera is required"))

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Equal(t, "Bad Request", resp.Error)
	require.Equal(t, "camera is required", resp.Message)
}

func TestDecodeJSON(t *testing.T) {
	var body struct {
		Camera string `json:"camera"`
	}

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"camera":"R11_159"}`))
	require.NoError(t, DecodeJSON(httptest.NewRecorder(), r, 1024, &body))
	require.Equal(t, "R11_159", body.Camera)

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	require.ErrorIs(t, DecodeJSON(httptest.NewRecorder(), r, 1024, &body), ErrEmptyBody)

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"camera":`))
	require.Error(t, DecodeJSON(httptest.NewRecorder(), r, 1024, &body))

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"camera":"`+strings.Repeat("x", 100)+`"}`))
	require.Error(t, DecodeJSON(httptest.NewRecorder(), r, 16, &body))
}

func TestQueryInt(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?n=3&bad=x", nil)

	n, err := QueryInt(r, "n", 5)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	n, err = QueryInt(r, "missing", 5)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	_, err = QueryInt(r, "bad", 5)
	require.Error(t, err)
}
