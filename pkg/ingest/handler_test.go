package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/corridorpulse/pkg/insight"
	"github.com/nicktill/corridorpulse/pkg/traffic"
)

type fullStorage struct{}

func (fullStorage) CheckLimit() error { return errors.New("storage limit exceeded") }

func postSamples(t *testing.T, h *Handler, req SamplesRequest) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	h.HandleSamples(rr, httptest.NewRequest(http.MethodPost, "/v1/samples", bytes.NewReader(body)))

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return rr, resp
}

func TestHandleSamples_Accepted(t *testing.T) {
	ingester := newFakeIngester()
	handler := NewHandler(ingester)

	rr, resp := postSamples(t, handler, SamplesRequest{Camera: "R11_159", Samples: samplesOf(12, 14)})
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Equal(t, "success", resp["status"])
	require.Equal(t, "i-678-van-wyck", resp["corridor"])
	require.EqualValues(t, 2, resp["count"])
	require.Equal(t, 2, ingester.count("R11_159"))
}

func TestHandleSamples_TooManySamples(t *testing.T) {
	handler := NewHandler(newFakeIngester())

	samples := make([]traffic.Sample, MaxSamplesPerRequest+1)
	for i := range samples {
		samples[i] = traffic.Sample{Timestamp: base, Cars: 1}
	}

	rr, resp := postSamples(t, handler, SamplesRequest{Camera: "R11_159", Samples: samples})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, resp["message"], "too many samples")
}

func TestHandleSamples_InvalidSample(t *testing.T) {
	ingester := newFakeIngester()
	handler := NewHandler(ingester)

	rr, resp := postSamples(t, handler, SamplesRequest{Camera: "R11_159", Samples: samplesOf(5, -1)})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, resp["message"], "invalid sample")
	require.Zero(t, ingester.count("R11_159"))
}

func TestHandleSamples_CountTooLarge(t *testing.T) {
	ingester := newFakeIngester()
	handler := NewHandler(ingester)

	rr, resp := postSamples(t, handler, SamplesRequest{Camera: "R11_159", Samples: samplesOf(1, 8_500_000_000_000_000_000)})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, resp["message"], "vehicle count too large")
	require.Zero(t, ingester.count("R11_159"))
}

func TestHandleSamples_UnknownCamera(t *testing.T) {
	ingester := newFakeIngester()
	ingester.err = fmt.Errorf("%w: %q", insight.ErrUnknownCamera, "nowhere")
	handler := NewHandler(ingester)

	rr, _ := postSamples(t, handler, SamplesRequest{Camera: "nowhere", Samples: samplesOf(5)})
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleSamples_StorageFull(t *testing.T) {
	ingester := newFakeIngester()
	handler := NewHandler(ingester)
	handler.SetStorageChecker(fullStorage{})

	rr, resp := postSamples(t, handler, SamplesRequest{Camera: "R11_159", Samples: samplesOf(5)})
	require.Equal(t, http.StatusInsufficientStorage, rr.Code)
	require.Contains(t, resp["message"], "storage limit")
	require.Zero(t, ingester.count("R11_159"))
}

func TestHandleSamples_BadJSON(t *testing.T) {
	handler := NewHandler(newFakeIngester())

	rr := httptest.NewRecorder()
	handler.HandleSamples(rr, httptest.NewRequest(http.MethodPost, "/v1/samples", bytes.NewReader([]byte("{"))))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
