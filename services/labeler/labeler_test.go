// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package labeler

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianLabeler/services/labeler/config"
	"github.com/AleutianAI/AleutianLabeler/services/labeler/datatypes"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.Storage = config.StorageConfig{InMemory: true}
	return cfg
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	app, err := NewApp(context.Background(), testConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func TestNewApp_LocalBackendEndToEnd(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	ds, err := app.Datasets.Register(ctx, datatypes.Dataset{Name: "reviews", Task: datatypes.TaskTextClassification})
	require.NoError(t, err)
	n, err := app.Indexer.Index(ctx, ds.ID, []datatypes.Record{
		{ID: "a", Text: "great product", AnnotatedAs: []string{"POS"}},
		{ID: "b", Text: "great waste of money", AnnotatedAs: []string{"NEG"}},
		{ID: "c", Text: "arrived late"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	srv, err := NewServer(ctx, app)
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]any{"query": "great", "labels": []string{"POS"}})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/datasets/reviews/labeling/rules", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/datasets/reviews/labeling/rules/great/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var metrics struct {
		Correct   int64   `json:"correct"`
		Incorrect int64   `json:"incorrect"`
		Precision float64 `json:"precision"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &metrics))
	assert.EqualValues(t, 1, metrics.Correct)
	assert.EqualValues(t, 1, metrics.Incorrect)
	assert.InDelta(t, 0.5, metrics.Precision, 1e-9)

	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
	assert.Contains(t, w.Body.String(), `labeler_labeling_operations_total{operation="add_rule",status="success"} 1`)
}

func TestNewApp_SearchBackendErrors(t *testing.T) {
	tests := []struct {
		name    string
		search  config.SearchConfig
		errText string
	}{
		{"unknown", config.SearchConfig{Backend: "elastic"}, "unknown search backend"},
		{"weaviate without host", config.SearchConfig{Backend: config.BackendWeaviate, WeaviateURL: "weaviate"}, "invalid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Search = tt.search
			_, err := NewApp(context.Background(), cfg, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errText)
		})
	}
}

func TestServer_ServeShutsDownOnCancel(t *testing.T) {
	app := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := NewServer(ctx, app)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestInitTracer(t *testing.T) {
	t.Run("none", func(t *testing.T) {
		cleanup, err := initTracer(context.Background(), config.TelemetryConfig{Exporter: config.ExporterNone})
		require.NoError(t, err)
		cleanup(context.Background())
	})
	t.Run("stdout", func(t *testing.T) {
		cleanup, err := initTracer(context.Background(), config.TelemetryConfig{
			Exporter:    config.ExporterStdout,
			ServiceName: "labeler-test",
		})
		require.NoError(t, err)
		cleanup(context.Background())
	})
	t.Run("unknown", func(t *testing.T) {
		_, err := initTracer(context.Background(), config.TelemetryConfig{Exporter: "zipkin"})
		require.Error(t, err)
	})
}
