package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/senas/internal/dataset"
	"github.com/ayusman/senas/internal/fixtures"
	"github.com/ayusman/senas/internal/inference"
	"github.com/ayusman/senas/internal/store"
	"github.com/ayusman/senas/internal/trainer"
)

// newTestStore creates a Store backed by a temporary database.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// trainedModel trains a two-class landmark model and returns its directory.
func trainedModel(t *testing.T) string {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	groups := make(map[string][]dataset.Sample)
	for label, center := range map[string][][]float64{
		"A": fixtures.ThumbsUp(),
		"B": fixtures.OpenPalm(),
	} {
		for _, v := range fixtures.ClusterVectors(rng, center, 20, 0.05) {
			groups[label] = append(groups[label], dataset.Sample{Label: label, Vector: v})
		}
	}

	cfg := trainer.DefaultConfig()
	cfg.Epochs = 5
	cfg.BatchSize = 8
	cfg.Seed = 1
	tr, err := trainer.New(cfg, nil)
	require.NoError(t, err)
	res, err := tr.Train(context.Background(), groups, groups)
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "model")
	require.NoError(t, res.Artifact.Save(dir))
	return dir
}

func readyService(t *testing.T) *inference.Service {
	t.Helper()
	svc := inference.New(nil)
	require.NoError(t, svc.Load(trainedModel(t)))
	return svc
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}
