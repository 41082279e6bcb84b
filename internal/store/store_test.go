package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"collabboard-backend/internal/config"
	"collabboard-backend/internal/database"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	dbm, err := database.Open(config.DataConfig{
		Dir:    t.TempDir(),
		DBName: "database.db",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbm.Close() })

	return New(dbm)
}

func TestCreateDefaults(t *testing.T) {
	st := setupTestStore(t)

	drawing, err := st.Create("")
	require.NoError(t, err)
	require.NotEmpty(t, drawing.ID)
	require.Equal(t, "Untitled", drawing.Name())
	require.Equal(t, "/", drawing.Directory())
}

func TestGetNotFound(t *testing.T) {
	st := setupTestStore(t)

	_, err := st.Get("no-such-id")
	require.ErrorIs(t, err, ErrNotFound)
}

// While the connection is quiesced for a restore, store calls fail with a
// typed error instead of panicking, and work again after Resume.
func TestStoreErrorsWhileQuiesced(t *testing.T) {
	dbm, err := database.Open(config.DataConfig{
		Dir:    t.TempDir(),
		DBName: "database.db",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbm.Close() })
	st := New(dbm)

	require.NoError(t, dbm.Quiesce())

	_, err = st.Create("diagram")
	require.ErrorIs(t, err, database.ErrQuiesced)
	_, err = st.List()
	require.ErrorIs(t, err, database.ErrQuiesced)
	_, err = st.Get("any")
	require.ErrorIs(t, err, database.ErrQuiesced)
	_, err = st.ListInstances()
	require.ErrorIs(t, err, database.ErrQuiesced)

	require.NoError(t, dbm.Resume())
	_, err = st.Create("diagram")
	require.NoError(t, err)
}

// Saving a payload containing only elements must leave appState, files and
// name untouched.
func TestReplacePreservesUntouchedKeys(t *testing.T) {
	st := setupTestStore(t)

	drawing, err := st.Create("diagram")
	require.NoError(t, err)

	_, err = st.Replace(drawing.ID, map[string]json.RawMessage{
		"appState": json.RawMessage(`{"zoom":2}`),
		"files":    json.RawMessage(`{"f1":{"mimeType":"image/png"}}`),
	})
	require.NoError(t, err)

	_, err = st.Replace(drawing.ID, map[string]json.RawMessage{
		"elements": json.RawMessage(`[{"type":"rectangle"}]`),
	})
	require.NoError(t, err)

	saved, err := st.Get(drawing.ID)
	require.NoError(t, err)
	require.Equal(t, "diagram", saved.Name())
	require.Equal(t, "/", saved.Directory())

	appState, ok := saved.Data["appState"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, float64(2), appState["zoom"])

	files, ok := saved.Data["files"].(map[string]any)
	require.True(t, ok)
	require.Contains(t, files, "f1")

	elements, ok := saved.Data["elements"].([]any)
	require.True(t, ok)
	require.Len(t, elements, 1)
}

func TestReplaceIgnoresUnrecognizedKeys(t *testing.T) {
	st := setupTestStore(t)

	drawing, err := st.Create("diagram")
	require.NoError(t, err)

	_, err = st.Replace(drawing.ID, map[string]json.RawMessage{
		"elements":  json.RawMessage(`[]`),
		"directory": json.RawMessage(`"/evil"`),
		"bogus":     json.RawMessage(`42`),
	})
	require.NoError(t, err)

	saved, err := st.Get(drawing.ID)
	require.NoError(t, err)
	require.Equal(t, "/", saved.Directory())
	require.NotContains(t, saved.Data, "bogus")
}

func TestReplaceNotFound(t *testing.T) {
	st := setupTestStore(t)

	_, err := st.Replace("no-such-id", map[string]json.RawMessage{
		"elements": json.RawMessage(`[]`),
	})
	require.ErrorIs(t, err, ErrNotFound)
}

// URL comparison strips trailing slashes, so "http://a" conflicts with a
// stored "http://a/".
func TestCreateInstanceURLConflict(t *testing.T) {
	st := setupTestStore(t)

	_, err := st.CreateInstance("a", "http://a/")
	require.NoError(t, err)
	_, err = st.CreateInstance("b", "http://b")
	require.NoError(t, err)

	_, err = st.CreateInstance("dup", "http://a")
	require.ErrorIs(t, err, ErrConflict)

	instances, err := st.ListInstances()
	require.NoError(t, err)
	urls := make([]string, 0, len(instances))
	for i := range instances {
		urls = append(urls, instances[i].URL())
	}
	require.ElementsMatch(t, []string{"http://a", "http://b"}, urls)
}

func TestCreateInstanceValidation(t *testing.T) {
	st := setupTestStore(t)

	_, err := st.CreateInstance("", "http://a")
	require.ErrorIs(t, err, ErrValidation)
	_, err = st.CreateInstance("a", "")
	require.ErrorIs(t, err, ErrValidation)
}

func TestDeleteInstance(t *testing.T) {
	st := setupTestStore(t)

	instance, err := st.CreateInstance("a", "http://a")
	require.NoError(t, err)

	require.NoError(t, st.DeleteInstance(instance.ID))
	require.ErrorIs(t, st.DeleteInstance(instance.ID), ErrNotFound)
}

// Running seeding twice must not duplicate entries: the second run sees a
// non-empty table and does nothing.
func TestSeedIdempotence(t *testing.T) {
	st := setupTestStore(t)

	manifest := filepath.Join(t.TempDir(), "nodes.json")
	require.NoError(t, os.WriteFile(manifest, []byte(`[
		{"name": "alpha", "url": "http://alpha:8080/"},
		{"name": "beta", "url": "http://beta:8080"},
		{"name": "gamma", "url": "http://gamma:8080"}
	]`), 0o644))

	require.NoError(t, st.Seed(manifest))
	require.NoError(t, st.Seed(manifest))

	instances, err := st.ListInstances()
	require.NoError(t, err)
	require.Len(t, instances, 3)
	urls := make([]string, 0, len(instances))
	for i := range instances {
		urls = append(urls, instances[i].URL())
	}
	require.Contains(t, urls, "http://alpha:8080")
}

func TestSeedMissingManifest(t *testing.T) {
	st := setupTestStore(t)

	require.NoError(t, st.Seed(filepath.Join(t.TempDir(), "missing.json")))

	instances, err := st.ListInstances()
	require.NoError(t, err)
	require.Empty(t, instances)
}
