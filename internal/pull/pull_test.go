package pull

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"collabboard-backend/internal/archive"
	"collabboard-backend/internal/config"
	"collabboard-backend/internal/database"
	"collabboard-backend/internal/store"
)

type pullFixture struct {
	orchestrator *Orchestrator
	store        *store.Store
	dataRoot     string
}

func setupPull(t *testing.T) *pullFixture {
	t.Helper()

	dataRoot := filepath.Join(t.TempDir(), "data")
	dbm, err := database.Open(config.DataConfig{
		Dir:    dataRoot,
		DBName: "database.db",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbm.Close() })

	st := store.New(dbm)
	return &pullFixture{
		orchestrator: New(st, dbm, dataRoot, 5*time.Second),
		store:        st,
		dataRoot:     dataRoot,
	}
}

// remoteSnapshot builds a valid export body from a scratch data root.
func remoteSnapshot(t *testing.T) []byte {
	t.Helper()
	remote := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(remote, "remote.txt"), []byte("remote data"), 0o644))

	var buf bytes.Buffer
	require.NoError(t, archive.Export(remote, &buf))
	return buf.Bytes()
}

func waitForStatus(t *testing.T, o *Orchestrator, want Status) State {
	t.Helper()
	var state State
	require.Eventually(t, func() bool {
		state = o.GetStatus()
		return state.Status == want
	}, 10*time.Second, 10*time.Millisecond, "last state: %+v", state)
	return state
}

func TestInitialStatusIdle(t *testing.T) {
	f := setupPull(t)

	state := f.orchestrator.GetStatus()
	require.Equal(t, StatusIdle, state.Status)
}

// Two back-to-back Start calls run exactly one background task: the second
// is rejected and does not overwrite the slot.
func TestStartSingleFlight(t *testing.T) {
	f := setupPull(t)

	release := make(chan struct{})
	body := remoteSnapshot(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Header().Set("Content-Type", "application/zip")
		w.Write(body)
	}))
	defer srv.Close()

	instance, err := f.store.CreateInstance("peer", srv.URL)
	require.NoError(t, err)

	require.NoError(t, f.orchestrator.Start(instance.ID))
	waitForStatus(t, f.orchestrator, StatusRunning)

	err = f.orchestrator.Start(instance.ID)
	require.ErrorIs(t, err, ErrPullInProgress)
	require.Equal(t, StatusRunning, f.orchestrator.GetStatus().Status)

	close(release)
	state := waitForStatus(t, f.orchestrator, StatusSuccess)
	require.Contains(t, state.Message, "restart")

	// A completed pull may be restarted. The restore replaced the backing
	// store, so the peer has to be registered again first.
	instance, err = f.store.CreateInstance("peer", srv.URL)
	require.NoError(t, err)
	require.NoError(t, f.orchestrator.Start(instance.ID))
	require.Eventually(t, func() bool {
		return f.orchestrator.GetStatus().Status != StatusRunning
	}, 10*time.Second, 10*time.Millisecond)
}

func TestPullRestoresRemoteData(t *testing.T) {
	f := setupPull(t)

	body := remoteSnapshot(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/export-data" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/zip")
		w.Write(body)
	}))
	defer srv.Close()

	instance, err := f.store.CreateInstance("peer", srv.URL)
	require.NoError(t, err)

	require.NoError(t, f.orchestrator.Start(instance.ID))
	waitForStatus(t, f.orchestrator, StatusSuccess)

	content, err := os.ReadFile(filepath.Join(f.dataRoot, "remote.txt"))
	require.NoError(t, err)
	require.Equal(t, "remote data", string(content))
}

func TestPullRejectsWrongContentType(t *testing.T) {
	f := setupPull(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>not a snapshot</html>"))
	}))
	defer srv.Close()

	instance, err := f.store.CreateInstance("peer", srv.URL)
	require.NoError(t, err)

	require.NoError(t, f.orchestrator.Start(instance.ID))
	state := waitForStatus(t, f.orchestrator, StatusError)
	require.Contains(t, state.Message, "zip")
}

func TestPullRemoteErrorStatus(t *testing.T) {
	f := setupPull(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	instance, err := f.store.CreateInstance("peer", srv.URL)
	require.NoError(t, err)

	require.NoError(t, f.orchestrator.Start(instance.ID))
	state := waitForStatus(t, f.orchestrator, StatusError)
	require.Contains(t, state.Message, "500")
}

func TestPullUnknownInstance(t *testing.T) {
	f := setupPull(t)

	require.NoError(t, f.orchestrator.Start("no-such-instance"))
	state := waitForStatus(t, f.orchestrator, StatusError)
	require.Contains(t, state.Message, "not found")
}
