package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"collabboard-backend/internal/config"
	"collabboard-backend/internal/database"
	"collabboard-backend/internal/store"
)

func setupApp(t *testing.T) *fiber.App {
	t.Helper()

	dbm, err := database.Open(config.DataConfig{
		Dir:    t.TempDir(),
		DBName: "database.db",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbm.Close() })

	st := store.New(dbm)
	drawings := NewDrawingHandler(st)
	instances := NewInstanceHandler(st)

	app := fiber.New()
	app.Get("/api/drawings", drawings.ListDrawings)
	app.Post("/api/drawings", drawings.CreateDrawing)
	app.Get("/api/drawings/:id", drawings.GetDrawing)
	app.Post("/api/drawings/:id", drawings.SaveDrawing)
	app.Get("/api/instances", instances.ListInstances)
	app.Post("/api/instances", instances.AddInstance)
	app.Delete("/api/instances/:id", instances.DeleteInstance)
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func TestDrawingCreateSaveFetch(t *testing.T) {
	app := setupApp(t)

	resp, raw := doJSON(t, app, fiber.MethodPost, "/api/drawings", fiber.Map{"name": "roadmap"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(raw, &created))
	require.NotEmpty(t, created.ID)

	// Partial save: only elements.
	resp, _ = doJSON(t, app, fiber.MethodPost, "/api/drawings/"+created.ID,
		fiber.Map{"elements": []fiber.Map{{"type": "arrow"}}})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, raw = doJSON(t, app, fiber.MethodGet, "/api/drawings/"+created.ID, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(raw, &payload))
	require.Equal(t, "roadmap", payload["name"])
	require.Equal(t, "/", payload["directory"])
	require.Len(t, payload["elements"], 1)
}

func TestDrawingNotFound(t *testing.T) {
	app := setupApp(t)

	resp, _ := doJSON(t, app, fiber.MethodGet, "/api/drawings/missing", nil)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, app, fiber.MethodPost, "/api/drawings/missing", fiber.Map{"elements": []any{}})
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestInstanceConflictAndValidation(t *testing.T) {
	app := setupApp(t)

	resp, _ := doJSON(t, app, fiber.MethodPost, "/api/instances",
		fiber.Map{"name": "peer", "url": "http://peer:8080/"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	// Same URL without the trailing slash still conflicts.
	resp, _ = doJSON(t, app, fiber.MethodPost, "/api/instances",
		fiber.Map{"name": "other", "url": "http://peer:8080"})
	require.Equal(t, fiber.StatusConflict, resp.StatusCode)

	resp, _ = doJSON(t, app, fiber.MethodPost, "/api/instances", fiber.Map{"name": "nameless"})
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, app, fiber.MethodDelete, "/api/instances/missing", nil)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}
