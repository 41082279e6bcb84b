package handler

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"collabboard-backend/internal/archive"
	"collabboard-backend/internal/database"
	"collabboard-backend/internal/pull"
)

// DataHandler 데이터 내보내기/가져오기/풀 핸들러
type DataHandler struct {
	dataRoot     string
	dbm          *database.Manager
	orchestrator *pull.Orchestrator
}

// NewDataHandler DataHandler 생성
func NewDataHandler(dataRoot string, dbm *database.Manager, orchestrator *pull.Orchestrator) *DataHandler {
	return &DataHandler{
		dataRoot:     dataRoot,
		dbm:          dbm,
		orchestrator: orchestrator,
	}
}

// ExportData zips the data root contents and sends the archive for
// download. Writers are not paused (best-effort snapshot).
func (h *DataHandler) ExportData(c *fiber.Ctx) error {
	var buf bytes.Buffer
	if err := archive.Export(h.dataRoot, &buf); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": fmt.Sprintf("failed to export data: %v", err),
		})
	}

	c.Set(fiber.HeaderContentType, "application/zip")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="data_export.zip"`)
	return c.Send(buf.Bytes())
}

// ImportData restores the data root from an uploaded archive, synchronously.
func (h *DataHandler) ImportData(c *fiber.Ctx) error {
	file, err := c.FormFile("zip_file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "no file selected",
		})
	}
	if !strings.HasSuffix(strings.ToLower(file.Filename), ".zip") {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid file type, please upload a .zip file",
		})
	}

	tmpPath := filepath.Join(os.TempDir(), "import_"+uuid.NewString()+".zip")
	if err := c.SaveFile(file, tmpPath); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": fmt.Sprintf("failed to save upload: %v", err),
		})
	}
	defer os.Remove(tmpPath)

	if err := archive.Restore(h.dataRoot, tmpPath, h.dbm); err != nil {
		var critical *archive.CriticalStateError
		if errors.As(err, &critical) {
			// Indeterminate data root: flagged, never treated as an
			// ordinary failure.
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":    critical.Error(),
				"critical": true,
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"status":  "success",
		"message": "Data restored successfully! It's recommended to restart the application to ensure changes are loaded.",
	})
}

// StartPull triggers the background pull task and responds immediately.
func (h *DataHandler) StartPull(c *fiber.Ctx) error {
	if err := h.orchestrator.Start(c.Params("instanceId")); err != nil {
		if errors.Is(err, pull.ErrPullInProgress) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "a pull operation is already in progress",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to start pull",
		})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status": "accepted",
	})
}

// PullStatus returns the current pull status snapshot.
func (h *DataHandler) PullStatus(c *fiber.Ctx) error {
	return c.JSON(h.orchestrator.GetStatus())
}
