package handler

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"

	"collabboard-backend/internal/store"
)

// DrawingHandler 드로잉 핸들러
type DrawingHandler struct {
	store *store.Store
}

// NewDrawingHandler DrawingHandler 생성
func NewDrawingHandler(st *store.Store) *DrawingHandler {
	return &DrawingHandler{store: st}
}

// CreateDrawingRequest 드로잉 생성 요청
type CreateDrawingRequest struct {
	Name string `json:"name"`
}

// DrawingSummary 목록 응답 항목
type DrawingSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Directory string `json:"directory"`
	CreatedAt string `json:"created_at"`
}

// CreateDrawing 드로잉 생성
func (h *DrawingHandler) CreateDrawing(c *fiber.Ctx) error {
	// 이름은 선택 사항 (없으면 "Untitled")
	var req CreateDrawingRequest
	_ = c.BodyParser(&req)

	drawing, err := h.store.Create(req.Name)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to create drawing",
		})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":   drawing.ID,
		"data": drawing.Data,
	})
}

// ListDrawings 드로잉 목록 조회 (flat, 디렉토리 그룹핑 없음)
func (h *DrawingHandler) ListDrawings(c *fiber.Ctx) error {
	drawings, err := h.store.List()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to list drawings",
		})
	}

	summaries := make([]DrawingSummary, 0, len(drawings))
	for i := range drawings {
		summaries = append(summaries, DrawingSummary{
			ID:        drawings[i].ID,
			Name:      drawings[i].Name(),
			Directory: drawings[i].Directory(),
			CreatedAt: drawings[i].CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}
	return c.JSON(summaries)
}

// GetDrawing 드로잉 페이로드 조회
func (h *DrawingHandler) GetDrawing(c *fiber.Ctx) error {
	drawing, err := h.store.Get(c.Params("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "drawing not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to fetch drawing",
		})
	}
	return c.JSON(drawing.Data)
}

// SaveDrawing 드로잉 저장 (부분 페이로드 병합)
func (h *DrawingHandler) SaveDrawing(c *fiber.Ctx) error {
	var partial map[string]json.RawMessage
	if err := json.Unmarshal(c.Body(), &partial); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	if _, err := h.store.Replace(c.Params("id"), partial); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "drawing not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"status":  "error",
			"message": err.Error(),
		})
	}
	return c.JSON(fiber.Map{"status": "success"})
}
