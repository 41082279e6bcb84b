package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"collabboard-backend/internal/store"
)

// InstanceHandler 피어 인스턴스 핸들러
type InstanceHandler struct {
	store *store.Store
}

// NewInstanceHandler InstanceHandler 생성
func NewInstanceHandler(st *store.Store) *InstanceHandler {
	return &InstanceHandler{store: st}
}

// AddInstanceRequest 인스턴스 등록 요청
type AddInstanceRequest struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// InstanceResponse 인스턴스 응답
type InstanceResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// ListInstances 인스턴스 목록 조회
func (h *InstanceHandler) ListInstances(c *fiber.Ctx) error {
	instances, err := h.store.ListInstances()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to list instances",
		})
	}

	out := make([]InstanceResponse, 0, len(instances))
	for i := range instances {
		out = append(out, InstanceResponse{
			ID:   instances[i].ID,
			Name: instances[i].Name(),
			URL:  instances[i].URL(),
		})
	}
	return c.JSON(out)
}

// AddInstance 인스턴스 등록
func (h *InstanceHandler) AddInstance(c *fiber.Ctx) error {
	var req AddInstanceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	instance, err := h.store.CreateInstance(req.Name, req.URL)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrValidation):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "name and url are required",
			})
		case errors.Is(err, store.ErrConflict):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "an instance with this URL already exists",
			})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to add instance",
			})
		}
	}
	return c.Status(fiber.StatusCreated).JSON(InstanceResponse{
		ID:   instance.ID,
		Name: instance.Name(),
		URL:  instance.URL(),
	})
}

// DeleteInstance 인스턴스 삭제
func (h *InstanceHandler) DeleteInstance(c *fiber.Ctx) error {
	if err := h.store.DeleteInstance(c.Params("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "instance not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to delete instance",
		})
	}
	return c.JSON(fiber.Map{"status": "success"})
}
