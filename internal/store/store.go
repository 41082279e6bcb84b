package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"collabboard-backend/internal/database"
	"collabboard-backend/internal/model"
)

var (
	// ErrNotFound 알 수 없는 드로잉/인스턴스 ID
	ErrNotFound = errors.New("record not found")
	// ErrConflict 중복된 인스턴스 URL
	ErrConflict = errors.New("an instance with this URL already exists")
	// ErrValidation 필수 필드 누락
	ErrValidation = errors.New("missing required fields")
)

// mergeableKeys are the only payload keys a partial save may touch.
// Anything else in the request body is ignored, not merged.
var mergeableKeys = []string{"elements", "appState", "files", "name"}

// Store 드로잉/인스턴스 문서 저장소
//
// Every mutating operation runs in a transaction; on failure the prior state
// is fully rolled back.
type Store struct {
	dbm *database.Manager
}

// New Store 생성
func New(dbm *database.Manager) *Store {
	return &Store{dbm: dbm}
}

// Get fetches a drawing by id.
func (s *Store) Get(id string) (*model.Drawing, error) {
	db, err := s.dbm.DB()
	if err != nil {
		return nil, err
	}
	var drawing model.Drawing
	if err := db.First(&drawing, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch drawing: %w", err)
	}
	return &drawing, nil
}

// List returns all drawings, flat (no directory grouping).
func (s *Store) List() ([]model.Drawing, error) {
	db, err := s.dbm.DB()
	if err != nil {
		return nil, err
	}
	var drawings []model.Drawing
	if err := db.Order("created_at ASC").Find(&drawings).Error; err != nil {
		return nil, fmt.Errorf("failed to list drawings: %w", err)
	}
	return drawings, nil
}

// Create inserts a new drawing with an empty scene payload.
func (s *Store) Create(name string) (*model.Drawing, error) {
	if name == "" {
		name = "Untitled"
	}

	db, err := s.dbm.DB()
	if err != nil {
		return nil, err
	}
	drawing := model.Drawing{
		Data: model.JSONMap{
			"name":      name,
			"directory": "/",
			"elements":  []any{},
			"appState":  map[string]any{},
			"files":     map[string]any{},
		},
	}
	if err := db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(&drawing).Error
	}); err != nil {
		return nil, fmt.Errorf("failed to create drawing: %w", err)
	}
	return &drawing, nil
}

// Replace merges a partial payload into a drawing and persists the result.
// Only keys in mergeableKeys are applied; untouched keys keep their stored
// values.
func (s *Store) Replace(id string, partial map[string]json.RawMessage) (*model.Drawing, error) {
	db, err := s.dbm.DB()
	if err != nil {
		return nil, err
	}
	var drawing model.Drawing
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&drawing, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		merged := make(model.JSONMap, len(drawing.Data))
		for k, v := range drawing.Data {
			merged[k] = v
		}
		for _, key := range mergeableKeys {
			raw, ok := partial[key]
			if !ok {
				continue
			}
			var value any
			if err := json.Unmarshal(raw, &value); err != nil {
				return fmt.Errorf("invalid %s payload: %w", key, err)
			}
			merged[key] = value
		}

		drawing.Data = merged
		return tx.Model(&model.Drawing{}).
			Where("id = ?", id).
			Update("data", merged).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to save drawing: %w", err)
	}
	return &drawing, nil
}

// GetInstance fetches a registered instance by id.
func (s *Store) GetInstance(id string) (*model.Instance, error) {
	db, err := s.dbm.DB()
	if err != nil {
		return nil, err
	}
	var instance model.Instance
	if err := db.First(&instance, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch instance: %w", err)
	}
	return &instance, nil
}

// ListInstances returns all registered instances.
func (s *Store) ListInstances() ([]model.Instance, error) {
	db, err := s.dbm.DB()
	if err != nil {
		return nil, err
	}
	var instances []model.Instance
	if err := db.Order("created_at ASC").Find(&instances).Error; err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	return instances, nil
}

// CreateInstance registers a peer instance. The URL is normalized by
// stripping trailing slashes; a scan over existing instances rejects
// duplicates because the JSON column carries no unique constraint.
func (s *Store) CreateInstance(name, url string) (*model.Instance, error) {
	if name == "" || url == "" {
		return nil, ErrValidation
	}
	url = strings.TrimRight(url, "/")

	db, err := s.dbm.DB()
	if err != nil {
		return nil, err
	}
	instance := model.Instance{
		Data: model.JSONMap{"name": name, "url": url},
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		var existing []model.Instance
		if err := tx.Find(&existing).Error; err != nil {
			return err
		}
		for i := range existing {
			if existing[i].URL() == url {
				return ErrConflict
			}
		}
		return tx.Create(&instance).Error
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to create instance: %w", err)
	}
	return &instance, nil
}

// DeleteInstance removes a registered instance.
func (s *Store) DeleteInstance(id string) error {
	db, err := s.dbm.DB()
	if err != nil {
		return err
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		var instance model.Instance
		if err := tx.First(&instance, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		return tx.Delete(&instance).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete instance: %w", err)
	}
	return nil
}
