package store

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"gorm.io/gorm"

	"collabboard-backend/internal/model"
)

// seedNode 시드 매니페스트 항목
type seedNode struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Seed loads peer instances from a static manifest file, once, at first
// boot. It only runs against an empty instance table: a non-empty table
// means a previous boot (or an operator) already populated it, and seeding
// again would duplicate or conflict with those entries.
func (s *Store) Seed(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("ℹ️ No seed manifest at %s, skipping seeding", path)
			return nil
		}
		return fmt.Errorf("failed to read seed manifest: %w", err)
	}

	var nodes []seedNode
	if err := json.Unmarshal(raw, &nodes); err != nil {
		return fmt.Errorf("invalid seed manifest: %w", err)
	}

	db, err := s.dbm.DB()
	if err != nil {
		return err
	}

	count := 0
	err = db.Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&model.Instance{}).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return nil
		}

		for _, node := range nodes {
			if node.Name == "" || node.URL == "" {
				continue
			}
			instance := model.Instance{
				Data: model.JSONMap{
					"name": node.Name,
					"url":  strings.TrimRight(node.URL, "/"),
				},
			}
			if err := tx.Create(&instance).Error; err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to seed instances: %w", err)
	}

	if count > 0 {
		log.Printf("✅ Seeded %d instances from %s", count, path)
	}
	return nil
}
