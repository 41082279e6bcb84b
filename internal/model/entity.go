package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JSONMap is a schema-flexible document column. All entity attributes live
// inside it so the table schema stays stable across payload changes.
type JSONMap map[string]any

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		m = JSONMap{}
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(value any) error {
	if value == nil {
		*m = JSONMap{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("unsupported JSONMap source type %T", value)
	}
}

// GormDataType tells GORM to store the map as a JSON column.
func (JSONMap) GormDataType() string {
	return "json"
}

// Drawing 드로잉 문서
//
// Payload keys: name, directory (inert, always "/"), elements, appState,
// files. Partial saves merge into Data without discarding untouched keys.
type Drawing struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Data      JSONMap   `gorm:"type:json;not null" json:"data"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Drawing) TableName() string {
	return "drawings"
}

// BeforeCreate assigns a fresh UUID primary key.
func (d *Drawing) BeforeCreate(*gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}

// Name returns the display name from the payload.
func (d *Drawing) Name() string {
	if v, ok := d.Data["name"].(string); ok {
		return v
	}
	return "Untitled"
}

// Directory returns the payload directory tag. No hierarchy feature reads
// it; it is carried for payload compatibility only.
func (d *Drawing) Directory() string {
	if v, ok := d.Data["directory"].(string); ok {
		return v
	}
	return "/"
}

// Instance 등록된 피어 인스턴스
//
// A peer deployment reachable by URL, usable as a pull source. URL
// uniqueness is enforced at the application level, not by the schema.
type Instance struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Data      JSONMap   `gorm:"type:json;not null" json:"data"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Instance) TableName() string {
	return "instances"
}

// BeforeCreate assigns a fresh UUID primary key.
func (i *Instance) BeforeCreate(*gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	return nil
}

// Name returns the display name from the payload.
func (i *Instance) Name() string {
	if v, ok := i.Data["name"].(string); ok {
		return v
	}
	return "Unknown"
}

// URL returns the instance base URL (trailing slash already stripped on
// write).
func (i *Instance) URL() string {
	if v, ok := i.Data["url"].(string); ok {
		return v
	}
	return ""
}
