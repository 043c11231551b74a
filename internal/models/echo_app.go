package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

type EchoApp struct {
	ID           string      `gorm:"primaryKey"`
	Name         string      `gorm:"not null"`
	Description  string      `gorm:"type:text"`
	RedirectURIs StringArray `gorm:"type:json"`
	Scopes       string      `gorm:"not null;default:'openid profile'"`
	IsArchived   bool        `gorm:"not null;default:false;index"`
	ArchivedAt   *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName overrides the table name used by EchoApp to `echo_apps`
func (EchoApp) TableName() string {
	return "echo_apps"
}

// StringArray is a custom type for []string that can be stored as JSON in database
type StringArray []string

// Scan implements sql.Scanner interface
func (s *StringArray) Scan(value interface{}) error {
	if value == nil {
		*s = []string{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("failed to unmarshal JSON value")
	}
	return json.Unmarshal(bytes, s)
}

// Value implements driver.Valuer interface
func (s StringArray) Value() (driver.Value, error) {
	if len(s) == 0 {
		return json.Marshal([]string{})
	}
	return json.Marshal(s)
}
