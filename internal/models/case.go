package models

import (
	"time"

	"gorm.io/gorm"
)

// CaseKind distinguishes lost reports from found reports
type CaseKind string

const (
	CaseLost  CaseKind = "lost"
	CaseFound CaseKind = "found"
)

// Case is a read-only mirror of the case record owned by the main
// application. The matching engine reads ownership and category metadata
// for filtering and match routing but never creates or mutates cases.
type Case struct {
	ID        string         `json:"id" gorm:"type:char(27);primaryKey"`
	OwnerID   string         `json:"owner_id" gorm:"type:char(27);not null;index"`
	Kind      CaseKind       `json:"kind" gorm:"type:varchar(10);not null"`
	Category  EntityType     `json:"category" gorm:"type:varchar(20);not null;default:'other'"`
	Title     string         `json:"title" gorm:"type:text"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// TableName override - shared table with the CRUD application
func (Case) TableName() string {
	return "cases"
}
