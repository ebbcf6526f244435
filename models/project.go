package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Project struct {
	Id        string `json:"id" gorm:"primaryKey"`
	OrgId     string `json:"org_id" gorm:"not null;uniqueIndex:idx_projects_org_slug"`
	Name      string `json:"name" gorm:"not null"`
	Slug      string `json:"slug" gorm:"not null;uniqueIndex:idx_projects_org_slug"`
	CreatedAt int64  `json:"created_at" gorm:"autoCreateTime"`
}

func (project *Project) BeforeCreate(tx *gorm.DB) (err error) {
	// UUID version 4
	project.Id = uuid.NewString()
	return
}
