package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Organization struct {
	Id        string `json:"id" gorm:"primaryKey"`
	Name      string `json:"name" gorm:"not null"`
	Slug      string `json:"slug" gorm:"unique;not null"`
	OwnerId   string `json:"-" gorm:"index"`
	Owner     User   `json:"owner" gorm:"foreignKey:OwnerId;references:Id"`
	CreatedAt int64  `json:"created_at" gorm:"autoCreateTime"`
}

func (org *Organization) BeforeCreate(tx *gorm.DB) (err error) {
	// UUID version 4
	org.Id = uuid.NewString()
	return
}
