// pkg/model/delivery.go
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DeliveryStatus 分发记录状态
type DeliveryStatus string

const (
	DeliveryStatusSent   DeliveryStatus = "sent"
	DeliveryStatusFailed DeliveryStatus = "failed"
)

// DeliveryRecord 每次向订阅者分发触发事件的记录
type DeliveryRecord struct {
	ID           string         `gorm:"type:uuid;primaryKey" json:"id"`
	EventID      string         `gorm:"type:uuid;not null;index" json:"event_id"`
	SubscriberID string         `gorm:"type:varchar(64);not null;index" json:"subscriber_id"`
	Channel      string         `gorm:"type:varchar(20)" json:"channel"`
	Status       DeliveryStatus `gorm:"type:varchar(10);not null" json:"status"`
	Error        string         `gorm:"type:text" json:"error,omitempty"`
	Attempts     int            `gorm:"default:1" json:"attempts"`
	CreatedAt    time.Time      `json:"created_at"`
}

func (d *DeliveryRecord) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	return nil
}

func (DeliveryRecord) TableName() string {
	return "delivery_records"
}
