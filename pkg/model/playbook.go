// pkg/model/playbook.go
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GateLogic 剧本整体闸门策略
type GateLogic string

const (
	GateAll GateLogic = "ALL" // 所有启用条目链式结果为真
	GateAny GateLogic = "ANY" // 至少一个为真
)

// EvaluationOrder 条目评估顺序
type EvaluationOrder string

const (
	OrderPriority   EvaluationOrder = "priority"   // 按priority升序，相同时保持登记顺序
	OrderSequential EvaluationOrder = "sequential" // 按声明顺序
)

// ChainLogic 条目与前一条目的链接逻辑
type ChainLogic string

const (
	ChainAnd ChainLogic = "AND"
	ChainOr  ChainLogic = "OR"
)

// ValidityUnit 有效窗口计量单位
type ValidityUnit string

const (
	ValidityBars    ValidityUnit = "bars"    // 按评估tick计数
	ValidityMinutes ValidityUnit = "minutes" // 按墙上时钟
)

// Playbook 有序多条件规则集
type Playbook struct {
	ID              string          `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID         string          `gorm:"type:varchar(64);not null;index" json:"owner_id"`
	Name            string          `gorm:"not null" json:"name"`
	GateLogic       GateLogic       `gorm:"type:varchar(10);default:'ALL'" json:"gate_logic"`
	EvaluationOrder EvaluationOrder `gorm:"type:varchar(20);default:'priority'" json:"evaluation_order"`
	Channel         string          `gorm:"type:varchar(20);default:'alert'" json:"channel"`
	Enabled         bool            `gorm:"default:true" json:"enabled"`
	Entries         []PlaybookEntry `gorm:"foreignKey:PlaybookID" json:"entries"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (p *Playbook) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}

func (Playbook) TableName() string {
	return "playbooks"
}

// PlaybookEntry 剧本中的单个条件条目
type PlaybookEntry struct {
	ID          string `gorm:"type:uuid;primaryKey" json:"id"`
	PlaybookID  string `gorm:"type:uuid;not null;index" json:"playbook_id"`
	Fingerprint string `gorm:"type:varchar(16);not null" json:"fingerprint"`
	// Seq 登记顺序，priority相同时的稳定决胜
	Seq              int          `gorm:"not null" json:"seq"`
	Priority         int          `gorm:"default:0" json:"priority"` // 越小越先评估
	Logic            ChainLogic   `gorm:"type:varchar(5);default:'AND'" json:"logic"`
	ValidityDuration int          `gorm:"default:0" json:"validity_duration"` // 0表示无窗口
	ValidityUnit     ValidityUnit `gorm:"type:varchar(10);default:'bars'" json:"validity_unit"`
	Enabled          bool         `gorm:"default:true" json:"enabled"`
	CreatedAt        time.Time    `json:"created_at"`
}

func (e *PlaybookEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	return nil
}

func (PlaybookEntry) TableName() string {
	return "playbook_entries"
}
