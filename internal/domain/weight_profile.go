package domain

import (
	"time"

	"github.com/apk-analysis/apk-risk-analyzer/internal/scoring"
)

// WeightProfile 用户自定义评分权重
type WeightProfile struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"type:varchar(100);uniqueIndex:uk_name;not null" json:"name"`
	Critical  float64   `gorm:"default:0" json:"critical"`
	High      float64   `gorm:"not null" json:"high"`
	Medium    float64   `gorm:"not null" json:"medium"`
	Low       float64   `gorm:"not null" json:"low"`
	Unknown   float64   `gorm:"not null" json:"unknown"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (WeightProfile) TableName() string {
	return "weight_profiles"
}

// Weights 转换为评分权重
func (p *WeightProfile) Weights() scoring.Weights {
	return scoring.Weights{
		Critical: p.Critical,
		High:     p.High,
		Medium:   p.Medium,
		Low:      p.Low,
		Unknown:  p.Unknown,
	}
}

// SetWeights 写入评分权重
func (p *WeightProfile) SetWeights(w scoring.Weights) {
	p.Critical = w.Critical
	p.High = w.High
	p.Medium = w.Medium
	p.Low = w.Low
	p.Unknown = w.Unknown
}
