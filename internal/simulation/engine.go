// Package simulation 根据静态信号推演应用可能的运行时行为
package simulation

import (
	"strings"

	"github.com/apk-analysis/apk-risk-analyzer/internal/dex"
	"github.com/sirupsen/logrus"
)

// Condition 触发条件，任一子条件满足即触发
type Condition struct {
	Permissions     []string `json:"permissions,omitempty"`      // 权限名子串
	DexCategories   []string `json:"dex_categories,omitempty"`   // DEX 风险类别
	ManifestMarkers []string `json:"manifest_markers,omitempty"` // 清单原文子串
}

// Rule 行为推演规则
type Rule struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Points      int       `json:"points"`
	Condition   Condition `json:"condition"`
}

// Finding 触发的推演结果
type Finding struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Points      int    `json:"points"`
	Trigger     string `json:"trigger"` // 首个满足的条件
}

// Input 推演输入
type Input struct {
	Permissions  []string
	Dex          *dex.ScanResult
	ManifestText string
}

// Engine 行为推演引擎
type Engine struct {
	rules  []Rule
	logger *logrus.Logger
}

// NewEngine 创建推演引擎，rules 为空时使用内置规则
func NewEngine(rules []Rule, logger *logrus.Logger) *Engine {
	if len(rules) == 0 {
		rules = GetBuiltinRules()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{rules: rules, logger: logger}
}

// Simulate 逐条评估规则
func (e *Engine) Simulate(in Input) []Finding {
	findings := []Finding{}
	for _, rule := range e.rules {
		trigger, ok := evaluate(rule.Condition, in)
		if !ok {
			continue
		}
		findings = append(findings, Finding{
			ID:          rule.ID,
			Description: rule.Description,
			Points:      rule.Points,
			Trigger:     trigger,
		})
	}

	e.logger.WithFields(logrus.Fields{
		"rules":     len(e.rules),
		"triggered": len(findings),
		"points":    TotalPoints(findings),
	}).Debug("Behavior simulation completed")

	return findings
}

func evaluate(c Condition, in Input) (string, bool) {
	for _, want := range c.Permissions {
		for _, p := range in.Permissions {
			if strings.Contains(p, want) {
				return "permission:" + p, true
			}
		}
	}
	for _, category := range c.DexCategories {
		if in.Dex.HasCategory(category) {
			return "dex:" + category, true
		}
	}
	if in.ManifestText != "" {
		for _, marker := range c.ManifestMarkers {
			if strings.Contains(in.ManifestText, marker) {
				return "manifest:" + marker, true
			}
		}
	}
	return "", false
}

// TotalPoints 推演结果总分
func TotalPoints(findings []Finding) int {
	total := 0
	for _, f := range findings {
		total += f.Points
	}
	return total
}
