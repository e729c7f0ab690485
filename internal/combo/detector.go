// Package combo 检测危险权限组合
package combo

import (
	"sort"

	"github.com/sirupsen/logrus"
)

// 组合风险等级
const (
	RiskCritical = "critical"
	RiskHigh     = "high"
)

var riskRank = map[string]int{
	RiskCritical: 0,
	RiskHigh:     1,
}

// Rule 权限组合规则，所有权限同时存在才命中
type Rule struct {
	ID          string   `json:"id"`
	Permissions []string `json:"permissions"`
	Risk        string   `json:"risk"`
	Title       string   `json:"title"`
	Reason      string   `json:"reason"`
}

// Detection 命中的组合
type Detection struct {
	Rule
	Matched []string `json:"matched"`
}

// Detector 组合检测器
type Detector struct {
	rules  []Rule
	logger *logrus.Logger
}

// NewDetector 创建组合检测器，rules 为空时使用内置规则
func NewDetector(rules []Rule, logger *logrus.Logger) *Detector {
	if len(rules) == 0 {
		rules = GetBuiltinRules()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Detector{rules: rules, logger: logger}
}

// Detect 匹配权限集合，结果按 critical 在前排序，同级保持规则顺序
func (d *Detector) Detect(permissions []string) []Detection {
	set := make(map[string]struct{}, len(permissions))
	for _, p := range permissions {
		set[p] = struct{}{}
	}

	detections := []Detection{}
	for _, rule := range d.rules {
		if !containsAll(set, rule.Permissions) {
			continue
		}
		detections = append(detections, Detection{
			Rule:    rule,
			Matched: append([]string(nil), rule.Permissions...),
		})
	}

	sort.SliceStable(detections, func(i, j int) bool {
		return rank(detections[i].Risk) < rank(detections[j].Risk)
	})

	if len(detections) > 0 {
		d.logger.WithFields(logrus.Fields{
			"detected": len(detections),
			"top":      detections[0].ID,
		}).Debug("Suspicious permission combos detected")
	}

	return detections
}

func containsAll(set map[string]struct{}, perms []string) bool {
	if len(perms) == 0 {
		return false
	}
	for _, p := range perms {
		if _, ok := set[p]; !ok {
			return false
		}
	}
	return true
}

func rank(risk string) int {
	if r, ok := riskRank[risk]; ok {
		return r
	}
	return len(riskRank)
}
