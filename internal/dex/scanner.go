package dex

import "strings"

// minStringLen 字符串特征只检查长度超过该值的常量
const minStringLen = 3

// RiskIndicator 单个命中的风险类别
type RiskIndicator struct {
	Category string `json:"category"`
	Severity string `json:"severity"`
	Reason   string `json:"reason"`
	Evidence string `json:"evidence"`
	Points   int    `json:"points"`
}

// ScanResult 风险扫描结果
type ScanResult struct {
	RiskIndicators    []RiskIndicator `json:"risk_indicators"`
	RiskyMethods      []string        `json:"risky_methods"`
	SuspiciousStrings []string        `json:"suspicious_strings"`
	ScoreContribution int             `json:"score_contribution"`
}

// HasCategory 是否命中指定类别
func (r *ScanResult) HasCategory(category string) bool {
	if r == nil {
		return false
	}
	for _, ind := range r.RiskIndicators {
		if ind.Category == category {
			return true
		}
	}
	return false
}

// Scanner 基于特征库的风险扫描器
type Scanner struct {
	signatures []Signature
}

// NewScanner 创建扫描器，signatures 为空时使用内置特征库
func NewScanner(signatures []Signature) *Scanner {
	if len(signatures) == 0 {
		signatures = BuiltinSignatures()
	}
	return &Scanner{signatures: signatures}
}

// Scan 使用内置特征库扫描
func Scan(t *Tables) *ScanResult {
	return NewScanner(nil).Scan(t)
}

// Scan 对符号表逐条应用特征规则，每个类别最多计分一次
func (s *Scanner) Scan(t *Tables) *ScanResult {
	result := &ScanResult{
		RiskIndicators:    []RiskIndicator{},
		RiskyMethods:      []string{},
		SuspiciousStrings: []string{},
	}
	if t == nil {
		return result
	}

	candidates := make([]string, 0, len(t.Strings))
	for _, str := range t.Strings {
		if len(str) > minStringLen {
			candidates = append(candidates, str)
		}
	}

	for _, sig := range s.signatures {
		if len(sig.Methods) > 0 {
			matched := matchSubstrings(t.Methods, sig.Methods, sig.MaxEvidence)
			if len(matched) > 0 {
				result.add(sig.ID, sig.Severity, sig.Reason, strings.Join(matched, ", "), sig.Points)
				result.RiskyMethods = append(result.RiskyMethods, matched...)
				continue
			}
			if fb := sig.Fallback; fb != nil && containsAny(t.Strings, fb.Strings) {
				result.add(fb.ID, fb.Severity, fb.Reason, fb.Evidence, fb.Points)
				result.SuspiciousStrings = append(result.SuspiciousStrings, fb.Marker)
			}
			continue
		}

		if sig.StringPattern != nil {
			var matched []string
			for _, str := range candidates {
				if sig.StringPattern.MatchString(str) {
					matched = append(matched, str)
					if len(matched) == sig.MaxEvidence {
						break
					}
				}
			}
			if len(matched) > 0 {
				result.add(sig.ID, sig.Severity, sig.Reason, strings.Join(matched, ", "), sig.Points)
				result.SuspiciousStrings = append(result.SuspiciousStrings, matched...)
			}
		}
	}

	return result
}

func (r *ScanResult) add(category, severity, reason, evidence string, points int) {
	r.RiskIndicators = append(r.RiskIndicators, RiskIndicator{
		Category: category,
		Severity: severity,
		Reason:   reason,
		Evidence: evidence,
		Points:   points,
	})
	r.ScoreContribution += points
}

// matchSubstrings 返回包含任一模式的前 limit 个条目
func matchSubstrings(entries, patterns []string, limit int) []string {
	var matched []string
	for _, entry := range entries {
		for _, p := range patterns {
			if strings.Contains(entry, p) {
				matched = append(matched, entry)
				break
			}
		}
		if limit > 0 && len(matched) == limit {
			break
		}
	}
	return matched
}

func containsAny(entries, patterns []string) bool {
	for _, entry := range entries {
		for _, p := range patterns {
			if strings.Contains(entry, p) {
				return true
			}
		}
	}
	return false
}
