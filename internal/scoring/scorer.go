// Package scoring 将权限、DEX、行为推演和模型信号合成最终风险分
package scoring

import (
	"errors"
	"math"

	"github.com/apk-analysis/apk-risk-analyzer/internal/manifest"
)

const (
	ruleWeight  = 0.6
	modelWeight = 0.4
	dampening   = 100.0
)

// Weights 各风险等级权重
// Critical 为 0 时沿用 High 的权重
type Weights struct {
	Critical float64 `json:"critical" mapstructure:"critical"`
	High     float64 `json:"high" mapstructure:"high"`
	Medium   float64 `json:"medium" mapstructure:"medium"`
	Low      float64 `json:"low" mapstructure:"low"`
	Unknown  float64 `json:"unknown" mapstructure:"unknown"`
}

// DefaultWeights 默认权重
func DefaultWeights() Weights {
	return Weights{High: 20, Medium: 10, Low: 2, Unknown: 5}
}

// ErrInvalidWeights 权重非法
var ErrInvalidWeights = errors.New("weights must be non-negative and at most 1000")

const maxWeight = 1000

// Validate 校验权重范围
func (w Weights) Validate() error {
	for _, v := range []float64{w.Critical, w.High, w.Medium, w.Low, w.Unknown} {
		if v < 0 || v > maxWeight || math.IsNaN(v) {
			return ErrInvalidWeights
		}
	}
	return nil
}

func (w Weights) critical() float64 {
	if w.Critical > 0 {
		return w.Critical
	}
	return w.High
}

// Input 评分输入
type Input struct {
	Breakdown       manifest.Breakdown
	DexScore        int
	SimulationScore int
	Prediction      *Prediction // 为空表示模型不可用
	Weights         *Weights    // 为空使用默认权重
}

// Report 评分结果
type Report struct {
	RawScore        float64            `json:"raw_score"`
	RuleScore       int                `json:"rule_score"`
	NormalizedScore int                `json:"normalized_score"`
	Grade           string             `json:"grade"`
	Label           string             `json:"label"`
	Explanation     string             `json:"explanation"`
	Breakdown       manifest.Breakdown `json:"breakdown"`
	DexScore        int                `json:"dex_score"`
	SimulationScore int                `json:"simulation_score"`
	MLScore         *float64           `json:"ml_score,omitempty"`
	MLConfidence    *float64           `json:"ml_confidence,omitempty"`
	Weights         Weights            `json:"weights"`
}

// Calculate 计算风险分
// raw 按指数衰减压缩到 0-100，有模型结果时按 0.6/0.4 混合
func Calculate(in Input) *Report {
	w := DefaultWeights()
	if in.Weights != nil {
		w = *in.Weights
	}

	b := in.Breakdown
	raw := float64(b.Critical)*w.critical() +
		float64(b.High)*w.High +
		float64(b.Medium)*w.Medium +
		float64(b.Low)*w.Low +
		float64(b.Unknown)*w.Unknown +
		float64(in.DexScore) +
		float64(in.SimulationScore)

	rule := round(100 * (1 - math.Exp(-raw/dampening)))

	final := rule
	report := &Report{
		RawScore:        raw,
		RuleScore:       int(rule),
		Breakdown:       b,
		DexScore:        in.DexScore,
		SimulationScore: in.SimulationScore,
		Weights:         w,
	}

	if p := in.Prediction; p != nil {
		score, confidence := p.AdjustedScore, p.Confidence
		report.MLScore = &score
		report.MLConfidence = &confidence
		final = round(ruleWeight*rule + modelWeight*score)
	}

	report.NormalizedScore = clamp(int(final), 0, 100)
	g := GradeFor(report.NormalizedScore)
	report.Grade = g.Grade
	report.Label = g.Label
	report.Explanation = g.Explanation
	return report
}

// round 四舍五入（.5 向上）
func round(v float64) float64 {
	return math.Floor(v + 0.5)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
