// Package analysis 串联解码、清单分析、DEX 扫描、行为推演与评分
package analysis

import (
	"context"
	"errors"
	"time"

	"github.com/apk-analysis/apk-risk-analyzer/internal/combo"
	"github.com/apk-analysis/apk-risk-analyzer/internal/manifest"
	"github.com/apk-analysis/apk-risk-analyzer/internal/packer"
	"github.com/apk-analysis/apk-risk-analyzer/internal/scoring"
	"github.com/apk-analysis/apk-risk-analyzer/internal/simulation"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// MetricsRecorder 分析指标
type MetricsRecorder interface {
	RecordAnalysis(grade, decodeMode string, duration time.Duration)
	RecordDexResult(status string, parsed bool)
	RecordModelFallback()
}

// Analyzer 分析流水线
type Analyzer struct {
	combos    *combo.Detector
	simulator *simulation.Engine
	packers   *packer.Detector
	dexPool   *DexPool
	predictor scoring.Predictor // 为空时只用规则评分
	weights   scoring.Weights
	metrics   MetricsRecorder
	logger    *logrus.Logger
}

// Config 流水线依赖
type Config struct {
	DexPool   *DexPool
	Predictor scoring.Predictor
	Weights   *scoring.Weights
	Metrics   MetricsRecorder
	Combos    []combo.Rule      // 为空使用内置规则
	Rules     []simulation.Rule // 为空使用内置规则
	Packers   []packer.Rule     // 为空使用内置规则
}

// NewAnalyzer 创建分析器
func NewAnalyzer(cfg Config, logger *logrus.Logger) *Analyzer {
	weights := scoring.DefaultWeights()
	if cfg.Weights != nil {
		weights = *cfg.Weights
	}
	pool := cfg.DexPool
	if pool == nil {
		pool = NewDexPool(1, nil, logger)
	}

	return &Analyzer{
		combos:    combo.NewDetector(cfg.Combos, logger),
		simulator: simulation.NewEngine(cfg.Rules, logger),
		packers:   packer.NewDetector(cfg.Packers, logger),
		dexPool:   pool,
		predictor: cfg.Predictor,
		weights:   weights,
		metrics:   cfg.Metrics,
		logger:    logger,
	}
}

// Option 单次分析选项
type Option func(*options)

type options struct {
	weights   *scoring.Weights
	keepRaw   bool
	reportID  string
	skipModel bool
}

// WithWeights 使用自定义权重
func WithWeights(w scoring.Weights) Option {
	return func(o *options) { o.weights = &w }
}

// WithRawManifest 报告中保留解码后的清单文本
func WithRawManifest() Option {
	return func(o *options) { o.keepRaw = true }
}

// WithReportID 指定报告 ID（默认生成 UUID）
func WithReportID(id string) Option {
	return func(o *options) { o.reportID = id }
}

// WithoutModel 跳过外部模型
func WithoutModel() Option {
	return func(o *options) { o.skipModel = true }
}

// manifestResult 清单分支的产出
type manifestResult struct {
	text        string
	mode        DecodeMode
	permissions []string
	records     []manifest.PermissionRecord
	security    *manifest.SecurityFindings
	components  *manifest.ExposureReport
	metadata    *manifest.Metadata
	domains     []manifest.DomainGroup
}

// Analyze 分析一次输入
// 只有上下文取消会返回错误，解析失败都降级处理
func (a *Analyzer) Analyze(ctx context.Context, in *Input, opts ...Option) (*Report, error) {
	if in == nil {
		return nil, ErrUnsupportedInput
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	start := time.Now()
	var (
		mr       manifestResult
		dexReply *DexReply
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		mr = analyzeManifest(in)
		return gctx.Err()
	})

	if len(in.Dex) > 0 {
		g.Go(func() error {
			reply := a.dexPool.Scan(gctx, in.Dex)
			dexReply = &reply
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := &Report{
		ID:        o.reportID,
		Timestamp: start.UTC(),
		File: FileInfo{
			FileName: in.FileName,
			FileType: in.FileType,
			FileSize: in.FileSize,
			MD5:      in.MD5,
			SHA256:   in.SHA256,
		},
		DecodeMode:       mr.mode,
		Metadata:         mr.metadata,
		Permissions:      mr.records,
		TotalPermissions: len(mr.permissions),
		DomainProfile:    mr.domains,
		SuspiciousCombos: a.combos.Detect(mr.permissions),
		Security:         mr.security,
		Components:       mr.components,
	}
	if report.ID == "" {
		report.ID = uuid.New().String()
	}
	if o.keepRaw {
		report.RawManifest = mr.text
	}
	if in.Archive != nil {
		report.Protection = a.packers.Detect(in.Archive, mr.text)
		a.logger.WithField("file", in.FileName).Debug(packer.Summary(report.Protection))
	}

	if dexReply != nil {
		report.Dex = DexSummary{
			Present:  true,
			Status:   dexReply.Status,
			Error:    dexReply.Error,
			Findings: dexReply.Findings,
		}
		if a.metrics != nil {
			a.metrics.RecordDexResult(dexReply.Status, dexReply.Findings != nil)
		}
	}

	report.Simulations = a.simulator.Simulate(simulation.Input{
		Permissions:  mr.permissions,
		Dex:          report.Dex.Findings,
		ManifestText: mr.text,
	})

	weights := a.weights
	if o.weights != nil {
		weights = *o.weights
	}
	scoreIn := scoring.Input{
		Breakdown:       manifest.CountByRisk(mr.records),
		SimulationScore: simulation.TotalPoints(report.Simulations),
		Weights:         &weights,
	}
	if f := report.Dex.Findings; f != nil {
		scoreIn.DexScore = f.ScoreContribution
	}
	if !o.skipModel {
		scoreIn.Prediction = a.predict(ctx, mr.permissions)
	}
	report.Score = scoring.Calculate(scoreIn)

	duration := time.Since(start)
	report.Duration = duration.Milliseconds()

	if a.metrics != nil {
		a.metrics.RecordAnalysis(report.Score.Grade, string(report.DecodeMode), duration)
	}

	a.logger.WithFields(logrus.Fields{
		"report_id":   report.ID,
		"file":        in.FileName,
		"decode_mode": report.DecodeMode,
		"permissions": report.TotalPermissions,
		"combos":      len(report.SuspiciousCombos),
		"simulations": len(report.Simulations),
		"score":       report.Score.NormalizedScore,
		"grade":       report.Score.Grade,
		"duration_ms": report.Duration,
	}).Info("Analysis completed")

	return report, nil
}

// analyzeManifest 清单分支，纯函数
func analyzeManifest(in *Input) manifestResult {
	text, mode := DecodeManifest(in.Manifest)
	perms := manifest.ExtractPermissions(text)

	return manifestResult{
		text:        text,
		mode:        mode,
		permissions: perms,
		records:     manifest.DescribePermissions(perms),
		security:    manifest.AnalyzeSecurity(text),
		components:  manifest.AnalyzeComponents(text),
		metadata:    manifest.ExtractMetadata(text, in.FileName),
		domains:     manifest.CategorizeByDomain(perms),
	}
}

// predict 模型不可用时视为无信号
func (a *Analyzer) predict(ctx context.Context, perms []string) *scoring.Prediction {
	if a.predictor == nil {
		return nil
	}
	pred, err := a.predictor.Predict(ctx, perms)
	if err != nil {
		if a.metrics != nil {
			a.metrics.RecordModelFallback()
		}
		if !errors.Is(err, scoring.ErrModelUnavailable) {
			a.logger.WithError(err).Warn("Risk model returned an unexpected error")
		}
		return nil
	}
	return pred
}

// Stop 释放流水线资源
func (a *Analyzer) Stop() {
	a.dexPool.Stop()
}
