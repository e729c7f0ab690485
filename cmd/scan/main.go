// scan 命令行分析一个或多个 APK / AndroidManifest.xml，按行输出 JSON 报告
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"sync"
	"syscall"

	"github.com/apk-analysis/apk-risk-analyzer/internal/analysis"
	"github.com/apk-analysis/apk-risk-analyzer/internal/config"
	"github.com/apk-analysis/apk-risk-analyzer/internal/export"
	"github.com/apk-analysis/apk-risk-analyzer/internal/repository"
	"github.com/apk-analysis/apk-risk-analyzer/internal/scoring"
	"github.com/apk-analysis/apk-risk-analyzer/internal/service"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

type options struct {
	configPath  string
	profile     string
	out         string
	summary     bool
	save        bool
	rawManifest bool
	noModel     bool
	concurrency int
	failScore   int
	skipSeen    bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "config file path (defaults and env only when empty)")
	flag.StringVarP(&opts.profile, "profile", "p", "", "named weight profile stored in the database")
	flag.StringVarP(&opts.out, "out", "o", "", "append reports to this JSONL file instead of stdout")
	flag.BoolVarP(&opts.summary, "summary", "s", false, "print one summary line per file instead of the full report")
	flag.BoolVar(&opts.save, "save", false, "store reports in the database")
	flag.BoolVar(&opts.rawManifest, "raw-manifest", false, "include decoded manifest text in reports")
	flag.BoolVar(&opts.noModel, "no-model", false, "skip the risk model")
	flag.IntVarP(&opts.concurrency, "concurrency", "c", 2, "files analyzed in parallel")
	flag.BoolVar(&opts.skipSeen, "skip-seen", false, "skip files whose SHA-256 already has a stored report (needs --save)")
	flag.IntVar(&opts.failScore, "fail-score", 0, "exit with status 2 when any score reaches this value (0 disables)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <file.apk|AndroidManifest.xml|dir>...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(1)
	}

	os.Exit(run(opts, flag.Args()))
}

func run(opts options, args []string) int {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	// 报告走 stdout，日志只能走 stderr
	if cfg.Log.Output == "stdout" {
		cfg.Log.Output = "stderr"
	}
	logger := config.InitLogger(&cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	files, err := collectInputs(args)
	if err != nil {
		logger.WithError(err).Error("Failed to collect inputs")
		return 1
	}
	if len(files) == 0 {
		logger.Error("No .apk or .xml files found")
		return 1
	}

	var reports repository.ReportRepository
	weights := cfg.Scoring.Weights
	var profileID *uint
	if opts.save || opts.profile != "" {
		db, err := repository.InitDB(ctx, &cfg.Database, logger)
		if err != nil {
			logger.WithError(err).Error("Failed to init database")
			return 1
		}
		reports = repository.NewReportRepository(db)

		if opts.profile != "" {
			profile, err := repository.NewWeightProfileRepository(db, logger).FindByName(ctx, opts.profile)
			if err != nil {
				logger.WithError(err).WithField("profile", opts.profile).Error("Weight profile not found")
				return 1
			}
			weights = profile.Weights()
			profileID = &profile.ID
		}
	}

	analyzer := analysis.NewAnalyzer(analysis.Config{
		DexPool:   analysis.NewDexPool(cfg.Dex.PoolSize, nil, logger),
		Predictor: predictorFor(cfg.ML, opts.noModel, logger),
		Weights:   &weights,
	}, logger)
	defer analyzer.Stop()

	var writer *export.Writer
	if opts.out != "" {
		writer, err = export.CreateFile(opts.out)
		if err != nil {
			logger.WithError(err).Error("Failed to open output")
			return 1
		}
	} else {
		writer = export.NewWriter(os.Stdout)
	}
	defer writer.Close()

	var analyzeOpts []analysis.Option
	if opts.rawManifest {
		analyzeOpts = append(analyzeOpts, analysis.WithRawManifest())
	}

	source := analysis.NewFileSource(logger)
	var (
		mu       sync.Mutex
		failed   int
		skipped  int
		tooRisky int
	)

	g, gctx := errgroup.WithContext(ctx)
	if opts.concurrency > 0 {
		g.SetLimit(opts.concurrency)
	}
	for _, path := range files {
		g.Go(func() error {
			var seen repository.ReportRepository
			if opts.skipSeen {
				seen = reports
			}
			report, err := analyzeOne(gctx, source, analyzer, seen, path, analyzeOpts)
			mu.Lock()
			defer mu.Unlock()

			if errors.Is(err, errAlreadyAnalyzed) {
				skipped++
				logger.WithField("file", path).Info("Already analyzed, skipping")
				return nil
			}

			if err != nil {
				// 单个文件失败不影响其它文件
				failed++
				logger.WithError(err).WithField("file", path).Error("Analysis failed")
				return gctx.Err()
			}
			if reports != nil {
				if err := saveReport(gctx, reports, report, profileID); err != nil {
					logger.WithError(err).WithField("file", path).Warn("Failed to save report")
				}
			}
			if opts.failScore > 0 && report.Score != nil && report.Score.NormalizedScore >= opts.failScore {
				tooRisky++
			}
			if opts.summary {
				return writer.WriteSummary(report.Summary())
			}
			return writer.WriteReport(report)
		})
	}

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("Scan aborted")
		return 1
	}

	logger.WithFields(logrus.Fields{
		"files":   len(files),
		"failed":  failed,
		"skipped": skipped,
		"risky":   tooRisky,
	}).Info("Scan finished")

	switch {
	case failed > 0:
		return 1
	case tooRisky > 0:
		return 2
	}
	return 0
}

var errAlreadyAnalyzed = errors.New("already analyzed")

// analyzeOne seen 不为空时跳过已有报告的文件
func analyzeOne(ctx context.Context, source analysis.Source, analyzer *analysis.Analyzer, seen repository.ReportRepository, path string, opts []analysis.Option) (*analysis.Report, error) {
	in, err := source.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	if seen != nil && in.SHA256 != "" {
		_, err := seen.FindLatestBySHA256(ctx, in.SHA256)
		if err == nil {
			return nil, errAlreadyAnalyzed
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("lookup previous report: %w", err)
		}
	}
	return analyzer.Analyze(ctx, in, opts...)
}

func saveReport(ctx context.Context, reports repository.ReportRepository, report *analysis.Report, profileID *uint) error {
	row, err := service.ReportRecord(report, profileID)
	if err != nil {
		return err
	}
	return reports.Create(ctx, row)
}

// collectInputs 展开目录，只保留支持的文件
func collectInputs(args []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	add := func(path string) {
		if analysis.IsSupported(path) && !seen[path] {
			seen[path] = true
			files = append(files, path)
		}
	}

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			add(arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sort.Strings(files)
	return files, nil
}

func predictorFor(cfg config.MLConfig, disabled bool, logger *logrus.Logger) scoring.Predictor {
	if disabled || !cfg.Enabled {
		return nil
	}
	chain := []scoring.Predictor{}
	if cfg.URL != "" {
		chain = append(chain, scoring.NewHTTPPredictor(scoring.HTTPPredictorConfig{
			URL:        cfg.URL,
			Timeout:    cfg.TimeoutDuration(),
			MaxRetries: cfg.MaxRetries,
		}, logger))
	}
	chain = append(chain, scoring.HeuristicPredictor{})
	return scoring.NewChainPredictor(logger, chain...)
}
