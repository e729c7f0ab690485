package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"testing"
	"time"

	"github.com/apk-analysis/apk-risk-analyzer/internal/analysis"
	"github.com/apk-analysis/apk-risk-analyzer/internal/domain"
	"github.com/apk-analysis/apk-risk-analyzer/internal/manifest"
	"github.com/apk-analysis/apk-risk-analyzer/internal/repository"
	"github.com/apk-analysis/apk-risk-analyzer/internal/retry"
	"github.com/apk-analysis/apk-risk-analyzer/internal/scoring"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MockSource Mock 输入加载
type MockSource struct {
	mock.Mock
}

func (m *MockSource) Load(ctx context.Context, path string) (*analysis.Input, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*analysis.Input), args.Error(1)
}

// MockAnalyzer Mock 分析流水线
type MockAnalyzer struct {
	mock.Mock
}

func (m *MockAnalyzer) Analyze(ctx context.Context, in *analysis.Input, opts ...analysis.Option) (*analysis.Report, error) {
	args := m.Called(ctx, in, len(opts))
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*analysis.Report), args.Error(1)
}

// MockBroadcaster Mock 推送
type MockBroadcaster struct {
	mock.Mock
}

func (m *MockBroadcaster) BroadcastStatus(taskID string, status domain.TaskStatus, message string) {
	m.Called(taskID, status, message)
}

func (m *MockBroadcaster) BroadcastReport(summary analysis.Summary) {
	m.Called(summary)
}

type fixture struct {
	svc         ScanService
	source      *MockSource
	analyzer    *MockAnalyzer
	broadcaster *MockBroadcaster
	tasks       repository.TaskRepository
	reports     repository.ReportRepository
	profiles    repository.WeightProfileRepository
}

func setup(t *testing.T) *fixture {
	log := logrus.New()
	log.SetOutput(io.Discard)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, repository.AutoMigrate(db, log))

	f := &fixture{
		source:      &MockSource{},
		analyzer:    &MockAnalyzer{},
		broadcaster: &MockBroadcaster{},
		tasks:       repository.NewTaskRepository(db, log),
		reports:     repository.NewReportRepository(db),
		profiles:    repository.NewWeightProfileRepository(db, log),
	}
	f.broadcaster.On("BroadcastStatus", mock.Anything, mock.Anything, mock.Anything).Maybe()
	f.broadcaster.On("BroadcastReport", mock.Anything).Maybe()

	f.svc = NewScanService(Config{
		Source:      f.source,
		Analyzer:    f.analyzer,
		Tasks:       f.tasks,
		Reports:     f.reports,
		Profiles:    f.profiles,
		Broadcaster: f.broadcaster,
	}, log)
	return f
}

func sampleReport(id string) *analysis.Report {
	return &analysis.Report{
		ID:        id,
		Timestamp: time.Now().UTC(),
		File:      analysis.FileInfo{FileName: "app.apk", FileType: analysis.FileTypeAPK, SHA256: "abc"},
		Metadata:  &manifest.Metadata{PackageName: "com.example.app", VersionName: "1.0", FileName: "app.apk"},
		Score: &scoring.Report{
			NormalizedScore: 63,
			Grade:           "C",
			Label:           "Medium Risk",
			DexScore:        35,
			SimulationScore: 25,
		},
		TotalPermissions: 4,
	}
}

// TestScanService_CreateTask 测试创建任务
func TestScanService_CreateTask(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	task, err := f.svc.CreateTask(ctx, CreateTaskRequest{FileName: "app.apk", FilePath: "/in/app.apk"})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusQueued, task.Status)
	assert.Equal(t, domain.TaskSourceUpload, task.Source)
	f.broadcaster.AssertCalled(t, "BroadcastStatus", task.ID, domain.TaskStatusQueued, "")

	_, err = f.svc.CreateTask(ctx, CreateTaskRequest{FileName: "notes.txt", FilePath: "/in/notes.txt"})
	assert.ErrorIs(t, err, analysis.ErrUnsupportedInput)

	missing := uint(99)
	_, err = f.svc.CreateTask(ctx, CreateTaskRequest{FileName: "app.apk", FilePath: "/in/app.apk", WeightProfileID: &missing})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

// TestScanService_CreateTask_WatchDuplicate 目录监听重复事件去重
func TestScanService_CreateTask_WatchDuplicate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	req := CreateTaskRequest{FileName: "drop.apk", FilePath: "/watch/drop.apk", Source: domain.TaskSourceWatch}

	_, err := f.svc.CreateTask(ctx, req)
	require.NoError(t, err)

	_, err = f.svc.CreateTask(ctx, req)
	assert.ErrorIs(t, err, ErrDuplicateTask)
}

// TestScanService_ProcessTask 测试完整处理流程
func TestScanService_ProcessTask(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	profile, err := f.svc.CreateWeightProfile(ctx, "strict", scoring.Weights{High: 30, Medium: 10, Low: 2, Unknown: 5})
	require.NoError(t, err)

	task, err := f.svc.CreateTask(ctx, CreateTaskRequest{FileName: "app.apk", FilePath: "/in/app.apk", WeightProfileID: &profile.ID})
	require.NoError(t, err)

	in := &analysis.Input{FileName: "app.apk", FileType: analysis.FileTypeAPK}
	f.source.On("Load", mock.Anything, "/in/app.apk").Return(in, nil)
	// 一个权重选项
	f.analyzer.On("Analyze", mock.Anything, in, 1).Return(sampleReport("report-1"), nil)

	report, err := f.svc.ProcessTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "report-1", report.ID)

	stored, err := f.tasks.FindByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, stored.Status)
	assert.Equal(t, "report-1", stored.ReportID)

	row, err := f.reports.FindByID(ctx, "report-1")
	require.NoError(t, err)
	assert.Equal(t, task.ID, row.TaskID)
	assert.Equal(t, "com.example.app", row.PackageName)
	assert.Equal(t, 63, row.Score)
	assert.Equal(t, "C", row.Grade)
	assert.Equal(t, 35, row.DexScore)
	require.NotNil(t, row.WeightProfileID)
	assert.Equal(t, profile.ID, *row.WeightProfileID)

	full, err := f.svc.GetReport(ctx, "report-1")
	require.NoError(t, err)
	assert.Equal(t, "Medium Risk", full.Score.Label)
	assert.Equal(t, "com.example.app", full.Metadata.PackageName)

	f.broadcaster.AssertCalled(t, "BroadcastStatus", task.ID, domain.TaskStatusCompleted, "")
	f.broadcaster.AssertCalled(t, "BroadcastReport", mock.MatchedBy(func(s analysis.Summary) bool {
		return s.ID == "report-1" && s.Grade == "C"
	}))

	// 已完成的任务不再分析
	again, err := f.svc.ProcessTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "report-1", again.ID)
	f.analyzer.AssertNumberOfCalls(t, "Analyze", 1)
}

// TestScanService_ProcessTask_InputError 输入错误不重试
func TestScanService_ProcessTask_InputError(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	task, err := f.svc.CreateTask(ctx, CreateTaskRequest{FileName: "broken.apk", FilePath: "/in/broken.apk"})
	require.NoError(t, err)
	f.source.On("Load", mock.Anything, "/in/broken.apk").Return(nil, analysis.ErrManifestNotFound)

	_, err = f.svc.ProcessTask(ctx, task.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, analysis.ErrManifestNotFound)
	assert.False(t, retry.IsRetryable(err))

	stored, err := f.tasks.FindByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, stored.Status)
	assert.Equal(t, domain.FailureTypeManifestMissing, stored.FailureType)
	assert.Equal(t, 0, stored.RetryCount)
}

// TestScanService_ProcessTask_IOErrorRetries IO 错误重试到上限后失败
func TestScanService_ProcessTask_IOErrorRetries(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	task, err := f.svc.CreateTask(ctx, CreateTaskRequest{FileName: "gone.apk", FilePath: "/in/gone.apk"})
	require.NoError(t, err)
	ioErr := &fs.PathError{Op: "open", Path: "/in/gone.apk", Err: fs.ErrNotExist}
	f.source.On("Load", mock.Anything, "/in/gone.apk").Return(nil, ioErr)

	limit := domain.FailureTypeIOError.GetMaxRetryCount()
	for i := 1; i <= limit; i++ {
		_, err = f.svc.ProcessTask(ctx, task.ID)
		require.Error(t, err)
		assert.True(t, retry.IsRetryable(err), "attempt %d should be retryable", i)

		stored, err := f.tasks.FindByID(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusQueued, stored.Status)
		assert.Equal(t, i, stored.RetryCount)
	}

	_, err = f.svc.ProcessTask(ctx, task.ID)
	require.Error(t, err)
	assert.False(t, retry.IsRetryable(err))

	stored, err := f.tasks.FindByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, stored.Status)
	assert.Equal(t, domain.FailureTypeIOError, stored.FailureType)
}

// TestScanService_ProcessTask_Canceled 关闭时保持 analyzing
func TestScanService_ProcessTask_Canceled(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	task, err := f.svc.CreateTask(ctx, CreateTaskRequest{FileName: "slow.apk", FilePath: "/in/slow.apk"})
	require.NoError(t, err)
	in := &analysis.Input{FileName: "slow.apk"}
	f.source.On("Load", mock.Anything, "/in/slow.apk").Return(in, nil)
	f.analyzer.On("Analyze", mock.Anything, in, 0).Return(nil, context.Canceled)

	_, err = f.svc.ProcessTask(ctx, task.ID)
	assert.ErrorIs(t, err, context.Canceled)

	stored, err := f.tasks.FindByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusAnalyzing, stored.Status)

	recovered, err := f.svc.RecoverStuckTasks(ctx)
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	assert.Equal(t, task.ID, recovered[0].ID)
}

func TestScanService_AnalyzeFile(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	in := &analysis.Input{FileName: "app.apk"}
	f.source.On("Load", mock.Anything, "/cli/app.apk").Return(in, nil)
	f.analyzer.On("Analyze", mock.Anything, in, 0).Return(sampleReport("cli-1"), nil)

	report, err := f.svc.AnalyzeFile(ctx, "/cli/app.apk", nil)
	require.NoError(t, err)
	assert.Equal(t, "cli-1", report.ID)

	rows, total, err := f.svc.ListReports(ctx, repository.ReportFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "cli-1", rows[0].ID)

	counts, err := f.svc.GradeCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["C"])

	require.NoError(t, f.svc.DeleteReport(ctx, "cli-1"))
	_, err = f.svc.GetReport(ctx, "cli-1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestClassifyFailure(t *testing.T) {
	tests := []struct {
		err  error
		want domain.FailureType
	}{
		{analysis.ErrUnsupportedInput, domain.FailureTypeUnsupportedInput},
		{fmt.Errorf("%w: zip: not a valid zip file", analysis.ErrInvalidArchive), domain.FailureTypeInvalidArchive},
		{analysis.ErrManifestNotFound, domain.FailureTypeManifestMissing},
		{context.DeadlineExceeded, domain.FailureTypeTimeout},
		{&fs.PathError{Op: "read", Path: "x", Err: errors.New("EIO")}, domain.FailureTypeIOError},
		{errors.New("boom"), domain.FailureTypeUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyFailure(tt.err), tt.err.Error())
	}
}

func TestScanService_WeightProfiles(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	p, err := f.svc.CreateWeightProfile(ctx, "team", scoring.DefaultWeights())
	require.NoError(t, err)

	byName, err := f.svc.FindWeightProfileByName(ctx, "team")
	require.NoError(t, err)
	assert.Equal(t, p.ID, byName.ID)

	updated, err := f.svc.UpdateWeightProfile(ctx, p.ID, scoring.Weights{High: 50, Medium: 10, Low: 1, Unknown: 1})
	require.NoError(t, err)
	assert.Equal(t, 50.0, updated.High)

	list, err := f.svc.ListWeightProfiles(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, f.svc.DeleteWeightProfile(ctx, p.ID))
	_, err = f.svc.GetWeightProfile(ctx, p.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
