package repository

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/apk-analysis/apk-risk-analyzer/internal/domain"
	"github.com/apk-analysis/apk-risk-analyzer/internal/scoring"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// setupTestDB 创建测试数据库
func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "Failed to open test database")

	// :memory: 每个连接是独立的库
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, AutoMigrate(db, testLogger()), "Failed to migrate test database")
	return db
}

func newTask(id, name string) *domain.ScanTask {
	return &domain.ScanTask{
		ID:       id,
		FileName: name,
		FilePath: "/tmp/" + name,
		Source:   domain.TaskSourceUpload,
	}
}

// TestTaskRepository_Create 测试创建任务
func TestTaskRepository_Create(t *testing.T) {
	repo := NewTaskRepository(setupTestDB(t), testLogger())
	ctx := context.Background()

	task := newTask("task-001", "a.apk")
	require.NoError(t, repo.Create(ctx, task))

	found, err := repo.FindByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "a.apk", found.FileName)
	assert.Equal(t, domain.TaskStatusQueued, found.Status)
	assert.False(t, found.CreatedAt.IsZero())

	// 重复主键
	assert.Error(t, repo.Create(ctx, newTask("task-001", "b.apk")))
}

func TestTaskRepository_FindByID_NotFound(t *testing.T) {
	repo := NewTaskRepository(setupTestDB(t), testLogger())

	_, err := repo.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestTaskRepository_Lifecycle 测试状态流转
func TestTaskRepository_Lifecycle(t *testing.T) {
	repo := NewTaskRepository(setupTestDB(t), testLogger())
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newTask("task-002", "b.apk")))

	require.NoError(t, repo.MarkAnalyzing(ctx, "task-002"))
	found, err := repo.FindByID(ctx, "task-002")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusAnalyzing, found.Status)
	assert.NotNil(t, found.StartedAt)

	require.NoError(t, repo.MarkCompleted(ctx, "task-002", "report-1"))
	found, err = repo.FindByID(ctx, "task-002")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, found.Status)
	assert.Equal(t, "report-1", found.ReportID)
	assert.NotNil(t, found.CompletedAt)

	assert.ErrorIs(t, repo.MarkAnalyzing(ctx, "missing"), ErrNotFound)
}

// TestTaskRepository_FailureAndRetry 测试失败与重试
func TestTaskRepository_FailureAndRetry(t *testing.T) {
	repo := NewTaskRepository(setupTestDB(t), testLogger())
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newTask("task-003", "c.apk")))

	require.NoError(t, repo.UpdateFailure(ctx, "task-003", domain.FailureTypeIOError, "read failed"))
	found, err := repo.FindByID(ctx, "task-003")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, found.Status)
	assert.Equal(t, domain.FailureTypeIOError, found.FailureType)
	assert.Equal(t, "read failed", found.ErrorMessage)

	count, err := repo.IncrementRetryCount(ctx, "task-003")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	count, err = repo.IncrementRetryCount(ctx, "task-003")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, repo.ResetForRetry(ctx, "task-003"))
	found, err = repo.FindByID(ctx, "task-003")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusQueued, found.Status)
	assert.Equal(t, domain.FailureTypeNone, found.FailureType)
	assert.Empty(t, found.ErrorMessage)
	assert.Nil(t, found.CompletedAt)
	assert.Equal(t, 2, found.RetryCount, "retry count should be preserved")

	_, err = repo.IncrementRetryCount(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestTaskRepository_ResetStuckTasks 测试重启恢复
func TestTaskRepository_ResetStuckTasks(t *testing.T) {
	repo := NewTaskRepository(setupTestDB(t), testLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Create(ctx, newTask(fmt.Sprintf("stuck-%d", i), "s.apk")))
	}
	require.NoError(t, repo.MarkAnalyzing(ctx, "stuck-0"))
	require.NoError(t, repo.MarkAnalyzing(ctx, "stuck-1"))

	n, err := repo.ResetStuckTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	queued, err := repo.ListByStatus(ctx, domain.TaskStatusQueued, 0)
	require.NoError(t, err)
	assert.Len(t, queued, 3)

	limited, err := repo.ListByStatus(ctx, domain.TaskStatusQueued, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	counts, total, err := repo.GetStatusCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Equal(t, int64(3), counts[string(domain.TaskStatusQueued)])
}

func TestTaskRepository_HasRecentTaskForFile(t *testing.T) {
	repo := NewTaskRepository(setupTestDB(t), testLogger())
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newTask("recent-1", "dup.apk")))

	recent, err := repo.HasRecentTaskForFile(ctx, "dup.apk", 60)
	require.NoError(t, err)
	assert.True(t, recent)

	recent, err = repo.HasRecentTaskForFile(ctx, "other.apk", 60)
	require.NoError(t, err)
	assert.False(t, recent)
}

func newReport(id, grade, pkg string, analyzedAt time.Time) *domain.AnalysisReport {
	return &domain.AnalysisReport{
		ID:          id,
		FileName:    pkg + ".apk",
		FileType:    "apk",
		SHA256:      "sha-" + pkg,
		PackageName: pkg,
		Score:       42,
		Grade:       grade,
		ReportJSON:  `{"id":"` + id + `"}`,
		AnalyzedAt:  analyzedAt,
		CreatedAt:   analyzedAt,
	}
}

// TestReportRepository_CRUD 测试报告读写
func TestReportRepository_CRUD(t *testing.T) {
	repo := NewReportRepository(setupTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.Create(ctx, newReport("r1", "B", "com.example.a", now.Add(-time.Minute))))
	require.NoError(t, repo.Create(ctx, newReport("r2", "D", "com.example.a", now)))

	found, err := repo.FindByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, `{"id":"r1"}`, found.ReportJSON)

	latest, err := repo.FindLatestBySHA256(ctx, "sha-com.example.a")
	require.NoError(t, err)
	assert.Equal(t, "r2", latest.ID)

	require.NoError(t, repo.Delete(ctx, "r1"))
	_, err = repo.FindByID(ctx, "r1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, "r1"), ErrNotFound)
}

// TestReportRepository_List 测试分页与过滤
func TestReportRepository_List(t *testing.T) {
	repo := NewReportRepository(setupTestDB(t))
	ctx := context.Background()
	base := time.Now().UTC()

	grades := []string{"A", "B", "B", "F", "B"}
	for i, g := range grades {
		r := newReport(fmt.Sprintf("r%d", i), g, fmt.Sprintf("com.app%d", i), base.Add(time.Duration(i)*time.Second))
		require.NoError(t, repo.Create(ctx, r))
	}

	all, total, err := repo.List(ctx, ReportFilter{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, all, 2)
	assert.Equal(t, "r4", all[0].ID, "newest first")
	assert.Empty(t, all[0].ReportJSON, "list should not load full JSON")

	onlyB, total, err := repo.List(ctx, ReportFilter{Grade: "B"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, onlyB, 3)

	byPkg, total, err := repo.List(ctx, ReportFilter{PackageName: "app3"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "F", byPkg[0].Grade)

	counts, err := repo.GradeCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts["B"])
	assert.Equal(t, int64(1), counts["F"])
}

// TestWeightProfileRepository 测试权重方案
func TestWeightProfileRepository(t *testing.T) {
	repo := NewWeightProfileRepository(setupTestDB(t), testLogger())
	ctx := context.Background()

	w := scoring.Weights{Critical: 12, High: 10, Medium: 4, Low: 1, Unknown: 2}
	saved, err := repo.Save(ctx, "strict", w)
	require.NoError(t, err)
	assert.NotZero(t, saved.ID)

	_, err = repo.Save(ctx, "strict", w)
	assert.ErrorIs(t, err, ErrDuplicateName)

	_, err = repo.Save(ctx, "bad", scoring.Weights{High: -1})
	assert.ErrorIs(t, err, scoring.ErrInvalidWeights)

	byName, err := repo.FindByName(ctx, "strict")
	require.NoError(t, err)
	assert.Equal(t, w, byName.Weights())

	// 0 值也要写入
	updated, err := repo.Update(ctx, saved.ID, scoring.Weights{High: 5, Medium: 0, Low: 0, Unknown: 0})
	require.NoError(t, err)
	assert.Equal(t, 5.0, updated.High)

	reloaded, err := repo.FindByID(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, reloaded.Medium)
	assert.Equal(t, 0.0, reloaded.Critical)

	_, err = repo.Save(ctx, "lenient", scoring.DefaultWeights())
	require.NoError(t, err)
	list, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, repo.Delete(ctx, saved.ID))
	_, err = repo.FindByID(ctx, saved.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, saved.ID), ErrNotFound)
}
