package repository

import (
	"context"

	"github.com/apk-analysis/apk-risk-analyzer/internal/domain"
	"gorm.io/gorm"
)

// ReportFilter 报告列表过滤条件
type ReportFilter struct {
	Page        int
	PageSize    int
	Grade       string
	PackageName string
}

// ReportRepository 分析报告 Repository
type ReportRepository interface {
	Create(ctx context.Context, report *domain.AnalysisReport) error
	FindByID(ctx context.Context, id string) (*domain.AnalysisReport, error)
	FindLatestBySHA256(ctx context.Context, sha256 string) (*domain.AnalysisReport, error)
	List(ctx context.Context, filter ReportFilter) ([]*domain.AnalysisReport, int64, error)
	GradeCounts(ctx context.Context) (map[string]int64, error)
	Delete(ctx context.Context, id string) error
}

// reportRepo 分析报告 Repository 实现
type reportRepo struct {
	db *gorm.DB
}

// NewReportRepository 创建分析报告 Repository
func NewReportRepository(db *gorm.DB) ReportRepository {
	return &reportRepo{db: db}
}

// Create 保存分析报告
func (r *reportRepo) Create(ctx context.Context, report *domain.AnalysisReport) error {
	return r.db.WithContext(ctx).Create(report).Error
}

// FindByID 根据 ID 查询报告
func (r *reportRepo) FindByID(ctx context.Context, id string) (*domain.AnalysisReport, error) {
	var report domain.AnalysisReport
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&report).Error; err != nil {
		return nil, translate(err)
	}
	return &report, nil
}

// FindLatestBySHA256 查询同一文件最近一次的报告
func (r *reportRepo) FindLatestBySHA256(ctx context.Context, sha256 string) (*domain.AnalysisReport, error) {
	var report domain.AnalysisReport
	err := r.db.WithContext(ctx).
		Where("sha256 = ?", sha256).
		Order("analyzed_at DESC").
		First(&report).Error
	if err != nil {
		return nil, translate(err)
	}
	return &report, nil
}

// List 分页查询报告（不加载完整 JSON）
func (r *reportRepo) List(ctx context.Context, filter ReportFilter) ([]*domain.AnalysisReport, int64, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}

	query := r.db.WithContext(ctx).Model(&domain.AnalysisReport{})
	if filter.Grade != "" {
		query = query.Where("grade = ?", filter.Grade)
	}
	if filter.PackageName != "" {
		query = query.Where("package_name LIKE ?", "%"+filter.PackageName+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var reports []*domain.AnalysisReport
	err := query.
		Omit("report_json").
		Order("analyzed_at DESC").
		Offset((filter.Page - 1) * filter.PageSize).
		Limit(filter.PageSize).
		Find(&reports).Error
	if err != nil {
		return nil, 0, err
	}

	return reports, total, nil
}

// GradeCounts 按等级统计报告数量
func (r *reportRepo) GradeCounts(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Grade string
		Count int64
	}
	err := r.db.WithContext(ctx).
		Model(&domain.AnalysisReport{}).
		Select("grade, COUNT(*) AS count").
		Group("grade").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Grade] = row.Count
	}
	return counts, nil
}

// Delete 删除报告
func (r *reportRepo) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.AnalysisReport{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
