package repository

import (
	"context"

	"github.com/apk-analysis/apk-risk-analyzer/internal/domain"
	"github.com/apk-analysis/apk-risk-analyzer/internal/scoring"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// WeightProfileRepository 自定义权重 Repository
type WeightProfileRepository interface {
	Save(ctx context.Context, name string, weights scoring.Weights) (*domain.WeightProfile, error)
	FindByID(ctx context.Context, id uint) (*domain.WeightProfile, error)
	FindByName(ctx context.Context, name string) (*domain.WeightProfile, error)
	List(ctx context.Context) ([]*domain.WeightProfile, error)
	Update(ctx context.Context, id uint, weights scoring.Weights) (*domain.WeightProfile, error)
	Delete(ctx context.Context, id uint) error
}

type weightProfileRepo struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewWeightProfileRepository 创建自定义权重 Repository
func NewWeightProfileRepository(db *gorm.DB, logger *logrus.Logger) WeightProfileRepository {
	return &weightProfileRepo{db: db, logger: logger}
}

// Save 新建权重方案，名称唯一
func (r *weightProfileRepo) Save(ctx context.Context, name string, weights scoring.Weights) (*domain.WeightProfile, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.WeightProfile{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrDuplicateName
	}

	profile := &domain.WeightProfile{Name: name}
	profile.SetWeights(weights)
	if err := r.db.WithContext(ctx).Create(profile).Error; err != nil {
		return nil, translate(err)
	}

	r.logger.WithFields(logrus.Fields{
		"profile_id": profile.ID,
		"name":       name,
	}).Info("Weight profile saved")

	return profile, nil
}

// FindByID 根据 ID 查询
func (r *weightProfileRepo) FindByID(ctx context.Context, id uint) (*domain.WeightProfile, error) {
	var profile domain.WeightProfile
	if err := r.db.WithContext(ctx).First(&profile, id).Error; err != nil {
		return nil, translate(err)
	}
	return &profile, nil
}

// FindByName 根据名称查询
func (r *weightProfileRepo) FindByName(ctx context.Context, name string) (*domain.WeightProfile, error) {
	var profile domain.WeightProfile
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&profile).Error; err != nil {
		return nil, translate(err)
	}
	return &profile, nil
}

// List 按创建时间倒序列出全部方案
func (r *weightProfileRepo) List(ctx context.Context) ([]*domain.WeightProfile, error) {
	var profiles []*domain.WeightProfile
	err := r.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Find(&profiles).Error
	if err != nil {
		return nil, err
	}
	return profiles, nil
}

// Update 更新权重
func (r *weightProfileRepo) Update(ctx context.Context, id uint, weights scoring.Weights) (*domain.WeightProfile, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}

	profile, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	profile.SetWeights(weights)

	// Select 保证 0 值也会写入
	err = r.db.WithContext(ctx).Model(profile).
		Select("critical", "high", "medium", "low", "unknown", "updated_at").
		Updates(profile).Error
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// Delete 删除方案
func (r *weightProfileRepo) Delete(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&domain.WeightProfile{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
