package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/apk-analysis/apk-risk-analyzer/internal/config"
	"github.com/apk-analysis/apk-risk-analyzer/internal/domain"
	"github.com/apk-analysis/apk-risk-analyzer/internal/retry"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB 初始化数据库连接
// MySQL 启动较慢时按指数退避重试
func InitDB(ctx context.Context, cfg *config.DatabaseConfig, log *logrus.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector

	if cfg.Type == "mysql" {
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)
		dialector = mysql.Open(dsn)
	} else {
		// SQLite (fallback)
		path := cfg.Path
		if path == "" {
			path = "./data/reports.db"
		}
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database dir: %w", err)
			}
		}
		dialector = sqlite.Open(path)
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.Operation = "database connect"
	retryCfg.MaxAttempts = 5
	retryCfg.Logger = log

	db, err := retry.DoWithResult(ctx, retryCfg, func(ctx context.Context) (*gorm.DB, error) {
		db, err := gorm.Open(dialector, &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent), // 关闭 SQL 日志
			NowFunc: func() time.Time {
				return time.Now().UTC()
			},
		})
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		return db, sqlDB.PingContext(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	// 设置连接池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.Type == "mysql" {
		sqlDB.SetMaxOpenConns(50)           // 最大连接数
		sqlDB.SetMaxIdleConns(10)           // 最大空闲连接
		sqlDB.SetConnMaxLifetime(time.Hour) // 连接最长生命周期
	} else {
		// SQLite 单写者
		sqlDB.SetMaxOpenConns(1)
	}

	if err := AutoMigrate(db, log); err != nil {
		return nil, err
	}

	return db, nil
}

// AutoMigrate 自动迁移数据库表结构
func AutoMigrate(db *gorm.DB, log *logrus.Logger) error {
	log.Info("Running database migrations...")

	err := db.AutoMigrate(
		&domain.ScanTask{},
		&domain.AnalysisReport{},
		&domain.WeightProfile{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}

	log.Info("Database migrations completed")
	return nil
}
