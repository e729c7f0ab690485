// migrate 建表或升级表结构，服务启动时也会自动执行
package main

import (
	"context"
	"log"

	"github.com/apk-analysis/apk-risk-analyzer/internal/config"
	"github.com/apk-analysis/apk-risk-analyzer/internal/repository"
	"github.com/apk-analysis/apk-risk-analyzer/internal/scoring"
	flag "github.com/spf13/pflag"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "config file path")
	seedDefault := flag.Bool("seed-default-profile", false, "store the built-in weights as profile \"default\"")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	logger := config.InitLogger(&cfg.Log)

	// InitDB 内部执行 AutoMigrate
	db, err := repository.InitDB(context.Background(), &cfg.Database, logger)
	if err != nil {
		logger.Fatalf("Failed to migrate: %v", err)
	}

	if *seedDefault {
		profiles := repository.NewWeightProfileRepository(db, logger)
		ctx := context.Background()
		if _, err := profiles.FindByName(ctx, "default"); err == nil {
			logger.Info("Profile \"default\" already exists")
		} else if _, err := profiles.Save(ctx, "default", scoring.DefaultWeights()); err != nil {
			logger.Fatalf("Failed to seed default profile: %v", err)
		} else {
			logger.Info("Profile \"default\" created")
		}
	}

	logger.WithField("type", cfg.Database.Type).Info("Migration completed successfully")
}
