package config

import (
	"fmt"
	"time"

	"github.com/apk-analysis/apk-risk-analyzer/internal/scoring"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Log      LogConfig      `mapstructure:"log"`
	Scoring  ScoringConfig  `mapstructure:"scoring"`
	ML       MLConfig       `mapstructure:"ml"`
	Watcher  WatcherConfig  `mapstructure:"watcher"`
	Dex      DexConfig      `mapstructure:"dex"`
	APKDir   string         `mapstructure:"apk_dir"` // 上传文件保存目录
}

type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Mode         string `mapstructure:"mode"`          // debug, release
	MaxUploadMB  int    `mapstructure:"max_upload_mb"` // 上传大小限制
	KeepManifest bool   `mapstructure:"keep_manifest"` // 报告中保留清单原文
	APIToken     string `mapstructure:"api_token"`     // 为空时不校验
	SyncTimeout  int    `mapstructure:"sync_timeout"`  // 同步分析超时（秒）
}

// SyncTimeoutDuration 同步分析超时时间
func (c ServerConfig) SyncTimeoutDuration() time.Duration {
	return time.Duration(c.SyncTimeout) * time.Second
}

type DatabaseConfig struct {
	Type     string `mapstructure:"type"` // mysql, sqlite
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"db_name"`
	Path     string `mapstructure:"path"` // sqlite 文件路径
}

type RabbitMQConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	VHost    string `mapstructure:"vhost"`
	Queue    string `mapstructure:"queue"`
}

// URL AMQP 连接串
func (c RabbitMQConfig) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/%s", c.User, c.Password, c.Host, c.Port, c.VHost)
}

type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`  // Worker 数量
	QueueSize   int `mapstructure:"queue_size"`   // 任务队列大小
	TaskTimeout int `mapstructure:"task_timeout"` // 单任务超时（秒）
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, stderr 或文件路径
	Caller bool   `mapstructure:"caller"` // 输出调用位置
}

// ScoringConfig 评分配置
type ScoringConfig struct {
	Weights scoring.Weights `mapstructure:"weights"`
}

// MLConfig 外部风险模型配置
type MLConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	URL        string `mapstructure:"url"`         // 为空时只用本地启发式模型
	Timeout    int    `mapstructure:"timeout"`     // seconds
	MaxRetries int    `mapstructure:"max_retries"` // 最大重试次数
}

// TimeoutDuration 超时时间
func (c MLConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// WatcherConfig 目录监听配置
type WatcherConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Dir          string `mapstructure:"dir"`
	ScanExisting bool   `mapstructure:"scan_existing"` // 启动时处理目录中已有文件
}

// DexConfig DEX 扫描配置
type DexConfig struct {
	PoolSize int `mapstructure:"pool_size"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.max_upload_mb", 200)
	v.SetDefault("server.sync_timeout", 120)

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.path", "./data/reports.db")

	v.SetDefault("rabbitmq.port", 5672)
	v.SetDefault("rabbitmq.queue", "apk_risk_scans")

	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.queue_size", 100)
	v.SetDefault("worker.task_timeout", 300)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.caller", true)

	w := scoring.DefaultWeights()
	v.SetDefault("scoring.weights.high", w.High)
	v.SetDefault("scoring.weights.medium", w.Medium)
	v.SetDefault("scoring.weights.low", w.Low)
	v.SetDefault("scoring.weights.unknown", w.Unknown)

	v.SetDefault("ml.timeout", 5)
	v.SetDefault("ml.max_retries", 2)

	v.SetDefault("watcher.dir", "./inbound_apks")
	v.SetDefault("dex.pool_size", 2)
	v.SetDefault("apk_dir", "./uploads")
}

// Load 读取配置文件，path 为空时只使用默认值和环境变量
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// 环境变量覆盖（支持嵌套配置）
	v.AutomaticEnv()

	// 绑定环境变量到嵌套配置路径
	// RabbitMQ
	v.BindEnv("rabbitmq.host", "RABBITMQ_HOST")
	v.BindEnv("rabbitmq.port", "RABBITMQ_PORT")
	v.BindEnv("rabbitmq.user", "RABBITMQ_USER")
	v.BindEnv("rabbitmq.password", "RABBITMQ_PASS")

	// Database
	v.BindEnv("database.host", "MYSQL_HOST")
	v.BindEnv("database.port", "MYSQL_PORT")
	v.BindEnv("database.user", "MYSQL_USER")
	v.BindEnv("database.password", "MYSQL_PASS")
	v.BindEnv("database.db_name", "MYSQL_DB")

	// 外部模型
	v.BindEnv("ml.url", "ML_MODEL_URL")

	v.BindEnv("server.api_token", "API_TOKEN")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Scoring.Weights.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scoring weights: %w", err)
	}

	return &cfg, nil
}
