package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"instagrade/internal/common/cache"
	"instagrade/internal/common/db"
	"instagrade/internal/common/mq"
	"instagrade/internal/common/storage"
	"instagrade/internal/grading/sandbox"
	"instagrade/internal/similarity"
	"instagrade/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8090"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 60 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 15 * time.Second
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// KafkaConfig holds Kafka settings.
type KafkaConfig struct {
	Brokers         []string      `yaml:"brokers"`
	ClientID        string        `yaml:"clientID"`
	MinBytes        int           `yaml:"minBytes"`
	MaxBytes        int           `yaml:"maxBytes"`
	MaxWait         time.Duration `yaml:"maxWait"`
	BatchSize       int           `yaml:"batchSize"`
	BatchTimeout    time.Duration `yaml:"batchTimeout"`
	DialTimeout     time.Duration `yaml:"dialTimeout"`
	GradeTopic      string        `yaml:"gradeTopic"`
	ScanTopic       string        `yaml:"scanTopic"`
	EvaluationTopic string        `yaml:"evaluationTopic"`
	RetryTopic      string        `yaml:"retryTopic"`
	DeadLetter      string        `yaml:"deadLetterTopic"`
	GradeWeight     int           `yaml:"gradeWeight"`
	RetryWeight     int           `yaml:"retryWeight"`
	ConsumerGroup   string        `yaml:"consumerGroup"`
	Concurrency     int           `yaml:"concurrency"`
	MaxRetries      int           `yaml:"maxRetries"`
	RetryDelay      time.Duration `yaml:"retryDelay"`
	MessageTTL      time.Duration `yaml:"messageTTL"`
	PoolRetryMax    int           `yaml:"poolRetryMax"`
	PoolRetryBase   time.Duration `yaml:"poolRetryBaseDelay"`
	PoolRetryMaxD   time.Duration `yaml:"poolRetryMaxDelay"`
}

// SandboxConfig selects and tunes the isolation backend.
type SandboxConfig struct {
	Strategy       string        `yaml:"strategy"`
	WorkRoot       string        `yaml:"workRoot"`
	KillMargin     time.Duration `yaml:"killMargin"`
	MemoryMB       int64         `yaml:"memoryMB"`
	PidsLimit      int64         `yaml:"pidsLimit"`
	CPUs           float64       `yaml:"cpus"`
	MaxOutputBytes int           `yaml:"maxOutputBytes"`
	PullImages     bool          `yaml:"pullImages"`
	DockerHost     string        `yaml:"dockerHost"`
	LauncherPath   string        `yaml:"launcherPath"`
	CgroupRoot     string        `yaml:"cgroupRoot"`
	OutputMB       int64         `yaml:"outputMB"`
}

// GradingConfig holds grading pool settings.
type GradingConfig struct {
	PoolSize         int           `yaml:"poolSize"`
	DefaultTimeLimit time.Duration `yaml:"defaultTimeLimit"`
	Comparator       string        `yaml:"comparator"`
	JobTimeout       time.Duration `yaml:"jobTimeout"`
	PersistTimeout   time.Duration `yaml:"persistTimeout"`
	ScanAfterGrade   bool          `yaml:"scanAfterGrade"`
	SummaryTTL       time.Duration `yaml:"summaryTTL"`
	MaxFileBytes     int64         `yaml:"maxFileBytes"`
	StageRoot        string        `yaml:"stageRoot"`
}

// PlagiarismConfig holds scan settings.
type PlagiarismConfig struct {
	Threshold float64       `yaml:"threshold"`
	Workers   int           `yaml:"workers"`
	LockTTL   time.Duration `yaml:"lockTTL"`
}

// AppConfig holds grader-worker config.
type AppConfig struct {
	Server     ServerConfig        `yaml:"server"`
	Logger     logger.Config       `yaml:"logger"`
	Kafka      KafkaConfig         `yaml:"kafka"`
	Database   db.MySQLConfig      `yaml:"database"`
	Redis      cache.RedisConfig   `yaml:"redis"`
	MinIO      storage.MinIOConfig `yaml:"minio"`
	Sandbox    SandboxConfig       `yaml:"sandbox"`
	Grading    GradingConfig       `yaml:"grading"`
	Plagiarism PlagiarismConfig    `yaml:"plagiarism"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *AppConfig) validate() error {
	if cfg.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}
	if cfg.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}
	switch strings.ToLower(cfg.Sandbox.Strategy) {
	case "", "docker", "direct":
	default:
		return fmt.Errorf("unknown sandbox strategy %q", cfg.Sandbox.Strategy)
	}
	if cfg.Plagiarism.Threshold < 0 || cfg.Plagiarism.Threshold > 1 {
		return fmt.Errorf("plagiarism threshold %v is outside [0,1]", cfg.Plagiarism.Threshold)
	}
	return nil
}

func (cfg *AppConfig) applyDefaults() {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	cfg.Database.ApplyDefaults()
	cfg.Redis.ApplyDefaults()

	k := &cfg.Kafka
	if k.GradeTopic == "" {
		k.GradeTopic = "grading.jobs"
	}
	if k.ScanTopic == "" {
		k.ScanTopic = "grading.scans"
	}
	if k.EvaluationTopic == "" {
		k.EvaluationTopic = "grading.evaluations"
	}
	if k.RetryTopic == "" {
		k.RetryTopic = "grading.jobs.retry"
	}
	if k.GradeWeight <= 0 {
		k.GradeWeight = 4
	}
	if k.RetryWeight <= 0 {
		k.RetryWeight = 1
	}
	if k.PoolRetryMax <= 0 {
		k.PoolRetryMax = 5
	}
	if k.PoolRetryBase == 0 {
		k.PoolRetryBase = time.Second
	}
	if k.PoolRetryMaxD == 0 {
		k.PoolRetryMaxD = 30 * time.Second
	}

	if cfg.Sandbox.Strategy == "" {
		cfg.Sandbox.Strategy = "docker"
	}
	cfg.Sandbox.Strategy = strings.ToLower(cfg.Sandbox.Strategy)
	if cfg.Sandbox.WorkRoot == "" {
		cfg.Sandbox.WorkRoot = os.TempDir()
	}

	g := &cfg.Grading
	if g.PoolSize <= 0 {
		g.PoolSize = 1
	}
	if g.DefaultTimeLimit <= 0 {
		g.DefaultTimeLimit = sandbox.DefaultTimeLimit
	}
	if g.PersistTimeout <= 0 {
		g.PersistTimeout = 5 * time.Second
	}
	if g.Comparator == "" {
		g.Comparator = "trimmed"
	}
	if g.StageRoot == "" {
		g.StageRoot = cfg.Sandbox.WorkRoot
	}
	if k.Concurrency <= 0 {
		k.Concurrency = g.PoolSize
	}

	if cfg.Plagiarism.Threshold == 0 {
		cfg.Plagiarism.Threshold = similarity.DefaultThreshold
	}
}

func (k KafkaConfig) toMQConfig() mq.KafkaConfig {
	return mq.KafkaConfig{
		Brokers:      k.Brokers,
		ClientID:     k.ClientID,
		BatchSize:    k.BatchSize,
		BatchTimeout: k.BatchTimeout,
		MinBytes:     k.MinBytes,
		MaxBytes:     k.MaxBytes,
		MaxWait:      k.MaxWait,
		DialTimeout:  k.DialTimeout,
	}
}

// gradeTopics is the weighted subscription for fresh and requeued jobs.
func (k KafkaConfig) gradeTopics() []mq.WeightedTopic {
	return []mq.WeightedTopic{
		{Topic: k.GradeTopic, Weight: k.GradeWeight},
		{Topic: k.RetryTopic, Weight: k.RetryWeight},
	}
}

func (k KafkaConfig) subscribeOptions(group string) *mq.SubscribeOptions {
	return &mq.SubscribeOptions{
		ConsumerGroup:   group,
		Concurrency:     k.Concurrency,
		MaxRetries:      k.MaxRetries,
		RetryDelay:      k.RetryDelay,
		DeadLetterTopic: k.DeadLetter,
		MessageTTL:      k.MessageTTL,
	}
}

func (s SandboxConfig) dockerConfig() sandbox.DockerConfig {
	return sandbox.DockerConfig{
		Host:           s.DockerHost,
		MemoryMB:       s.MemoryMB,
		PidsLimit:      s.PidsLimit,
		CPUs:           s.CPUs,
		KillMargin:     s.KillMargin,
		MaxOutputBytes: s.MaxOutputBytes,
		PullImages:     s.PullImages,
	}
}

func (s SandboxConfig) directConfig() sandbox.DirectConfig {
	return sandbox.DirectConfig{
		LauncherPath:   s.LauncherPath,
		CgroupRoot:     s.CgroupRoot,
		KillMargin:     s.KillMargin,
		MemoryMB:       s.MemoryMB,
		PidsLimit:      s.PidsLimit,
		OutputMB:       s.OutputMB,
		MaxOutputBytes: s.MaxOutputBytes,
	}
}
