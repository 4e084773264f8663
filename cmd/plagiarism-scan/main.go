// Command plagiarism-scan scans one assignment for similar submission
// pairs. By default it runs the scan in-process against the worker's
// database and object storage; with -queue it publishes a scan job for the
// workers instead.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"instagrade/internal/common/db"
	"instagrade/internal/common/mq"
	"instagrade/internal/common/storage"
	"instagrade/internal/grading/files"
	"instagrade/internal/grading/model"
	"instagrade/internal/grading/repository"
	"instagrade/internal/similarity"
	"instagrade/pkg/utils/logger"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "configs/grader_worker.yaml"

// scanConfig is the subset of the worker config the scan needs.
type scanConfig struct {
	Logger   logger.Config       `yaml:"logger"`
	Database db.MySQLConfig      `yaml:"database"`
	MinIO    storage.MinIOConfig `yaml:"minio"`
	Kafka    struct {
		Brokers   []string `yaml:"brokers"`
		ClientID  string   `yaml:"clientID"`
		ScanTopic string   `yaml:"scanTopic"`
	} `yaml:"kafka"`
	Plagiarism struct {
		Threshold float64 `yaml:"threshold"`
		Workers   int     `yaml:"workers"`
	} `yaml:"plagiarism"`
}

type options struct {
	configPath   string
	assignmentID int64
	threshold    float64
	queue        bool
	persist      bool
	timeout      time.Duration
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", defaultConfigPath, "Path to config file")
	flag.Int64Var(&opts.assignmentID, "assignment", 0, "Assignment id to scan")
	flag.Float64Var(&opts.threshold, "threshold", 0, "Similarity threshold in [0,1], 0 uses the configured one")
	flag.BoolVar(&opts.queue, "queue", false, "Publish a scan job instead of scanning here")
	flag.BoolVar(&opts.persist, "persist", true, "Store flagged pairs")
	flag.DurationVar(&opts.timeout, "timeout", 10*time.Minute, "Scan timeout")
	flag.Parse()

	if err := run(opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "plagiarism scan failed: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options, out io.Writer) error {
	if opts.assignmentID <= 0 {
		return fmt.Errorf("-assignment must be positive")
	}
	if opts.threshold < 0 || opts.threshold > 1 {
		return fmt.Errorf("-threshold must be within [0,1]")
	}
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logger); err != nil {
		return fmt.Errorf("init logger failed: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	if opts.queue {
		return enqueue(ctx, cfg, opts, out)
	}

	mysqlDB, err := db.NewMySQL(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("init database failed: %w", err)
	}
	defer func() {
		_ = mysqlDB.Close()
	}()
	store := repository.NewMySQLStore(mysqlDB)

	var objStorage storage.ObjectStorage
	if cfg.MinIO.Endpoint != "" {
		minioStorage, err := storage.NewMinIOStorage(cfg.MinIO)
		if err != nil {
			return fmt.Errorf("init minio failed: %w", err)
		}
		objStorage = minioStorage
	}
	resolver := files.NewResolver(objStorage, cfg.MinIO.Bucket, 0)

	var flags repository.FlagWriter
	if opts.persist {
		flags = store
	}
	return scan(ctx, store, resolver, flags, cfg, opts, out)
}

// scan runs the scanner and prints the flagged pairs as JSON. flags may be
// nil to skip persistence.
func scan(ctx context.Context, lister similarity.SubmissionLister, reader similarity.SourceReader, flags repository.FlagWriter, cfg *scanConfig, opts options, out io.Writer) error {
	threshold := opts.threshold
	if threshold == 0 {
		threshold = cfg.Plagiarism.Threshold
	}
	scanner := similarity.NewScanner(lister, reader, similarity.ScannerConfig{
		Threshold: threshold,
		Workers:   cfg.Plagiarism.Workers,
	})
	ctx = logger.WithAssignment(ctx, opts.assignmentID)
	pairs, err := scanner.Scan(ctx, opts.assignmentID, threshold)
	if err != nil {
		return err
	}
	logger.Info(ctx, "plagiarism scan finished", zap.Int("flagged", len(pairs)))
	if flags != nil {
		if err := flags.PersistPlagiarismFlags(ctx, opts.assignmentID, pairs); err != nil {
			return err
		}
	}
	if pairs == nil {
		pairs = []model.SimilarityPair{}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(pairs)
}

func enqueue(ctx context.Context, cfg *scanConfig, opts options, out io.Writer) error {
	queue, err := mq.NewKafkaQueue(mq.KafkaConfig{Brokers: cfg.Kafka.Brokers, ClientID: cfg.Kafka.ClientID})
	if err != nil {
		return fmt.Errorf("init kafka failed: %w", err)
	}
	defer func() {
		_ = queue.Close()
	}()
	publisher := repository.NewMQEventPublisher(queue, "", cfg.Kafka.ScanTopic)
	job := model.ScanJob{AssignmentID: opts.assignmentID, Threshold: opts.threshold}
	if err := publisher.RequestScan(ctx, job); err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "scan of assignment %d queued on %s\n", opts.assignmentID, cfg.Kafka.ScanTopic)
	return err
}

func loadConfig(path string) (*scanConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file failed: %w", err)
	}
	var cfg scanConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file failed: %w", err)
	}
	if cfg.Kafka.ScanTopic == "" {
		cfg.Kafka.ScanTopic = "grading.scans"
	}
	if cfg.Plagiarism.Threshold == 0 {
		cfg.Plagiarism.Threshold = similarity.DefaultThreshold
	}
	return &cfg, nil
}
