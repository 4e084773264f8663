package main

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestMergeMap(t *testing.T) {
	t.Parallel()
	base := map[string]interface{}{
		"sandbox": map[string]interface{}{"strategy": "docker", "memoryMB": 256},
		"kafka":   map[string]interface{}{"brokers": []interface{}{"a:9092"}},
	}
	override := map[string]interface{}{
		"sandbox": map[string]interface{}{"strategy": "direct"},
		"kafka":   map[string]interface{}{"brokers": []interface{}{"b:9092", "c:9092"}},
	}
	got, err := mergeMap(base, override)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	root := got.(map[string]interface{})
	sb := root["sandbox"].(map[string]interface{})
	if sb["strategy"] != "direct" || sb["memoryMB"] != 256 {
		t.Fatalf("expected nested merge, got %+v", sb)
	}
	if brokers := root["kafka"].(map[string]interface{})["brokers"].([]interface{}); len(brokers) != 2 {
		t.Fatalf("expected list replaced, got %+v", brokers)
	}
	if _, err := mergeMap([]interface{}{}, override); err == nil {
		t.Fatalf("expected error for non-map base")
	}
}

func TestRender(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	write("base.yaml", "sandbox:\n  strategy: docker\ngrading:\n  poolSize: 4\n")
	write("profile.yaml", `
outputDir: out
base: base.yaml
shared:
  kafkaBrokers: ["kafka:9092"]
  redisAddr: "redis:6379"
environments:
  dev:
    overrides:
      sandbox:
        strategy: direct
  prod:
    output: prod/worker.yaml
`)

	written, err := render(filepath.Join(dir, "profile.yaml"), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(written) != 2 || filepath.Base(written[0]) != "grader_worker.dev.yaml" || filepath.Base(written[1]) != "worker.yaml" {
		t.Fatalf("unexpected outputs %v", written)
	}

	var dev struct {
		Sandbox struct{ Strategy string } `yaml:"sandbox"`
		Grading struct {
			PoolSize int `yaml:"poolSize"`
		} `yaml:"grading"`
		Kafka struct{ Brokers []string } `yaml:"kafka"`
		Redis struct{ Addr string }      `yaml:"redis"`
	}
	data, err := os.ReadFile(written[0])
	if err != nil {
		t.Fatalf("read dev: %v", err)
	}
	if err := yaml.Unmarshal(data, &dev); err != nil {
		t.Fatalf("parse dev: %v", err)
	}
	if dev.Sandbox.Strategy != "direct" || dev.Grading.PoolSize != 4 {
		t.Fatalf("expected override on base, got %+v", dev)
	}
	if len(dev.Kafka.Brokers) != 1 || dev.Kafka.Brokers[0] != "kafka:9092" || dev.Redis.Addr != "redis:6379" {
		t.Fatalf("expected shared infra applied, got %+v", dev)
	}
}

func TestLoadProfileRequiresEnvironments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.yaml")
	if err := os.WriteFile(path, []byte("base: b.yaml\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := loadProfile(path); err == nil {
		t.Fatalf("expected error without environments")
	}
}
