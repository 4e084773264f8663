// Command configgen renders one grader-worker config per environment from a
// base YAML file plus per-environment overrides.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Profile lists the environments to render.
type Profile struct {
	OutputDir    string                        `yaml:"outputDir"`
	Base         string                        `yaml:"base"`
	Shared       SharedInfra                   `yaml:"shared"`
	Environments map[string]EnvironmentProfile `yaml:"environments"`
}

// SharedInfra is written into every rendered config when set.
type SharedInfra struct {
	KafkaBrokers []string `yaml:"kafkaBrokers"`
	DatabaseDSN  string   `yaml:"databaseDSN"`
	RedisAddr    string   `yaml:"redisAddr"`
}

// EnvironmentProfile is one rendered config.
type EnvironmentProfile struct {
	Output    string                 `yaml:"output"`
	Overrides map[string]interface{} `yaml:"overrides"`
}

func main() {
	profilePath := flag.String("profile", "configs/profile.yaml", "Path to config profile")
	outputDir := flag.String("output-dir", "", "Override output directory")
	flag.Parse()

	written, err := render(*profilePath, *outputDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configgen failed: %v\n", err)
		os.Exit(1)
	}
	for _, path := range written {
		fmt.Println(path)
	}
}

// render writes every environment and returns the written paths in name order.
func render(profilePath, outputDir string) ([]string, error) {
	profilePathAbs, err := filepath.Abs(profilePath)
	if err != nil {
		return nil, fmt.Errorf("resolve profile path failed: %w", err)
	}
	profile, err := loadProfile(profilePathAbs)
	if err != nil {
		return nil, err
	}
	if outputDir != "" {
		profile.OutputDir = outputDir
	}
	if profile.OutputDir == "" {
		return nil, errors.New("output directory is required")
	}
	profileDir := filepath.Dir(profilePathAbs)
	if !filepath.IsAbs(profile.OutputDir) {
		profile.OutputDir = filepath.Join(profileDir, profile.OutputDir)
	}
	base := profile.Base
	if !filepath.IsAbs(base) {
		base = filepath.Join(profileDir, base)
	}

	names := make([]string, 0, len(profile.Environments))
	for name := range profile.Environments {
		names = append(names, name)
	}
	sort.Strings(names)

	written := make([]string, 0, len(names))
	for _, name := range names {
		env := profile.Environments[name]
		config, err := loadYAML(base)
		if err != nil {
			return nil, fmt.Errorf("load base config for %q failed: %w", name, err)
		}
		if len(env.Overrides) > 0 {
			config, err = mergeMap(config, normalizeValue(env.Overrides))
			if err != nil {
				return nil, fmt.Errorf("merge overrides for %q failed: %w", name, err)
			}
		}
		config, err = applySharedInfra(profile.Shared, config)
		if err != nil {
			return nil, fmt.Errorf("apply shared infra for %q failed: %w", name, err)
		}
		output := env.Output
		if output == "" {
			output = "grader_worker." + name + ".yaml"
		}
		if !filepath.IsAbs(output) {
			output = filepath.Join(profile.OutputDir, output)
		}
		if err := writeYAML(output, config); err != nil {
			return nil, fmt.Errorf("write config for %q failed: %w", name, err)
		}
		written = append(written, output)
	}
	return written, nil
}

func loadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile failed: %w", err)
	}
	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile failed: %w", err)
	}
	if profile.Base == "" {
		return nil, errors.New("profile has no base config")
	}
	if len(profile.Environments) == 0 {
		return nil, errors.New("profile has no environments")
	}
	return &profile, nil
}

func loadYAML(path string) (interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read yaml failed: %w", err)
	}
	var value interface{}
	if err := yaml.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("parse yaml failed: %w", err)
	}
	return normalizeValue(value), nil
}

func writeYAML(path string, value interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir failed: %w", err)
	}
	data, err := yaml.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal yaml failed: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func normalizeValue(value interface{}) interface{} {
	switch typed := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			out[k] = normalizeValue(v)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			out[fmt.Sprintf("%v", k)] = normalizeValue(v)
		}
		return out
	case []interface{}:
		out := make([]interface{}, 0, len(typed))
		for _, item := range typed {
			out = append(out, normalizeValue(item))
		}
		return out
	default:
		return value
	}
}

// mergeMap overlays override on base. Nested maps merge; anything else,
// lists included, is replaced.
func mergeMap(base, override interface{}) (interface{}, error) {
	baseMap, ok := base.(map[string]interface{})
	if !ok {
		return nil, errors.New("base config is not a map")
	}
	overrideMap, ok := override.(map[string]interface{})
	if !ok {
		return nil, errors.New("override config is not a map")
	}
	merged := make(map[string]interface{}, len(baseMap))
	for k, v := range baseMap {
		merged[k] = v
	}
	for key, value := range overrideMap {
		baseChild, baseIsMap := merged[key].(map[string]interface{})
		overrideChild, overrideIsMap := value.(map[string]interface{})
		if baseIsMap && overrideIsMap {
			combined, err := mergeMap(baseChild, overrideChild)
			if err != nil {
				return nil, err
			}
			merged[key] = combined
			continue
		}
		merged[key] = value
	}
	return merged, nil
}

func applySharedInfra(shared SharedInfra, config interface{}) (interface{}, error) {
	root, ok := config.(map[string]interface{})
	if !ok {
		return nil, errors.New("config is not a map")
	}
	section := func(name string) map[string]interface{} {
		m, ok := root[name].(map[string]interface{})
		if !ok {
			m = map[string]interface{}{}
			root[name] = m
		}
		return m
	}
	if len(shared.KafkaBrokers) > 0 {
		brokers := make([]interface{}, len(shared.KafkaBrokers))
		for i, b := range shared.KafkaBrokers {
			brokers[i] = b
		}
		section("kafka")["brokers"] = brokers
	}
	if shared.DatabaseDSN != "" {
		section("database")["dsn"] = shared.DatabaseDSN
	}
	if shared.RedisAddr != "" {
		section("redis")["addr"] = shared.RedisAddr
	}
	return root, nil
}
