package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// runConfig is the YAML configuration file accepted by `pamiqctl serve`.
type runConfig struct {
	StateRoot           string  `yaml:"state_root"`
	MaxKeepStates       int     `yaml:"max_keep_states"`
	MaxUptimeSeconds    float64 `yaml:"max_uptime_seconds"`
	SaveIntervalSeconds float64 `yaml:"save_interval_seconds"`
	ResumeFrom          string  `yaml:"resume_from"`
	StoreKind           string  `yaml:"store_kind"`
	DBPath              string  `yaml:"db_path"`
	Addr                string  `yaml:"addr"`
	TickInterval        float64 `yaml:"tick_interval"`
	LearningRate        float64 `yaml:"learning_rate"`
	TrainEvery          int     `yaml:"train_every"`
}

func defaultRunConfig() runConfig {
	return runConfig{
		StateRoot:     "states",
		MaxKeepStates: 10,
		// MaxUptimeSeconds, SaveIntervalSeconds, and ResumeFrom default to
		// zero/empty: no uptime ceiling, explicit-save-only persistence,
		// and automatic latest-state restore.
		StoreKind:    "memory",
		DBPath:       "pamiq.db",
		Addr:         ":7766",
		TickInterval: 0.01,
		LearningRate: 2.0,
		TrainEvery:   4,
	}
}

func loadRunConfig(path string) (runConfig, error) {
	cfg := defaultRunConfig()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
