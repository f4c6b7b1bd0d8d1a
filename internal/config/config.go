// Copyright (C) 2025, QuorumDAG Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config defines the single structured configuration document
// §6 enumerates, with Valid() validation in the same
// fmt.Errorf("... fails the condition that: ...")-style the teacher's
// config/types.go Parameters.Valid uses, and Default applying
// defaults the way confidence/factory.go composes defaulted instances.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Node holds this replica's identity and local paths.
type Node struct {
	ID       string `yaml:"id"`
	DataDir  string `yaml:"data_dir"`
	LogLevel string `yaml:"log_level"` // debug|info|warn|error
}

// Consensus holds BFT phase-engine tuning.
type Consensus struct {
	Algorithm           string  `yaml:"algorithm"` // only "bft"
	QuorumThreshold     float64 `yaml:"quorum_threshold"`
	FinalityTimeoutMS   uint32  `yaml:"finality_timeout_ms"`
	ViewChangeTimeoutMS uint32  `yaml:"view_change_timeout_ms"`
	MaxPendingVertices  uint32  `yaml:"max_pending_vertices"`
}

// Confidence holds Avalanche-style sampling tuning.
type Confidence struct {
	SampleSize             int     `yaml:"sample_size_k"`
	Alpha                  int     `yaml:"alpha"`
	Beta                   int     `yaml:"beta"`
	FinalizationThreshold  float64 `yaml:"finalization_threshold"`
	MaxRounds              int     `yaml:"max_rounds"`
	QueryTimeoutMS         uint32  `yaml:"query_timeout_ms"`
}

// Network holds peer discovery and transport tuning.
type Network struct {
	ListenAddr        string   `yaml:"listen_addr"`
	BootstrapPeers    []string `yaml:"bootstrap_peers"`
	MaxPeers          int      `yaml:"max_peers"`
	EnableMDNS        bool     `yaml:"enable_mdns"`
	EnableNATTraversal bool    `yaml:"enable_nat_traversal"`
	STUNServers       []string `yaml:"stun_servers"`
}

// Storage holds DAG-store tuning.
type Storage struct {
	Path          string `yaml:"path"`
	CacheSizeMB   int    `yaml:"cache_size_mb"`
	WriteBufferMB int    `yaml:"write_buffer_mb"`
	Compression   bool   `yaml:"compression"`
	BloomFilters  bool   `yaml:"bloom_filters"`
}

// Crypto holds key material location and algorithm mode. The algorithm
// names are fixed by §6; only HybridMode and KeyPath are operator-set.
type Crypto struct {
	SignatureAlgorithm string `yaml:"signature_algorithm"` // fixed: post-quantum
	KEMAlgorithm       string `yaml:"kem_algorithm"`       // fixed: post-quantum
	HashAlgorithm      string `yaml:"hash_algorithm"`      // fixed: blake3-256
	HybridMode         bool   `yaml:"hybrid_mode"`
	KeyPath            string `yaml:"key_path"`
}

// Metrics holds the pull-endpoint the metrics scraper collaborator reads.
type Metrics struct {
	Enabled  bool   `yaml:"enabled"`
	Port     int    `yaml:"port"`
	Endpoint string `yaml:"endpoint"`
}

// Backup holds snapshot scheduling for the DAG store.
type Backup struct {
	Enabled       bool `yaml:"enabled"`
	IntervalHours int  `yaml:"interval_hours"`
	RetentionDays int  `yaml:"retention_days"`
	Path          string `yaml:"path"`
}

// Config is the top-level document. Every field maps to one §6 option.
type Config struct {
	Node       Node       `yaml:"node"`
	Consensus  Consensus  `yaml:"consensus"`
	Confidence Confidence `yaml:"confidence"`
	Network    Network    `yaml:"network"`
	Storage    Storage    `yaml:"storage"`
	Crypto     Crypto     `yaml:"crypto"`
	Metrics    Metrics    `yaml:"metrics"`
	Backup     Backup     `yaml:"backup"`
}

// Default returns a Config with every §6-documented default applied.
func Default() Config {
	return Config{
		Node: Node{LogLevel: "info"},
		Consensus: Consensus{
			Algorithm:           "bft",
			QuorumThreshold:     0.67,
			FinalityTimeoutMS:   500,
			ViewChangeTimeoutMS: 5000,
			MaxPendingVertices:  10_000,
		},
		Confidence: Confidence{
			SampleSize:            30,
			Alpha:                 24,
			Beta:                  20,
			FinalizationThreshold: 0.95,
			MaxRounds:             1000,
			QueryTimeoutMS:        5000,
		},
		Network: Network{MaxPeers: 50},
		Storage: Storage{CacheSizeMB: 512, WriteBufferMB: 128},
		Crypto: Crypto{
			SignatureAlgorithm: "post-quantum",
			KEMAlgorithm:       "post-quantum",
			HashAlgorithm:      "blake3-256",
		},
	}
}

// Load parses a YAML document into a Config, starting from Default() so
// any field the document omits keeps its default value.
func Load(raw []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Valid(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// QueryTimeout returns the confidence-tracker query timeout as a
// time.Duration.
func (c Confidence) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutMS) * time.Millisecond
}

// ViewChangeTimeout returns the BFT view-change timeout as a
// time.Duration.
func (c Consensus) ViewChangeTimeout() time.Duration {
	return time.Duration(c.ViewChangeTimeoutMS) * time.Millisecond
}

// Valid reports whether cfg's fields satisfy the invariants §6 and §4.C
// describe, in the same switch-of-conditions style the teacher's
// Parameters.Valid uses.
func (c Config) Valid() error {
	switch {
	case c.Node.ID == "":
		return fmt.Errorf("node.id = %q: fails the condition that: node.id must be non-empty", c.Node.ID)
	case c.Consensus.Algorithm != "bft":
		return fmt.Errorf("consensus.algorithm = %q: fails the condition that: algorithm must be \"bft\"", c.Consensus.Algorithm)
	case c.Consensus.QuorumThreshold <= 0.5 || c.Consensus.QuorumThreshold > 1:
		return fmt.Errorf("consensus.quorum_threshold = %v: fails the condition that: 0.5 < quorum_threshold <= 1", c.Consensus.QuorumThreshold)
	case c.Confidence.SampleSize <= 0:
		return fmt.Errorf("confidence.sample_size_k = %d: fails the condition that: 0 < k", c.Confidence.SampleSize)
	case c.Confidence.Alpha <= c.Confidence.SampleSize/2:
		return fmt.Errorf("confidence.alpha = %d, k = %d: fails the condition that: k/2 < alpha", c.Confidence.Alpha, c.Confidence.SampleSize)
	case c.Confidence.Alpha > c.Confidence.SampleSize:
		return fmt.Errorf("confidence.alpha = %d, k = %d: fails the condition that: alpha <= k", c.Confidence.Alpha, c.Confidence.SampleSize)
	case c.Confidence.Beta <= 0:
		return fmt.Errorf("confidence.beta = %d: fails the condition that: 0 < beta", c.Confidence.Beta)
	case c.Confidence.FinalizationThreshold <= 0 || c.Confidence.FinalizationThreshold > 1:
		return fmt.Errorf("confidence.finalization_threshold = %v: fails the condition that: 0 < threshold <= 1", c.Confidence.FinalizationThreshold)
	case c.Network.MaxPeers <= 0:
		return fmt.Errorf("network.max_peers = %d: fails the condition that: 0 < max_peers", c.Network.MaxPeers)
	case c.Crypto.SignatureAlgorithm != "post-quantum":
		return fmt.Errorf("crypto.signature_algorithm = %q: fails the condition that: signature_algorithm must be \"post-quantum\"", c.Crypto.SignatureAlgorithm)
	}
	switch c.Node.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("node.log_level = %q: fails the condition that: log_level in {debug,info,warn,error}", c.Node.LogLevel)
	}
	return nil
}
