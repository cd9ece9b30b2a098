package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DaemonConfig is the flat, single-level configuration struct SPEC_FULL's
// Configuration section describes: no parent-config chain, loaded once at
// startup (spec.md §9 DESIGN NOTES). It is expressed with both json and
// yaml tags so the same struct loads either the JSON daemon config or the
// human-edited `keyguardd.yaml` bootstrap file.
type DaemonConfig struct {
	Server struct {
		SocketPath       string `json:"socketPath" yaml:"socketPath"`
		MaxConnectionNum int    `json:"maxConnectionNum" yaml:"maxConnectionNum"`
		KeyAccessControl bool   `json:"keyAccessControl" yaml:"keyAccessControl"`
		IdsmReporting    bool   `json:"idsmReporting" yaml:"idsmReporting"`
		AdminAddr        string `json:"adminAddr" yaml:"adminAddr"`
		MetricsAddr      string `json:"metricsAddr" yaml:"metricsAddr"`
		KnownProviders   []string `json:"knownProviders" yaml:"knownProviders"`
		X509Available    bool     `json:"x509Available" yaml:"x509Available"`
	} `json:"server" yaml:"server"`

	Database struct {
		Path string `json:"path" yaml:"path"`
	} `json:"database" yaml:"database"`

	AccessControl struct {
		ConfigPath string `json:"configPath" yaml:"configPath"`
	} `json:"accessControl" yaml:"accessControl"`

	X509 struct {
		Storage struct {
			Root string `json:"root" yaml:"root"`
		} `json:"storage" yaml:"storage"`
		Access struct {
			CAConnectorID string `json:"caConnectorId" yaml:"caConnectorId"`
			TrustmasterID string `json:"trustmasterId" yaml:"trustmasterId"`
		} `json:"access" yaml:"access"`
	} `json:"x509" yaml:"x509"`
}

func defaultConfig() DaemonConfig {
	var cfg DaemonConfig
	cfg.Server.SocketPath = "/run/keyguardd/keyguardd.sock"
	cfg.Server.MaxConnectionNum = 10
	cfg.Server.AdminAddr = "127.0.0.1:9091"
	cfg.Server.MetricsAddr = "127.0.0.1:9090"
	cfg.Database.Path = "/var/lib/keyguardd/slots.db"
	return cfg
}

// loadConfig reads a daemon config file, translating a `.yaml`/`.yml`
// bootstrap file into the same struct the JSON config uses.
func loadConfig(path string) (DaemonConfig, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse bootstrap config %s: %w", path, err)
		}
		return cfg, nil
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
