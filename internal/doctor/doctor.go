// Package doctor runs environment health checks: config document, git
// binary, and package cache.
package doctor

import (
	"context"
	"os"
	"path/filepath"

	"hoonpm/internal/cache"
	"hoonpm/internal/config"
	"hoonpm/internal/gitfetch"
)

type Finding struct {
	Code    string `json:"code"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

type Report struct {
	Healthy  bool      `json:"healthy"`
	Findings []Finding `json:"findings"`
}

type Service struct {
	ConfigPath string
	Fetcher    *gitfetch.Fetcher
	Cache      *cache.PackageCache
}

func (s *Service) Run(ctx context.Context) Report {
	findings := []Finding{}

	if _, err := os.Stat(s.ConfigPath); err != nil {
		findings = append(findings, Finding{Code: "DOC_CONFIG_MISSING", Level: "error", Message: err.Error()})
	} else if _, err := config.Load(s.ConfigPath); err != nil {
		findings = append(findings, Finding{Code: "DOC_CONFIG_INVALID", Level: "error", Message: err.Error()})
	}

	if s.Fetcher != nil {
		if err := s.Fetcher.CheckGitAvailable(ctx); err != nil {
			findings = append(findings, Finding{Code: "GIT_MISSING", Level: "error", Message: err.Error()})
		}
	}

	if s.Cache != nil {
		probe := filepath.Join(s.Cache.Root(), ".doctor-probe")
		if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
			findings = append(findings, Finding{Code: "CACHE_UNWRITABLE", Level: "error", Message: err.Error()})
		} else {
			os.Remove(probe)
		}
		if _, err := s.Cache.LoadIndex(); err != nil {
			findings = append(findings, Finding{Code: "CACHE_INDEX_INVALID", Level: "warn", Message: err.Error()})
		}
	}

	healthy := true
	for _, f := range findings {
		if f.Level == "error" {
			healthy = false
			break
		}
	}
	return Report{Healthy: healthy, Findings: findings}
}
