package controlplane

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/opscoredev/core/internal/config"
	"github.com/opscoredev/core/internal/orchestrator"
)

// ConfigService is the default ConfigManager: it guards the on-disk config
// file with an optimistic-concurrency hash check so two control-plane
// callers can't silently clobber each other's edits.
type ConfigService struct {
	mu   sync.RWMutex
	path string
	raw  string
	cfg  *config.Config
}

// NewConfigService loads path and returns a ConfigService backed by it.
func NewConfigService(path string) (*ConfigService, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("controlplane: reading config: %w", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("controlplane: loading config: %w", err)
	}
	return &ConfigService{path: path, raw: string(data), cfg: cfg}, nil
}

func hashOf(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// ConfigSnapshot returns the raw file contents and their integrity hash.
func (s *ConfigService) ConfigSnapshot(_ context.Context) (ConfigSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ConfigSnapshot{Path: s.path, Raw: s.raw, Hash: hashOf(s.raw)}, nil
}

// ConfigSchema returns the JSON Schema for the config file shape.
func (s *ConfigService) ConfigSchema(_ context.Context) ([]byte, error) {
	return config.JSONSchema()
}

// ApplyConfig validates raw against baseHash to detect a stale edit, parses
// and validates it, writes it to disk, and swaps it in as the service's
// current config. Run parameters that only take effect on the next
// Orchestrator Start (ManagerModel, AssistantModel, WorkingDirectory) are
// flagged as requiring a restart; Interval and MaxAssistants take effect
// live via the Orchestrator's UpdateInterval/UpdatePoolSize and do not.
func (s *ConfigService) ApplyConfig(_ context.Context, raw string, baseHash string) (*ConfigApplyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if baseHash != "" && baseHash != hashOf(s.raw) {
		return nil, fmt.Errorf("controlplane: config was modified since hash %s was read", baseHash)
	}

	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(s.path)), ".")
	next, err := config.LoadString(format, raw)
	if err != nil {
		return nil, fmt.Errorf("controlplane: invalid config: %w", err)
	}

	restart := next.Run.ManagerModel != s.cfg.Run.ManagerModel ||
		next.Run.AssistantModel != s.cfg.Run.AssistantModel ||
		next.Run.WorkingDirectory != s.cfg.Run.WorkingDirectory ||
		next.Gateway.Provider != s.cfg.Gateway.Provider

	if err := os.WriteFile(s.path, []byte(raw), 0o644); err != nil {
		return nil, fmt.Errorf("controlplane: writing config: %w", err)
	}
	s.raw = raw
	s.cfg = next

	return &ConfigApplyResult{Applied: true, RestartRequired: restart}, nil
}

// Config returns the currently active parsed config.
func (s *ConfigService) Config() config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.cfg
}

// RuntimeStatus is the default GatewayManager: it reports process uptime and
// listen addresses alongside the Orchestrator's run status.
type RuntimeStatus struct {
	orch      *orchestrator.Orchestrator
	server    config.ServerConfig
	version   string
	startTime time.Time
}

// NewRuntimeStatus builds a RuntimeStatus reporting on orch, stamped with
// the process start time and the version string to surface.
func NewRuntimeStatus(orch *orchestrator.Orchestrator, server config.ServerConfig, version string, startTime time.Time) *RuntimeStatus {
	return &RuntimeStatus{orch: orch, server: server, version: version, startTime: startTime}
}

// Orchestrator returns the Orchestrator this status reports on, for callers
// that need the full run Status rather than just uptime/addresses.
func (r *RuntimeStatus) Orchestrator() *orchestrator.Orchestrator { return r.orch }

// GatewayStatus reports process uptime, listen addresses, and the version.
func (r *RuntimeStatus) GatewayStatus(_ context.Context) (GatewayStatus, error) {
	uptime := time.Since(r.startTime)
	return GatewayStatus{
		UptimeSeconds: int64(uptime.Seconds()),
		Uptime:        uptime.String(),
		StartTime:     r.startTime.Format(time.RFC3339),
		HTTPAddress:   fmt.Sprintf("%s:%d", r.server.Host, r.server.HTTPPort),
		Version:       r.version,
	}, nil
}
