package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ChangeEvent describes a configuration reload.
type ChangeEvent struct {
	File      string    `json:"file"`
	Action    string    `json:"action"` // modify, create, manual_reload
	Config    *Config   `json:"-"`
	Timestamp time.Time `json:"timestamp"`
}

// ChangeHandler is called with the new configuration after a successful reload.
type ChangeHandler func(event ChangeEvent) error

// Manager holds the live configuration and reloads it when the file changes.
type Manager struct {
	v        *viper.Viper
	file     string
	current  *Config
	handlers []ChangeHandler
	started  bool
	logger   *zap.Logger
	mu       sync.RWMutex
	reloadMu sync.Mutex
}

// NewManager loads the configuration at path (or DEEPRESEARCH_CONFIG).
func NewManager(path string, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	return &Manager{v: v, file: v.ConfigFileUsed(), current: cfg, logger: logger}, nil
}

// Current returns the active configuration. Callers must not modify it.
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// RegisterHandler adds a reload handler.
func (m *Manager) RegisterHandler(handler ChangeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
}

// Start watches the config file for changes. Without a file it is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started || m.file == "" {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	m.v.OnConfigChange(m.handleWatchEvent)
	m.v.WatchConfig()
	m.logger.Info("Configuration watcher started", zap.String("file", m.file))
}

// Reload re-reads the file and applies it.
func (m *Manager) Reload() error {
	return m.reload("manual_reload")
}

func (m *Manager) handleWatchEvent(event fsnotify.Event) {
	var action string
	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		action = "create"
	case event.Op&fsnotify.Write == fsnotify.Write:
		action = "modify"
	case event.Op&fsnotify.Chmod == fsnotify.Chmod:
		return
	default:
		// Remove and rename leave the last good configuration in place.
		m.logger.Warn("Configuration file event ignored",
			zap.String("file", filepath.Base(event.Name)),
			zap.String("op", event.Op.String()),
		)
		return
	}
	if err := m.reload(action); err != nil {
		m.logger.Error("Configuration reload failed, keeping previous configuration",
			zap.String("file", filepath.Base(event.Name)),
			zap.Error(err),
		)
	}
}

func (m *Manager) reload(action string) error {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	if m.file != "" {
		if err := m.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", m.file, err)
		}
	}
	cfg, err := decode(m.v)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.current = cfg
	handlers := make([]ChangeHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	event := ChangeEvent{File: m.file, Action: action, Config: cfg, Timestamp: time.Now()}
	for _, h := range handlers {
		if err := h(event); err != nil {
			m.logger.Error("Configuration handler error",
				zap.String("action", action),
				zap.Error(err),
			)
		}
	}
	m.logger.Info("Configuration reloaded",
		zap.String("file", m.file),
		zap.String("action", action),
		zap.Int("handlers", len(handlers)),
	)
	return nil
}
