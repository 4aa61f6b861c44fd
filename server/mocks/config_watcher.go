// Package mocks provides test doubles shared by the server tests.
package mocks

import (
	"sync"

	"github.com/teilomillet/econochat/config"
)

// MockConfigWatcher provides a testable implementation of config.Watcher
type MockConfigWatcher struct {
	mu          sync.Mutex
	current     *config.Config
	subscribers []chan *config.Config
	closed      bool
}

// Verify at compile time that MockConfigWatcher implements config.Watcher
var _ config.Watcher = (*MockConfigWatcher)(nil)

// NewMockConfigWatcher creates a new MockConfigWatcher initialized with the provided config
func NewMockConfigWatcher(cfg *config.Config) *MockConfigWatcher {
	return &MockConfigWatcher{current: cfg}
}

// GetCurrentConfig implements config.Watcher
func (m *MockConfigWatcher) GetCurrentConfig() *config.Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Subscribe implements config.Watcher. Like the file watcher, it does not
// replay the current configuration.
func (m *MockConfigWatcher) Subscribe() <-chan *config.Config {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan *config.Config, 1)
	if m.closed {
		close(ch)
		return ch
	}
	m.subscribers = append(m.subscribers, ch)
	return ch
}

// Close implements config.Watcher
func (m *MockConfigWatcher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	for _, ch := range m.subscribers {
		close(ch)
	}
	m.subscribers = nil
	return nil
}

// UpdateConfig is a test helper that simulates configuration changes. A
// pending update a subscriber has not read yet is replaced.
func (m *MockConfigWatcher) UpdateConfig(cfg *config.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.current = cfg
	for _, ch := range m.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- cfg
	}
}
