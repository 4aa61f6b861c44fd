package config

// Watcher is the source of configuration updates the server subscribes to.
type Watcher interface {
	GetCurrentConfig() *Config
	Subscribe() <-chan *Config
	Close() error
}

// StaticWatcher serves a fixed configuration. It is used when the server
// runs without a configuration file.
type StaticWatcher struct {
	cfg *Config
}

// NewStaticWatcher returns a watcher that never publishes updates.
func NewStaticWatcher(cfg *Config) *StaticWatcher {
	return &StaticWatcher{cfg: cfg}
}

func (w *StaticWatcher) GetCurrentConfig() *Config { return w.cfg }

// Subscribe returns a channel that never receives.
func (w *StaticWatcher) Subscribe() <-chan *Config { return make(chan *Config) }

func (w *StaticWatcher) Close() error { return nil }

var (
	_ Watcher = (*ConfigWatcher)(nil)
	_ Watcher = (*StaticWatcher)(nil)
)
