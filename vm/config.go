package vm

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// ---------------------------------------------------------------------------
// Runtime configuration
// ---------------------------------------------------------------------------

// Config is the rusty.toml runtime configuration.
type Config struct {
	Heap  HeapConfig  `toml:"heap"`
	Stack StackConfig `toml:"stack"`
	Cache CacheConfig `toml:"cache"`
	Log   LogConfig   `toml:"log"`
}

// HeapConfig sizes the managed heap.
type HeapConfig struct {
	// Words is the initial semispace size in words.
	Words int `toml:"words"`

	// MaxWords bounds growth; 0 means unlimited.
	MaxWords int `toml:"max-words"`
}

// StackConfig bounds the interpreter's control stack.
type StackConfig struct {
	MaxFrames int `toml:"max-frames"`
}

// CacheConfig configures the verified-bytecode cache.
type CacheConfig struct {
	// Path is the SQLite database file; empty disables the cache.
	Path string `toml:"path"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Verbosity follows commonlog: -1 silent, 0 errors .. 4 debug.
	Verbosity int `toml:"verbosity"`
}

// DefaultConfig returns the configuration used when no rusty.toml exists.
func DefaultConfig() Config {
	return Config{
		Heap:  HeapConfig{Words: 1 << 16},
		Stack: StackConfig{MaxFrames: 1024},
		Log:   LogConfig{Verbosity: 0},
	}
}

// LoadConfig parses a rusty.toml file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("cannot read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for nonsense values.
func (c *Config) Validate() error {
	if c.Heap.Words < 2 {
		return fmt.Errorf("heap.words must be at least 2, got %d", c.Heap.Words)
	}
	if c.Heap.MaxWords != 0 && c.Heap.MaxWords < c.Heap.Words {
		return fmt.Errorf("heap.max-words %d is below heap.words %d", c.Heap.MaxWords, c.Heap.Words)
	}
	if c.Stack.MaxFrames < 1 {
		return fmt.Errorf("stack.max-frames must be positive, got %d", c.Stack.MaxFrames)
	}
	if c.Log.Verbosity < -1 || c.Log.Verbosity > 4 {
		return fmt.Errorf("log.verbosity must be between -1 and 4, got %d", c.Log.Verbosity)
	}
	return nil
}
