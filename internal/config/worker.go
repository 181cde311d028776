package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// WorkerConfig tunes the background job worker. It is reloaded at runtime
// when worker.yml changes.
type WorkerConfig struct {
	PollInterval      time.Duration `mapstructure:"pollInterval"`
	BatchSize         int           `mapstructure:"batchSize"`
	MaxAttempts       int           `mapstructure:"maxAttempts"`
	BackoffBase       time.Duration `mapstructure:"backoffBase"`
	BackoffMax        time.Duration `mapstructure:"backoffMax"`
	JitterFactor      float64       `mapstructure:"jitterFactor"`
	JobTimeout        time.Duration `mapstructure:"jobTimeout"`
	RecoveryThreshold time.Duration `mapstructure:"recoveryThreshold"`
	EnabledJobs       []string      `mapstructure:"enabledJobs"`
}

func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval:      2 * time.Second,
		BatchSize:         25,
		MaxAttempts:       10,
		BackoffBase:       5 * time.Second,
		BackoffMax:        30 * time.Minute,
		JitterFactor:      0.25,
		JobTimeout:        2 * time.Minute,
		RecoveryThreshold: 15 * time.Minute,
	}
}

type WorkerConfigHolder struct {
	current atomic.Value // holds WorkerConfig
}

// NewStaticWorkerConfigHolder returns a holder that never reloads.
func NewStaticWorkerConfigHolder(cfg WorkerConfig) *WorkerConfigHolder {
	holder := &WorkerConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewWorkerConfigHolder() (*WorkerConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("worker")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/railzway/config")
	v.AddConfigPath("/etc/railzway")
	v.AddConfigPath(".")

	return loadWorkerConfig(v, true)
}

// LoadWorkerConfigFile reads worker settings from an explicit file path.
func LoadWorkerConfigFile(path string) (*WorkerConfigHolder, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return loadWorkerConfig(v, false)
}

func loadWorkerConfig(v *viper.Viper, watch bool) (*WorkerConfigHolder, error) {
	v.SetEnvPrefix("RAILZWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultWorkerConfig()
	v.SetDefault("worker.pollInterval", defaults.PollInterval)
	v.SetDefault("worker.batchSize", defaults.BatchSize)
	v.SetDefault("worker.maxAttempts", defaults.MaxAttempts)
	v.SetDefault("worker.backoffBase", defaults.BackoffBase)
	v.SetDefault("worker.backoffMax", defaults.BackoffMax)
	v.SetDefault("worker.jitterFactor", defaults.JitterFactor)
	v.SetDefault("worker.jobTimeout", defaults.JobTimeout)
	v.SetDefault("worker.recoveryThreshold", defaults.RecoveryThreshold)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileLoaded = false
	}

	var cfg WorkerConfig
	if err := v.UnmarshalKey("worker", &cfg); err != nil {
		return nil, err
	}
	if err := validateWorkerConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticWorkerConfigHolder(cfg)
	if !watch || !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated WorkerConfig
		if err := v.UnmarshalKey("worker", &updated); err != nil {
			log.Printf("[worker-config] reload failed: %v", err)
			return
		}
		if err := validateWorkerConfig(updated); err != nil {
			log.Printf("[worker-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[worker-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *WorkerConfigHolder) Get() WorkerConfig {
	if h == nil {
		return DefaultWorkerConfig()
	}
	return h.current.Load().(WorkerConfig)
}

// JobEnabled reports whether the worker should claim jobs with the given name.
// An empty allow-list enables everything.
func (c WorkerConfig) JobEnabled(name string) bool {
	if len(c.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range c.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), name) {
			return true
		}
	}
	return false
}

func validateWorkerConfig(cfg WorkerConfig) error {
	if cfg.PollInterval <= 0 {
		return errors.New("worker.pollInterval must be positive")
	}
	if cfg.BatchSize <= 0 {
		return errors.New("worker.batchSize must be positive")
	}
	if cfg.MaxAttempts <= 0 {
		return errors.New("worker.maxAttempts must be positive")
	}
	if cfg.BackoffBase <= 0 || cfg.BackoffMax < cfg.BackoffBase {
		return errors.New("worker.backoffBase must be positive and not exceed worker.backoffMax")
	}
	if cfg.JitterFactor < 0 || cfg.JitterFactor >= 1 {
		return errors.New("worker.jitterFactor must be in [0, 1)")
	}
	return nil
}
