package online

import (
	"github.com/spf13/viper"
)

const (
	DefaultCommitRowInterval = 1000
	DefaultMaxCommitRetries  = 10
	DefaultWorkerPoolSize    = 4
)

type Options struct {
	// ConcurrentDMLAllowed lets foreground writes proceed against tables
	// under online change. When false such writes are rejected.
	ConcurrentDMLAllowed bool
	// CommitRowInterval is how many rows a background pass handles per
	// transaction.
	CommitRowInterval int64
	// MaxCommitRetries bounds restarts after retryable commit failures.
	MaxCommitRetries int
	// WorkerPoolSize sizes the pool running background passes.
	WorkerPoolSize int
}

func DefaultOptions() *Options {
	return (&Options{}).FillDefaults()
}

func (o *Options) FillDefaults() *Options {
	if o.CommitRowInterval <= 0 {
		o.CommitRowInterval = DefaultCommitRowInterval
	}
	if o.MaxCommitRetries <= 0 {
		o.MaxCommitRetries = DefaultMaxCommitRetries
	}
	if o.WorkerPoolSize <= 0 {
		o.WorkerPoolSize = DefaultWorkerPoolSize
	}
	return o
}

// OptionsFromViper reads the "online" section of a loaded config.
func OptionsFromViper(v *viper.Viper) *Options {
	v.SetDefault("online.concurrent-dml-allowed", true)
	v.SetDefault("online.commit-row-interval", DefaultCommitRowInterval)
	v.SetDefault("online.max-commit-retries", DefaultMaxCommitRetries)
	v.SetDefault("online.worker-pool-size", DefaultWorkerPoolSize)
	o := &Options{
		ConcurrentDMLAllowed: v.GetBool("online.concurrent-dml-allowed"),
		CommitRowInterval:    v.GetInt64("online.commit-row-interval"),
		MaxCommitRetries:     v.GetInt("online.max-commit-retries"),
		WorkerPoolSize:       v.GetInt("online.worker-pool-size"),
	}
	return o.FillDefaults()
}
