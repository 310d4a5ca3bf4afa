package knnlib

import (
	"runtime"
	"sync"

	"github.com/hupe1980/knnlib/engine"
)

// InitOptions configures the library once per process.
type InitOptions struct {
	// TrainingWorkers bounds the goroutines used to train quantizers.
	// Zero means GOMAXPROCS.
	TrainingWorkers int
}

var (
	initOnce   sync.Once
	initResult error
	workersMu  sync.RWMutex
	workers    = runtime.GOMAXPROCS(0)
)

// Init applies process-wide settings and freezes the engine registry.
// Only the first call has an effect; later calls return its result.
func Init(opts InitOptions) error {
	initOnce.Do(func() {
		if opts.TrainingWorkers < 0 {
			initResult = invalid("training_workers", "must not be negative, got %d", opts.TrainingWorkers)
			return
		}
		if opts.TrainingWorkers > 0 {
			workersMu.Lock()
			workers = opts.TrainingWorkers
			workersMu.Unlock()
		}
		engine.Freeze()
	})
	return initResult
}

func trainingWorkers() int {
	workersMu.RLock()
	defer workersMu.RUnlock()
	return workers
}
