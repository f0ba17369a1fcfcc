package resource_manager

import (
	"sync"
	"time"

	"github.com/eleven-am/weft/internal/domain"
)

const waitSampleSize = 100

// WaitMonitor keeps the most recent acquire wait times per class.
type WaitMonitor struct {
	samples map[domain.ResourceClass][]time.Duration
	max     map[domain.ResourceClass]time.Duration
	mu      sync.RWMutex
}

func NewWaitMonitor() *WaitMonitor {
	return &WaitMonitor{
		samples: make(map[domain.ResourceClass][]time.Duration),
		max:     make(map[domain.ResourceClass]time.Duration),
	}
}

func (wm *WaitMonitor) RecordWait(class domain.ResourceClass, wait time.Duration) {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	samples := append(wm.samples[class], wait)
	if len(samples) > waitSampleSize {
		samples = samples[1:]
	}
	wm.samples[class] = samples

	if wait > wm.max[class] {
		wm.max[class] = wait
	}
}

func (wm *WaitMonitor) AvgWait(class domain.ResourceClass) time.Duration {
	wm.mu.RLock()
	defer wm.mu.RUnlock()

	samples := wm.samples[class]
	if len(samples) == 0 {
		return 0
	}

	var total time.Duration
	for _, d := range samples {
		total += d
	}
	return total / time.Duration(len(samples))
}

func (wm *WaitMonitor) MaxWait(class domain.ResourceClass) time.Duration {
	wm.mu.RLock()
	defer wm.mu.RUnlock()
	return wm.max[class]
}

func utilization(active, limit int) float64 {
	if limit == 0 {
		return 0.0
	}
	return float64(active) / float64(limit)
}
