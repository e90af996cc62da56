package session

import (
	"log"
	"sync"
	"time"
)

// Liveness defaults: clients heartbeat every 30s, three misses means gone
const (
	DefaultSweepInterval  = 30 * time.Second
	DefaultStaleThreshold = 90 * time.Second
)

type ReaperConfig struct {
	Interval  time.Duration
	Threshold time.Duration
}

func DefaultReaperConfig() ReaperConfig {
	return ReaperConfig{
		Interval:  DefaultSweepInterval,
		Threshold: DefaultStaleThreshold,
	}
}

// Periodically expires participants whose liveness signal has lapsed,
// through the same removal path as an explicit leave
type Reaper struct {
	registry *Registry
	config   ReaperConfig
	stop     chan struct{}
	wg       sync.WaitGroup
}

func NewReaper(registry *Registry, config ReaperConfig) *Reaper {
	return &Reaper{
		registry: registry,
		config:   config,
		stop:     make(chan struct{}),
	}
}

func (rp *Reaper) Start() {
	rp.wg.Add(1)
	go rp.run()
	log.Printf("Reaper started (interval: %v, threshold: %v)",
		rp.config.Interval, rp.config.Threshold)
}

func (rp *Reaper) Stop() {
	close(rp.stop)
	rp.wg.Wait()
	log.Println("Reaper stopped")
}

func (rp *Reaper) run() {
	defer rp.wg.Done()

	ticker := time.NewTicker(rp.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-rp.stop:
			return
		case <-ticker.C:
			rp.registry.SweepStale(rp.config.Threshold)
		}
	}
}
