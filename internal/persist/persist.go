package persist

import (
	"log"
	"sync"
	"time"

	"github.com/nkapadia/scrawl/backend/internal/session"
)

type Config struct {
	Interval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
	}
}

// Periodically flushes dirty session content to the durable store, keeping
// saves off the broadcast path
type Service struct {
	registry *session.Registry
	config   Config
	stop     chan struct{}
	wg       sync.WaitGroup
}

func New(registry *session.Registry, config Config) *Service {
	return &Service{
		registry: registry,
		config:   config,
		stop:     make(chan struct{}),
	}
}

func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
	log.Printf("Persist service started (interval: %v)", s.config.Interval)
}

func (s *Service) Stop() {
	close(s.stop)
	s.wg.Wait()
	s.flush()
	log.Println("Persist service stopped")
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.flush()
		}
	}
}

func (s *Service) flush() {
	saved, err := s.registry.FlushDirty()
	if err != nil {
		log.Printf("Persist: save failed: %v", err)
	}
	if saved > 0 {
		log.Printf("Persist: saved %d document(s)", saved)
	}
}

// FlushNow forces an immediate save pass
func (s *Service) FlushNow() {
	s.flush()
}
