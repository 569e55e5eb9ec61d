package fetchlog

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/landwatch/landwatch/internal/fetch"
)

// Service provides an async fetch log writer. Emit performs a non-blocking
// channel send (drops on overflow); a background goroutine flushes batches
// to the Repo.
type Service struct {
	repo      *Repo
	queue     chan Entry
	batchSize int
	interval  time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// ServiceConfig configures the fetch log service.
type ServiceConfig struct {
	Repo          *Repo
	QueueSize     int
	FlushBatch    int
	FlushInterval time.Duration
}

// NewService creates a new fetch log service.
func NewService(cfg ServiceConfig) *Service {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 8192
	}
	batchSize := cfg.FlushBatch
	if batchSize <= 0 {
		batchSize = 1024
	}
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = time.Minute
	}
	return &Service{
		repo:      cfg.Repo,
		queue:     make(chan Entry, queueSize),
		batchSize: batchSize,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the background flush goroutine.
func (s *Service) Start() {
	s.wg.Add(1)
	go s.flushLoop()
}

// Stop signals the flush loop to stop, drains remaining entries, and returns.
func (s *Service) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// Emit enqueues an entry. Non-blocking; drops on overflow.
func (s *Service) Emit(entry Entry) {
	select {
	case s.queue <- entry:
	default:
		// Queue full; dropping beats blocking a land worker.
	}
}

// Repo returns the underlying repository for query access.
func (s *Service) Repo() *Repo {
	return s.repo
}

// EntryFromAttempt converts a dispatcher attempt record into a log entry.
func EntryFromAttempt(a fetch.Attempt) Entry {
	hash := ""
	if a.ContentHash != 0 {
		hash = fmt.Sprintf("%016x", a.ContentHash)
	}
	return Entry{
		ID:          a.ID,
		TsNs:        a.StartedAt.UnixNano(),
		Land:        a.Land,
		DurationNs:  a.Duration.Nanoseconds(),
		Outcome:     a.Outcome,
		HTTPStatus:  a.HTTPStatus,
		ProxyServer: a.ProxyServer,
		ContentHash: hash,
	}
}

// flushLoop runs until stopCh is closed, flushing on batch-size or timer.
func (s *Service) flushLoop() {
	defer s.wg.Done()

	batch := make([]Entry, 0, s.batchSize)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case entry := <-s.queue:
			batch = append(batch, entry)
			if len(batch) >= s.batchSize {
				s.flush(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(batch)
				batch = batch[:0]
			}

		case <-s.stopCh:
			s.drainAndFlush(batch)
			return
		}
	}
}

func (s *Service) drainAndFlush(batch []Entry) {
	for {
		select {
		case entry := <-s.queue:
			batch = append(batch, entry)
			if len(batch) >= s.batchSize {
				s.flush(batch)
				batch = batch[:0]
			}
		default:
			if len(batch) > 0 {
				s.flush(batch)
			}
			return
		}
	}
}

func (s *Service) flush(entries []Entry) {
	if n, err := s.repo.InsertBatch(entries); err != nil {
		log.Printf("[fetchlog] flush %d entries failed: %v", len(entries), err)
	} else if n > 0 {
		log.Printf("[fetchlog] flushed %d entries", n)
	}
}
