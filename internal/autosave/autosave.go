package autosave

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/manpreetbhatti/docworld/internal/store"
)

type Config struct {
	Interval time.Duration
	// Upper bound on one flush pass
	Timeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval: 5 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// Scheduler persists the latest proposed snapshot of each room. Proposals
// replace each other (last write wins) and are written on every tick. A
// failed write stays pending and is retried on the next tick.
type Scheduler struct {
	store  store.Store
	config Config

	mu      sync.Mutex
	pending map[string]json.RawMessage

	stop chan struct{}
	wg   sync.WaitGroup
}

func New(s store.Store, config Config) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	return &Scheduler{
		store:   s,
		config:  config,
		pending: make(map[string]json.RawMessage),
		stop:    make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
	glog.Infof("Autosave started (interval: %v)", s.config.Interval)
}

// Stop ends the ticker and writes whatever is still pending.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)
	defer cancel()
	s.FlushAll(ctx)
	glog.Infof("Autosave stopped")
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)
			s.FlushAll(ctx)
			cancel()
		}
	}
}

// Propose records content as the room's latest snapshot.
func (s *Scheduler) Propose(roomID string, content json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[roomID] = content
}

func (s *Scheduler) Pending(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[roomID]
	return ok
}

func (s *Scheduler) take(roomID string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.pending[roomID]
	delete(s.pending, roomID)
	return content, ok
}

// Puts content back unless a newer proposal arrived while it was being written.
func (s *Scheduler) restore(roomID string, content json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[roomID]; !ok {
		s.pending[roomID] = content
	}
}

// Flush writes the room's pending snapshot now. It returns nil when nothing
// was pending.
func (s *Scheduler) Flush(ctx context.Context, roomID string) error {
	content, ok := s.take(roomID)
	if !ok {
		return nil
	}
	if err := s.store.Save(ctx, roomID, content); err != nil {
		s.restore(roomID, content)
		glog.Warningf("Autosave: failed for room %s, will retry: %v", roomID, err)
		return err
	}
	glog.V(2).Infof("Autosave: saved room %s (%d bytes)", roomID, len(content))
	return nil
}

// FlushAll writes every pending room and returns how many were saved.
func (s *Scheduler) FlushAll(ctx context.Context) int {
	s.mu.Lock()
	rooms := make([]string, 0, len(s.pending))
	for roomID := range s.pending {
		rooms = append(rooms, roomID)
	}
	s.mu.Unlock()

	saved := 0
	for _, roomID := range rooms {
		if err := s.Flush(ctx, roomID); err == nil {
			saved++
		}
	}
	if saved > 0 {
		glog.V(1).Infof("Autosave: saved %d rooms", saved)
	}
	return saved
}
