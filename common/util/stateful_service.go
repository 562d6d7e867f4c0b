package util

import (
	"context"
	"sync"

	"github.com/buildbeaver/workflow-engine/common/logger"
)

// StatefulService provides standard start/stop lifecycle routines for long-lived services that
// run a single background loop, such as the reaper's poll loop.
type StatefulService struct {
	mu        sync.Mutex
	started   bool
	ctx       context.Context
	ctxCancel context.CancelFunc
	doneC     chan struct{}
	fn        func()
	log       logger.Log
}

func NewStatefulService(ctx context.Context, log logger.Log, fn func()) *StatefulService {
	ctx, cancel := context.WithCancel(ctx)
	return &StatefulService{
		ctx:       ctx,
		ctxCancel: cancel,
		doneC:     make(chan struct{}),
		fn:        fn,
		log:       log,
	}
}

// Ctx returns the service's context, cancelled when Stop is called.
func (s *StatefulService) Ctx() context.Context {
	return s.ctx
}

// Done can be used to wait for the service to stop.
func (s *StatefulService) Done() <-chan struct{} {
	return s.doneC
}

// Start the service. Logs a fatal error (exiting the process) if called more than once.
func (s *StatefulService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		s.log.Fatal("start can only be called once")
	}
	s.started = true
	s.log.Info("Starting...")
	go func() {
		defer close(s.doneC)
		s.log.Info("Started")
		s.fn()
	}()
}

// Stop the service. Blocks until the background loop has exited. Idempotent.
func (s *StatefulService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.log.Info("Stopping...")
	s.ctxCancel()
	<-s.doneC
	s.log.Info("Stopped")
}
