package server

import (
	"context"
	"sync"
	"time"

	"rideline/internal/dispatch"
	"rideline/internal/draft"
	"rideline/internal/engine"
	"rideline/internal/logger"
)

type draftSession struct {
	m    *draft.Manager
	stop func()
}

// sessions keeps the live draft and dispatch sessions between requests. A
// draft session autosaves on its own ticker until it is submitted, discarded
// or the server closes.
type sessions struct {
	engine   engine.Engine
	interval time.Duration
	log      logger.Logger

	mu     sync.Mutex
	drafts map[string]draftSession
	allocs map[string]*dispatch.Allocator
}

func newSessions(e engine.Engine, interval time.Duration, log logger.Logger) *sessions {
	return &sessions{
		engine:   e,
		interval: interval,
		log:      log,
		drafts:   map[string]draftSession{},
		allocs:   map[string]*dispatch.Allocator{},
	}
}

func (s *sessions) track(m *draft.Manager) {
	stop := m.StartAutosave(context.Background(), s.interval)
	s.drafts[m.ID()] = draftSession{m: m, stop: stop}
}

func (s *sessions) newDraft() *draft.Manager {
	m := s.engine.NewDraft()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.track(m)
	return m
}

// draft returns the live session for id, resuming it from the store if needed.
func (s *sessions) draft(ctx context.Context, id string) (*draft.Manager, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ds, ok := s.drafts[id]; ok {
		return ds.m, nil
	}
	m, err := s.engine.OpenDraft(ctx, id)
	if err != nil {
		return nil, err
	}
	s.track(m)
	s.log.Debugf("resumed draft session %s", id)
	return m, nil
}

// forgetDraft ends a session whose draft was discarded or submitted. The
// manager then holds a fresh empty draft, so the teardown save writes nothing.
func (s *sessions) forgetDraft(id string) {
	s.mu.Lock()
	ds, ok := s.drafts[id]
	delete(s.drafts, id)
	s.mu.Unlock()
	if ok {
		ds.stop()
	}
}

func (s *sessions) dispatch(ctx context.Context, requestID string) (*dispatch.Allocator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.allocs[requestID]; ok {
		return a, nil
	}
	a, err := s.engine.OpenDispatch(ctx, requestID)
	if err != nil {
		return nil, err
	}
	s.allocs[requestID] = a
	return a, nil
}

func (s *sessions) forgetDispatch(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.allocs, requestID)
}

func (s *sessions) closeAll() {
	s.mu.Lock()
	open := s.drafts
	s.drafts = map[string]draftSession{}
	s.allocs = map[string]*dispatch.Allocator{}
	s.mu.Unlock()
	for id, ds := range open {
		ds.stop()
		if err := ds.m.AutosaveErr(); err != nil {
			s.log.Warnf("teardown save of draft %s: %v", id, err)
		}
	}
}
