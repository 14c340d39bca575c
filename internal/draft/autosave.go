package draft

import (
	"context"
	"sync"
	"time"
)

// Autosave persists the draft when it holds something worth keeping. A
// failure is recorded and logged but does not stop the session.
func (m *Manager) Autosave(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.draft.Empty() {
		return nil
	}
	err := m.persistLocked(ctx)
	m.autosaveErr = err
	if err != nil {
		m.log.Warnf("autosave draft %s: %v", m.draft.ID, err)
		m.deps.Metrics.AutosaveFailed("draft")
	}
	return err
}

// AutosaveErr reports the last autosave failure, nil once a save succeeds.
func (m *Manager) AutosaveErr() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.autosaveErr
}

// StartAutosave saves on every tick until the returned stop func is called.
// Stop waits for the loop to exit and then performs the teardown save.
func (m *Manager) StartAutosave(ctx context.Context, interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-t.C:
				_ = m.Autosave(ctx)
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
			_ = m.Close(context.WithoutCancel(ctx))
		})
	}
}

// Close is the teardown save. It uses the same guard as the interval save.
func (m *Manager) Close(ctx context.Context) error {
	return m.Autosave(ctx)
}
