package render

import (
	"sync"
	"time"
)

type mockObserver struct {
	mu        sync.Mutex
	durations map[string]int
	committed map[string]int
	discarded map[string]int
}

func newMockObserver() *mockObserver {
	return &mockObserver{
		durations: make(map[string]int),
		committed: make(map[string]int),
		discarded: make(map[string]int),
	}
}

func (m *mockObserver) ObserveRenderDuration(quality string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.durations[quality]++
}

func (m *mockObserver) IncFramesCommitted(quality string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.committed[quality]++
}

func (m *mockObserver) IncFramesDiscarded(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discarded[reason]++
}
