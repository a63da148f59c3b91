package testutils

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/shubham-shewale/market-feed/cmd/gateway/internal/orderbook"
)

// MockSubscriber records every frame the registry pushes to it.
type MockSubscriber struct {
	IDVal    string
	RawBytes []string
	Mu       sync.Mutex
}

func NewMockSubscriber(id string) *MockSubscriber {
	return &MockSubscriber{IDVal: id}
}

func (m *MockSubscriber) ID() string { return m.IDVal }

func (m *MockSubscriber) SendBytes(b []byte) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.RawBytes = append(m.RawBytes, string(b))
}

func (m *MockSubscriber) Count() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return len(m.RawBytes)
}

// Frame decodes the i-th frame into v.
func (m *MockSubscriber) Frame(t *testing.T, i int, v interface{}) {
	t.Helper()
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if i >= len(m.RawBytes) {
		t.Fatalf("Frame %d requested, only %d received", i, len(m.RawBytes))
	}
	if err := json.Unmarshal([]byte(m.RawBytes[i]), v); err != nil {
		t.Fatalf("Frame %d is not valid JSON: %v", i, err)
	}
}

// WaitFor polls until the subscriber holds at least n frames.
func (m *MockSubscriber) WaitFor(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if m.Count() >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return m.Count() >= n
}

// MockSnapshotStore simulates the Redis mirror
type MockSnapshotStore struct {
	Saved map[string]string // channel:id -> last payload
	Calls int
	Mu    sync.Mutex
}

func NewMockStore() *MockSnapshotStore {
	return &MockSnapshotStore{Saved: make(map[string]string)}
}

func (m *MockSnapshotStore) SaveSnapshot(ctx context.Context, channel, id string, payload []byte) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Saved[channel+":"+id] = string(payload)
	m.Calls++
	return nil
}

func (m *MockSnapshotStore) Get(channel, id string) (string, bool) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	v, ok := m.Saved[channel+":"+id]
	return v, ok
}

func (m *MockSnapshotStore) Close() error { return nil }

// MockBookSource returns a fixed live book, or nothing when Book is nil.
type MockBookSource struct {
	Book   *orderbook.State
	Tokens []string
	Mu     sync.Mutex
}

func (m *MockBookSource) Fetch(ctx context.Context, tokenID string) (orderbook.State, bool) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Tokens = append(m.Tokens, tokenID)
	if m.Book == nil {
		return orderbook.State{}, false
	}
	return m.Book.Snapshot(), true
}

func (m *MockBookSource) Calls() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return len(m.Tokens)
}

type MockClock struct {
	CurrentTime time.Time
	Mu          sync.Mutex
}

func (m *MockClock) Now() time.Time {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.CurrentTime
}

func (m *MockClock) Advance(d time.Duration) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.CurrentTime = m.CurrentTime.Add(d)
}

type MockRand struct {
	ValInt   int
	ValFloat float64
}

func (m *MockRand) Intn(n int) int   { return m.ValInt }
func (m *MockRand) Float64() float64 { return m.ValFloat }

func AssertTrue(t *testing.T, condition bool, msg string) {
	t.Helper()
	if !condition {
		t.Errorf("Assertion failed: %s", msg)
	}
}
