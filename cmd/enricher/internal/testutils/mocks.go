package testutils

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/shubham-shewale/market-feed/cmd/enricher/internal/enricher"
)

type MockKafkaWriter struct {
	Messages   []kafka.Message
	Mu         sync.Mutex
	ShouldFail bool
}

func (m *MockKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.ShouldFail {
		return errors.New("kafka error")
	}
	m.Messages = append(m.Messages, msgs...)
	return nil
}

func (m *MockKafkaWriter) Close() error { return nil }

type MockClock struct {
	CurrentTime time.Time
	Slept       time.Duration
}

func (m *MockClock) Now() time.Time { return m.CurrentTime }
func (m *MockClock) Sleep(d time.Duration) {
	m.CurrentTime = m.CurrentTime.Add(d)
	m.Slept += d
}

// MockPriceSource answers from a fixed table; unknown tokens fail.
type MockPriceSource struct {
	Prices  map[string]float64
	Queried []string
	Mu      sync.Mutex
}

func (m *MockPriceSource) LatestPrice(ctx context.Context, tokenID string) (float64, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Queried = append(m.Queried, tokenID)
	p, ok := m.Prices[tokenID]
	if !ok {
		return 0, errors.New("no price")
	}
	return p, nil
}

type MockKafkaConn struct {
	CreatedTopics []kafka.TopicConfig
	NotReady      bool
}

func (m *MockKafkaConn) Controller() (kafka.Broker, error) {
	return kafka.Broker{Host: "localhost", Port: 9092}, nil
}
func (m *MockKafkaConn) Close() error { return nil }
func (m *MockKafkaConn) CreateTopics(topics ...kafka.TopicConfig) error {
	m.CreatedTopics = append(m.CreatedTopics, topics...)
	return nil
}
func (m *MockKafkaConn) ReadPartitions(topics ...string) ([]kafka.Partition, error) {
	if m.NotReady {
		return nil, errors.New("unknown topic")
	}
	return []kafka.Partition{{ID: 0}}, nil
}

type MockKafkaDialer struct {
	ConnSpy  *MockKafkaConn
	FailAddr map[string]bool
	Dialed   []string
}

func (m *MockKafkaDialer) DialContext(ctx context.Context, network, address string) (enricher.KafkaConn, error) {
	m.Dialed = append(m.Dialed, address)
	if m.FailAddr[address] {
		return nil, errors.New("connection refused")
	}
	if m.ConnSpy == nil {
		m.ConnSpy = &MockKafkaConn{}
	}
	return m.ConnSpy, nil
}
