package protocol

import (
	"time"

	"github.com/goccy/go-json"
)

// Channel kinds, also used as path segments and mirror key parts.
const (
	ChannelHistory   = "history"
	ChannelOrderbook = "orderbook"
)

const (
	TypeHistory  = "history"
	TypeTick     = "tick"
	TypeSnapshot = "snapshot"
	TypeUpdate   = "update"
)

// DateLayout is ISO-8601 in UTC with milliseconds.
const DateLayout = "2006-01-02T15:04:05.000Z07:00"

type Point struct {
	Date        string `json:"date"`
	Probability int    `json:"probability"`
}

func NewPoint(t time.Time, probability int) Point {
	return Point{Date: t.UTC().Format(DateLayout), Probability: probability}
}

// HistoryMessage is the first frame on the price-history channel.
type HistoryMessage struct {
	Type    string  `json:"type"` // "history"
	History []Point `json:"history"`
}

type TickMessage struct {
	Type  string `json:"type"` // "tick"
	Point Point  `json:"point"`
}

type Level struct {
	Price      float64 `json:"price"`
	Size       float64 `json:"size"`
	Cumulative float64 `json:"cumulative"`
	Type       string  `json:"type"` // "bid" or "ask"
}

// BookMessage carries both the snapshot and every later update.
type BookMessage struct {
	Type     string  `json:"type"` // "snapshot", "update"
	MidPrice float64 `json:"midPrice"`
	Levels   []Level `json:"levels"`
}

// Encode marshals a frame once so it can be broadcast to every subscriber.
func Encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
