package pricing

import (
	"sort"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// HistoryPoint is one upstream price observation.
type HistoryPoint struct {
	Time  time.Time
	Price float64
}

type historyEntry struct {
	T         Numeric `json:"t"`
	Timestamp Numeric `json:"timestamp"`
	P         Numeric `json:"p"`
	Price     Numeric `json:"price"`
}

func (e historyEntry) point() (HistoryPoint, bool) {
	ts, ok := e.T.Float()
	if !ok {
		ts, ok = e.Timestamp.Float()
	}
	if !ok {
		return HistoryPoint{}, false
	}
	p, ok := e.P.Float()
	if !ok {
		p, ok = e.Price.Float()
	}
	if !ok {
		return HistoryPoint{}, false
	}
	return HistoryPoint{Time: unixTime(ts), Price: p}, true
}

// unixTime accepts seconds or milliseconds.
func unixTime(ts float64) time.Time {
	if ts > 1e12 {
		return time.UnixMilli(int64(ts)).UTC()
	}
	return time.Unix(int64(ts), 0).UTC()
}

// historyAdapter either normalizes a payload or declines it.
type historyAdapter struct {
	name   string
	decode func(raw []byte) ([]HistoryPoint, bool)
}

// Tried in order; the first adapter that accepts wins.
var historyAdapters = []historyAdapter{
	{name: "array", decode: decodeFlatHistory},
	{name: "nested", decode: decodeNestedHistory},
	{name: "map", decode: decodeTimestampMap},
}

// ParseHistory normalizes a price-history payload into chronological points.
func ParseHistory(raw []byte) ([]HistoryPoint, error) {
	for _, adapter := range historyAdapters {
		if points, ok := adapter.decode(raw); ok {
			sort.Slice(points, func(i, j int) bool { return points[i].Time.Before(points[j].Time) })
			return points, nil
		}
	}
	return nil, ErrUnrecognizedShape
}

func decodeFlatHistory(raw []byte) ([]HistoryPoint, bool) {
	var entries []historyEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, false
	}
	return collect(entries)
}

func decodeNestedHistory(raw []byte) ([]HistoryPoint, bool) {
	var wrap struct {
		History *[]historyEntry `json:"history"`
	}
	if err := json.Unmarshal(raw, &wrap); err != nil || wrap.History == nil {
		return nil, false
	}
	return collect(*wrap.History)
}

func decodeTimestampMap(raw []byte) ([]HistoryPoint, bool) {
	var m map[string]Numeric
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false
	}
	points := make([]HistoryPoint, 0, len(m))
	for key, val := range m {
		ts, err := strconv.ParseFloat(key, 64)
		if err != nil {
			continue
		}
		p, ok := val.Float()
		if !ok {
			continue
		}
		points = append(points, HistoryPoint{Time: unixTime(ts), Price: p})
	}
	return points, len(points) > 0
}

// collect declines a non-empty list in which nothing was usable.
func collect(entries []historyEntry) ([]HistoryPoint, bool) {
	points := make([]HistoryPoint, 0, len(entries))
	for _, e := range entries {
		if pt, ok := e.point(); ok {
			points = append(points, pt)
		}
	}
	return points, len(points) > 0 || len(entries) == 0
}
