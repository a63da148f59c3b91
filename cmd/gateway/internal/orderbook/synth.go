package orderbook

import (
	"math"
)

type Side string

const (
	Bid Side = "bid"
	Ask Side = "ask"
)

const (
	MinMid        = 0.0001
	MaxMid        = 0.99
	DefaultMid    = 0.5
	LevelsPerSide = 5

	minTick    = 1e-6
	sizeBase   = 50
	sizeRange  = 450
	sizeJitter = 0.1
)

type Level struct {
	Price      float64
	Size       float64
	Cumulative float64
	Side       Side
}

// State is one entity's book. Levels are in display order: asks from the
// highest price down, then bids from the best down.
type State struct {
	MidPrice float64
	Levels   []Level
}

// Rand is satisfied by simulator.LockedRand.
type Rand interface {
	Float64() float64
}

// ClampMid bounds a mid-price to [MinMid, MaxMid]. NaN maps to DefaultMid.
func ClampMid(mid float64) float64 {
	if math.IsNaN(mid) {
		return DefaultMid
	}
	return math.Max(MinMid, math.Min(MaxMid, mid))
}

func TickSize(mid float64) float64 {
	return math.Max(mid*0.02, minTick)
}

// Synthesizer builds a ten-level book around a mid-price.
//
// By default the ask side accumulates depth in generation order, from the
// farthest level inward, so the best ask carries the whole five-level sum.
// ConventionalAskDepth makes asks accumulate away from the best price like
// the bid side and live books do.
type Synthesizer struct {
	rand                 Rand
	ConventionalAskDepth bool
}

func NewSynthesizer(rnd Rand, conventionalAskDepth bool) *Synthesizer {
	return &Synthesizer{rand: rnd, ConventionalAskDepth: conventionalAskDepth}
}

// NewState synthesizes a fresh book at the clamped mid.
func (s *Synthesizer) NewState(mid float64) *State {
	mid = ClampMid(mid)
	return &State{MidPrice: mid, Levels: s.Synthesize(mid, nil)}
}

// Synthesize returns 10 levels sorted descending by price. When prev holds a
// level of the same side at a slot, that slot's size is perturbed from it
// instead of drawn fresh.
func (s *Synthesizer) Synthesize(mid float64, prev []Level) []Level {
	tick := TickSize(mid)
	halfSpread := tick

	levels := make([]Level, 0, 2*LevelsPerSide)
	for i := LevelsPerSide; i >= 1; i-- {
		slot := len(levels)
		levels = append(levels, Level{
			Price: mid + halfSpread + float64(i)*tick,
			Size:  s.size(prev, slot, Ask),
			Side:  Ask,
		})
	}
	for i := 1; i <= LevelsPerSide; i++ {
		slot := len(levels)
		levels = append(levels, Level{
			Price: mid - halfSpread - float64(i)*tick,
			Size:  s.size(prev, slot, Bid),
			Side:  Bid,
		})
	}

	asks, bids := levels[:LevelsPerSide], levels[LevelsPerSide:]
	if s.ConventionalAskDepth {
		accumulateReverse(asks)
	} else {
		accumulate(asks)
	}
	accumulate(bids)
	return levels
}

// Advance drifts the mid by at most half a tick, clamps it and regenerates
// the levels from the previous ones.
func (s *Synthesizer) Advance(st *State) {
	drift := (s.rand.Float64() - 0.5) * TickSize(st.MidPrice)
	st.MidPrice = ClampMid(st.MidPrice + drift)
	st.Levels = s.Synthesize(st.MidPrice, st.Levels)
}

func (s *Synthesizer) size(prev []Level, slot int, side Side) float64 {
	if slot < len(prev) && prev[slot].Side == side && prev[slot].Size > 0 {
		return prev[slot].Size * (1 + (s.rand.Float64()-0.5)*2*sizeJitter)
	}
	return sizeBase + s.rand.Float64()*sizeRange
}

func accumulate(levels []Level) {
	var total float64
	for i := range levels {
		total += levels[i].Size
		levels[i].Cumulative = total
	}
}

func accumulateReverse(levels []Level) {
	var total float64
	for i := len(levels) - 1; i >= 0; i-- {
		total += levels[i].Size
		levels[i].Cumulative = total
	}
}

// Snapshot copies the levels so they can leave the registry lock.
func (st *State) Snapshot() State {
	out := State{MidPrice: st.MidPrice, Levels: make([]Level, len(st.Levels))}
	copy(out.Levels, st.Levels)
	return out
}
