package simulator

import (
	"hash/fnv"
	"math"
	"time"
)

const (
	HistoryCap     = 30
	BackfillStep   = 5 * time.Minute
	MinProbability = 5
	MaxProbability = 95
)

// Point is one displayed sample of the price-history channel.
type Point struct {
	Date        time.Time
	Probability int
}

// FeedState is the simulated history for one entity. The registry owns it;
// callers must hold the registry lock while stepping it.
type FeedState struct {
	BaseLevel    float64
	CurrentLevel float64
	History      []Point
}

// Seed folds the entity id into a 32-bit seed with FNV-1a.
func Seed(id string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(id))
	return h.Sum32()
}

// Backfill builds the initial 30-point history ending at anchor. The same
// (id, anchor) always yields the same state.
func Backfill(id string, anchor time.Time) *FeedState {
	rng := NewXorShift32(Seed(id))

	base := 40 + rng.Float64()*40
	level := base
	history := make([]Point, 0, HistoryCap)
	for i := 0; i < HistoryCap; i++ {
		shock := (rng.Float64() - 0.5) * 6
		level = 0.85*level + 0.15*base + shock
		history = append(history, Point{
			Date:        anchor.Add(-time.Duration(HistoryCap-1-i) * BackfillStep),
			Probability: displayProbability(level),
		})
	}

	return &FeedState{
		BaseLevel:    base,
		CurrentLevel: level,
		History:      history,
	}
}

// Simulator advances live feeds. Unlike Backfill it draws from an unseeded,
// process-wide source.
type Simulator struct {
	rand  Rand
	clock Clock
}

func NewSimulator(rnd Rand, clock Clock) *Simulator {
	return &Simulator{rand: rnd, clock: clock}
}

// Backfill anchors a fresh history at the simulator's clock.
func (s *Simulator) Backfill(id string) *FeedState {
	return Backfill(id, s.clock.Now())
}

// Step moves the walk one tick and appends the new point, evicting the oldest
// once the buffer is full.
func (s *Simulator) Step(state *FeedState) Point {
	shock := (s.rand.Float64() - 0.5) * 4
	state.CurrentLevel = 0.9*state.CurrentLevel + 0.1*state.BaseLevel + shock

	pt := Point{Date: s.clock.Now(), Probability: displayProbability(state.CurrentLevel)}
	state.History = append(state.History, pt)
	if over := len(state.History) - HistoryCap; over > 0 {
		state.History = append(state.History[:0], state.History[over:]...)
	}
	return pt
}

// Snapshot copies the history so it can leave the lock.
func (st *FeedState) Snapshot() []Point {
	out := make([]Point, len(st.History))
	copy(out, st.History)
	return out
}

func displayProbability(level float64) int {
	return int(math.Round(math.Max(MinProbability, math.Min(MaxProbability, level))))
}
