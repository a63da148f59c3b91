package simulator

import (
	"math/rand"
	"sync"
	"time"
)

// for deterministic testing
type Clock interface {
	Now() time.Time
}

// for deterministic values
type Rand interface {
	Intn(n int) int
	Float64() float64
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// LockedRand makes a math/rand source safe for the per-entity tickers that
// share it.
type LockedRand struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewLockedRand(seed int64) *LockedRand {
	return &LockedRand{rnd: rand.New(rand.NewSource(seed))}
}

func (r *LockedRand) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Intn(n)
}

func (r *LockedRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Float64()
}

// XorShift32 is the fast seeded generator used for backfill. Not safe for
// concurrent use; each backfill owns one.
type XorShift32 struct {
	state uint32
}

// zero is a fixed point of xorshift
const zeroSeedReplacement = 0x9E3779B9

func NewXorShift32(seed uint32) *XorShift32 {
	if seed == 0 {
		seed = zeroSeedReplacement
	}
	return &XorShift32{state: seed}
}

func (x *XorShift32) next() uint32 {
	s := x.state
	s ^= s << 13
	s ^= s >> 17
	s ^= s << 5
	x.state = s
	return s
}

// Float64 returns a value in [0, 1).
func (x *XorShift32) Float64() float64 {
	return float64(x.next()) / 4294967296.0
}

func (x *XorShift32) Intn(n int) int {
	if n <= 0 {
		panic("invalid argument to Intn")
	}
	return int(x.next() % uint32(n))
}
