package orderbook

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/shubham-shewale/market-feed/pkg/pricing"
)

// BookClient is the upstream call the fetcher needs; *pricing.Client
// satisfies it.
type BookClient interface {
	Book(ctx context.Context, tokenID string) (pricing.RawBook, error)
}

// LiveFetcher turns an upstream book into display levels. Every failure is
// reported as ok=false so callers fall back to the synthetic book.
type LiveFetcher struct {
	client BookClient
	logger *zap.Logger
}

func NewLiveFetcher(client BookClient, logger *zap.Logger) *LiveFetcher {
	return &LiveFetcher{client: client, logger: logger}
}

func (f *LiveFetcher) Fetch(ctx context.Context, tokenID string) (State, bool) {
	raw, err := f.client.Book(ctx, tokenID)
	if err != nil {
		f.logger.Debug("Live book unavailable", zap.String("token", tokenID), zap.Error(err))
		return State{}, false
	}
	st, ok := Normalize(raw)
	if !ok {
		f.logger.Debug("Live book unusable", zap.String("token", tokenID))
	}
	return st, ok
}

// Normalize ranks and truncates each side to the best five quotes and
// accumulates depth away from the best price on both sides. A book whose mid
// falls outside [MinMid, MaxMid] is reported unusable, since clamping the mid
// alone would leave quotes on the wrong side of it.
func Normalize(raw pricing.RawBook) (State, bool) {
	bids := usable(raw.Bids)
	asks := usable(raw.Asks)
	sort.Slice(bids, func(i, j int) bool { return bids[i].Price > bids[j].Price })
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price < asks[j].Price })
	bids = bids[:min(len(bids), LevelsPerSide)]
	asks = asks[:min(len(asks), LevelsPerSide)]

	if len(bids) == 0 && len(asks) == 0 {
		return State{}, false
	}

	var mid float64
	switch {
	case len(bids) > 0 && len(asks) > 0:
		mid = (bids[0].Price + asks[0].Price) / 2
	case len(bids) > 0:
		mid = bids[0].Price
	default:
		mid = asks[0].Price
	}

	if ClampMid(mid) != mid {
		return State{}, false
	}

	levels := make([]Level, 0, len(asks)+len(bids))
	var total float64
	askLevels := make([]Level, len(asks))
	for i, q := range asks {
		total += q.Size
		askLevels[i] = Level{Price: q.Price, Size: q.Size, Cumulative: total, Side: Ask}
	}
	for i := len(askLevels) - 1; i >= 0; i-- {
		levels = append(levels, askLevels[i])
	}

	total = 0
	for _, q := range bids {
		total += q.Size
		levels = append(levels, Level{Price: q.Price, Size: q.Size, Cumulative: total, Side: Bid})
	}

	return State{MidPrice: mid, Levels: levels}, true
}

func usable(quotes []pricing.Quote) []pricing.Quote {
	out := make([]pricing.Quote, 0, len(quotes))
	for _, q := range quotes {
		if q.Price > 0 && q.Size >= 0 {
			out = append(out, q)
		}
	}
	return out
}
