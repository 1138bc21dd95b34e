package donor

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"basetip/chain"
	"basetip/creator"
)

// Badge tiers unlocked by cumulative donated amount.
const (
	BadgeSupporter = "Supporter"
	BadgeFan       = "Fan"
	BadgeVIP       = "VIP"
	BadgeChampion  = "Champion"
	BadgeLegend    = "Legend"
	BadgeDiamond   = "Diamond"
)

type badgeTier struct {
	Name      string
	Threshold float64
}

var badgeTiers = []badgeTier{
	{BadgeSupporter, 0},
	{BadgeFan, 500},
	{BadgeVIP, 2000},
	{BadgeChampion, 5000},
	{BadgeLegend, 10000},
	{BadgeDiamond, 25000},
}

// Badges returns every badge unlocked by the given cumulative amount, lowest
// tier first.
func Badges(total float64) []string {
	var earned []string
	for _, tier := range badgeTiers {
		if total >= tier.Threshold {
			earned = append(earned, tier.Name)
		}
	}
	return earned
}

// CreatorTotal is one row of a donor's per-creator breakdown.
type CreatorTotal struct {
	Creator common.Address `json:"creator"`
	Amount  float64        `json:"amount"`
	Count   int            `json:"count"`
}

// Stats summarises a donor's recent tipping activity.
type Stats struct {
	Donor        common.Address `json:"donor"`
	TotalDonated float64        `json:"totalDonated"`
	TipCount     int            `json:"tipCount"`
	Creators     []CreatorTotal `json:"creators"`
	TopCreator   common.Address `json:"topCreator"`
	LastDonation time.Time      `json:"lastDonation"`
	Badges       []string       `json:"badges"`
}

// TipSource is the slice of the registry fetcher the stats reader needs.
type TipSource interface {
	TipsFrom(ctx context.Context, donor common.Address) ([]chain.TipEvent, error)
	BlockTime(ctx context.Context, number uint64) (time.Time, error)
}

// Fetch aggregates a donor's TipSent events over the recent block window. The
// last-donation timestamp comes from a single header read for the newest
// event's block.
func Fetch(ctx context.Context, src TipSource, addr common.Address) (Stats, error) {
	events, err := src.TipsFrom(ctx, addr)
	if err != nil {
		return Stats{}, fmt.Errorf("donor stats for %s: %w", addr.Hex(), err)
	}

	stats := Stats{Donor: addr}
	totals := make(map[common.Address]*CreatorTotal)
	var order []common.Address
	var lastBlock uint64
	totalRaw := new(big.Int)

	for _, ev := range events {
		amount := creator.HumanAmount(ev.Amount)
		if ev.Amount != nil {
			totalRaw.Add(totalRaw, ev.Amount)
		}
		stats.TipCount++
		row, ok := totals[ev.To]
		if !ok {
			row = &CreatorTotal{Creator: ev.To}
			totals[ev.To] = row
			order = append(order, ev.To)
		}
		row.Amount += amount
		row.Count++
		if ev.Block > lastBlock {
			lastBlock = ev.Block
		}
	}

	stats.TotalDonated = creator.HumanAmount(totalRaw)
	for _, addr := range order {
		stats.Creators = append(stats.Creators, *totals[addr])
	}

	var topAmount float64
	for _, row := range stats.Creators {
		if row.Amount > topAmount {
			topAmount = row.Amount
			stats.TopCreator = row.Creator
		}
	}

	if lastBlock > 0 {
		when, err := src.BlockTime(ctx, lastBlock)
		if err == nil {
			stats.LastDonation = when
		}
	}

	stats.Badges = Badges(stats.TotalDonated)
	return stats, nil
}
