package creator

import (
	"sort"
	"strings"
)

const (
	// MaxLiveEntries bounds the live-sourced contribution to a merged list.
	MaxLiveEntries = 50
	// MaxDemoEntries bounds the demo-sourced contribution to a merged list.
	MaxDemoEntries = 20
	// DemoSlugPrefix namespaces demo slugs away from live slugs.
	DemoSlugPrefix = "demo-"
)

// Merge combines a live-sourced creator list with the seeded demo set into
// the single list shown by listing views. Live data always wins: a demo entry
// is dropped when any live entry matches its slug, payout address, or display
// name. Surviving demo entries keep their slug under the demo prefix so the
// result never contains two entries with the same slug. Order is live entries
// first, then demo entries, each in upstream order.
func Merge(live, demo []Record) []Record {
	if len(live) > MaxLiveEntries {
		live = live[:MaxLiveEntries]
	}
	if len(demo) > MaxDemoEntries {
		demo = demo[:MaxDemoEntries]
	}

	out := make([]Record, 0, len(live)+len(demo))
	out = append(out, live...)

	for _, d := range demo {
		if matchesLive(live, d) {
			continue
		}
		if !strings.HasPrefix(d.Slug, DemoSlugPrefix) {
			d.Slug = DemoSlugPrefix + d.Slug
		}
		d.Source = SourceDemo
		out = append(out, d)
	}
	return out
}

func matchesLive(live []Record, d Record) bool {
	slug := strings.TrimPrefix(d.Slug, DemoSlugPrefix)
	for _, l := range live {
		if l.Slug == slug || l.Slug == d.Slug {
			return true
		}
		if l.PayoutAddress == d.PayoutAddress {
			return true
		}
		if l.Name == d.Name {
			return true
		}
	}
	return false
}

// SortByTips orders records by total tips descending. The sort is stable so
// ties keep their upstream order, as ranking views require.
func SortByTips(records []Record) []Record {
	out := make([]Record, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TipsReceived > out[j].TipsReceived
	})
	return out
}
