package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"basetip/chain"
	"basetip/creator"
	"basetip/donor"
	"basetip/gateway/middleware"
	"basetip/sync"
)

type fakeReads struct {
	list     sync.CreatorList
	bySlug   map[string]creator.Record
	stats    creator.GlobalStats
	stale    bool
	statsErr error
	bus      *sync.Bus
}

func (f *fakeReads) Creators(context.Context, bool) sync.CreatorList { return f.list }

func (f *fakeReads) CreatorBySlug(_ context.Context, slug string) (creator.Record, bool) {
	rec, ok := f.bySlug[slug]
	return rec, ok
}

func (f *fakeReads) Stats(context.Context, bool) (creator.GlobalStats, bool, error) {
	return f.stats, f.stale, f.statsErr
}

func (f *fakeReads) Bus() *sync.Bus { return f.bus }

type fakeTips struct {
	events []chain.TipEvent
}

func (f *fakeTips) TipsFrom(context.Context, common.Address) ([]chain.TipEvent, error) {
	return f.events, nil
}

func (f *fakeTips) BlockTime(context.Context, uint64) (time.Time, error) {
	return time.Date(2026, time.August, 30, 0, 0, 0, 0, time.UTC), nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func record(name string, tips float64) creator.Record {
	return creator.Record{
		Address:         common.HexToAddress("0x0000000000000000000000000000000000000001"),
		Name:            name,
		Slug:            creator.Slugify(name),
		Active:          true,
		TipsReceived:    tips,
		TipsReceivedRaw: big.NewInt(int64(tips * 1_000_000)),
		Source:          creator.SourceLive,
	}
}

func newTestServer(t *testing.T, reads *fakeReads, limit middleware.RateLimit) *httptest.Server {
	t.Helper()
	if reads.bus == nil {
		reads.bus = sync.NewBus()
	}
	ledger := donor.LoadReferrals(filepath.Join(t.TempDir(), "referrals.json"), quietLogger())
	handler := New(Config{
		Reads:     reads,
		Tips:      &fakeTips{},
		Referrals: ledger,
		PublicURL: "https://basetip.example",
		RateLimit: limit,
		Logger:    quietLogger(),
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestCreatorsEndpoint(t *testing.T) {
	reads := &fakeReads{
		list: sync.CreatorList{Creators: []creator.Record{record("Alice Chen", 10)}, Offline: true},
	}
	srv := newTestServer(t, reads, middleware.RateLimit{})

	var body struct {
		Creators []creatorView `json:"creators"`
		Offline  bool          `json:"offline"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/creators", &body))
	require.True(t, body.Offline)
	require.Len(t, body.Creators, 1)
	require.Equal(t, "alice-chen", body.Creators[0].Slug)
	require.Equal(t, "10000000", body.Creators[0].TipsReceivedRaw)
}

func TestCreatorBySlugEndpoint(t *testing.T) {
	rec := record("Alice Chen", 10)
	reads := &fakeReads{bySlug: map[string]creator.Record{"alice-chen": rec}}
	srv := newTestServer(t, reads, middleware.RateLimit{})

	var body creatorView
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/creators/alice-chen", &body))
	require.Equal(t, "Alice Chen", body.Name)

	require.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/v1/creators/missing", nil))
	require.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/v1/creators/Bad%20Slug", nil))
}

func TestStatsEndpointIncludesFeeRate(t *testing.T) {
	reads := &fakeReads{stats: creator.GlobalStats{TotalCreators: 3, TotalTips: 120, TotalSupporters: 40}, stale: true}
	srv := newTestServer(t, reads, middleware.RateLimit{})

	var body map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/stats", &body))
	require.Equal(t, float64(3), body["totalCreators"])
	require.Equal(t, PlatformFeeRate, body["platformFeeRate"])
	require.Equal(t, true, body["offline"])
}

func TestStatsEndpointFailsWhenSnapshotUnavailable(t *testing.T) {
	reads := &fakeReads{statsErr: errors.New("dial tcp: connection refused")}
	srv := newTestServer(t, reads, middleware.RateLimit{})

	require.Equal(t, http.StatusBadGateway, getJSON(t, srv.URL+"/v1/stats", nil))
}

func TestLeaderboardSortsByTips(t *testing.T) {
	reads := &fakeReads{
		list: sync.CreatorList{Creators: []creator.Record{
			record("Low Earner", 5),
			record("High Earner", 500),
		}},
	}
	srv := newTestServer(t, reads, middleware.RateLimit{})

	var body struct {
		Creators []creatorView `json:"creators"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/leaderboard", &body))
	require.Equal(t, "high-earner", body.Creators[0].Slug)
	require.Equal(t, "low-earner", body.Creators[1].Slug)
}

func TestDonorEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeReads{}, middleware.RateLimit{})

	addr := "0x00000000000000000000000000000000000000aa"
	var body donor.Stats
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/donors/"+addr, &body))
	require.Equal(t, []string{donor.BadgeSupporter}, body.Badges)

	require.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/v1/donors/nothex", nil))
}

func TestReferralEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeReads{}, middleware.RateLimit{})

	addr := "0x00000000000000000000000000000000000000aa"
	var body struct {
		Code string `json:"code"`
		Link string `json:"link"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/referrals/"+addr, &body))
	require.Len(t, body.Code, 8)
	require.True(t, strings.HasSuffix(body.Link, "?ref="+body.Code), body.Link)

	// The code is stable across requests.
	var again struct {
		Code string `json:"code"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/referrals/"+addr, &again))
	require.Equal(t, body.Code, again.Code)
}

func TestRateLimitRejectsBursts(t *testing.T) {
	srv := newTestServer(t, &fakeReads{}, middleware.RateLimit{RequestsPerMinute: 60, Burst: 1})

	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/stats", nil))
	require.Equal(t, http.StatusTooManyRequests, getJSON(t, srv.URL+"/v1/stats", nil))

	// Health and metrics stay outside the limiter.
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/healthz", nil))
}

func TestUpdatesStream(t *testing.T) {
	reads := &fakeReads{bus: sync.NewBus()}
	srv := newTestServer(t, reads, middleware.RateLimit{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/updates"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	rec := record("Alice Chen", 10)
	// Subscription races the dial; publish until the notice lands.
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				reads.bus.Publish(sync.Notice{View: sync.ViewCreators, Creator: &rec})
			}
		}
	}()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	cancel()
	<-done

	var payload updatePayload
	require.NoError(t, json.Unmarshal(data, &payload))
	require.Equal(t, string(sync.ViewCreators), payload.View)
	require.NotNil(t, payload.Creator)
	require.Equal(t, "alice-chen", payload.Creator.Slug)
}
