package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"basetip/creator"
	"basetip/donor"
	"basetip/gateway/middleware"
	"basetip/observability"
	"basetip/sync"
)

// PlatformFeeRate is the platform's cut of each tip, surfaced to clients so
// they can present net amounts.
const PlatformFeeRate = 0.005

// Reads is the slice of the sync service the gateway serves.
type Reads interface {
	Creators(ctx context.Context, force bool) sync.CreatorList
	CreatorBySlug(ctx context.Context, slug string) (creator.Record, bool)
	Stats(ctx context.Context, force bool) (creator.GlobalStats, bool, error)
	Bus() *sync.Bus
}

// Config wires the gateway's collaborators and knobs.
type Config struct {
	Reads     Reads
	Tips      donor.TipSource
	Referrals *donor.ReferralLedger
	PublicURL string
	RateLimit middleware.RateLimit
	CORS      middleware.CORSConfig
	Logger    *slog.Logger
	Metrics   *observability.GatewayMetrics
}

// Server is the HTTP read API over the synced registry views.
type Server struct {
	reads     Reads
	tips      donor.TipSource
	referrals *donor.ReferralLedger
	publicURL string
	log       *slog.Logger
	metrics   *observability.GatewayMetrics
}

// New builds the gateway handler.
func New(cfg Config) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		reads:     cfg.Reads,
		tips:      cfg.Tips,
		referrals: cfg.Referrals,
		publicURL: cfg.PublicURL,
		log:       log,
		metrics:   cfg.Metrics,
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit, log)

	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(limiter.Middleware)

		v1.Group(func(rest chi.Router) {
			rest.Use(middleware.Observe("v1", log, s.metrics))
			rest.Get("/creators", s.handleCreators)
			rest.Get("/creators/{slug}", s.handleCreator)
			rest.Get("/stats", s.handleStats)
			rest.Get("/leaderboard", s.handleLeaderboard)
			rest.Get("/donors/{addr}", s.handleDonor)
			rest.Get("/referrals/{addr}", s.handleReferral)
		})

		// The update stream bypasses the status recorder so the connection
		// can still be hijacked for the websocket upgrade.
		v1.Get("/updates", s.handleUpdates)
	})

	return r
}

type creatorView struct {
	Address          string    `json:"address"`
	Name             string    `json:"name"`
	Bio              string    `json:"bio"`
	Avatar           string    `json:"avatar"`
	Slug             string    `json:"slug"`
	Category         string    `json:"category"`
	IsActive         bool      `json:"isActive"`
	TipsReceived     float64   `json:"tipsReceived"`
	TipsReceivedRaw  string    `json:"tipsReceivedRaw"`
	Supporters       int       `json:"supporters"`
	SuggestedAmounts []float64 `json:"suggestedAmounts"`
	Source           string    `json:"source"`
}

func viewOf(rec creator.Record) creatorView {
	raw := "0"
	if rec.TipsReceivedRaw != nil {
		raw = rec.TipsReceivedRaw.String()
	}
	return creatorView{
		Address:          rec.Address.Hex(),
		Name:             rec.Name,
		Bio:              rec.Bio,
		Avatar:           rec.Avatar,
		Slug:             rec.Slug,
		Category:         rec.Category,
		IsActive:         rec.Active,
		TipsReceived:     rec.TipsReceived,
		TipsReceivedRaw:  raw,
		Supporters:       rec.Supporters,
		SuggestedAmounts: rec.SuggestedAmounts,
		Source:           string(rec.Source),
	}
}

func viewsOf(recs []creator.Record) []creatorView {
	views := make([]creatorView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, viewOf(rec))
	}
	return views
}

func (s *Server) handleCreators(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("refresh") == "true"
	list := s.reads.Creators(r.Context(), force)
	writeJSON(w, http.StatusOK, map[string]any{
		"creators": viewsOf(list.Creators),
		"offline":  list.Offline,
	})
}

func (s *Server) handleCreator(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if !creator.ValidSlug(slug) {
		writeError(w, http.StatusBadRequest, "invalid slug")
		return
	}
	rec, ok := s.reads.CreatorBySlug(r.Context(), slug)
	if !ok {
		writeError(w, http.StatusNotFound, "creator not found")
		return
	}
	writeJSON(w, http.StatusOK, viewOf(rec))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("refresh") == "true"
	stats, offline, err := s.reads.Stats(r.Context(), force)
	if err != nil {
		s.log.Warn("gateway: stats unavailable", "error", err)
		writeError(w, http.StatusBadGateway, "stats unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"totalCreators":   stats.TotalCreators,
		"totalTips":       stats.TotalTips,
		"totalSupporters": stats.TotalSupporters,
		"platformFeeRate": PlatformFeeRate,
		"offline":         offline,
	})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	list := s.reads.Creators(r.Context(), false)
	writeJSON(w, http.StatusOK, map[string]any{
		"creators": viewsOf(creator.SortByTips(list.Creators)),
		"offline":  list.Offline,
	})
}

func (s *Server) handleDonor(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "addr")
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	stats, err := donor.Fetch(r.Context(), s.tips, common.HexToAddress(raw))
	if err != nil {
		s.log.Warn("gateway: donor stats failed", "addr", raw, "error", err)
		writeError(w, http.StatusBadGateway, "donor stats unavailable")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleReferral(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "addr")
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	rec, err := s.referrals.Generate(common.HexToAddress(raw))
	if err != nil {
		s.log.Warn("gateway: referral mint failed", "addr", raw, "error", err)
		writeError(w, http.StatusInternalServerError, "referral unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"code":         rec.Code,
		"link":         donor.Link(s.publicURL, rec.Code),
		"referrals":    rec.Referrals,
		"earnings":     rec.Earnings,
		"earningRate":  donor.ReferralRate,
		"lastReferral": rec.LastReferral,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
