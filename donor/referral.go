package donor

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ReferralRate is the share of a referred tip credited to the referrer.
const ReferralRate = 0.05

const (
	codeLength   = 8
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Referral is one address's referral record.
type Referral struct {
	Code         string         `json:"code"`
	Owner        common.Address `json:"owner"`
	Referrals    int            `json:"referrals"`
	Earnings     float64        `json:"earnings"`
	LastReferral time.Time      `json:"lastReferral"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// ReferralLedger tracks referral codes and locally simulated earnings,
// mirrored to a flat JSON file. There are no chain writes.
type ReferralLedger struct {
	mu      sync.Mutex
	path    string
	byOwner map[common.Address]*Referral
	byCode  map[string]common.Address
	now     func() time.Time
	log     *slog.Logger
}

// ReferralOption customises a ReferralLedger.
type ReferralOption func(*ReferralLedger)

// WithReferralClock overrides the time source, for tests.
func WithReferralClock(now func() time.Time) ReferralOption {
	return func(l *ReferralLedger) { l.now = now }
}

// LoadReferrals reads the ledger file at path. A missing or corrupt file
// yields an empty ledger.
func LoadReferrals(path string, log *slog.Logger, opts ...ReferralOption) *ReferralLedger {
	if log == nil {
		log = slog.Default()
	}
	l := &ReferralLedger{
		path:    path,
		byOwner: make(map[common.Address]*Referral),
		byCode:  make(map[string]common.Address),
		now:     time.Now,
		log:     log,
	}
	for _, opt := range opts {
		opt(l)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("referral: ledger read failed, starting empty", "path", path, "err", err)
		}
		return l
	}
	var records []Referral
	if err := json.Unmarshal(raw, &records); err != nil {
		log.Warn("referral: ledger corrupt, starting empty", "path", path, "err", err)
		return l
	}
	for i := range records {
		rec := records[i]
		l.byOwner[rec.Owner] = &rec
		l.byCode[rec.Code] = rec.Owner
	}
	return l
}

// Code returns the referral record for an owner if one exists.
func (l *ReferralLedger) Code(owner common.Address) (Referral, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.byOwner[owner]
	if !ok {
		return Referral{}, false
	}
	return *rec, true
}

// Generate returns the owner's referral record, minting a fresh code on first
// use. Repeated calls for the same owner return the same code.
func (l *ReferralLedger) Generate(owner common.Address) (Referral, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec, ok := l.byOwner[owner]; ok {
		return *rec, nil
	}

	var code string
	for attempt := 0; attempt < 10; attempt++ {
		candidate, err := randomCode()
		if err != nil {
			return Referral{}, fmt.Errorf("mint referral code: %w", err)
		}
		if _, taken := l.byCode[candidate]; !taken {
			code = candidate
			break
		}
	}
	if code == "" {
		return Referral{}, fmt.Errorf("mint referral code: alphabet exhausted")
	}

	rec := &Referral{Code: code, Owner: owner, CreatedAt: l.now()}
	l.byOwner[owner] = rec
	l.byCode[code] = owner
	l.saveLocked()
	return *rec, nil
}

// Credit records a referred tip against a code, crediting the configured
// share of the amount to the referrer. Unknown codes are ignored.
func (l *ReferralLedger) Credit(code string, amount float64) (Referral, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	l.mu.Lock()
	defer l.mu.Unlock()
	owner, ok := l.byCode[code]
	if !ok {
		return Referral{}, false
	}
	rec := l.byOwner[owner]
	rec.Referrals++
	rec.Earnings += amount * ReferralRate
	rec.LastReferral = l.now()
	l.saveLocked()
	return *rec, true
}

// Link builds the shareable referral URL for a code.
func Link(baseURL, code string) string {
	return fmt.Sprintf("%s/?ref=%s", strings.TrimRight(baseURL, "/"), url.QueryEscape(code))
}

func randomCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, codeLength)
	for i, b := range buf {
		out[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(out), nil
}

// saveLocked rewrites the whole ledger file. Failures are logged and
// swallowed so referral writes never surface errors to callers.
func (l *ReferralLedger) saveLocked() {
	records := make([]Referral, 0, len(l.byOwner))
	for _, rec := range l.byOwner {
		records = append(records, *rec)
	}
	raw, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		l.log.Warn("referral: ledger encode failed", "err", err)
		return
	}
	if err := os.WriteFile(l.path, raw, 0o600); err != nil {
		l.log.Warn("referral: ledger write failed", "path", l.path, "err", err)
	}
}
