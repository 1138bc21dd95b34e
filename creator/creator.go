package creator

import (
	"math/big"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TipDecimals is the fixed decimal convention for tip amounts. The registry
// denominates tips in USDC base units.
const TipDecimals = 6

// Source identifies where a creator record was produced.
type Source string

const (
	// SourceLive marks a record read directly from the registry contract.
	SourceLive Source = "live"
	// SourceEvent marks a record synthesized from a registration event log.
	SourceEvent Source = "event"
	// SourceDemo marks a locally seeded demo record.
	SourceDemo Source = "demo"
	// SourceCache marks a record served from the persistent cache.
	SourceCache Source = "cache"
)

// Record is the canonical creator shape shared by every retrieval path.
// TipsReceivedRaw holds on-chain base units; TipsReceived holds the derived
// human-decimal amount and the two must agree under TipDecimals.
type Record struct {
	Address          common.Address
	Name             string
	Bio              string
	Avatar           string
	Active           bool
	TipsReceivedRaw  *big.Int
	SupporterCount   uint64
	TipsReceived     float64
	Supporters       int
	Slug             string
	Category         string
	SuggestedAmounts []float64
	PayoutAddress    common.Address
	OwnerAddress     common.Address
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Source           Source
}

// GlobalStats is the aggregate snapshot exposed by the registry.
type GlobalStats struct {
	TotalCreators   int
	TotalTips       float64
	TotalSupporters int
}

// DefaultSuggestedAmounts is applied when the registry carries no suggestion
// data for a creator.
var DefaultSuggestedAmounts = []float64{5, 10, 25, 50}

var tipUnit = new(big.Int).Exp(big.NewInt(10), big.NewInt(TipDecimals), nil)

// HumanAmount converts a base-unit integer amount into its human-decimal
// equivalent. A nil amount converts to zero.
func HumanAmount(raw *big.Int) float64 {
	if raw == nil {
		return 0
	}
	f, _ := new(big.Rat).SetFrac(raw, tipUnit).Float64()
	return f
}

// BaseAmount converts a human-decimal amount back into base units, truncating
// anything below the smallest unit.
func BaseAmount(human float64) *big.Int {
	rat := new(big.Rat).SetFloat64(human)
	if rat == nil {
		return new(big.Int)
	}
	rat.Mul(rat, new(big.Rat).SetInt(tipUnit))
	out := new(big.Int).Quo(rat.Num(), rat.Denom())
	return out
}

var (
	slugStrip    = regexp.MustCompile(`[^a-z0-9\s-]`)
	slugSpaces   = regexp.MustCompile(`\s+`)
	slugHyphens  = regexp.MustCompile(`-+`)
	slugValidate = regexp.MustCompile(`^[a-z0-9-]+$`)
)

// Slugify derives a URL slug from a display name: lowercase, special
// characters removed, whitespace runs collapsed to a single hyphen. Distinct
// names can collide; callers that need uniqueness must disambiguate.
func Slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = slugStrip.ReplaceAllString(s, "")
	s = slugSpaces.ReplaceAllString(s, "-")
	s = slugHyphens.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// ValidSlug reports whether s is a well-formed slug.
func ValidSlug(s string) bool {
	return s != "" && slugValidate.MatchString(s)
}

// AvatarURL builds a deterministic placeholder avatar for creators whose
// profile carries no image, seeded by display name.
func AvatarURL(name string) string {
	return "https://api.dicebear.com/7.x/avataaars/svg?seed=" + url.QueryEscape(name)
}
