package creator

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// DemoSet returns the locally seeded demo creators used to populate listing
// views while live registry data is sparse. Records are non-blockchain-backed
// and carry SourceDemo; the merge layer drops any that a live record shadows.
func DemoSet(now time.Time) []Record {
	seed := []struct {
		slug      string
		name      string
		bio       string
		category  string
		payout    string
		amounts   []float64
		tips      float64
		supporter int
	}{
		{"alice-art", "Alice Chen", "Digital artist creating beautiful NFTs and illustrations", "Art",
			"0x1234567890123456789012345678901234567890", []float64{5, 10, 25, 50}, 1250.50, 45},
		{"bob-music", "Bob Johnson", "Electronic music producer and DJ", "Music",
			"0x2345678901234567890123456789012345678901", []float64{3, 7, 15, 30}, 890.25, 32},
		{"charlie-dev", "Charlie Smith", "Full-stack developer building the future of web3", "Dev",
			"0x3456789012345678901234567890123456789012", []float64{10, 20, 50, 100}, 2100.75, 67},
		{"diana-gaming", "Diana Rodriguez", "Professional gamer and streamer specializing in FPS games", "Gaming",
			"0x4567890123456789012345678901234567890123", []float64{2, 5, 10, 20}, 675.80, 28},
		{"eve-art", "Eve Thompson", "Abstract painter exploring the intersection of technology and art", "Art",
			"0x5678901234567890123456789012345678901234", []float64{8, 15, 30, 60}, 1850.30, 52},
		{"frank-music", "Frank Wilson", "Jazz musician and composer creating ambient soundscapes", "Music",
			"0x6789012345678901234567890123456789012345", []float64{4, 8, 16, 32}, 1420.15, 38},
		{"grace-dev", "Grace Lee", "Blockchain developer and DeFi protocol architect", "Dev",
			"0x7890123456789012345678901234567890123456", []float64{15, 30, 60, 120}, 3200.90, 89},
		{"henry-gaming", "Henry Brown", "Indie game developer creating pixel art adventures", "Gaming",
			"0x8901234567890123456789012345678901234567", []float64{6, 12, 24, 48}, 980.45, 41},
		{"luna-photography", "Luna Martinez", "Professional photographer capturing the beauty of urban landscapes", "Photography",
			"0x1111111111111111111111111111111111111111", []float64{8, 15, 30, 60}, 2340.80, 78},
		{"marcus-podcast", "Marcus Thompson", "Tech podcast host discussing the latest in blockchain and AI", "Podcast",
			"0x2222222222222222222222222222222222222222", []float64{3, 7, 15, 30}, 1450.30, 42},
		{"sophia-writing", "Sophia Chen", "Technical writer and content creator specializing in Web3 tutorials", "Writing",
			"0x3333333333333333333333333333333333333333", []float64{5, 12, 25, 50}, 1890.45, 65},
		{"emma-travel", "Emma Johnson", "Travel vlogger exploring hidden gems around the world", "Travel",
			"0x7777777777777777777777777777777777777777", []float64{7, 14, 28, 56}, 3200.60, 108},
	}

	out := make([]Record, 0, len(seed))
	for _, s := range seed {
		addr := common.HexToAddress(s.payout)
		out = append(out, Record{
			Address:          addr,
			Name:             s.name,
			Bio:              s.bio,
			Avatar:           AvatarURL(s.name),
			Active:           true,
			TipsReceivedRaw:  BaseAmount(s.tips),
			SupporterCount:   uint64(s.supporter),
			TipsReceived:     s.tips,
			Supporters:       s.supporter,
			Slug:             s.slug,
			Category:         s.category,
			SuggestedAmounts: s.amounts,
			PayoutAddress:    addr,
			OwnerAddress:     addr,
			CreatedAt:        now,
			Source:           SourceDemo,
		})
	}
	return out
}
