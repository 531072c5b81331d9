package asset

import "strings"

// Type is the market-cap tier an analyzed symbol belongs to.
type Type string

const (
	TypeBTC         Type = "BTC"
	TypeETH         Type = "ETH"
	TypeLargeCapAlt Type = "LARGE_CAP_ALT"
	TypeMidCapAlt   Type = "MID_CAP_ALT"
	TypeSmallCapAlt Type = "SMALL_CAP_ALT"
	TypeMemeCoin    Type = "MEME_COIN"
)

// Quote-volume thresholds for the alt tiers, in USDT.
const (
	largeCapVolume = 500_000_000
	midCapVolume   = 50_000_000
	smallCapVolume = 5_000_000
)

// RiskBands is the recommended sizing and stop-width guidance for a tier,
// used to cross-check the LLM output.
type RiskBands struct {
	MaxPositionPercentLow  float64
	MaxPositionPercentHigh float64
	StopLossPercentLow     float64
	StopLossPercentHigh    float64
	Notes                  string
}

var knownQuotes = []string{"USDT", "USDC", "BUSD", "TUSD", "FDUSD", "BTC", "ETH", "BNB"}

// BaseAsset strips a known quote suffix from the trading symbol.
func BaseAsset(symbol string) string {
	symbol = strings.ToUpper(symbol)
	for _, quote := range knownQuotes {
		if len(symbol) > len(quote) && strings.HasSuffix(symbol, quote) {
			return symbol[:len(symbol)-len(quote)]
		}
	}
	return symbol
}

// Classify maps a symbol and its 24h quote volume to an asset tier. The
// mapping is total: every pair lands in exactly one tier.
func Classify(symbol string, quoteVolume24h float64) Type {
	switch BaseAsset(symbol) {
	case "BTC":
		return TypeBTC
	case "ETH":
		return TypeETH
	}

	switch {
	case quoteVolume24h >= largeCapVolume:
		return TypeLargeCapAlt
	case quoteVolume24h >= midCapVolume:
		return TypeMidCapAlt
	case quoteVolume24h >= smallCapVolume:
		return TypeSmallCapAlt
	default:
		return TypeMemeCoin
	}
}

// Bands returns the dynamic-risk bands for a tier.
func Bands(t Type) RiskBands {
	switch t {
	case TypeBTC:
		return RiskBands{3, 5, 4, 6, "macro-sensitive, widen stops on news"}
	case TypeETH:
		return RiskBands{2, 3, 5, 8, "sector + macro"}
	case TypeLargeCapAlt:
		return RiskBands{1.5, 2, 8, 12, "correlation-aware"}
	case TypeMidCapAlt:
		return RiskBands{1, 1.5, 10, 15, "rotation risk"}
	case TypeSmallCapAlt:
		return RiskBands{0.5, 1, 15, 20, "liquidity-aware"}
	default:
		return RiskBands{0.05, 0.1, 20, 30, "auto-HIGH risk"}
	}
}
