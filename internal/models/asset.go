package models

import "strings"

// AssetClass buckets symbols for position limits and PDT focus rules.
type AssetClass string

const (
	AssetStock  AssetClass = "stock"
	AssetETF    AssetClass = "etf"
	AssetCrypto AssetClass = "crypto"
)

// FocusLeveragedETF is the focus-asset label for leveraged ETFs. They sit in
// the etf class but are tracked separately because PDT-locked accounts are
// steered toward them (no PDT rules apply to the underlying strategy).
const FocusLeveragedETF = "leveraged_etf"

// knownETFs covers the broad-market and sector funds the strategies trade.
// Anything not listed here and not crypto is treated as a common stock.
var knownETFs = map[string]bool{
	"SPY": true, "QQQ": true, "IWM": true, "DIA": true, "VTI": true,
	"XLF": true, "XLE": true, "XLK": true, "XBI": true, "GLD": true,
	"SLV": true, "ITA": true, "URA": true, "ARKK": true, "SMH": true,
}

// leveragedETFs are 2x/3x funds. Also members of the etf class.
var leveragedETFs = map[string]bool{
	"TQQQ": true, "SQQQ": true, "UPRO": true, "SPXU": true,
	"SOXL": true, "SOXS": true, "TNA": true, "TZA": true,
	"LABU": true, "LABD": true, "FAS": true, "FAZ": true,
	"UDOW": true, "SDOW": true, "UVXY": true,
}

// ClassifyAsset maps a symbol to its asset class from its shape and the
// known-ETF tables. Alpaca crypto symbols are slash pairs ("BTC/USD").
func ClassifyAsset(symbol string) AssetClass {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if strings.Contains(s, "/") {
		return AssetCrypto
	}
	if knownETFs[s] || leveragedETFs[s] {
		return AssetETF
	}
	return AssetStock
}

// IsLeveragedETF reports whether the symbol is a known leveraged fund.
func IsLeveragedETF(symbol string) bool {
	return leveragedETFs[strings.ToUpper(strings.TrimSpace(symbol))]
}
