package ton

import "github.com/shopspring/decimal"

var nanoPerTON = decimal.NewFromInt(1_000_000_000)

// Price converts between USD and nanoTON at a fixed configured rate. A live
// price feed is out of scope; the rate comes from TON_USD_PRICE.
type Price struct {
	usdPerTON decimal.Decimal
}

func NewPrice(usdPerTON decimal.Decimal) Price {
	return Price{usdPerTON: usdPerTON}
}

func (p Price) USDPerTON() decimal.Decimal {
	return p.usdPerTON
}

// USDToNano returns the nanoTON equivalent of a USD amount, rounded up so
// the payer never underpays by a rounding artifact.
func (p Price) USDToNano(usd decimal.Decimal) int64 {
	if p.usdPerTON.IsZero() {
		return 0
	}
	return usd.Div(p.usdPerTON).Mul(nanoPerTON).Ceil().IntPart()
}

func (p Price) NanoToUSD(nano int64) decimal.Decimal {
	return decimal.NewFromInt(nano).Div(nanoPerTON).Mul(p.usdPerTON)
}

// USDToTON returns the human-readable TON amount for display in 402 bodies.
func (p Price) USDToTON(usd decimal.Decimal) decimal.Decimal {
	if p.usdPerTON.IsZero() {
		return decimal.Zero
	}
	return usd.Div(p.usdPerTON).Round(9)
}
