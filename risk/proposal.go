package risk

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
)

// Proposal is a candidate order. It lives only for the cycle that built it.
type Proposal struct {
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Notional  float64   `json:"notional"`
	OrderType OrderType `json:"order_type"`

	Price         *float64 `json:"price,omitempty"`
	StopLossPct   *float64 `json:"sl_pct,omitempty"`
	TakeProfitPct *float64 `json:"tp_pct,omitempty"`
}
