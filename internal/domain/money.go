package domain

import "github.com/shopspring/decimal"

// Money is a commercetools centPrecision (or highPrecision) amount.
type Money struct {
	Type           string `json:"type,omitempty"`
	CurrencyCode   string `json:"currencyCode"`
	CentAmount     int64  `json:"centAmount"`
	FractionDigits int    `json:"fractionDigits"`
}

// Decimal returns the amount in major currency units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.CentAmount, -int32(m.FractionDigits))
}

// String renders the amount as "12.34 EUR".
func (m Money) String() string {
	return m.Decimal().StringFixed(int32(m.FractionDigits)) + " " + m.CurrencyCode
}

type Price struct {
	ID    string `json:"id,omitempty"`
	Value Money  `json:"value"`
}

type TaxedPrice struct {
	TotalNet   Money  `json:"totalNet"`
	TotalGross Money  `json:"totalGross"`
	TotalTax   *Money `json:"totalTax,omitempty"`
}
