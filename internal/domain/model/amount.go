package model

import "github.com/shopspring/decimal"

// Amount は numeric(10,2) の金額を JSON に出すための型。常に小数2桁の文字列。
type Amount struct {
	decimal.Decimal
}

func NewAmount(d decimal.Decimal) Amount {
	return Amount{Decimal: d}
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.StringFixed(2) + `"`), nil
}
