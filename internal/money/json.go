package money

import (
	"encoding/json"
	"errors"
	"fmt"
)

// wireMoney is how amounts travel to the player and the Transaction Store:
//
//	{"currency":"KES","amount":1250,"major":"12.50"}
//
// amount is in atomic units. major is for display and ignored on input.
type wireMoney struct {
	Currency string      `json:"currency"`
	Amount   json.Number `json:"amount"`
	Major    string      `json:"major,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireMoney{
		Currency: m.Asset.Code,
		Amount:   json.Number(m.ToAtomic()),
		Major:    m.ToMajor(),
	})
}

// UnmarshalJSON implements json.Unmarshaler. The amount may be a number or
// a numeric string; unknown currencies are rejected.
func (m *Money) UnmarshalJSON(data []byte) error {
	var w wireMoney
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("money: invalid JSON: %w", err)
	}
	if w.Currency == "" {
		return errors.New("money: currency required")
	}
	if w.Amount == "" {
		return errors.New("money: amount required")
	}

	asset, err := GetAsset(w.Currency)
	if err != nil {
		return err
	}
	parsed, err := FromAtomic(asset, w.Amount.String())
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
