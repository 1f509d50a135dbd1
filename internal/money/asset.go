package money

import (
	"fmt"
	"strings"
	"sync"
)

// Asset is a currency accepted by the mobile-money gateway.
type Asset struct {
	Code     string // ISO 4217 code (RWF, UGX, USD)
	Decimals uint8  // Minor-unit digits; RWF and UGX have none
}

// Global asset registry with concurrent access protection
var (
	assetRegistry = map[string]Asset{
		// East African mobile-money currencies
		"RWF": {Code: "RWF", Decimals: 0},
		"UGX": {Code: "UGX", Decimals: 0},
		"KES": {Code: "KES", Decimals: 2},
		"TZS": {Code: "TZS", Decimals: 2},
		// Settlement currency for international cards routed through the gateway
		"USD": {Code: "USD", Decimals: 2},
	}
	assetRegistryMu sync.RWMutex
)

// GetAsset retrieves an asset from the registry. Codes are case-insensitive.
func GetAsset(code string) (Asset, error) {
	assetRegistryMu.RLock()
	asset, ok := assetRegistry[strings.ToUpper(strings.TrimSpace(code))]
	assetRegistryMu.RUnlock()

	if !ok {
		return Asset{}, fmt.Errorf("money: unknown asset: %s", code)
	}
	return asset, nil
}

// MustGetAsset retrieves an asset and panics if not found (for tests/constants).
func MustGetAsset(code string) Asset {
	asset, err := GetAsset(code)
	if err != nil {
		panic(err)
	}
	return asset
}

// RegisterAsset adds a new asset to the registry.
func RegisterAsset(asset Asset) error {
	if asset.Code == "" {
		return fmt.Errorf("money: asset code required")
	}
	if asset.Decimals > 6 {
		return fmt.Errorf("money: decimals must be <= 6")
	}

	assetRegistryMu.Lock()
	assetRegistry[strings.ToUpper(asset.Code)] = asset
	assetRegistryMu.Unlock()

	return nil
}
