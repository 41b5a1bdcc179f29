package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// AssetBalance is the free and locked amount of one asset.
type AssetBalance struct {
	Free   decimal.Decimal `json:"free"`
	Locked decimal.Decimal `json:"locked"`
}

// Total returns free + locked.
func (b AssetBalance) Total() decimal.Decimal {
	return b.Free.Add(b.Locked)
}

// AccountBalance is the spot account snapshot returned by the exchange.
type AccountBalance struct {
	Assets    map[string]AssetBalance `json:"assets"`
	FetchedAt time.Time               `json:"fetched_at"`
}

// Get returns the balance for an asset; zero if the account does not hold it.
func (a AccountBalance) Get(asset string) AssetBalance {
	return a.Assets[asset]
}

// Available returns the free amount of an asset.
func (a AccountBalance) Available(asset string) decimal.Decimal {
	return a.Assets[asset].Free
}

// NonZero returns asset names holding a positive total, sorted.
func (a AccountBalance) NonZero() []string {
	result := make([]string, 0, len(a.Assets))
	for asset, b := range a.Assets {
		if b.Total().IsPositive() {
			result = append(result, asset)
		}
	}
	sort.Strings(result)
	return result
}

// CalculateTotalEquity computes the total value of the account in the quote currency.
// prices: asset -> price in quote. The quote asset itself is valued at 1.
// Assets without a price are skipped (conservative).
func (a AccountBalance) CalculateTotalEquity(quote string, prices map[string]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for asset, b := range a.Assets {
		if asset == quote {
			total = total.Add(b.Total())
			continue
		}
		price, ok := prices[asset]
		if !ok {
			continue
		}
		total = total.Add(b.Total().Mul(price))
	}
	return total
}
