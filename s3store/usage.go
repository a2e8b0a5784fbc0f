package s3store

import (
	"fmt"
	"sync/atomic"
)

// Usage counts the requests a store has made, split by S3 pricing tier. LIST
// and PUT requests are billed at the expensive tier, GET at the cheap one.
type Usage struct {
	cheap     atomic.Int64
	expensive atomic.Int64
}

// Cost per 1,000 requests in microdollars (1 dollar = 1,000,000 microdollars)
const (
	cheapCostPerThousand     = 400   // $0.0004
	expensiveCostPerThousand = 5_000 // $0.005
)

func (u *Usage) addCheap()     { u.cheap.Add(1) }
func (u *Usage) addExpensive() { u.expensive.Add(1) }

func (u *Usage) Requests() (cheap, expensive int64) {
	return u.cheap.Load(), u.expensive.Load()
}

// TotalCost formats the cost of the requests so far in USD.
func (u *Usage) TotalCost() string {
	cheap, expensive := u.Requests()
	totalMicrodollars := (cheap*cheapCostPerThousand + expensive*expensiveCostPerThousand) / 1000

	dollars := totalMicrodollars / 1_000_000
	cents := (totalMicrodollars % 1_000_000) / 10_000
	if dollars > 0 || cents > 0 {
		return fmt.Sprintf("$%d.%02d", dollars, cents)
	}
	return fmt.Sprintf("$0.%04d", (totalMicrodollars%10_000)/100)
}
