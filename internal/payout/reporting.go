package payout

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"ms-payouts/internal/processor"

	"github.com/shopspring/decimal"
)

const (
	opReport = "report"

	// PayoutPageSize is the processor page size used when walking history.
	PayoutPageSize = 100

	createdLayout = "1/2/2006, 3:04:05 PM"
)

// zeroDecimal lists currencies the processor counts in whole units.
var zeroDecimal = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
	"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
	"vuv": true, "xaf": true, "xof": true, "xpf": true,
}

// MajorUnits converts a minor-unit amount into a decimal in major units.
func MajorUnits(amount int64, currency string) decimal.Decimal {
	if zeroDecimal[strings.ToLower(currency)] {
		return decimal.NewFromInt(amount)
	}
	return decimal.New(amount, -2)
}

func jsonAmount(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

type TransferTotal struct {
	AccountID string
	// Minor is the exact sum in minor units across all currencies.
	Minor int64
	Count int
	// ByCurrency holds the minor-unit sum per lowercase currency code.
	ByCurrency map[string]int64
}

// Currency returns the single currency of the walked payouts, or "" when
// there were none or they mixed currencies.
func (t *TransferTotal) Currency() string {
	if len(t.ByCurrency) != 1 {
		return ""
	}
	for c := range t.ByCurrency {
		return c
	}
	return ""
}

// Mixed reports whether the payouts span more than one currency.
func (t *TransferTotal) Mixed() bool {
	return len(t.ByCurrency) > 1
}

// Dollars renders the total in major units of its currency. For mixed
// currencies it is the sum of each currency's major-unit total and only the
// per-currency figures from MajorByCurrency are meaningful.
func (t *TransferTotal) Dollars() json.Number {
	sum := decimal.Zero
	for c, minor := range t.ByCurrency {
		sum = sum.Add(MajorUnits(minor, c))
	}
	return jsonAmount(sum)
}

// MajorByCurrency renders each currency's total in major units.
func (t *TransferTotal) MajorByCurrency() map[string]json.Number {
	out := make(map[string]json.Number, len(t.ByCurrency))
	for c, minor := range t.ByCurrency {
		out[c] = jsonAmount(MajorUnits(minor, c))
	}
	return out
}

type PayoutSummary struct {
	ID          string      `json:"id"`
	Amount      json.Number `json:"amount"`
	Currency    string      `json:"currency"`
	Status      string      `json:"status"`
	Created     string      `json:"created"`
	Destination string      `json:"destination"`
}

// TotalTransferred sums every payout on the connected account.
func (s *Service) TotalTransferred(ctx context.Context, accountID string) (*TransferTotal, error) {
	if accountID == "" {
		return nil, newError(KindValidation, opReport, "accountId is required", nil)
	}
	total := &TransferTotal{AccountID: accountID, ByCurrency: map[string]int64{}}
	err := s.walkPayouts(ctx, accountID, func(p processor.Payout) {
		total.Minor += p.Amount
		total.Count++
		total.ByCurrency[strings.ToLower(p.Currency)] += p.Amount
	})
	if err != nil {
		return nil, err
	}
	if total.Mixed() {
		s.log.Warn("REPORT", "Payouts for "+accountID+" span several currencies, total is not a single amount")
	}
	return total, nil
}

// ListPayouts flattens the connected account's full payout history.
func (s *Service) ListPayouts(ctx context.Context, accountID string) ([]PayoutSummary, error) {
	if accountID == "" {
		return nil, newError(KindValidation, opReport, "accountId is required", nil)
	}
	out := []PayoutSummary{}
	err := s.walkPayouts(ctx, accountID, func(p processor.Payout) {
		out = append(out, PayoutSummary{
			ID:          p.ID,
			Amount:      jsonAmount(MajorUnits(p.Amount, p.Currency)),
			Currency:    p.Currency,
			Status:      p.Status,
			Created:     formatCreated(p.Created),
			Destination: p.Destination,
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Balance returns the processor's balance object for the account unchanged.
func (s *Service) Balance(ctx context.Context, accountID string) (json.RawMessage, error) {
	if accountID == "" {
		return nil, newError(KindValidation, opReport, "connectedAccountId is required", nil)
	}
	raw, err := s.processor.GetBalance(ctx, accountID)
	if err != nil {
		return nil, processorError(opReport, err)
	}
	return raw, nil
}

// walkPayouts pages through history until the processor reports no more
// rows, returns an empty page, or the cursor stops advancing.
func (s *Service) walkPayouts(ctx context.Context, accountID string, fn func(processor.Payout)) error {
	cursor := ""
	for {
		page, err := s.processor.ListPayouts(ctx, accountID, cursor, PayoutPageSize)
		if err != nil {
			return processorError(opReport, err)
		}
		if len(page.Payouts) == 0 {
			return nil
		}
		for _, p := range page.Payouts {
			fn(p)
		}
		last := page.Payouts[len(page.Payouts)-1].ID
		if !page.HasMore {
			return nil
		}
		if last == cursor {
			s.log.Warn("REPORT", "Payout cursor did not advance for "+accountID+", stopping")
			return nil
		}
		cursor = last
	}
}

func formatCreated(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(createdLayout)
}
