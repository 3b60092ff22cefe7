package budget

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/wxy/SilentFeed-sub007/app/database"
)

// Default monthly ceiling in USD when no explicit budget is configured.
const DefaultMonthlyBudgetUSD = 5.0

// WarningRatio is the spend ratio at which the budget is considered
// close to exhaustion.
const WarningRatio = 0.8

// Status is a point-in-time snapshot of the monthly AI budget.
type Status struct {
	Year                 int                `json:"year"`
	Month                int                `json:"month"`
	BudgetUSD            float64            `json:"budgetUsd"`
	SpentUSD             float64            `json:"spentUsd"`
	RemainingUSD         float64            `json:"remainingUsd"`
	UsageRatio           float64            `json:"usageRatio"`
	IsOverBudget         bool               `json:"isOverBudget"`
	NearingBudget        bool               `json:"nearingBudget"`
	RemainingDays        int                `json:"remainingDays"`
	SuggestedDailyBudget float64            `json:"suggestedDailyBudget"`
	SpendByCurrency      map[string]float64 `json:"spendByCurrency"`
}

// Warning describes the current budget pressure level for UI surfaces.
type Warning struct {
	Level   string  `json:"level"`
	Message string  `json:"message"`
	Ratio   float64 `json:"ratio"`
}

// Checker answers budget questions against recorded AI usage. CNY spend
// is normalized into USD with a fixed exchange rate; FREE spend never
// counts against the ceiling.
type Checker struct {
	usage      database.UsageRepository
	budgetUSD  float64
	usdCNYRate float64
	now        func() time.Time
}

func NewChecker(usage database.UsageRepository, budgetUSD, usdCNYRate float64) *Checker {
	if budgetUSD <= 0 {
		budgetUSD = DefaultMonthlyBudgetUSD
	}
	if usdCNYRate <= 0 {
		usdCNYRate = 7.2
	}
	return &Checker{
		usage:      usage,
		budgetUSD:  budgetUSD,
		usdCNYRate: usdCNYRate,
		now:        time.Now,
	}
}

// monthlySpendUSD returns the current month's spend normalized to USD,
// along with the raw per-currency breakdown.
func (c *Checker) monthlySpendUSD() (float64, map[string]float64, error) {
	t := c.now().UTC()
	byCurrency, err := c.usage.MonthlySpend(t.Year(), t.Month())
	if err != nil {
		return 0, nil, err
	}

	total := 0.0
	for currency, amount := range byCurrency {
		switch currency {
		case database.CurrencyUSD:
			total += amount
		case database.CurrencyCNY:
			total += amount / c.usdCNYRate
		case database.CurrencyFree:
			// Free-tier usage is tracked but never billed.
		default:
			slog.Warn("Unknown currency in usage records, counting as USD", "currency", currency)
			total += amount
		}
	}
	return total, byCurrency, nil
}

// GetBudgetStatus computes the current month's budget snapshot. On a
// storage failure it returns a conservative zero-spend status so callers
// keep working, logging the error instead of propagating it.
func (c *Checker) GetBudgetStatus() Status {
	t := c.now().UTC()
	status := Status{
		Year:            t.Year(),
		Month:           int(t.Month()),
		BudgetUSD:       c.budgetUSD,
		RemainingUSD:    c.budgetUSD,
		RemainingDays:   remainingDays(t),
		SpendByCurrency: map[string]float64{},
	}

	spent, byCurrency, err := c.monthlySpendUSD()
	if err != nil {
		slog.Error("Failed to read monthly spend, assuming zero", "err", err)
		status.SuggestedDailyBudget = c.suggestedDailyBudget(status.RemainingUSD, t)
		return status
	}

	status.SpentUSD = spent
	status.SpendByCurrency = byCurrency
	status.RemainingUSD = c.budgetUSD - spent
	if status.RemainingUSD < 0 {
		status.RemainingUSD = 0
	}
	if c.budgetUSD > 0 {
		status.UsageRatio = spent / c.budgetUSD
	}
	status.IsOverBudget = spent >= c.budgetUSD
	status.NearingBudget = status.UsageRatio >= WarningRatio
	status.SuggestedDailyBudget = c.suggestedDailyBudget(status.RemainingUSD, t)

	return status
}

// remainingDays counts the days left in the month, today included.
func remainingDays(t time.Time) int {
	daysInMonth := time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
	daysLeft := daysInMonth - t.Day() + 1
	if daysLeft < 1 {
		daysLeft = 1
	}
	return daysLeft
}

// suggestedDailyBudget spreads the remaining budget over the days left
// in the month, today included.
func (c *Checker) suggestedDailyBudget(remaining float64, t time.Time) float64 {
	return remaining / float64(remainingDays(t))
}

// CanMakeAICall reports whether a call with the given estimated USD cost
// fits inside the remaining monthly budget.
func (c *Checker) CanMakeAICall(estimatedCostUSD float64) bool {
	status := c.GetBudgetStatus()
	if status.IsOverBudget {
		return false
	}
	return status.SpentUSD+estimatedCostUSD <= status.BudgetUSD
}

// ShouldDowngrade reports whether AI calls should switch to the cheaper
// analysis path. True only once the ceiling has actually been hit.
func (c *Checker) ShouldDowngrade() bool {
	return c.GetBudgetStatus().IsOverBudget
}

// GetBudgetWarning returns nil while spend is under 80% of the ceiling,
// a warning between 80% and 100%, and a downgrading notice once over.
func (c *Checker) GetBudgetWarning() *Warning {
	status := c.GetBudgetStatus()
	switch {
	case status.IsOverBudget:
		return &Warning{
			Level:   "critical",
			Message: fmt.Sprintf("Monthly AI budget exhausted ($%.2f of $%.2f spent), downgrading to local analysis", status.SpentUSD, status.BudgetUSD),
			Ratio:   status.UsageRatio,
		}
	case status.UsageRatio >= WarningRatio:
		return &Warning{
			Level:   "warning",
			Message: fmt.Sprintf("Monthly AI budget %.0f%% used: $%.2f of $%.2f", status.UsageRatio*100, status.SpentUSD, status.BudgetUSD),
			Ratio:   status.UsageRatio,
		}
	default:
		return nil
	}
}
