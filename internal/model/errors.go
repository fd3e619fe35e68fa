package model

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error kinds. Callers match them with errors.Is; context is attached
// with errors.Wrap at the failure site.
var (
	ErrValidation    = errors.New("validation error")
	ErrRuleViolation = errors.New("rule violation")
	ErrNotFound      = errors.New("not found")
	ErrAlreadyClosed = errors.New("trade already closed")
	ErrInternal      = errors.New("internal failure")
)

// Rule identifies a trading-discipline rule.
type Rule string

const (
	RuleMaxOpenTrades   Rule = "MAX_OPEN_TRADES"
	RuleMaxTradesPerDay Rule = "MAX_TRADES_PER_DAY"
	RuleMaxDailyLoss    Rule = "MAX_DAILY_LOSS"
)

// RuleViolation describes the first rule an account failed. It is returned
// as an error by the trade engine and matches ErrRuleViolation.
type RuleViolation struct {
	Rule    Rule    `json:"rule"`
	Message string  `json:"message"`
	Limit   float64 `json:"limit"`
	Actual  float64 `json:"actual"`
}

func (v *RuleViolation) Error() string {
	return fmt.Sprintf("rule violation: %s: %s", v.Rule, v.Message)
}

// Is makes errors.Is(v, ErrRuleViolation) true.
func (v *RuleViolation) Is(target error) bool {
	return target == ErrRuleViolation
}
