package accesskeys

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"grip/internal/pkg/errors"
	"grip/internal/platform/models"
)

var (
	addressPattern   = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	hashPattern      = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
	signaturePattern = regexp.MustCompile(`^0x([0-9a-fA-F]{2})+$`)
)

// SpendingLimit is a request-side limit: the amount is a decimal string of token base units.
type SpendingLimit struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

// Limits maps a lower-cased token address to its initial and remaining allowance.
type Limits map[string]models.TokenLimit

func parseAmount(s string) (*big.Int, bool) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, false
	}
	return n, true
}

func IsAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// NewLimits builds limits with initial = remaining for every token.
func NewLimits(spending []SpendingLimit) (Limits, error) {
	if len(spending) == 0 {
		return nil, fmt.Errorf("at least one spending limit is required: %w", errors.ErrInvalidInput)
	}

	limits := make(Limits, len(spending))
	for _, l := range spending {
		if !IsAddress(l.Token) {
			return nil, fmt.Errorf("invalid token address %q: %w", l.Token, errors.ErrInvalidInput)
		}
		amount, ok := parseAmount(l.Amount)
		if !ok || amount.Sign() == 0 {
			return nil, fmt.Errorf("amount for %s must be a positive integer: %w", l.Token, errors.ErrInvalidInput)
		}
		token := strings.ToLower(l.Token)
		if _, dup := limits[token]; dup {
			return nil, fmt.Errorf("duplicate limit for %s: %w", l.Token, errors.ErrInvalidInput)
		}
		limits[token] = models.TokenLimit{Initial: amount.String(), Remaining: amount.String()}
	}
	return limits, nil
}

// Validate checks that every amount parses and remaining never exceeds initial.
func (l Limits) Validate() error {
	for token, limit := range l {
		initial, ok := parseAmount(limit.Initial)
		if !ok {
			return fmt.Errorf("invalid initial amount for %s: %w", token, errors.ErrInvalidInput)
		}
		remaining, ok := parseAmount(limit.Remaining)
		if !ok {
			return fmt.Errorf("invalid remaining amount for %s: %w", token, errors.ErrInvalidInput)
		}
		if remaining.Cmp(initial) > 0 {
			return fmt.Errorf("remaining exceeds initial for %s: %w", token, errors.ErrInvalidInput)
		}
	}
	return nil
}

// Spend returns a copy of l with amount deducted from token's remaining allowance.
func (l Limits) Spend(token string, amount *big.Int) (Limits, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("spend amount must be positive: %w", errors.ErrInvalidInput)
	}
	token = strings.ToLower(token)
	limit, ok := l[token]
	if !ok {
		return nil, fmt.Errorf("key has no limit for token %s: %w", token, errors.ErrInvalidInput)
	}
	remaining, ok := parseAmount(limit.Remaining)
	if !ok {
		return nil, fmt.Errorf("corrupt remaining amount for %s", token)
	}
	if amount.Cmp(remaining) > 0 {
		return nil, ErrLimitExceeded
	}

	next := make(Limits, len(l))
	for k, v := range l {
		next[k] = v
	}
	limit.Remaining = new(big.Int).Sub(remaining, amount).String()
	next[token] = limit
	return next, nil
}

// Exhausted reports whether nothing is left to spend on any token.
func (l Limits) Exhausted() bool {
	for _, limit := range l {
		remaining, ok := parseAmount(limit.Remaining)
		if !ok || remaining.Sign() > 0 {
			return false
		}
	}
	return true
}
