package domain

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places persisted for monetary amounts.
const MoneyScale = 2

var (
	// ErrMoneyNegative is returned when an amount is below zero.
	ErrMoneyNegative = errors.New("money: amount must not be negative")
	// ErrMoneyPrecision is returned when an amount carries more than two decimal places.
	ErrMoneyPrecision = errors.New("money: amount must have at most 2 decimal places")
)

// ParseMoney parses a decimal string and checks it against the persisted money rules.
func ParseMoney(raw string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, err
	}
	if err := CheckMoney(value); err != nil {
		return decimal.Zero, err
	}
	return value, nil
}

// CheckMoney validates sign and precision.
func CheckMoney(value decimal.Decimal) error {
	if value.IsNegative() {
		return ErrMoneyNegative
	}
	if !value.Equal(value.Round(MoneyScale)) {
		return ErrMoneyPrecision
	}
	return nil
}

// FormatMoney renders the amount with exactly two decimals.
func FormatMoney(value decimal.Decimal) string {
	return value.StringFixed(MoneyScale)
}

// MinMoney returns the smaller amount.
func MinMoney(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
