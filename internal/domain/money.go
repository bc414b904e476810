package domain

import (
	"fmt"
	"math"
)

const DefaultCurrency = "usd"

// AmountToCents converts a decimal currency amount to minor units.
func AmountToCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

func CentsToAmount(cents int64) float64 {
	return float64(cents) / 100
}

// FormatCents renders minor units as "299.99".
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

func formatDuration(hours, minutes int) string {
	if minutes == 0 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dh %dm", hours, minutes)
}
