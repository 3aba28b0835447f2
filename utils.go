package agentpay

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// generateID returns prefix + UUID v4 without hyphens (32 hex chars).
// Example: "pay_7d5d747be160e280504c099d984bcfe0"
func generateID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// GeneratePaymentID generates a unique payment identifier
func GeneratePaymentID() string {
	return generateID("pay_")
}

// GenerateMessageID generates a unique message identifier
func GenerateMessageID() string {
	return generateID("msg_")
}

// GenerateLogID generates a unique log entry identifier
func GenerateLogID() string {
	return generateID("log_")
}

// GenerateWalletID generates a unique session wallet identifier
func GenerateWalletID() string {
	return generateID("wlt_")
}

// ParseAmount parses a decimal amount string, tolerating a leading
// currency symbol ("$0.05" and "0.05" both parse to 0.05)
func ParseAmount(amount string) (float64, error) {
	cleaned := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(amount), "$"))

	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if f < 0 {
		return 0, fmt.Errorf("amount cannot be negative: %s", amount)
	}
	return f, nil
}

// FormatAmount renders an amount for human-readable log messages
func FormatAmount(amount float64) string {
	return fmt.Sprintf("$%.2f", amount)
}

// AmountToBaseUnits converts a decimal amount to integer base units
// (e.g. 0.05 with 6 decimals becomes 50000)
func AmountToBaseUnits(amount float64, decimals int) *big.Int {
	return big.NewInt(int64(math.Floor(amount * math.Pow10(decimals))))
}

// first returns the first element matching the predicate, scanning in order
func first[T any](items []T, match func(T) bool) (T, bool) {
	for _, item := range items {
		if match(item) {
			return item, true
		}
	}
	var zero T
	return zero, false
}
