package util

import "fmt"

// FormatPence renders an amount in minor units as a pound string,
// e.g. 4000 -> "£40.00". Negative amounts keep the sign ahead of the
// currency symbol.
func FormatPence(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s£%d.%02d", sign, amount/100, amount%100)
}
