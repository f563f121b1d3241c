package ballot

import (
	"fmt"
	"math/big"
	"strings"
)

var siPrefixes = []string{"", "k", "M", "G", "T", "P", "E"}

// FormatBalance renders a raw balance with the given number of chain decimals,
// scaled to the largest SI prefix that keeps at least one whole digit and
// shown with four fractional digits, e.g. 1234567 -> "1.2345 M".
func FormatBalance(value *big.Int, decimals int, unit string) string {
	digits := orZero(value).String()
	negative := strings.HasPrefix(digits, "-")
	digits = strings.TrimPrefix(digits, "-")

	if len(digits) <= decimals {
		digits = strings.Repeat("0", decimals-len(digits)+1) + digits
	}
	intLen := len(digits) - decimals

	idx := (intLen - 1) / 3
	if idx >= len(siPrefixes) {
		idx = len(siPrefixes) - 1
	}
	split := intLen - 3*idx
	whole := strings.TrimLeft(digits[:split], "0")
	if whole == "" {
		whole = "0"
	}
	frac := digits[split:]
	if len(frac) > 4 {
		frac = frac[:4]
	}
	frac += strings.Repeat("0", 4-len(frac))

	if negative {
		whole = "-" + whole
	}
	return strings.TrimSpace(fmt.Sprintf("%s.%s %s%s", whole, frac, siPrefixes[idx], unit))
}

// FormatShare renders a share in units of 1/ShareScale as a percentage.
func FormatShare(share uint64) string {
	return fmt.Sprintf("%d.%02d%%", share/100, share%100)
}
