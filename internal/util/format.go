// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

// =============================================================================
// NUMBER FORMATTING
// =============================================================================

// Itoa converts an integer to a string without using the fmt package.
func Itoa(n int) string {
	if n == 0 {
		return "0"
	}

	if n == -9223372036854775808 { // math.MinInt64
		return "-9223372036854775808"
	}

	negative := n < 0
	if negative {
		n = -n
	}

	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}

	if negative {
		return "-" + string(digits)
	}
	return string(digits)
}

// FormatInt formats an integer with thousand separators.
func FormatInt(n int) string {
	if n == -9223372036854775808 {
		return "-9,223,372,036,854,775,808"
	}
	if n < 0 {
		return "-" + FormatInt(-n)
	}
	if n < 1000 {
		return Itoa(n)
	}

	s := Itoa(n)
	result := ""
	count := 0
	for i := len(s) - 1; i >= 0; i-- {
		if count > 0 && count%3 == 0 {
			result = "," + result
		}
		result = string(s[i]) + result
		count++
	}
	return result
}

// FormatFloat1 formats a float with one decimal place and rounding.
func FormatFloat1(f float64) string {
	negative := f < 0
	abs := f
	if negative {
		abs = -f
	}

	rounded := abs + 0.05
	whole := int(rounded)
	frac := int((rounded - float64(whole)) * 10)

	result := Itoa(whole) + "." + Itoa(frac)
	if negative {
		result = "-" + result
	}
	return result
}
