package table

import (
	"math"
	"strings"

	"github.com/spf13/cast"
)

const (
	commaShareThreshold = 0.40
	dotShareThreshold   = 0.20
)

// DecimalComma reports whether a column uses the comma as decimal separator:
// more than 40% of its non-empty cells contain a comma and fewer than 20%
// contain a dot.
func DecimalComma(values []string) bool {
	var nonEmpty, commas, dots int
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		nonEmpty++
		if strings.Contains(v, ",") {
			commas++
		}
		if strings.Contains(v, ".") {
			dots++
		}
	}
	if nonEmpty == 0 {
		return false
	}
	n := float64(nonEmpty)
	return float64(commas)/n > commaShareThreshold && float64(dots)/n < dotShareThreshold
}

// ParseNumber converts s to a float. With decimalComma set, dots are
// thousands separators and the comma is the decimal mark. Otherwise the
// separator is detected per cell: when both appear the last one is the
// decimal mark, a separator that repeats is a thousands separator, and a
// single separator is the decimal mark. Characters outside [0-9,.-] are
// stripped. Anything unparseable is NaN.
func ParseNumber(s string, decimalComma bool) float64 {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == ',' || r == '.' || r == '-' {
			return r
		}
		return -1
	}, s)
	if cleaned == "" || cleaned == "-" {
		return math.NaN()
	}

	if decimalComma {
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.Replace(cleaned, ",", ".", 1)
	} else {
		cleaned = normalizeSeparators(cleaned)
	}

	f, err := cast.ToFloat64E(cleaned)
	if err != nil || math.IsInf(f, 0) {
		return math.NaN()
	}
	return f
}

func normalizeSeparators(s string) string {
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			return strings.ReplaceAll(s, ",", "")
		}
		return strings.Replace(s, ",", ".", 1)
	case lastDot >= 0 && strings.Count(s, ".") > 1:
		return strings.ReplaceAll(s, ".", "")
	}
	return s
}

// ParseInt coerces integer-ish cells such as "2024", "010" or "3.0".
// Integers are always decimal. Empty or unparseable input reports ok=false.
func ParseInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if digits, ok := decimalInteger(s); ok {
		n, err := cast.ToIntE(digits)
		return n, err == nil
	}
	f := ParseNumber(s, false)
	if math.IsNaN(f) || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

// decimalInteger strips the leading zeros of a signed run of digits so the
// token is never read with an octal or hex base.
func decimalInteger(s string) (string, bool) {
	sign, digits := "", s
	if digits[0] == '-' || digits[0] == '+' {
		sign, digits = digits[:1], digits[1:]
	}
	if digits == "" {
		return "", false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		digits = "0"
	}
	if sign == "+" {
		sign = ""
	}
	return sign + digits, true
}
