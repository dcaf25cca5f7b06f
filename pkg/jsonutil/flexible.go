// Package jsonutil tolerantly decodes JSON fields coming back from language
// models, which routinely return numbers where strings were asked for and
// Brazilian-formatted strings where numbers were asked for.
package jsonutil

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// String decodes a JSON value that should be a string but may arrive as a
// number, boolean or null.
type String string

func (s *String) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*s = ""
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = String(str)
		return nil
	}

	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		if num == float64(int64(num)) {
			*s = String(strconv.FormatInt(int64(num), 10))
		} else {
			*s = String(strconv.FormatFloat(num, 'g', -1, 64))
		}
		return nil
	}

	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*s = String(strconv.FormatBool(b))
		return nil
	}

	*s = String(trimmed)
	return nil
}

// Number decodes a JSON value that should be a number but may arrive as a
// string, including Brazilian decimal commas and currency prefixes
// ("45,90", "R$ 45,90"). Null and unparseable values decode to zero.
type Number float64

func (n *Number) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*n = 0
		return nil
	}

	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*n = Number(num)
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("value %s is neither number nor string", trimmed)
	}

	parsed, err := ParseDecimal(str)
	if err != nil {
		*n = 0
		return nil
	}
	*n = Number(parsed)
	return nil
}

// ParseDecimal parses a human-written decimal, accepting a currency prefix,
// thousands separators and the decimal comma ("R$ 1.234,56" -> 1234.56).
func ParseDecimal(s string) (float64, error) {
	cleaned := strings.TrimSpace(s)
	cleaned = strings.TrimPrefix(cleaned, "R$")
	cleaned = strings.TrimSpace(cleaned)

	if strings.Contains(cleaned, ",") {
		// Comma is the decimal separator; dots are thousands separators.
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
	}

	return strconv.ParseFloat(cleaned, 64)
}
