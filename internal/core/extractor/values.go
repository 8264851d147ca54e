package extractor

import (
	"encoding/json"
	"strconv"
	"strings"
)

func floatOrNil(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func stringOrNil(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

// numericOrNil coerces a decoded JSON value to float64; anything that is not
// a number becomes nil.
func numericOrNil(v any) any {
	switch typed := v.(type) {
	case float64:
		return typed
	case json.Number:
		f, err := typed.Float64()
		if err != nil {
			return nil
		}
		return f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		if err != nil {
			return nil
		}
		return f
	default:
		return nil
	}
}
