package events

import "strconv"

// Arg helpers read loosely typed event payloads. Values that came over
// the wire arrive as JSON types (string, float64), values raised locally
// keep their Go types, so each helper accepts both.

func ArgString(args []any, i int) string {
	if i >= len(args) {
		return ""
	}
	s, _ := args[i].(string)
	return s
}

func ArgFloat(args []any, i int) float64 {
	if i >= len(args) {
		return 0
	}
	switch v := args[i].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return 0
}

func ArgInt64(args []any, i int) int64 {
	return int64(ArgFloat(args, i))
}
