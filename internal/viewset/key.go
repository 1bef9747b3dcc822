package viewset

import (
	"fmt"
	"sort"
	"strconv"
)

// Params is a subscription spec's small mapping of string/number/boolean
// values, per spec.md §3.
type Params map[string]any

// KeyOf derives the canonical subscription key for (subType, params),
// per spec.md §4.3. It is a pure function: two specs with the same
// logical meaning (same type, same param set regardless of iteration
// order) always produce the same key.
func KeyOf(subType string, params Params) string {
	if len(params) == 0 {
		return subType
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+"="+scalarString(params[name]))
	}

	key := subType + "?"
	for i, pair := range pairs {
		if i > 0 {
			key += "&"
		}
		key += pair
	}
	return key
}

// scalarString renders a JSON scalar in its natural form, matching how
// the value would appear if re-serialized: booleans as true/false,
// numbers without a trailing ".0" when they are integral, strings
// verbatim.
func scalarString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}
