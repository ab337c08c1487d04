// internal/driver/values.go
package driver

import (
	"fmt"
	"math"
	"strconv"

	json "github.com/json-iterator/go"
)

// Truthy coerces a decoded script result to a boolean using JS truthiness,
// which is what a page-side `return cond;` means to the caller.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0 && !math.IsNaN(x)
	case float32:
		return x != 0 && !math.IsNaN(float64(x))
	case int:
		return x != 0
	case int64:
		return x != 0
	default:
		return true
	}
}

// AsString renders a decoded script result as a string. Null becomes "".
func AsString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

// DecodeResult decodes a JSON encoded script result into plain Go values.
// Numbers become float64 and an empty payload decodes to nil.
func DecodeResult(raw []byte) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: undecodable result %q: %v", ErrScriptExecution, string(raw), err)
	}
	return v, nil
}
