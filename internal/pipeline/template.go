package pipeline

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([\w.\-]+)\s*\}\}`)

// Substitute replaces every {{path.to.value}} placeholder in s with the
// value found by walking the dotted path through data. A missing path
// segment substitutes the empty string; substitution never fails.
func Substitute(s string, data map[string]any) string {
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		path := placeholderPattern.FindStringSubmatch(match)[1]
		value, ok := lookupPath(data, path)
		if !ok {
			return ""
		}
		return stringify(value)
	})
}

// lookupPath walks dotted keys through nested objects. Any non-object
// encountered before the final segment terminates the walk unsuccessfully.
func lookupPath(data map[string]any, path string) (any, bool) {
	segments := strings.Split(path, ".")
	var current any = data
	for _, seg := range segments {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// stringify renders a looked-up value for embedding in prompt text.
// Strings are used verbatim; everything else falls back to its JSON form.
func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}
