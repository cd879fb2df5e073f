package policy

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/gobwas/glob"
	"k8s.io/apimachinery/pkg/api/resource"
)

type matchResult int

const (
	matchPass matchResult = iota
	matchFail
	// matchSkip means a conditional anchor did not hold, so the element
	// the anchor belongs to is not subject to the pattern.
	matchSkip
)

type anchor int

const (
	anchorNone anchor = iota
	anchorCondition
	anchorEquality
	anchorNegation
	anchorExistence
)

func parseAnchor(key string) (anchor, string) {
	if !strings.HasSuffix(key, ")") {
		return anchorNone, key
	}
	switch {
	case strings.HasPrefix(key, "=("):
		return anchorEquality, key[2 : len(key)-1]
	case strings.HasPrefix(key, "X("):
		return anchorNegation, key[2 : len(key)-1]
	case strings.HasPrefix(key, "^("):
		return anchorExistence, key[2 : len(key)-1]
	case strings.HasPrefix(key, "("):
		return anchorCondition, key[1 : len(key)-1]
	}
	return anchorNone, key
}

// MatchPattern validates a resource tree against a Kyverno style pattern.
// It returns whether the resource conforms and, if not, the path of the
// first mismatch. A malformed pattern yields an error.
func MatchPattern(pattern, object interface{}) (bool, string, error) {
	result, path, err := validate("", pattern, object)
	if err != nil {
		return false, path, err
	}
	if result == matchFail {
		if path == "" {
			path = "/"
		}
		return false, path, nil
	}
	return true, "", nil
}

func validate(path string, pattern, value interface{}) (matchResult, string, error) {
	switch p := pattern.(type) {
	case map[string]interface{}:
		m, ok := value.(map[string]interface{})
		if !ok {
			return matchFail, path, nil
		}
		return validateMap(path, p, m)
	case []interface{}:
		a, ok := value.([]interface{})
		if !ok {
			return matchFail, path, nil
		}
		return validateArray(path, p, a)
	default:
		ok, err := matchValue(pattern, value)
		if err != nil {
			return matchFail, path, fmt.Errorf("invalid pattern at %s: %w", displayPath(path), err)
		}
		if !ok {
			return matchFail, path, nil
		}
		return matchPass, "", nil
	}
}

func validateMap(path string, pattern, object map[string]interface{}) (matchResult, string, error) {
	keys := make([]string, 0, len(pattern))
	for key := range pattern {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	// Children holding conditional anchors go first, so that a skipped
	// element is not reported as a mismatch of one of its siblings.
	sort.SliceStable(keys, func(i, j int) bool {
		return hasConditionalAnchor(pattern[keys[i]]) && !hasConditionalAnchor(pattern[keys[j]])
	})

	// Conditional anchors decide whether the element is subject to the
	// rest of the pattern.
	for _, key := range keys {
		a, field := parseAnchor(key)
		if a != anchorCondition {
			continue
		}
		value, ok := object[field]
		if !ok {
			return matchSkip, "", nil
		}
		result, failed, err := validate(path+"/"+field, pattern[key], value)
		if err != nil {
			return matchFail, failed, err
		}
		if result != matchPass {
			return matchSkip, "", nil
		}
	}

	for _, key := range keys {
		a, field := parseAnchor(key)
		child := path + "/" + field
		value, present := object[field]

		switch a {
		case anchorCondition:
			continue
		case anchorEquality:
			if !present {
				continue
			}
		case anchorNegation:
			if present {
				return matchFail, child, nil
			}
			continue
		case anchorExistence:
			result, failed, err := validateExistence(child, pattern[key], value, present)
			if err != nil || result != matchPass {
				return result, failed, err
			}
			continue
		default:
			if !present {
				return matchFail, child, nil
			}
		}

		result, failed, err := validate(child, pattern[key], value)
		if err != nil || result != matchPass {
			return result, failed, err
		}
	}
	return matchPass, "", nil
}

func hasConditionalAnchor(pattern interface{}) bool {
	switch p := pattern.(type) {
	case map[string]interface{}:
		for key, value := range p {
			if a, _ := parseAnchor(key); a == anchorCondition || hasConditionalAnchor(value) {
				return true
			}
		}
	case []interface{}:
		for _, value := range p {
			if hasConditionalAnchor(value) {
				return true
			}
		}
	}
	return false
}

// validateExistence requires at least one element of a list to match the
// element pattern.
func validateExistence(path string, pattern, value interface{}, present bool) (matchResult, string, error) {
	patterns, ok := pattern.([]interface{})
	if !ok || len(patterns) != 1 {
		return matchFail, path, fmt.Errorf("invalid pattern at %s: existence anchor requires a list with one element", displayPath(path))
	}
	if !present {
		return matchFail, path, nil
	}
	list, ok := value.([]interface{})
	if !ok {
		return matchFail, path, nil
	}
	for i, item := range list {
		result, failed, err := validate(path+"/"+strconv.Itoa(i), patterns[0], item)
		if err != nil {
			return matchFail, failed, err
		}
		if result == matchPass {
			return matchPass, "", nil
		}
	}
	return matchFail, path, nil
}

func validateArray(path string, pattern, list []interface{}) (matchResult, string, error) {
	switch len(pattern) {
	case 0:
		return matchPass, "", nil
	case 1:
		for i, item := range list {
			result, failed, err := validate(path+"/"+strconv.Itoa(i), pattern[0], item)
			if err != nil {
				return matchFail, failed, err
			}
			if result == matchFail {
				return matchFail, failed, nil
			}
		}
		return matchPass, "", nil
	}

	if len(pattern) != len(list) {
		return matchFail, path, nil
	}
	for i := range pattern {
		result, failed, err := validate(path+"/"+strconv.Itoa(i), pattern[i], list[i])
		if err != nil {
			return matchFail, failed, err
		}
		if result == matchFail {
			return matchFail, failed, nil
		}
	}
	return matchPass, "", nil
}

func matchValue(pattern, value interface{}) (bool, error) {
	switch p := pattern.(type) {
	case nil:
		return value == nil, nil
	case bool:
		b, ok := value.(bool)
		return ok && b == p, nil
	case string:
		return matchString(p, value)
	}
	if want, ok := toFloat(pattern); ok {
		got, ok := numeric(value)
		return ok && got == want, nil
	}
	return false, fmt.Errorf("unsupported value %v of type %T", pattern, pattern)
}

// matchString evaluates the string operators: alternatives separated by
// "|", negation with "!", "*" for any value, "?*" for a non-empty value,
// numeric comparisons and wildcards.
func matchString(pattern string, value interface{}) (bool, error) {
	for _, alternative := range strings.Split(pattern, "|") {
		ok, err := matchAlternative(strings.TrimSpace(alternative), value)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

var operators = []string{">=", "<=", ">", "<"}

func matchAlternative(pattern string, value interface{}) (bool, error) {
	switch {
	case pattern == "*":
		return true, nil
	case pattern == "?*":
		s, ok := stringify(value)
		return ok && s != "", nil
	case strings.HasPrefix(pattern, "!"):
		ok, err := matchAlternative(strings.TrimPrefix(pattern, "!"), value)
		return !ok, err
	}
	for _, op := range operators {
		if strings.HasPrefix(pattern, op) {
			return compare(op, strings.TrimSpace(strings.TrimPrefix(pattern, op)), value)
		}
	}

	s, ok := stringify(value)
	if !ok {
		return false, nil
	}
	if !strings.ContainsAny(pattern, "*?") {
		return s == pattern, nil
	}
	g, err := compileWildcard(pattern)
	if err != nil {
		return false, err
	}
	return g.Match(s), nil
}

// compileWildcard treats everything but "*" and "?" literally.
func compileWildcard(pattern string) (glob.Glob, error) {
	quoted := glob.QuoteMeta(pattern)
	quoted = strings.ReplaceAll(quoted, `\*`, "*")
	quoted = strings.ReplaceAll(quoted, `\?`, "?")
	g, err := glob.Compile(quoted)
	if err != nil {
		return nil, fmt.Errorf("invalid wildcard %q: %w", pattern, err)
	}
	return g, nil
}

func compare(op, operand string, value interface{}) (bool, error) {
	want, err := parseOperand(operand)
	if err != nil {
		return false, fmt.Errorf("invalid operand %q for operator %s", operand, op)
	}
	got, ok := numeric(value)
	if !ok {
		s, isString := value.(string)
		if !isString {
			return false, nil
		}
		q, err := resource.ParseQuantity(s)
		if err != nil {
			return false, nil
		}
		got = q.AsApproximateFloat64()
	}
	switch op {
	case ">=":
		return got >= want, nil
	case "<=":
		return got <= want, nil
	case ">":
		return got > want, nil
	default:
		return got < want, nil
	}
}

// parseOperand accepts plain numbers and quantities such as 512Mi.
func parseOperand(operand string) (float64, error) {
	if f, err := strconv.ParseFloat(operand, 64); err == nil {
		return f, nil
	}
	q, err := resource.ParseQuantity(operand)
	if err != nil {
		return 0, err
	}
	return q.AsApproximateFloat64(), nil
}

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	}
	return 0, false
}

// numeric is toFloat that also accepts numeric strings of the resource.
func numeric(value interface{}) (float64, bool) {
	if f, ok := toFloat(value); ok {
		return f, true
	}
	if s, ok := value.(string); ok {
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return 0, false
}

func stringify(value interface{}) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case bool:
		return strconv.FormatBool(v), true
	case nil:
		return "", false
	}
	if f, ok := toFloat(value); ok {
		return strconv.FormatFloat(f, 'f', -1, 64), true
	}
	return "", false
}

func displayPath(path string) string {
	if path == "" {
		return "/"
	}
	return path
}
