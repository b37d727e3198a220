package agent

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"
)

const defaultRedactedValue = "[REDACTED]"

var defaultSecretKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|token|password|secret|authorization|bearer)`)

// redactedValue replaces any field value whose key matches the redaction
// pattern before it reaches a progress or approval callback.
// Overridable at startup via SetRedactionReplacement.
var redactedValue = defaultRedactedValue

// secretKeyPattern matches JSON object keys that carry sensitive values.
// Case-insensitive, substring match per the external-interface contract.
// Overridable at startup via SetRedactionPattern.
var secretKeyPattern = defaultSecretKeyPattern

// SetRedactionPattern recompiles secretKeyPattern from pattern. An empty
// pattern is a no-op, leaving the built-in default in place. It is meant to
// be called once at startup from RedactionConfig, before any session
// traffic flows.
func SetRedactionPattern(pattern string) error {
	if pattern == "" {
		return nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	secretKeyPattern = re
	return nil
}

// SetRedactionReplacement overrides redactedValue. An empty replacement is
// a no-op, leaving the built-in default in place.
func SetRedactionReplacement(replacement string) {
	if replacement == "" {
		return
	}
	redactedValue = replacement
}

// RedactInput returns a copy of a tool's JSON input with every value whose
// key matches secretKeyPattern replaced by redactedValue, and the value of
// any URL query parameter with a matching name replaced by redactedValue
// (the parameter itself is kept). It is applied before every
// ToolStarted/ApprovalRequest emission.
func RedactInput(input json.RawMessage) json.RawMessage {
	if len(input) == 0 {
		return input
	}
	var v any
	if err := json.Unmarshal(input, &v); err != nil {
		// Not JSON — still worth scrubbing as a raw string (URLs often
		// appear bare in tool arguments).
		return json.RawMessage(mustMarshalString(redactString(string(input))))
	}
	redacted := redactValue(v)
	out, err := json.Marshal(redacted)
	if err != nil {
		return input
	}
	return out
}

func redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			if secretKeyPattern.MatchString(k) {
				out[k] = redactedValue
				continue
			}
			out[k] = redactValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = redactValue(vv)
		}
		return out
	case string:
		return redactString(val)
	default:
		return val
	}
}

// redactString replaces the values of matching query parameters with
// redactedValue when the whole string parses as a URL with a query; any
// other string is returned unchanged.
func redactString(s string) string {
	u, err := url.Parse(s)
	if err != nil || u.RawQuery == "" {
		return s
	}
	q := u.Query()
	changed := false
	for key := range q {
		if secretKeyPattern.MatchString(key) {
			q.Set(key, redactedValue)
			changed = true
		}
	}
	if !changed {
		return s
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func mustMarshalString(s string) []byte {
	b, err := json.Marshal(s)
	if err != nil {
		return []byte(`"` + strings.ReplaceAll(s, `"`, `'`) + `"`)
	}
	return b
}
