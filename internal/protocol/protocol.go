// Package protocol defines the wire-level message shape: type/action
// enums and the small helpers the router and validator share.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

var MessageTypes = map[string]bool{
	"ask": true, "report": true, "send": true,
	"done": true, "fail": true, "ack": true, "nack": true,
}

var ActionTypes = map[string]bool{
	"review": true, "review_feedback": true, "assign": true,
	"clarify": true, "answer": true, "verify": true, "verified": true,
}

var CategoryTypes = map[string]bool{
	"func": true, "perf": true, "ux": true, "security": true, "docs": true,
}

var SeverityLevels = map[string]bool{
	"high": true, "medium": true, "low": true,
}

var AckStages = map[string]bool{
	"delivered": true, "accepted": true, "nack": true,
}

var BodyEncodings = map[string]bool{
	"json": true, "base64": true,
}

const DefaultBodyEncoding = "json"

// NormalizeTo turns a "to" field (list of strings, or a single
// comma-separated string) into a list of trimmed, non-empty targets.
func NormalizeTo(to any) ([]string, error) {
	switch v := to.(type) {
	case []string:
		return normalizeToList(v)
	case []any:
		strs := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("to list must contain non-empty strings")
			}
			strs = append(strs, s)
		}
		return normalizeToList(strs)
	case string:
		var parts []string
		for _, p := range strings.Split(v, ",") {
			p = strings.TrimSpace(p)
			if p != "" {
				parts = append(parts, p)
			}
		}
		if len(parts) == 0 {
			return nil, fmt.Errorf("to string must contain at least one target")
		}
		return parts, nil
	default:
		return nil, fmt.Errorf("to must be a list of strings or a comma-separated string")
	}
}

func normalizeToList(items []string) ([]string, error) {
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			return nil, fmt.Errorf("to list must contain non-empty strings")
		}
		out = append(out, trimmed)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("to list must not be empty")
	}
	return out, nil
}

// EncodeBody renders a body value (a string, left as-is, or a map,
// marshaled to compact JSON) as the single-line string the wire
// format requires.
func EncodeBody(body any) (string, error) {
	if body == nil {
		return "", nil
	}
	switch v := body.(type) {
	case string:
		if strings.ContainsAny(v, "\n\r") {
			return "", fmt.Errorf("body must be single-line string")
		}
		return v, nil
	case map[string]any:
		data, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encode body: %w", err)
		}
		encoded := string(data)
		if strings.ContainsAny(encoded, "\n\r") {
			return "", fmt.Errorf("body must be single-line string")
		}
		return encoded, nil
	default:
		return "", fmt.Errorf("body must be a map or string")
	}
}
