// Package validate implements the structural and per-action
// invariants the router enforces on ingress. It returns a list of
// human-readable errors rather than failing fast, so a caller can
// report every violation at once.
package validate

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/cuteecarrot/agentrelay/internal/protocol"
)

// Message validates message and returns its errors, if any.
// allowMissingGenerated skips the seq/id/ts required-field checks,
// since those are assigned by the router itself at ingress time.
func Message(message map[string]any, allowMissingGenerated bool) []string {
	var errs []string

	required := []string{"v", "session", "epoch", "agent_instance", "from", "to", "type"}
	if !allowMissingGenerated {
		required = append(required, "seq", "id", "ts")
	}
	for _, key := range required {
		if _, ok := message[key]; !ok {
			errs = append(errs, "missing field: "+key)
		}
	}

	if v, ok := message["v"]; ok && !isIntLike(v) {
		errs = append(errs, "v must be int-like")
	}
	if v, ok := message["session"]; ok {
		if _, ok := v.(string); !ok {
			errs = append(errs, "session must be string")
		}
	}
	if v, ok := message["epoch"]; ok && !isIntLike(v) {
		errs = append(errs, "epoch must be int-like")
	}
	if v, ok := message["seq"]; ok && !isIntLike(v) {
		errs = append(errs, "seq must be int-like")
	}
	if v, ok := message["ts"]; ok && !isIntLike(v) {
		errs = append(errs, "ts must be int-like")
	}
	if v, ok := message["agent_instance"]; ok {
		if _, ok := v.(string); !ok {
			errs = append(errs, "agent_instance must be string")
		}
	}
	if v, ok := message["from"]; ok {
		if _, ok := v.(string); !ok {
			errs = append(errs, "from must be string")
		}
	}

	var toList []string
	if v, ok := message["to"]; ok {
		normalized, err := protocol.NormalizeTo(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("to invalid: %v", err))
		} else {
			toList = normalized
		}
	}

	msgType, _ := message["type"].(string)
	if rawType, ok := message["type"]; ok {
		if _, ok := rawType.(string); !ok {
			errs = append(errs, "type must be string")
		} else if !protocol.MessageTypes[msgType] {
			errs = append(errs, "type invalid: "+msgType)
		}
	}

	action, _ := message["action"].(string)
	if rawAction, ok := message["action"]; ok {
		if _, ok := rawAction.(string); !ok {
			errs = append(errs, "action must be string")
		} else if !protocol.ActionTypes[action] {
			errs = append(errs, "action invalid: "+action)
		}
	}

	if v, ok := message["corr"]; ok {
		if _, ok := v.(string); !ok {
			errs = append(errs, "corr must be string")
		}
	}
	if v, ok := message["deadline"]; ok && !isIntLike(v) {
		errs = append(errs, "deadline must be int-like")
	}
	if v, ok := message["ttl_ms"]; ok && !isIntLike(v) {
		errs = append(errs, "ttl_ms must be int-like")
	}

	_, hasBody := message["body"]
	_, hasBodyRef := message["body_ref"]
	bodyEncoding, hasEncoding := message["body_encoding"].(string)
	if !hasEncoding && (hasBody || hasBodyRef) {
		bodyEncoding = protocol.DefaultBodyEncoding
		hasEncoding = true
	}
	if rawEncoding, ok := message["body_encoding"]; ok {
		if _, ok := rawEncoding.(string); ok {
			if !protocol.BodyEncodings[bodyEncoding] {
				errs = append(errs, "body_encoding invalid: "+bodyEncoding)
			}
		}
	}

	bodyValue, _ := message["body"].(string)
	if hasBody {
		if _, ok := message["body"].(string); !ok {
			errs = append(errs, "body must be string")
		} else if containsNewline(bodyValue) {
			errs = append(errs, "body must be single-line string")
		}
	}
	if hasBodyRef {
		if _, ok := message["body_ref"].(string); !ok {
			errs = append(errs, "body_ref must be string")
		}
	}

	var parsedBody map[string]any
	if hasEncoding && bodyEncoding == "json" {
		if hasBody {
			if bodyValue == "" && !hasBodyRef {
				errs = append(errs, "body is empty for json encoding")
			} else if bodyValue != "" {
				var decoded any
				if err := json.Unmarshal([]byte(bodyValue), &decoded); err != nil {
					errs = append(errs, fmt.Sprintf("body json invalid: %v", err))
				} else if obj, ok := decoded.(map[string]any); ok {
					parsedBody = obj
				} else {
					errs = append(errs, "body must be JSON object")
				}
			}
		} else if !hasBodyRef {
			errs = append(errs, "body missing for json encoding")
		}
	}

	if hasEncoding && bodyEncoding == "base64" && hasBody {
		if _, err := base64.StdEncoding.DecodeString(bodyValue); err != nil {
			errs = append(errs, "body base64 invalid")
		}
	}

	if msgType != "" && msgType != "ask" {
		if corr, _ := message["corr"].(string); corr == "" {
			errs = append(errs, "corr required for non-ask messages")
		}
	}

	switch action {
	case "review":
		errs = append(errs, validateReview(message, msgType, bodyEncoding, parsedBody, toList)...)
	case "assign":
		errs = append(errs, validateAssign(message, msgType, bodyEncoding, parsedBody)...)
	case "clarify":
		errs = append(errs, validateClarify(message, msgType, bodyEncoding, parsedBody)...)
	case "verify":
		errs = append(errs, validateVerify(message, msgType, bodyEncoding, parsedBody)...)
	case "review_feedback":
		errs = append(errs, validateReviewFeedback(message, msgType, bodyEncoding, parsedBody)...)
	case "answer":
		errs = append(errs, validateAnswer(message, msgType, bodyEncoding, parsedBody)...)
	}

	if msgType == "done" {
		errs = append(errs, validateDone(message, action, bodyEncoding, parsedBody)...)
	}
	if msgType == "fail" {
		errs = append(errs, validateFail(message, bodyEncoding, parsedBody)...)
	}

	return errs
}

func containsNewline(s string) bool {
	for _, r := range s {
		if r == '\n' || r == '\r' {
			return true
		}
	}
	return false
}

func isIntLike(v any) bool {
	switch n := v.(type) {
	case int, int32, int64, float64:
		return true
	case string:
		if n == "" {
			return false
		}
		for _, r := range n {
			if r < '0' || r > '9' {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func intValue(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case string:
		if !isIntLike(n) {
			return 0, false
		}
		var out int64
		for _, r := range n {
			out = out*10 + int64(r-'0')
		}
		return out, true
	default:
		return 0, false
	}
}

func isNonEmptyString(v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	trimmed := trimSpace(s)
	return trimmed != ""
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func requireStrField(container map[string]any, field, context string, errs *[]string) string {
	v, ok := container[field]
	if !ok || !isNonEmptyString(v) {
		*errs = append(*errs, fmt.Sprintf("%s.%s must be non-empty string", context, field))
		return ""
	}
	return v.(string)
}

func requireBoolField(container map[string]any, field, context string, errs *[]string) (bool, bool) {
	v, ok := container[field]
	if !ok {
		*errs = append(*errs, fmt.Sprintf("%s.%s missing", context, field))
		return false, false
	}
	b, ok := v.(bool)
	if !ok {
		*errs = append(*errs, fmt.Sprintf("%s.%s must be boolean", context, field))
		return false, false
	}
	return b, true
}

func requireIntField(container map[string]any, field, context string, errs *[]string) (any, bool) {
	v, ok := container[field]
	if !ok {
		*errs = append(*errs, fmt.Sprintf("%s.%s missing", context, field))
		return nil, false
	}
	if !isIntLike(v) {
		*errs = append(*errs, fmt.Sprintf("%s.%s must be int-like", context, field))
		return nil, false
	}
	return v, true
}

func requireListOfStrings(container map[string]any, field, context string, allowEmpty bool, errs *[]string) []any {
	raw, ok := container[field]
	if !ok {
		*errs = append(*errs, fmt.Sprintf("%s.%s missing", context, field))
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		*errs = append(*errs, fmt.Sprintf("%s.%s must be list", context, field))
		return nil
	}
	if len(list) == 0 && !allowEmpty {
		*errs = append(*errs, fmt.Sprintf("%s.%s must be non-empty list", context, field))
		return nil
	}
	for _, item := range list {
		if !isNonEmptyString(item) {
			*errs = append(*errs, fmt.Sprintf("%s.%s must be list of non-empty strings", context, field))
			break
		}
	}
	return list
}

func optionalListOfStrings(container map[string]any, field, context string, errs *[]string) {
	raw, ok := container[field]
	if !ok {
		return
	}
	list, ok := raw.([]any)
	if !ok {
		*errs = append(*errs, fmt.Sprintf("%s.%s must be list", context, field))
		return
	}
	for _, item := range list {
		if !isNonEmptyString(item) {
			*errs = append(*errs, fmt.Sprintf("%s.%s must be list of non-empty strings", context, field))
			return
		}
	}
}

func optionalStrField(container map[string]any, field, context string, errs *[]string) {
	v, ok := container[field]
	if !ok {
		return
	}
	if !isNonEmptyString(v) {
		*errs = append(*errs, fmt.Sprintf("%s.%s must be non-empty string", context, field))
	}
}

func requireJSONBody(action, bodyEncoding string, parsedBody map[string]any, errs *[]string) map[string]any {
	if bodyEncoding != "json" {
		*errs = append(*errs, action+" requires body_encoding json")
		return nil
	}
	if parsedBody == nil {
		*errs = append(*errs, action+" requires json body")
		return nil
	}
	return parsedBody
}

func validateReview(message map[string]any, msgType, bodyEncoding string, parsedBody map[string]any, toList []string) []string {
	var errs []string
	if msgType != "" && msgType != "ask" {
		errs = append(errs, "review requires type ask")
	}
	body := requireJSONBody("review", bodyEncoding, parsedBody, &errs)
	if body != nil {
		requireStrField(body, "doc_path", "review.body", &errs)
		requireIntField(body, "review_deadline", "review.body", &errs)
		reviewers, ok := body["reviewers"].([]any)
		if !ok || len(reviewers) == 0 {
			errs = append(errs, "review.body.reviewers must be non-empty list")
		} else {
			allStrings := true
			strs := make([]string, 0, len(reviewers))
			for _, r := range reviewers {
				s, ok := r.(string)
				if !ok || s == "" {
					allStrings = false
					break
				}
				strs = append(strs, s)
			}
			if !allStrings {
				errs = append(errs, "review.body.reviewers must be list of strings")
			} else if toList != nil && !stringsEqual(strs, toList) {
				errs = append(errs, "review.body.reviewers must match to")
			}
		}
		if focus, ok := body["focus"]; ok {
			optionalListOfStrings(map[string]any{"focus": focus}, "focus", "review.body", &errs)
		}
	}
	return errs
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func validateAssign(message map[string]any, msgType, bodyEncoding string, parsedBody map[string]any) []string {
	var errs []string
	if msgType != "" && msgType != "ask" {
		errs = append(errs, "assign requires type ask")
	}
	requireStrField(message, "task_id", "message", &errs)
	requireStrField(message, "owner", "message", &errs)
	requireIntField(message, "deadline", "message", &errs)
	body := requireJSONBody("assign", bodyEncoding, parsedBody, &errs)
	if body != nil {
		requireStrField(body, "task_type", "assign.body", &errs)
		requireListOfStrings(body, "files", "assign.body", false, &errs)
		requireListOfStrings(body, "success_criteria", "assign.body", false, &errs)
		optionalListOfStrings(body, "dependencies", "assign.body", &errs)
	}
	return errs
}

func validateClarify(message map[string]any, msgType, bodyEncoding string, parsedBody map[string]any) []string {
	var errs []string
	if msgType != "" && msgType != "ask" {
		errs = append(errs, "clarify requires type ask")
	}
	requireStrField(message, "task_id", "message", &errs)
	requireStrField(message, "owner", "message", &errs)
	body := requireJSONBody("clarify", bodyEncoding, parsedBody, &errs)
	if body != nil {
		requireStrField(body, "code_path", "clarify.body", &errs)
		requireStrField(body, "question", "clarify.body", &errs)
		requireStrField(body, "context", "clarify.body", &errs)
		optionalStrField(body, "expected", "clarify.body", &errs)
		optionalStrField(body, "doc_path", "clarify.body", &errs)
	}
	return errs
}

func validateVerify(message map[string]any, msgType, bodyEncoding string, parsedBody map[string]any) []string {
	var errs []string
	if msgType != "" && msgType != "ask" {
		errs = append(errs, "verify requires type ask")
	}
	requireStrField(message, "task_id", "message", &errs)
	requireStrField(message, "owner", "message", &errs)
	body := requireJSONBody("verify", bodyEncoding, parsedBody, &errs)
	if body != nil {
		requireStrField(body, "doc_path", "verify.body", &errs)
		requireStrField(body, "question", "verify.body", &errs)
		optionalStrField(body, "changes_summary", "verify.body", &errs)
	}
	return errs
}

func validateReviewFeedback(message map[string]any, msgType, bodyEncoding string, parsedBody map[string]any) []string {
	var errs []string
	if msgType != "" && msgType != "report" {
		errs = append(errs, "review_feedback requires type report")
	}
	requireStrField(message, "task_id", "message", &errs)
	body := requireJSONBody("review_feedback", bodyEncoding, parsedBody, &errs)
	if body == nil {
		return errs
	}
	requireStrField(body, "doc_path", "review_feedback.body", &errs)
	hasIssues, hasIssuesOK := requireBoolField(body, "has_issues", "review_feedback.body", &errs)
	issueCountRaw, _ := requireIntField(body, "issue_count", "review_feedback.body", &errs)
	issues, issuesIsList := body["issues"].([]any)

	if hasIssuesOK && hasIssues {
		if n, ok := intValue(issueCountRaw); ok && n <= 0 {
			errs = append(errs, "review_feedback.body.issue_count must be > 0 when has_issues=true")
		}
		if !issuesIsList || len(issues) == 0 {
			errs = append(errs, "review_feedback.body.issues must be non-empty list when has_issues=true")
		}
	} else if hasIssuesOK && !hasIssues {
		if n, ok := intValue(issueCountRaw); ok && n != 0 {
			errs = append(errs, "review_feedback.body.issue_count must be 0 when has_issues=false")
		} else if issueCountRaw != nil && !ok {
			// non-int already reported by requireIntField
		}
		if issuesIsList && len(issues) > 0 {
			errs = append(errs, "review_feedback.body.issues must be empty when has_issues=false")
		}
	}

	if issuesIsList {
		if n, ok := intValue(issueCountRaw); ok && int(n) != len(issues) {
			errs = append(errs, "review_feedback.body.issue_count must match issues length")
		}
		for idx, raw := range issues {
			context := fmt.Sprintf("review_feedback.body.issues[%d]", idx)
			issue, ok := raw.(map[string]any)
			if !ok {
				errs = append(errs, context+" must be object")
				continue
			}
			requireStrField(issue, "doc_path", context, &errs)
			issueText, _ := issue["issue"].(string)
			summaryText, _ := issue["summary"].(string)
			if !isNonEmptyString(issue["issue"]) && !isNonEmptyString(issue["summary"]) {
				errs = append(errs, context+".issue or "+context+".summary required")
			}
			if _, ok := issue["issue"]; ok && !isNonEmptyString(issue["issue"]) {
				errs = append(errs, context+".issue must be non-empty string")
			}
			if _, ok := issue["summary"]; ok && !isNonEmptyString(issue["summary"]) {
				errs = append(errs, context+".summary must be non-empty string")
			}
			_ = issueText
			_ = summaryText
			category, _ := issue["category"].(string)
			if !isNonEmptyString(issue["category"]) {
				errs = append(errs, context+".category must be non-empty string")
			} else if !protocol.CategoryTypes[category] {
				errs = append(errs, context+".category invalid: "+category)
			}
			severity, _ := issue["severity"].(string)
			if !isNonEmptyString(issue["severity"]) {
				errs = append(errs, context+".severity must be non-empty string")
			} else if !protocol.SeverityLevels[severity] {
				errs = append(errs, context+".severity invalid: "+severity)
			}
			optionalStrField(issue, "code_path", context, &errs)
			optionalListOfStrings(issue, "code_paths", context, &errs)
			optionalListOfStrings(issue, "doc_paths", context, &errs)
			optionalStrField(issue, "issue_group", context, &errs)
			if v, ok := issue["suggested_fix"]; ok && !isNonEmptyString(v) {
				errs = append(errs, context+".suggested_fix must be non-empty string")
			}
			if v, ok := issue["suggestion"]; ok && !isNonEmptyString(v) {
				errs = append(errs, context+".suggestion must be non-empty string")
			}
		}
	}

	optionalStrField(body, "summary", "review_feedback.body", &errs)
	optionalListOfStrings(body, "questions", "review_feedback.body", &errs)
	return errs
}

func validateAnswer(message map[string]any, msgType, bodyEncoding string, parsedBody map[string]any) []string {
	var errs []string
	if msgType != "" && msgType != "send" {
		errs = append(errs, "answer requires type send")
	}
	requireStrField(message, "task_id", "message", &errs)
	body := requireJSONBody("answer", bodyEncoding, parsedBody, &errs)
	if body != nil && len(body) == 0 {
		errs = append(errs, "answer.body must not be empty object")
	}
	return errs
}

func validateDone(message map[string]any, action, bodyEncoding string, parsedBody map[string]any) []string {
	var errs []string
	requireStrField(message, "task_id", "message", &errs)
	if action == "verified" {
		body := requireJSONBody("verified", bodyEncoding, parsedBody, &errs)
		if body != nil {
			hasNew, ok := requireBoolField(body, "has_new_issues", "verified.body", &errs)
			if ok && hasNew {
				newCountRaw, ok := requireIntField(body, "new_issue_count", "verified.body", &errs)
				if ok {
					if n, ok := intValue(newCountRaw); ok && n <= 0 {
						errs = append(errs, "verified.body.new_issue_count must be > 0 when has_new_issues=true")
					}
				}
			} else if ok && !hasNew {
				if v, present := body["new_issue_count"]; present && !isIntLike(v) {
					errs = append(errs, "verified.body.new_issue_count must be int-like")
				}
			}
		}
	} else if bodyEncoding == "json" && parsedBody != nil {
		if _, ok := parsedBody["status"]; ok {
			requireStrField(parsedBody, "status", "done.body", &errs)
		}
	}
	return errs
}

func validateFail(message map[string]any, bodyEncoding string, parsedBody map[string]any) []string {
	var errs []string
	requireStrField(message, "task_id", "message", &errs)
	body := requireJSONBody("fail", bodyEncoding, parsedBody, &errs)
	if body != nil {
		requireStrField(body, "reason", "fail.body", &errs)
		optionalListOfStrings(body, "blocked_by", "fail.body", &errs)
	}
	return errs
}
