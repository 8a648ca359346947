// Package validator implements stateless validation and sanitization for
// incoming alarm payloads. All functions are pure: expected failures are
// returned as data in a ValidationResult, never as errors or panics.
//
// Two payload shapes are supported:
//   - Threshold alarms: metric-crossed-threshold notifications (form-encoded)
//   - Event alarms: discrete event notifications (JSON-encoded)
package validator

import (
	"crypto/subtle"
	"fmt"
	"regexp"
	"strings"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALIDATION RESULT
// ══════════════════════════════════════════════════════════════════════════════

// ValidationResult holds the outcome of a payload validation.
type ValidationResult struct {
	// Valid is true when no errors were collected.
	Valid bool

	// Errors contains human-readable messages, in check order.
	Errors []string
}

// ok returns a passing result.
func ok() ValidationResult {
	return ValidationResult{Valid: true, Errors: []string{}}
}

// fail returns a failing result with the given errors.
func fail(errors []string) ValidationResult {
	return ValidationResult{Valid: false, Errors: errors}
}

// ══════════════════════════════════════════════════════════════════════════════
// FIELD CONSTRAINTS
// ══════════════════════════════════════════════════════════════════════════════

var (
	alertNamePattern    = regexp.MustCompile(`^[A-Za-z0-9\s\-_.:]{1,100}$`)
	curValuePattern     = regexp.MustCompile(`^[0-9]+\.?[0-9]*\s*[A-Za-z%]*$`)
	instanceNamePattern = regexp.MustCompile(`^[A-Za-z0-9\-_.]{1,100}$`)
	metricNamePattern   = regexp.MustCompile(`^[A-Za-z0-9\s\-_./%]{1,100}$`)
	productPattern      = regexp.MustCompile(`^[A-Za-z0-9\s\-_]{1,50}$`)
	eventNamePattern    = regexp.MustCompile(`^[A-Za-z0-9\s\-_.:]{1,100}$`)
)

var (
	alertStates    = []string{"OK", "ALARM", "INSUFFICIENT_DATA", "CRITICAL", "WARNING", "INFO"}
	eventLevels    = []string{"CRITICAL", "WARN", "INFO", "HIGH", "MEDIUM", "LOW"}
	eventStatuses  = []string{"ALARM", "OK", "INSUFFICIENT_DATA"}
	eventSeverties = []string{"CRITICAL", "WARN", "INFO"}
)

// thresholdRequired and eventRequired list required fields in report order.
var (
	thresholdRequired = []string{"alertName", "alertState", "curValue", "instanceName", "metricName"}
	eventRequired     = []string{"product", "level", "instanceName", "name"}
)

// maxContentLength bounds the optional free-text content of an event alarm.
const maxContentLength = 1000

// ══════════════════════════════════════════════════════════════════════════════
// THRESHOLD ALARMS
// ══════════════════════════════════════════════════════════════════════════════

// ValidateThresholdAlarm checks a metric threshold alarm payload.
//
// When any required field is missing, only the missing-field errors are
// reported; format checks on the fields that are present run only once every
// required field exists. Format failures are then collected independently,
// one message per failing field.
func ValidateThresholdAlarm(data map[string]any) ValidationResult {
	if missing := missingFields(data, thresholdRequired); len(missing) > 0 {
		return fail(missing)
	}

	var errs []string
	if !matchString(data["alertName"], alertNamePattern) {
		errs = append(errs, "invalid alertName format")
	}
	if !memberOf(data["alertState"], alertStates) {
		errs = append(errs, fmt.Sprintf("invalid alertState: must be one of %s", strings.Join(alertStates, ", ")))
	}
	if !validCurValue(data["curValue"]) {
		errs = append(errs, "invalid curValue: must be numeric, optionally with a unit suffix")
	}
	if !matchString(data["instanceName"], instanceNamePattern) {
		errs = append(errs, "invalid instanceName format")
	}
	if !matchString(data["metricName"], metricNamePattern) {
		errs = append(errs, "invalid metricName format")
	}

	if len(errs) > 0 {
		return fail(errs)
	}
	return ok()
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENT ALARMS
// ══════════════════════════════════════════════════════════════════════════════

// ValidateEventAlarm checks a discrete event alarm payload. The optional
// content field may be either a string of at most 1000 characters or an
// object carrying at least one of instanceIds or description.
func ValidateEventAlarm(data map[string]any) ValidationResult {
	if missing := missingFields(data, eventRequired); len(missing) > 0 {
		return fail(missing)
	}

	var errs []string
	if !matchString(data["product"], productPattern) {
		errs = append(errs, "invalid product format")
	}
	if !memberOf(data["level"], eventLevels) {
		errs = append(errs, fmt.Sprintf("invalid level: must be one of %s", strings.Join(eventLevels, ", ")))
	}
	if !matchString(data["instanceName"], instanceNamePattern) {
		errs = append(errs, "invalid instanceName format")
	}
	if !matchString(data["name"], eventNamePattern) {
		errs = append(errs, "invalid name format")
	}
	if content, exists := data["content"]; exists {
		if err := validateContent(content); err != "" {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fail(errs)
	}
	return ok()
}

// validateContent checks the optional event content. Returns an empty string
// when the content is acceptable.
func validateContent(content any) string {
	switch v := content.(type) {
	case string:
		if len([]rune(v)) > maxContentLength {
			return fmt.Sprintf("invalid content: text exceeds %d characters", maxContentLength)
		}
		return ""
	case map[string]any:
		_, hasIDs := v["instanceIds"]
		_, hasDesc := v["description"]
		if !hasIDs && !hasDesc {
			return "invalid content: object must contain instanceIds or description"
		}
		return ""
	default:
		return "invalid content: must be a string or an object"
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SHAPE DISPATCH
// ══════════════════════════════════════════════════════════════════════════════

// ValidateAlibabaCloudWebhook inspects the payload shape and delegates to the
// matching validator:
//   - an "event" key selects the nested CloudMonitor system-event shape,
//   - product + level select the event alarm shape,
//   - alertName or metricName select the threshold alarm shape.
//
// Anything else is reported as an unknown format.
func ValidateAlibabaCloudWebhook(data map[string]any) ValidationResult {
	if event, exists := data["event"]; exists {
		return validateSystemEvent(event)
	}

	_, hasProduct := data["product"]
	_, hasLevel := data["level"]
	if hasProduct && hasLevel {
		return ValidateEventAlarm(data)
	}

	_, hasAlertName := data["alertName"]
	_, hasMetricName := data["metricName"]
	if hasAlertName || hasMetricName {
		return ValidateThresholdAlarm(data)
	}

	return fail([]string{"unknown webhook format"})
}

// validateSystemEvent checks the nested object of a system-event payload.
func validateSystemEvent(event any) ValidationResult {
	obj, isMap := event.(map[string]any)
	if !isMap {
		return fail([]string{"invalid event: must be an object"})
	}

	if missing := missingFields(obj, []string{"id", "status", "severity"}); len(missing) > 0 {
		return fail(missing)
	}

	var errs []string
	if !memberOf(obj["status"], eventStatuses) {
		errs = append(errs, fmt.Sprintf("invalid status: must be one of %s", strings.Join(eventStatuses, ", ")))
	}
	if !memberOf(obj["severity"], eventSeverties) {
		errs = append(errs, fmt.Sprintf("invalid severity: must be one of %s", strings.Join(eventSeverties, ", ")))
	}

	if len(errs) > 0 {
		return fail(errs)
	}
	return ok()
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST-LEVEL CHECKS
// ══════════════════════════════════════════════════════════════════════════════

// ValidateSignature compares a provided signature against the expected secret
// in constant time. Empty values never match.
func ValidateSignature(provided, expected string) bool {
	if provided == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

// ValidateHTTPMethod reports whether method is one of the allowed methods,
// ignoring case.
func ValidateHTTPMethod(method string, allowed []string) bool {
	for _, m := range allowed {
		if strings.EqualFold(method, m) {
			return true
		}
	}
	return false
}

// ValidateContentType reports whether the content type contains any of the
// allowed substrings, ignoring case. Substring matching tolerates charset
// and boundary parameters.
func ValidateContentType(contentType string, allowedSubstrings []string) bool {
	ct := strings.ToLower(contentType)
	for _, sub := range allowedSubstrings {
		if sub == "" {
			continue
		}
		if strings.Contains(ct, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// missingFields returns one error per required field that is absent, nil, or
// a blank string, in the order given.
func missingFields(data map[string]any, required []string) []string {
	var missing []string
	for _, field := range required {
		value, exists := data[field]
		if !exists || value == nil {
			missing = append(missing, fmt.Sprintf("missing required field: %s", field))
			continue
		}
		if s, isString := value.(string); isString && strings.TrimSpace(s) == "" {
			missing = append(missing, fmt.Sprintf("missing required field: %s", field))
		}
	}
	return missing
}

// matchString reports whether the value is a string matching the pattern.
func matchString(value any, pattern *regexp.Regexp) bool {
	s, isString := value.(string)
	return isString && pattern.MatchString(s)
}

// memberOf reports case-insensitive membership of a string value in set.
func memberOf(value any, set []string) bool {
	s, isString := value.(string)
	if !isString {
		return false
	}
	for _, member := range set {
		if strings.EqualFold(s, member) {
			return true
		}
	}
	return false
}

// validCurValue accepts numeric values and numeric-with-unit strings such
// as "85.5 %" or "512MB".
func validCurValue(value any) bool {
	switch v := value.(type) {
	case float64, float32, int, int32, int64:
		return true
	case string:
		return curValuePattern.MatchString(v)
	default:
		return false
	}
}
