package webhook

import (
	"fmt"
)

// noDescription is the fallback body for event alarms without one.
const noDescription = "No description available"

// formatThresholdMessage renders a metric threshold alarm, e.g.
//
//	[CM] *CPU Usage CPUUtilization* for `web-server-01` is `ALARM`. Value: 85.5
func formatThresholdMessage(prefix string, data map[string]any) string {
	return fmt.Sprintf("%s*%s %s* for `%s` is `%s`. Value: %s",
		prefix,
		stringField(data, "alertName"),
		stringField(data, "metricName"),
		stringField(data, "instanceName"),
		stringField(data, "alertState"),
		valueField(data, "curValue"),
	)
}

// formatEventMessage renders a discrete event alarm. The displayed identity
// is the first affected instance id when the content carries one, otherwise
// the instance name.
func formatEventMessage(prefix string, data map[string]any) string {
	identity := stringField(data, "instanceName")
	description := noDescription

	if content, isMap := data["content"].(map[string]any); isMap {
		if ids, isList := content["instanceIds"].([]any); isList && len(ids) > 0 {
			if first, isString := ids[0].(string); isString && first != "" {
				identity = first
			}
		}
		if desc, isString := content["description"].(string); isString && desc != "" {
			description = desc
		}
	}

	return fmt.Sprintf("%s*%s* - `%s`\n%s",
		prefix,
		identity,
		stringField(data, "name"),
		description,
	)
}

// stringField returns the field as a string, or empty when absent or not a
// string. Validation runs before formatting, so in practice these fields
// are present.
func stringField(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

// valueField renders a field that may be a string or a number.
func valueField(data map[string]any, key string) string {
	switch v := data[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
