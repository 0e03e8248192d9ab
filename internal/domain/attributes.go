package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cast"
)

// DateTimeFormat is the canonical representation of date/time attribute values.
const DateTimeFormat = "2006-01-02 15:04:05"

// SelectAttributes reduces a snapshot to the fields eligible for revisioning and
// stringifies their values. A non-empty allow-list wins over the deny-list.
func SelectAttributes(policy Policy, snapshot map[string]any) map[string]string {
	selected := make(map[string]string, len(snapshot))
	for key, value := range snapshot {
		if len(policy.Revisionable) > 0 {
			if _, ok := policy.Revisionable[key]; !ok {
				continue
			}
		} else if _, denied := policy.NonRevisionable[key]; denied {
			continue
		}
		selected[key] = StringifyValue(value)
	}
	return selected
}

// StringifyValue converts an attribute value to its storable string form.
func StringifyValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case time.Time:
		return typed.UTC().Format(DateTimeFormat)
	case *time.Time:
		if typed == nil {
			return ""
		}
		return typed.UTC().Format(DateTimeFormat)
	case map[string]any, []any:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprintf("%v", typed)
		}
		return string(encoded)
	}

	if str, err := cast.ToStringE(value); err == nil {
		return str
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(encoded)
}
