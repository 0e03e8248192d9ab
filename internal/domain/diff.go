package domain

import "sort"

// Diff returns the entries of next whose value differs from prev. Keys missing from
// prev count as changed; keys only present in prev are ignored.
func Diff(prev, next map[string]string) map[string]string {
	changed := map[string]string{}
	for key, value := range next {
		if previous, ok := prev[key]; ok && previous == value {
			continue
		}
		changed[key] = value
	}
	return changed
}

// ChangedKeys returns the keys of a diff in sorted order.
func ChangedKeys(diff map[string]string) []string {
	keys := make([]string, 0, len(diff))
	for key := range diff {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
