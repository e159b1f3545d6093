// Package utils contains helper functions for rendering engine parameters
package utils

import (
	"sort"
	"strings"
)

// DictToString renders a parameter dictionary as {key=value,...} with keys in
// sorted order, so that startup logs are stable across runs.
func DictToString(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	stringMapList := make([]string, len(keys))
	for i, k := range keys {
		stringMapList[i] = k + "=" + m[k]
	}
	return "{" + strings.Join(stringMapList, ",") + "}"
}
