package cache

import "strings"

// GenerateKey joins a prefix and ids into a cache key.
func GenerateKey(prefix string, ids ...string) string {
	return strings.Join(append([]string{prefix}, ids...), ":")
}
