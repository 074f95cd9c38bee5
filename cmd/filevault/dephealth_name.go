package main

import "strings"

// parseOwnerName извлекает имя владельца пода из hostname.
//
//   - Deployment: <name>-<replicaset hash>-<suffix из 5 символов>
//   - StatefulSet: <name>-<ordinal>
//
// Прочие имена возвращаются без изменений.
func parseOwnerName(hostname string) string {
	parts := strings.Split(hostname, "-")
	n := len(parts)

	if n >= 3 && isLowerAlnum(parts[n-1], 5, 5) && isLowerAlnum(parts[n-2], 6, 10) {
		return strings.Join(parts[:n-2], "-")
	}
	if n >= 2 && isDigits(parts[n-1]) {
		return strings.Join(parts[:n-1], "-")
	}
	return hostname
}

func isLowerAlnum(s string, minLen, maxLen int) bool {
	if len(s) < minLen || len(s) > maxLen {
		return false
	}
	for _, c := range s {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
