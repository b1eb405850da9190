package utils

import (
	"crypto/subtle"
)

// SecretsEqual compares a presented secret with the configured one in
// constant time. An empty configured secret never matches.
func SecretsEqual(configured, presented string) bool {
	if configured == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(presented)) == 1
}
