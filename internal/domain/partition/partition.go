// Package partition derives the isolation partition (namespace) a record
// belongs to from its time-period attribute.
package partition

import (
	"regexp"
	"strings"
)

// Default is the partition used when a record carries no period.
const Default = "default"

var separators = regexp.MustCompile(`[\s/\-]+`)

// Resolve maps a period to its partition name: lowercased, separator runs
// replaced with underscores ("2024 Q4" → "2024_q4"). Pure and stable; empty or
// blank periods resolve to Default.
func Resolve(period string) string {
	p := strings.ToLower(strings.TrimSpace(period))
	if p == "" {
		return Default
	}
	return separators.ReplaceAllString(p, "_")
}
