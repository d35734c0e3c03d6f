package logging

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// FormatEntry renders one decoded zerolog entry as a single text line.
func FormatEntry(now time.Time, fields map[string]interface{}) string {
	level, _ := fields["level"].(string)
	if level == "" {
		level = "info"
	}
	msg, _ := fields["message"].(string)

	scope := "simchain"
	if phase, ok := fields["phase"].(string); ok && phase != "" {
		scope = phase
	}
	if comp, ok := fields["component"].(string); ok && comp != "" {
		scope += "/" + comp
	}

	var extras []string
	for k, v := range fields {
		switch k {
		case "level", "message", "time", "phase", "component":
			continue
		}
		extras = append(extras, fmt.Sprintf("%s=%v", k, v))
	}
	sort.Strings(extras)

	var b strings.Builder
	b.WriteString(now.Format("2006-01-02 15:04:05.000"))
	b.WriteString(" [")
	b.WriteString(strings.ToUpper(level))
	b.WriteString("] ")
	b.WriteString(scope)
	b.WriteString(": ")
	b.WriteString(msg)
	if len(extras) > 0 {
		b.WriteString(" ")
		b.WriteString(strings.Join(extras, " "))
	}
	b.WriteString("\n")
	return b.String()
}
