package alert

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// keyLabels are already part of the prompt headline.
var keyLabels = map[string]bool{"alertname": true, "namespace": true, "pod": true}

// BuildPrompt renders the user message that starts an investigation of a
// flushed alert group.
func BuildPrompt(group *AlertGroup) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Investigate alert %s in %s (fired %d %s between %s and %s).",
		orUnknown(group.AlertName),
		target(group),
		group.Count,
		plural(group.Count, "time", "times"),
		group.FirstSeen.UTC().Format(time.RFC3339),
		group.LastSeen.UTC().Format(time.RFC3339),
	)

	for _, key := range []string{"summary", "description"} {
		if v := strings.TrimSpace(group.Annotations[key]); v != "" {
			fmt.Fprintf(&b, "\n%s: %s", strings.ToUpper(key[:1])+key[1:], v)
		}
	}

	if labels := extraLabels(group.MergedLabels); labels != "" {
		b.WriteString("\nLabels: ")
		b.WriteString(labels)
	}

	b.WriteString("\nQuery the related metrics, explain the likely cause and chart the key series.")
	return b.String()
}

func target(group *AlertGroup) string {
	switch {
	case group.Namespace != "" && group.Pod != "":
		return group.Namespace + "/" + group.Pod
	case group.Namespace != "":
		return "namespace " + group.Namespace
	case group.Pod != "":
		return "pod " + group.Pod
	default:
		return "the cluster"
	}
}

func extraLabels(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		if !keyLabels[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+labels[k])
	}
	return strings.Join(pairs, ", ")
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
