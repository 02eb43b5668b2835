// Package match evaluates change events against subscription filters.
package match

import (
	"strings"

	"github.com/mcpwatch/mcpwatch/services/notifier/internal/model"
)

// Matches reports whether a change event satisfies a subscription's
// filters. Paused subscriptions never match. Filter categories are ANDed;
// within a category entries are ORed; an empty category matches everything.
func Matches(ev model.ChangeEvent, sub model.Subscription) bool {
	if sub.Status != model.SubscriptionActive {
		return false
	}
	if !matchesChangeType(ev.ChangeType, sub.Filters.ChangeTypes) {
		return false
	}
	if !matchesNamespace(ev.ServerName, sub.Filters.Namespaces) {
		return false
	}
	if !matchesKeyword(ev, sub.Filters.Keywords) {
		return false
	}
	return true
}

func matchesChangeType(changeType string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, t := range allowed {
		if t == changeType {
			return true
		}
	}
	return false
}

// matchesNamespace treats an entry ending in '*' as a prefix match on the
// server name; everything else must match exactly.
func matchesNamespace(serverName string, namespaces []string) bool {
	if len(namespaces) == 0 {
		return true
	}
	for _, ns := range namespaces {
		if prefix, ok := strings.CutSuffix(ns, "*"); ok {
			if strings.HasPrefix(serverName, prefix) {
				return true
			}
			continue
		}
		if serverName == ns {
			return true
		}
	}
	return false
}

// matchesKeyword looks for a case-insensitive substring of the server name
// or description.
func matchesKeyword(ev model.ChangeEvent, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	name := strings.ToLower(ev.ServerName)
	description := strings.ToLower(ev.Description)
	for _, kw := range keywords {
		kw = strings.ToLower(kw)
		if strings.Contains(name, kw) || strings.Contains(description, kw) {
			return true
		}
	}
	return false
}
