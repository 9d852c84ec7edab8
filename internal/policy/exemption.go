// Package policy holds capabilities injected into the economy and the
// cooldown gate.
package policy

import (
	"sort"

	"stream-drop/server/internal/storage"
)

// Exemption decides whether a user bypasses point costs and cooldowns.
type Exemption interface {
	IsExempt(username string) bool
}

// ExemptionFunc adapts a function to Exemption.
type ExemptionFunc func(username string) bool

func (f ExemptionFunc) IsExempt(username string) bool {
	if f == nil {
		return false
	}
	return f(username)
}

// NoExemptions treats every user as a regular viewer.
func NoExemptions() Exemption {
	return ExemptionFunc(func(string) bool { return false })
}

// AllowList exempts a fixed set of usernames, compared case-insensitively.
type AllowList struct {
	names map[string]struct{}
}

func NewAllowList(usernames ...string) AllowList {
	names := make(map[string]struct{}, len(usernames))
	for _, raw := range usernames {
		name := storage.NormalizeUsername(raw)
		if name == "" {
			continue
		}
		names[name] = struct{}{}
	}
	return AllowList{names: names}
}

func (a AllowList) IsExempt(username string) bool {
	if len(a.names) == 0 {
		return false
	}
	_, ok := a.names[storage.NormalizeUsername(username)]
	return ok
}

// Names returns the normalized members in lexical order.
func (a AllowList) Names() []string {
	out := make([]string, 0, len(a.names))
	for name := range a.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
