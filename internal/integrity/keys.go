package integrity

import (
	"sort"
	"strings"
)

// DefaultRestrictedKeys covers refresh, dev tools, new tab/window, close tab and history navigation.
var DefaultRestrictedKeys = []string{
	"F5",
	"Ctrl+R",
	"Ctrl+Shift+R",
	"Meta+R",
	"Ctrl+F5",
	"F12",
	"Ctrl+Shift+I",
	"Ctrl+Shift+J",
	"Ctrl+Shift+C",
	"Meta+Alt+I",
	"Ctrl+U",
	"Ctrl+T",
	"Meta+T",
	"Ctrl+N",
	"Meta+N",
	"Ctrl+Shift+N",
	"Ctrl+W",
	"Meta+W",
	"Ctrl+F4",
	"Alt+F4",
	"Alt+Left",
	"Alt+Right",
}

// modifier order used by Normalize.
var modifierRank = map[string]int{"Ctrl": 0, "Alt": 1, "Shift": 2, "Meta": 3}

var modifierAliases = map[string]string{
	"ctrl":    "Ctrl",
	"control": "Ctrl",
	"alt":     "Alt",
	"option":  "Alt",
	"shift":   "Shift",
	"meta":    "Meta",
	"cmd":     "Meta",
	"command": "Meta",
	"super":   "Meta",
}

// Normalize canonicalizes a key combo: modifiers in Ctrl, Alt, Shift, Meta order,
// single letters upper-cased, e.g. "shift+ctrl+i" -> "Ctrl+Shift+I".
func Normalize(combo string) string {
	parts := strings.Split(combo, "+")
	mods := make([]string, 0, len(parts))
	key := ""
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if m, ok := modifierAliases[strings.ToLower(p)]; ok {
			mods = append(mods, m)
			continue
		}
		key = normalizeKey(p)
	}
	sort.Slice(mods, func(i, j int) bool { return modifierRank[mods[i]] < modifierRank[mods[j]] })
	mods = dedupe(mods)
	if key == "" {
		return strings.Join(mods, "+")
	}
	return strings.Join(append(mods, key), "+")
}

func normalizeKey(k string) string {
	if len(k) == 1 {
		return strings.ToUpper(k)
	}
	lower := strings.ToLower(k)
	switch lower {
	case "arrowleft", "left":
		return "Left"
	case "arrowright", "right":
		return "Right"
	}
	if lower[0] == 'f' && len(lower) <= 3 {
		return strings.ToUpper(k)
	}
	return strings.ToUpper(k[:1]) + lower[1:]
}

func dedupe(s []string) []string {
	out := s[:0]
	for i, v := range s {
		if i > 0 && s[i-1] == v {
			continue
		}
		out = append(out, v)
	}
	return out
}

// Blocklist is an immutable set of normalized combos.
type Blocklist struct {
	combos map[string]struct{}
}

// NewBlocklist builds a blocklist; an empty list falls back to DefaultRestrictedKeys.
func NewBlocklist(combos []string) *Blocklist {
	if len(combos) == 0 {
		combos = DefaultRestrictedKeys
	}
	b := &Blocklist{combos: make(map[string]struct{}, len(combos))}
	for _, c := range combos {
		if n := Normalize(c); n != "" {
			b.combos[n] = struct{}{}
		}
	}
	return b
}

// Match returns the normalized combo and whether it is blocked.
func (b *Blocklist) Match(combo string) (string, bool) {
	n := Normalize(combo)
	if b == nil {
		return n, false
	}
	_, ok := b.combos[n]
	return n, ok
}
