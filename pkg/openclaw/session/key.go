// Package session tracks per-conversation agent state: the persisted
// session store (resume handle, last-run abort flag) and the in-memory
// registry used to coordinate aborts with live runs.
package session

import "strings"

// Key is a parsed session key. Keys are namespace-qualified
// ("whatsapp:+5511...", "cron:hb-1"); legacy stores were keyed by the rest
// component alone, so lookups fall back to Rest when the full key misses.
type Key struct {
	Namespace string
	Rest      string
}

// ParseKey splits a session key into its namespace and rest components.
// Returns false when the key carries no namespace qualifier.
func ParseKey(key string) (Key, bool) {
	ns, rest, found := strings.Cut(key, ":")
	if !found || ns == "" || rest == "" {
		return Key{}, false
	}
	return Key{Namespace: ns, Rest: rest}, true
}
