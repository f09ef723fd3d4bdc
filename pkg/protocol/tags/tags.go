// Package tags has small helpers for reading nostr tag lists without
// depending on any particular tag-accessor generation of the client library.
package tags

import "github.com/nbd-wtf/go-nostr"

// First returns the value of the first tag named key, or "".
func First(ev *nostr.Event, key string) string {
	for _, t := range ev.Tags {
		if len(t) >= 2 && t[0] == key {
			return t[1]
		}
	}
	return ""
}

// Has reports whether any tag named key carries value.
func Has(ev *nostr.Event, key, value string) bool {
	for _, t := range ev.Tags {
		if len(t) >= 2 && t[0] == key && t[1] == value {
			return true
		}
	}
	return false
}
