package badger

import "fmt"

// Database Key Namespace Design
// =============================
//
// BadgerDB is a flat key-value store, so the logical layout from pkg/store
// (credential records, task lists, broadcast channels) is mapped onto
// prefixed physical keys. This design:
//   - Prevents collisions between record types
//   - Enables efficient range scans over one list's items
//   - Lets pub/sub ride on badger's prefix-based Subscribe
//
// Key Namespace Prefixes:
//
// Data Type        Prefix  Key Format                          Value
// =============================================================================
// Point value      "v:"    v:<logical key>                     raw bytes
// List sequence    "ls:"   ls:<logical key>                    next index (%016x)
// List item        "li:"   li:<keylen %08x>:<logical key>:<%016x>  item string
// Channel          "ch:"   ch:<channel name>                   last published payload
//
// List items are keyed by a zero-padded hexadecimal sequence number so that
// lexicographic key order equals append order; reading a list is a single
// prefix scan. The logical key is length-prefixed so one list's scan prefix
// can never be a prefix of another list's item keys (logical keys may
// themselves contain ":"). The sequence counter lives under its own prefix
// so it can never appear inside an item scan.
//
// Channels are physical keys only so that badger's Subscribe (which watches
// key prefixes) can observe publishes; the stored value is simply the most
// recent payload and is never read back.

const (
	prefixValue   = "v:"
	prefixListSeq = "ls:"
	prefixListItm = "li:"
	prefixChannel = "ch:"
)

// keyValue generates the physical key for a point value.
func keyValue(key string) []byte {
	return []byte(prefixValue + key)
}

// keyListSeq generates the physical key for a list's sequence counter.
func keyListSeq(key string) []byte {
	return []byte(prefixListSeq + key)
}

// keyListItem generates the physical key for one list item.
//
// Format: "li:<key length as %08x>:<logical key>:<seq as %016x>"
func keyListItem(key string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%08x:%s:%016x", prefixListItm, len(key), key, seq))
}

// keyListItemPrefix generates the prefix for range-scanning a list's items.
// The length prefix keeps the encoding prefix-free: "tasks:alice" and
// "tasks:alice:x" produce disjoint scan ranges.
func keyListItemPrefix(key string) []byte {
	return []byte(fmt.Sprintf("%s%08x:%s:", prefixListItm, len(key), key))
}

// keyChannel generates the physical key a channel's publishes are written to.
func keyChannel(channel string) []byte {
	return []byte(prefixChannel + channel)
}
