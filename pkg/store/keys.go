package store

// Key Namespace Design
// ====================
//
// All backends share one logical key layout, namespaced by prefix so the
// different record types cannot collide:
//
// Data Type          Prefix        Key Format            Value
// =================================================================
// Credential record  "passwords:"  passwords:<account>   opaque credential bytes
// Task list          "tasks:"      tasks:<account>       append-only ordered strings
// Broadcast channel  "channel:"    channel:<account>     (not stored; pub/sub name)
//
// The account id is the only variable part: the credential key, the task
// list key, and the broadcast channel name for one account differ only in
// prefix. Keys are case-sensitive and account ids are used verbatim.

const (
	prefixCredential = "passwords:"
	prefixTasks      = "tasks:"
	prefixChannel    = "channel:"
)

// CredentialKey returns the key holding the credential record for an account.
func CredentialKey(accountID string) string {
	return prefixCredential + accountID
}

// TasksKey returns the key holding the ordered task list for an account.
func TasksKey(accountID string) string {
	return prefixTasks + accountID
}

// ChannelName returns the broadcast channel name for an account.
func ChannelName(accountID string) string {
	return prefixChannel + accountID
}
