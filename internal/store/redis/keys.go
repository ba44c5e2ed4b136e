package redis

const (
	// KeyPrefixBookmark is the prefix for bookmark record keys
	KeyPrefixBookmark = "marks:bookmark:"
	// KeyPrefixOwnerIndex is the prefix for the per-owner sorted set of bookmark IDs
	KeyPrefixOwnerIndex = "marks:bookmarks:user:"
	// KeyPrefixChanges is the prefix for change-feed channels
	KeyPrefixChanges = "marks:changes:"
	// KeyPrefixSession is the prefix for device session tokens
	KeyPrefixSession = "marks:session:"
	// KeyPrefixAuthEvents is the prefix for device session-event channels
	KeyPrefixAuthEvents = "marks:auth:"
	// KeyPrefixLogin is the prefix for pending sign-in states
	KeyPrefixLogin = "marks:login:"
)

// BookmarkKey returns the Redis key for a bookmark record
func BookmarkKey(id string) string {
	return KeyPrefixBookmark + id
}

// OwnerIndexKey returns the sorted set holding one owner's bookmark IDs,
// scored by creation time in unix microseconds
func OwnerIndexKey(ownerID string) string {
	return KeyPrefixOwnerIndex + ownerID
}

// ChangesChannel returns the change-feed channel of a table.
// A non-empty ownerID narrows it to that owner's rows.
func ChangesChannel(table, ownerID string) string {
	if ownerID == "" {
		return KeyPrefixChanges + table
	}
	return KeyPrefixChanges + table + ":" + ownerID
}

// SessionKey returns the key holding a device's session token
func SessionKey(device string) string {
	return KeyPrefixSession + device
}

// AuthEventsChannel returns the channel carrying a device's session events
func AuthEventsChannel(device string) string {
	return KeyPrefixAuthEvents + device
}

// LoginKey returns the key of a pending sign-in state
func LoginKey(state string) string {
	return KeyPrefixLogin + state
}
