// ABOUTME: Channel address helpers shared by the normalizer and the outbound gate.
// ABOUTME: Addresses look like <handle>@<server>, e.g. 15551234567@c.us.

package channel

import "strings"

const (
	// UserSuffix is the default server suffix for individual contacts.
	UserSuffix = "c.us"

	// GroupSuffix marks group conversations.
	GroupSuffix = "g.us"
)

// NormalizeRecipient appends the default individual-contact suffix when the
// address carries none. Addresses that already name a server pass through
// unchanged.
func NormalizeRecipient(to string) string {
	if strings.Contains(to, "@") {
		return to
	}
	return to + "@" + UserSuffix
}

// Handle returns the portion of an address before the first separator, the
// user/number part. Addresses without a separator are returned whole.
func Handle(addr string) string {
	if i := strings.Index(addr, "@"); i >= 0 {
		return addr[:i]
	}
	return addr
}

// IsGroup reports whether an address names a group conversation.
func IsGroup(addr string) bool {
	return strings.Contains(addr, "@"+GroupSuffix)
}
