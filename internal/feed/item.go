package feed

import (
	"strconv"
	"strings"
	"time"
)

// Item is anything the store can order and de-duplicate: posts and comments.
type Item interface {
	ItemID() string
	ItemClientRef() string
	ItemCreatedAt() time.Time
	ItemAuthorID() string
	ItemMessage() string
}

// LocalPrefix marks placeholder ids when they cross the transport boundary.
const LocalPrefix = "local:"

// ItemID identifies a store entry: either a pending placeholder or a server-confirmed id.
type ItemID struct {
	pending bool
	value   string
}

// PendingID wraps a locally generated placeholder id.
func PendingID(localID string) ItemID {
	return ItemID{pending: true, value: localID}
}

// ConfirmedID wraps a server-assigned id.
func ConfirmedID(serverID string) ItemID {
	return ItemID{value: serverID}
}

// ParseItemID decodes the textual form produced by String.
func ParseItemID(raw string) ItemID {
	if strings.HasPrefix(raw, LocalPrefix) {
		return PendingID(strings.TrimPrefix(raw, LocalPrefix))
	}
	return ConfirmedID(raw)
}

// Pending reports whether the id is a placeholder awaiting reconciliation.
func (id ItemID) Pending() bool { return id.pending }

// Value returns the raw local or server id.
func (id ItemID) Value() string { return id.value }

// IsZero reports whether the id is empty.
func (id ItemID) IsZero() bool { return id.value == "" }

func (id ItemID) String() string {
	if id.pending {
		return LocalPrefix + id.value
	}
	return id.value
}

// MarshalText encodes the id in its textual form.
func (id ItemID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// Fingerprint identifies the logical item independently of its id: author, creation time and message.
// Items without a creation time have no fingerprint.
func Fingerprint(item Item) string {
	created := item.ItemCreatedAt()
	if created.IsZero() {
		return ""
	}
	return item.ItemAuthorID() + "|" + strconv.FormatInt(created.UnixNano(), 10) + "|" + item.ItemMessage()
}
