package models

import "encoding/json"

type OwnerKind int

const (
	OwnerNone OwnerKind = iota
	OwnerAccount
	OwnerGuest
)

func (k OwnerKind) String() string {
	switch k {
	case OwnerAccount:
		return "account"
	case OwnerGuest:
		return "guest"
	default:
		return "none"
	}
}

// Owner is either an account user or a walk-in guest, never both.
// The zero value has no owner and is only valid for maintenance blocks.
type Owner struct {
	kind       OwnerKind
	userID     int64
	guestName  string
	guestPhone string
}

func AccountOwner(userID int64) Owner {
	return Owner{kind: OwnerAccount, userID: userID}
}

func GuestOwner(name, phone string) Owner {
	return Owner{kind: OwnerGuest, guestName: name, guestPhone: phone}
}

func (o Owner) Kind() OwnerKind { return o.kind }

func (o Owner) IsAccount() bool { return o.kind == OwnerAccount }

func (o Owner) IsGuest() bool { return o.kind == OwnerGuest }

func (o Owner) IsZero() bool { return o.kind == OwnerNone }

// UserID returns the account id when the owner is an account.
func (o Owner) UserID() (int64, bool) {
	if o.kind != OwnerAccount {
		return 0, false
	}
	return o.userID, true
}

// Guest returns the walk-in contact when the owner is a guest.
func (o Owner) Guest() (name, phone string, ok bool) {
	if o.kind != OwnerGuest {
		return "", "", false
	}
	return o.guestName, o.guestPhone, true
}

// OwnedBy reports whether the booking belongs to the given account.
func (o Owner) OwnedBy(userID int64) bool {
	return o.kind == OwnerAccount && o.userID == userID
}

type ownerJSON struct {
	Kind       string `json:"kind"`
	UserID     int64  `json:"user_id,omitempty"`
	GuestName  string `json:"guest_name,omitempty"`
	GuestPhone string `json:"guest_phone,omitempty"`
}

func (o Owner) MarshalJSON() ([]byte, error) {
	return json.Marshal(ownerJSON{
		Kind:       o.kind.String(),
		UserID:     o.userID,
		GuestName:  o.guestName,
		GuestPhone: o.guestPhone,
	})
}
