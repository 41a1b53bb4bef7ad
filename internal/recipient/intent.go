package recipient

import "github.com/mithileshchellappan/pushrelay/internal/delivery"

// Intent describes who a notification is for. It is one of SingleToken,
// AdminBroadcast or UsernameList.
type Intent interface {
	Content() delivery.Message
	isIntent()
}

type SingleToken struct {
	Token   string
	Message delivery.Message
}

// AdminBroadcast targets every admin except the optional excluded owner or
// email (compared case-insensitively).
type AdminBroadcast struct {
	ExcludeOwnerID string
	ExcludeEmail   string
	Message        delivery.Message
}

type Lookup int

const (
	// LookupByUsername queries token records by their username field.
	LookupByUsername Lookup = iota
	// LookupByOwnerID maps usernames to owner ids first, then reads the
	// owners' token documents.
	LookupByOwnerID
)

func (l Lookup) String() string {
	if l == LookupByOwnerID {
		return "owner_id"
	}
	return "username"
}

type UsernameList struct {
	Usernames []string
	Lookup    Lookup
	Message   delivery.Message
}

func (i SingleToken) Content() delivery.Message    { return i.Message }
func (i AdminBroadcast) Content() delivery.Message { return i.Message }
func (i UsernameList) Content() delivery.Message   { return i.Message }

func (SingleToken) isIntent()    {}
func (AdminBroadcast) isIntent() {}
func (UsernameList) isIntent()   {}
