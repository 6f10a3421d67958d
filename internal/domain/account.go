package domain

import "time"

// ConnStatus tracks how far a bridged account got through the connection
// pipeline on its last contact with the PDS.
type ConnStatus int

const (
	StatusUnknown ConnStatus = iota
	StatusDIDFail
	StatusPDSFail
	StatusTokenOK
	StatusTokenFail
	StatusAPIFail
	StatusSuccess
)

func (s ConnStatus) String() string {
	switch s {
	case StatusDIDFail:
		return "did-fail"
	case StatusPDSFail:
		return "pds-fail"
	case StatusTokenOK:
		return "token-ok"
	case StatusTokenFail:
		return "token-fail"
	case StatusAPIFail:
		return "api-fail"
	case StatusSuccess:
		return "success"
	default:
		return "unknown"
	}
}

// Account binds a local user to a remote AT Protocol identity. One row per
// local user with bridging enabled; destroyed when the user disables it.
type Account struct {
	// ID is the local user id this binding belongs to.
	ID int64

	// DID is the resolved decentralized identifier (e.g. did:plc:abc123).
	DID string

	// PDS is the base URL of the personal data server hosting the repo.
	PDS string

	// Handle is the AT Protocol handle (e.g. alice.bsky.social).
	Handle string

	// AppPassword is the app password used to create sessions.
	AppPassword string

	// AccessJwt and RefreshJwt form the current session token pair.
	AccessJwt  string
	RefreshJwt string

	Status ConnStatus

	// CompleteThreads enables transitive thread fetching during
	// reconciliation when the remote reply count exceeds what we hold.
	CompleteThreads bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SyncState is the per-account reconciliation cursor. It is read and written
// only by the worker driving the passes, under a single lock, and persisted
// through the store. Version increments on every save so stale writers lose.
type SyncState struct {
	AccountID   int64
	LastPoll    time.Time
	LastCleanup time.Time
	Version     int64
}
