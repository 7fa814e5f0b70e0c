package model

// SessionState is the lifecycle state of a single-user server.
type SessionState string

const (
	StateStopped      SessionState = "stopped"
	StateSpawnPending SessionState = "spawn-pending"
	StateRunning      SessionState = "running"
	StateStopPending  SessionState = "stop-pending"
)

// Pending reports whether the state is a transition that is still in flight.
func (s SessionState) Pending() bool {
	return s == StateSpawnPending || s == StateStopPending
}

type Account struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Admin     bool   `json:"admin"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// ProvisioningRecord holds the OS resource bindings of an account. It is
// created atomically with the account and deleted with it.
type ProvisioningRecord struct {
	AccountName string `json:"accountName"`
	Home        string `json:"home"`
	DataDir     string `json:"dataDir"`
	Shell       string `json:"shell"`
	UpdatedAt   int64  `json:"updatedAt"`
}

// Session identifies one server owned by an account. Label is "" for the
// default server. Transient states live only in the controller's table and
// are never persisted.
type Session struct {
	AccountName string       `json:"accountName"`
	Label       string       `json:"label"`
	State       SessionState `json:"state"`
	StartedAt   int64        `json:"startedAt"`
}
