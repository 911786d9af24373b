// Package identity describes the caller on whose behalf a relay request
// is being evaluated and routed.
package identity

// Identity is the caller context threaded through policy evaluation and
// connection-pool lookups. It is intentionally small: the gateway core
// does not itself authenticate callers (that is an inbound-listener
// concern), it only carries whatever claims the listener already
// extracted.
type Identity struct {
	// ID is a stable caller identifier (e.g. an API key's subject, or a
	// service account name). Used as half of the ConnectionPool's
	// (identity, name) cache key.
	ID string
	// Roles are caller-held role names, matched against Rule predicates.
	Roles []string
	// Claims carries any additional listener-supplied attributes (e.g.
	// a decoded JWT's custom claims) available to CEL identity matchers
	// as the `identity.claims` map.
	Claims map[string]string
}

// Anonymous is the Identity used when a listener performs no
// authentication of its own.
var Anonymous = Identity{ID: "anonymous"}
