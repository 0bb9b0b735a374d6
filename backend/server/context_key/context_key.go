package contextKey

// key is the private type for request context keys, so values set by the
// middleware cannot collide with keys from other packages.
type key int

const (
	// UserIDKey is the context key under which the JWT middleware stores
	// the authenticated user's id.
	UserIDKey key = iota
	// JwtErrorKey is the context key under which the JWT middleware
	// stores a token validation error.
	JwtErrorKey
)
