package client

// State is the authentication state of a Manager.
type State int32

const (
	StateAnonymous State = iota
	StateAuthenticating
	StateAuthenticated
	StateError
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
