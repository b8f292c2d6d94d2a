package session

// State is the authentication state of the client
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateAuthenticated
	StateAuthFailed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateAuthFailed:
		return "auth_failed"
	default:
		return "unknown"
	}
}

// event is the closed set of session transitions. Keeping it unexported means
// no caller can drive the machine through anything but the Manager's
// operations.
type event int

const (
	eventLoginStarted event = iota
	eventLoginSucceeded
	eventLoginFailed
	eventSessionRestored
	eventLoggedOut
	eventSessionExpired
)

func (e event) String() string {
	switch e {
	case eventLoginStarted:
		return "login_started"
	case eventLoginSucceeded:
		return "login_succeeded"
	case eventLoginFailed:
		return "login_failed"
	case eventSessionRestored:
		return "session_restored"
	case eventLoggedOut:
		return "logged_out"
	case eventSessionExpired:
		return "session_expired"
	default:
		return "unknown"
	}
}

// transitions is the full legal transition table. Anything absent here is an
// illegal transition and is refused at runtime.
var transitions = map[State]map[event]State{
	StateUnauthenticated: {
		eventLoginStarted:    StateAuthenticating,
		eventSessionRestored: StateAuthenticated,
		eventLoggedOut:       StateUnauthenticated,
		eventSessionExpired:  StateUnauthenticated,
	},
	StateAuthenticating: {
		eventLoginSucceeded: StateAuthenticated,
		eventLoginFailed:    StateAuthFailed,
		eventLoggedOut:      StateUnauthenticated,
		eventSessionExpired: StateUnauthenticated,
	},
	StateAuthenticated: {
		eventLoginStarted:   StateAuthenticating,
		eventLoggedOut:      StateUnauthenticated,
		eventSessionExpired: StateUnauthenticated,
	},
	StateAuthFailed: {
		eventLoginStarted:   StateAuthenticating,
		eventLoggedOut:      StateUnauthenticated,
		eventSessionExpired: StateUnauthenticated,
	},
}
