package codes

// Session states of an SMPP client connection
const (
	SessionNone      = "NONE"
	SessionOpen      = "OPEN" // TCP connected, bind not yet answered
	SessionBinding   = "BINDING"
	SessionBoundRX   = "BOUND_RX"
	SessionBoundTX   = "BOUND_TX"
	SessionBoundTRX  = "BOUND_TRX"
	SessionUnbinding = "UNBINDING"
	SessionUnbound   = "UNBOUND"
)

// Service states layered on top of the session. They survive reconnects.
const (
	ServiceStopped  = "STOPPED"
	ServiceStarting = "STARTING"
	ServiceStarted  = "STARTED"
	ServiceStopping = "STOPPING"
)

// IsBound reports whether a session state is one of the BOUND_* states.
func IsBound(state string) bool {
	switch state {
	case SessionBoundRX, SessionBoundTX, SessionBoundTRX:
		return true
	}
	return false
}

// CanSubmit reports whether submit_sm may be sent in the given session state.
func CanSubmit(state string) bool {
	return state == SessionBoundTX || state == SessionBoundTRX
}

// Operator facing status lines reported during a config update that needs a restart.
const (
	UpdateRestarting      = "Restarting connector"
	UpdateFailedStarting  = "Failed starting connector, will retry in %s"
	UpdateSucceeded       = "Successfully updated connector"
	UpdateNoRestartNeeded = "Successfully updated connector (no restart required)"
	FailedStartingCheck   = "Failed starting connector, check log for details"
)

// Message states reported in delivery receipts
const (
	StatAccepted      = "ACCEPTD"
	StatUndeliverable = "UNDELIV"
	StatRejected      = "REJECTD"
	StatDelivered     = "DELIVRD"
	StatExpired       = "EXPIRED"
	StatDeleted       = "DELETED"
	StatUnknown       = "UNKNOWN"
)

// NotDefined renders an unset value (timestamps, unlimited quotas).
const NotDefined = "ND"
