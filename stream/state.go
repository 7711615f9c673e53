package stream

// ConnState is the connection lifecycle state observable by callers.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	}
	return "UNKNOWN"
}

// connEvent drives the state machine.
type connEvent int

const (
	evDial           connEvent = iota // connect requested or backoff elapsed
	evHandshakeOK                     // websocket session established
	evTransportError                  // read/write/handshake failure
	evClose                           // deliberate shutdown
	evGiveUp                          // reconnect attempts exhausted
)

// transition is the (state, event) -> state table. Pairs not listed keep
// the current state. A transport error never passes through DISCONNECTED:
// callers only observe DISCONNECTED on deliberate shutdown or after the
// reconnect budget is exhausted.
func transition(s ConnState, ev connEvent) ConnState {
	switch ev {
	case evClose, evGiveUp:
		return StateDisconnected
	case evDial:
		if s == StateDisconnected || s == StateReconnecting {
			return StateConnecting
		}
	case evHandshakeOK:
		if s == StateConnecting {
			return StateConnected
		}
	case evTransportError:
		if s == StateConnecting || s == StateConnected {
			return StateReconnecting
		}
	}
	return s
}
