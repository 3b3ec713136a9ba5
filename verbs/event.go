package verbs

// CMEventType is the kind of a connection manager event.
type CMEventType int

const (
	EventAddrResolved CMEventType = iota
	EventAddrError
	EventRouteResolved
	EventRouteError
	EventConnectRequest
	EventConnectError
	EventUnreachable
	EventRejected
	EventEstablished
	EventDisconnected
	EventTimewaitExit
)

func (t CMEventType) String() string {
	switch t {
	case EventAddrResolved:
		return "ADDR_RESOLVED"
	case EventAddrError:
		return "ADDR_ERROR"
	case EventRouteResolved:
		return "ROUTE_RESOLVED"
	case EventRouteError:
		return "ROUTE_ERROR"
	case EventConnectRequest:
		return "CONNECT_REQUEST"
	case EventConnectError:
		return "CONNECT_ERROR"
	case EventUnreachable:
		return "UNREACHABLE"
	case EventRejected:
		return "REJECTED"
	case EventEstablished:
		return "ESTABLISHED"
	case EventDisconnected:
		return "DISCONNECTED"
	case EventTimewaitExit:
		return "TIMEWAIT_EXIT"
	default:
		return "UNKNOWN"
	}
}

// CMEvent is one connection manager event. For EventConnectRequest, ID is the
// new child id and Listener the listening id that produced it.
type CMEvent struct {
	Type        CMEventType
	ID          ConnID
	Listener    ConnID
	PrivateData []byte
	Status      error
}
