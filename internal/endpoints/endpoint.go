package endpoints

// Endpoint represents the common methods of an Endpoint.
type Endpoint interface {
	Listen() error
	Serve()
	Close() error
	Type() EndpointType
}

// EndpointType enumerates the supported endpoints.
type EndpointType int

const (
	// EndpointControl represents the control endpoint accessible via unix socket.
	EndpointControl EndpointType = iota
)

// EndpointsUnix represents the name of the Unix endpoints.
const EndpointsUnix string = "unix"

// String labels EndpointTypes for logging purposes.
func (et EndpointType) String() string {
	switch et {
	case EndpointControl:
		return "control socket"
	default:
		return ""
	}
}
