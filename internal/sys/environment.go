package sys

const (
	// StateDir is the location of the daemon state directory.
	StateDir = "ASYNCSQL_STATE_DIR"

	// SocketGroup is the group owning the control socket.
	SocketGroup = "ASYNCSQL_SOCKET_GROUP"
)
