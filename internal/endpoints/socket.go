package endpoints

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/user"
	"strconv"
	"time"

	"github.com/canonical/lxd/shared/api"
	"github.com/canonical/lxd/shared/logger"
)

// socketMode is the file mode of the control socket. Only the daemon user and the socket group
// may run statements through it.
const socketMode fs.FileMode = 0660

// Socket serves the control API on a unix socket.
type Socket struct {
	Path  string
	Group string

	listener *net.UnixListener
	server   *http.Server
	served   chan struct{}

	ctx context.Context
}

// NewSocket returns a Socket for the socket path held as the host of url. Nothing listens until Listen.
func NewSocket(ctx context.Context, server *http.Server, url api.URL, group string) *Socket {
	return &Socket{
		Path:  url.Hostname(),
		Group: group,

		server: server,
		ctx:    ctx,
	}
}

// Type returns the type of the Endpoint.
func (s *Socket) Type() EndpointType {
	return EndpointControl
}

// Listen binds the socket path, replacing a socket file left behind by a daemon that is gone,
// and restricts access to the socket group.
func (s *Socket) Listen() error {
	gid, err := socketGroupID(s.Group)
	if err != nil {
		return err
	}

	if socketAlive(s.Path) {
		return fmt.Errorf("Another daemon is already serving %q", s.Path)
	}

	err = os.Remove(s.Path)
	if err == nil {
		logger.Debug("Removed stale control socket", logger.Ctx{"socket": s.Path})
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("Failed to remove stale control socket %q: %w", s.Path, err)
	}

	listener, err := net.ListenUnix("unix", &net.UnixAddr{Name: s.Path, Net: "unix"})
	if err != nil {
		return fmt.Errorf("Failed to bind control socket %q: %w", s.Path, err)
	}

	err = os.Chmod(s.Path, socketMode)
	if err == nil {
		err = os.Chown(s.Path, os.Getuid(), gid)
	}

	if err != nil {
		_ = listener.Close()
		return fmt.Errorf("Failed to restrict access to control socket %q: %w", s.Path, err)
	}

	s.listener = listener

	return nil
}

// Serve starts answering API requests on the bound socket.
func (s *Socket) Serve() {
	if s.listener == nil {
		return
	}

	if s.ctx.Err() != nil {
		logger.Info("Daemon is shutting down, not serving control socket", logger.Ctx{"socket": s.Path})
		return
	}

	s.served = make(chan struct{})
	logger.Info("Serving control socket", logger.Ctx{"socket": s.Path, "group": s.Group})

	go func() {
		defer close(s.served)

		err := s.server.Serve(s.listener)
		if err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Control socket server stopped", logger.Ctx{"socket": s.Path, "err": err})
		}
	}()
}

// Close stops accepting requests and removes the socket file.
func (s *Socket) Close() error {
	if s.listener == nil {
		return nil
	}

	logger.Info("Closing control socket", logger.Ctx{"socket": s.Path})

	err := s.listener.Close()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("Failed to close control socket %q: %w", s.Path, err)
	}

	if s.served != nil {
		select {
		case <-s.served:
		case <-time.After(5 * time.Second):
			logger.Warn("Control socket server did not stop in time", logger.Ctx{"socket": s.Path})
		}
	}

	return nil
}

// socketAlive returns whether a process accepts connections on the socket at path.
func socketAlive(path string) bool {
	conn, err := net.DialTimeout("unix", path, time.Second)
	if err != nil {
		return false
	}

	_ = conn.Close()

	return true
}

// socketGroupID resolves the group owning the socket. An empty name means the process group.
func socketGroupID(name string) (int, error) {
	if name == "" {
		return os.Getgid(), nil
	}

	group, err := user.LookupGroup(name)
	if err != nil {
		return -1, fmt.Errorf("Failed to find socket group %q: %w", name, err)
	}

	gid, err := strconv.Atoi(group.Gid)
	if err != nil {
		return -1, fmt.Errorf("Invalid id %q of socket group %q: %w", group.Gid, name, err)
	}

	return gid, nil
}
