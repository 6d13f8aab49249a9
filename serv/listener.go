package serv

import (
	"context"
	"net"
	"net/http"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// reusePortConfig returns a ListenConfig that sets SO_REUSEADDR and
// SO_REUSEPORT before bind, so multiple worker listeners can share one port
// and the kernel balances accepts between them.
func reusePortConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var opErr error
			err := c.Control(func(fd uintptr) {
				opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
				if opErr != nil {
					return
				}
				opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
			if err != nil {
				return err
			}
			return opErr
		},
	}
}

// serveListener starts Workers HTTP servers on the listener's address, each
// with its own SO_REUSEPORT socket. Go's net stack enables TCP_NODELAY on
// accepted connections by default.
func (s *Service) serveListener(ctx context.Context, ls *ListenerService) ([]*http.Server, error) {
	handler := routesHandler(ls, s)
	lc := reusePortConfig()

	var servers []*http.Server
	for i := 0; i < s.conf.Workers; i++ {
		l, err := lc.Listen(ctx, "tcp", ls.hostPort)
		if err != nil {
			for _, srv := range servers {
				srv.Close()
			}
			return nil, err
		}

		srv := &http.Server{
			Addr:              ls.hostPort,
			Handler:           handler,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			MaxHeaderBytes:    1 << 20,
		}
		servers = append(servers, srv)

		go func(srv *http.Server, l net.Listener) {
			if err := srv.Serve(l); err != nil && err != http.ErrServerClosed {
				s.log.Errorf("listener %s: %s", ls.hostPort, err)
			}
		}(srv, l)
	}
	return servers, nil
}
