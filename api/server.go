package api

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/NebulousLabs/errors"
	"github.com/NebulousLabs/threadgroup"
)

// A Server exposes an API over an HTTP listener and owns the lifecycle of
// the modules behind it.
type Server struct {
	api       *API
	apiServer *http.Server
	listener  net.Listener
	tg        threadgroup.ThreadGroup
}

// NewServer creates a server listening on apiAddr for the given API.
func NewServer(apiAddr string, api *API) (*Server, error) {
	listener, err := net.Listen("tcp", apiAddr)
	if err != nil {
		return nil, err
	}
	srv := &Server{
		api:      api,
		listener: listener,
		apiServer: &http.Server{
			Handler: api,
		},
	}
	srv.tg.OnStop(func() error {
		return errors.AddContext(listener.Close(), "unable to close server listener")
	})
	return srv, nil
}

// Addr returns the address the server is listening on.
func (srv *Server) Addr() string {
	return srv.listener.Addr().String()
}

// Serve listens for and handles API calls. It is a blocking function.
func (srv *Server) Serve() error {
	err := srv.tg.Add()
	if err != nil {
		return errors.AddContext(err, "unable to initialize server")
	}
	defer srv.tg.Done()

	// The server runs until an error is encountered or the listener is
	// closed via the Close method or signal handling. Closing the listener
	// results in the benign error handled below.
	err = srv.apiServer.Serve(srv.listener)
	if err != nil && !strings.HasSuffix(err.Error(), "use of closed network connection") {
		return err
	}
	return nil
}

// Close closes the Server's listener and safely shuts down each module
// behind the API, triggers first so that no new sync requests fire into a
// closing node.
func (srv *Server) Close() error {
	err := srv.tg.Stop()
	if err != nil {
		return errors.AddContext(err, "unable to close server")
	}

	var errs []error
	mods := []struct {
		name string
		c    io.Closer
	}{
		{"api", srv.api},
		{"triggers", srv.api.triggers},
		{"syncer", srv.api.syncer},
		{"locker", srv.api.locker},
		{"blobstore", srv.api.blobs},
		{"contentdb", srv.api.db},
	}
	for _, mod := range mods {
		if mod.c != nil {
			if err := mod.c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%v.Close failed: %v", mod.name, err))
			}
		}
	}
	return errors.Compose(errs...)
}
