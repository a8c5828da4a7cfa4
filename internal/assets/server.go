// Package assets serves the application's manifest and static resources
// to the container over local HTTP for the duration of a test session.
package assets

import (
	"context"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/appharness/internal/errors"
	"github.com/Iron-Ham/appharness/internal/event"
	"github.com/Iron-Ham/appharness/internal/logging"
	"github.com/fsnotify/fsnotify"
)

const shutdownTimeout = 5 * time.Second

// Options configures a Server.
type Options struct {
	// Root is the directory to serve.
	Root string
	// Host is the name used in URLs and the interface to listen on.
	Host string
	// Port to listen on. Zero picks a free port.
	Port int
	// Bus receives an AssetChangedEvent per change seen by Watch. Optional.
	Bus    *event.Bus
	Logger *logging.Logger
}

// Server is a static file server bound to one directory.
type Server struct {
	root   string
	host   string
	port   int
	bus    *event.Bus
	logger *logging.Logger

	mu       sync.Mutex
	ln       net.Listener
	srv      *http.Server
	serveErr chan error
	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	stopped  bool
}

// New creates a Server. It does not listen until Start.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	host := opts.Host
	if host == "" {
		host = "localhost"
	}
	return &Server{
		root:   opts.Root,
		host:   host,
		port:   opts.Port,
		bus:    opts.Bus,
		logger: logger.WithComponent("assets"),
	}
}

// Start begins serving. A Server can be started once.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return errors.Wrap(errors.ErrClosed, "asset server")
	}
	if s.srv != nil {
		return errors.Wrap(errors.ErrAlreadyRunning, "asset server")
	}

	info, err := os.Stat(s.root)
	if err != nil {
		return errors.NewValidationError("asset root is not accessible").WithField("assets.root").WithValue(s.root)
	}
	if !info.IsDir() {
		return errors.NewValidationError("asset root is not a directory").WithField("assets.root").WithValue(s.root)
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(s.host, strconv.Itoa(s.port)))
	if err != nil {
		return errors.NewLaunchError("failed to listen for asset server", err)
	}

	s.ln = ln
	s.srv = &http.Server{
		Handler:           s.handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.serveErr = make(chan error, 1)

	srv := s.srv
	serveErr := s.serveErr
	go func() {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		serveErr <- err
	}()

	s.logger.Info("asset server started", "root", s.root, "addr", ln.Addr().String())
	return nil
}

// handler serves the root directory. Responses are never cached so the
// container always sees the current manifest.
func (s *Server) handler() http.Handler {
	files := http.FileServer(http.Dir(s.root))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		s.logger.Debug("asset request", "method", r.Method, "path", r.URL.Path)
		files.ServeHTTP(w, r)
	})
}

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Port returns the bound port, or the configured one before Start.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return s.port
	}
	if addr, ok := s.ln.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return s.port
}

// URL returns the absolute URL of path under the served root.
func (s *Server) URL(path string) string {
	return "http://" + net.JoinHostPort(s.host, strconv.Itoa(s.Port())) + "/" + strings.TrimPrefix(path, "/")
}

// Stop shuts the server and any watcher down. It is safe to call more than
// once and before Start.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	srv := s.srv
	serveErr := s.serveErr
	watcher := s.watcher
	stopCh := s.stopCh
	s.mu.Unlock()

	var firstErr error
	if watcher != nil {
		close(stopCh)
		if err := watcher.Close(); err != nil {
			firstErr = err
		}
	}
	if srv == nil {
		return firstErr
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := <-serveErr; err != nil && firstErr == nil {
		firstErr = err
	}

	s.logger.Info("asset server stopped")
	return firstErr
}
