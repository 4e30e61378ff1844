package main // import "github.com/tcolgate/catcam"

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

const (
	boundary   = "FRAME"
	indexPath  = "/index.html"
	streamPath = "/stream.mjpg"
)

var (
	errServerFull = errors.New("too many streaming clients")
	crlf          = []byte("\r\n")
)

// Server serves the landing page and the multipart JPEG stream of the
// frames published to its sink.
type Server struct {
	sink         *FrameSink
	page         func() ([]byte, error)
	logger       *log.Logger
	maxClients   int
	writeTimeout time.Duration

	clients   atomic.Int64
	accessLog *io.PipeWriter
}

type ServerOption func(*Server)

// WithMaxClients limits the number of concurrent streaming clients, 0 means
// no limit.
func WithMaxClients(n int) ServerOption {
	return func(s *Server) {
		s.maxClients = n
	}
}

// WithWriteTimeout bounds the time spent writing a single frame to a client.
func WithWriteTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		s.writeTimeout = d
	}
}

func WithLogger(l *log.Logger) ServerOption {
	return func(s *Server) {
		s.logger = l
	}
}

func NewServer(sink *FrameSink, page func() ([]byte, error), opts ...ServerOption) *Server {
	s := &Server{
		sink:   sink,
		page:   page,
		logger: log.StandardLogger(),
	}
	for _, o := range opts {
		o(s)
	}
	s.accessLog = s.logger.WriterLevel(log.DebugLevel)
	return s
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", s.serveRedirect).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc(indexPath, s.serveIndex).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc(streamPath, s.serveStream).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(http.NotFound)

	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(s.logger),
		handlers.PrintRecoveryStack(true),
	)
	return handlers.CombinedLoggingHandler(s.accessLog, recovery(r))
}

// Clients is the number of currently connected streaming clients.
func (s *Server) Clients() int {
	return int(s.clients.Load())
}

// Close releases the access log writer.
func (s *Server) Close() error {
	return s.accessLog.Close()
}

func (s *Server) serveRedirect(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Location", indexPath)
	w.WriteHeader(http.StatusMovedPermanently)
}

func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	body, err := s.page()
	if err != nil {
		s.logger.WithError(err).Error("Failed to render index page")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(body); err != nil {
		s.logger.WithError(err).WithField("client", r.RemoteAddr).Warn("Failed to write index page")
	}
}

func (s *Server) serveStream(w http.ResponseWriter, r *http.Request) {
	n := s.clients.Add(1)
	defer s.clients.Add(-1)

	if s.maxClients > 0 && n > int64(s.maxClients) {
		s.logger.WithField("client", r.RemoteAddr).Warn(errServerFull)
		http.Error(w, errServerFull.Error(), http.StatusServiceUnavailable)
		return
	}

	logger := s.logger.WithFields(log.Fields{
		"client": r.RemoteAddr,
		"id":     uuid.Must(uuid.NewV4()).String(),
	})
	logger.WithField("clients", n).Info("Added streaming client")

	h := w.Header()
	h.Set("Age", "0")
	h.Set("Cache-Control", "no-cache, private")
	h.Set("Pragma", "no-cache")
	h.Set("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	w.WriteHeader(http.StatusOK)

	err := s.stream(r.Context(), w, http.NewResponseController(w))
	if errors.Is(err, ErrSinkClosed) {
		logger.Info("Stream ended")
		return
	}
	logger.WithError(err).Warn("Removed streaming client")
}

// stream writes every frame published after it was called until a write
// fails or ctx is done.
func (s *Server) stream(ctx context.Context, w io.Writer, rc *http.ResponseController) error {
	_, gen := s.sink.Current()
	if err := flush(rc); err != nil {
		return err
	}

	for {
		frame, next, err := s.sink.Next(ctx, gen)
		if err != nil {
			return err
		}
		gen = next

		if s.writeTimeout > 0 {
			err := rc.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err != nil && !errors.Is(err, http.ErrNotSupported) {
				return err
			}
		}

		if err := writePart(w, frame); err != nil {
			return err
		}
		if err := flush(rc); err != nil {
			return err
		}
	}
}

func flush(rc *http.ResponseController) error {
	if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

// writePart writes one frame as a multipart section.
func writePart(w io.Writer, frame []byte) error {
	_, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", boundary, len(frame))
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	_, err = w.Write(crlf)
	return err
}
