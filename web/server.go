// Package web serves the UPnP HTTP surface: the device description, the
// ContentDirectory SCPD and control endpoint, and ranged media streaming.
package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/vyrti/vuio/platform"
	"github.com/vyrti/vuio/state"
)

// streamBufferSize is the read buffer for media responses. Bodies are
// copied through it, never buffered whole.
const streamBufferSize = 64 * 1024

// Server is the HTTP half of the media server.
type Server struct {
	state *state.AppState
	log   *logrus.Entry
	http  *http.Server
}

// New builds the server around the shared state.
func New(st *state.AppState) *Server {
	s := &Server{
		state: st,
		log:   logrus.WithField("component", "web"),
	}
	s.http = &http.Server{Handler: s.Routes()}
	return s
}

// Routes assembles the router. Split out for tests.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", s.handleRoot)
	r.Get("/description.xml", s.handleDescription)
	r.Get("/ContentDirectory.xml", s.handleSCPD)
	r.Get("/control/ContentDirectory", s.handleControl)
	r.Post("/control/ContentDirectory", s.handleControl)
	r.Get("/media/{id}", s.handleMedia)
	return r
}

// Serve runs the listener until ctx is canceled. Media streams have no
// request deadline; a movie takes as long as it takes.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = s.http.Shutdown(context.Background())
	}()
	s.log.WithField("addr", ln.Addr().String()).Info("HTTP server listening")
	err := s.http.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "VuIO Media Server")
}

func (s *Server) handleDescription(w http.ResponseWriter, r *http.Request) {
	cfg := s.state.Config()
	writeXML(w, deviceDescription(cfg.Server.Name, cfg.Server.UUID))
}

func (s *Server) handleSCPD(w http.ResponseWriter, r *http.Request) {
	writeXML(w, contentDirectorySCPD)
}

// handleControl is the SOAP endpoint. Only Browse is honored; everything
// else gets 501 so clients fall back gracefully.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !strings.Contains(string(body), "<u:Browse") {
		http.Error(w, "not implemented", http.StatusNotImplemented)
		return
	}

	// One consistent snapshot: items and counter from the same instant.
	files := s.state.MediaSnapshot()
	updateID := s.state.UpdateID()
	cfg := s.state.Config()

	s.log.WithFields(logrus.Fields{"items": len(files), "update_id": updateID}).Debug("answering Browse")
	w.Header().Set("Ext", "")
	writeXML(w, browseResponse(files, s.hostIP(cfg.Server.Interface), cfg.Server.Port, updateID))
}

// hostIP is the address baked into res URLs. The configured bind address
// wins when it is a literal routable IP; the wildcard binds fall back to
// the primary interface.
func (s *Server) hostIP(bindAddr string) string {
	if ip := net.ParseIP(bindAddr); ip != nil && !ip.IsUnspecified() {
		return bindAddr
	}
	if s.state.Platform != nil {
		if primary, ok := platform.ChoosePrimaryInterface(s.state.Platform.Interfaces); ok {
			return primary.IPAddress.String()
		}
	}
	return "127.0.0.1"
}

// handleMedia streams the bytes of one indexed item, honoring a single
// bytes range.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	item, ok := s.state.MediaByID(id)
	if !ok {
		s.log.WithField("id", id).Debug("media id not in cache")
		http.NotFound(w, r)
		return
	}

	f, err := os.Open(item.Path)
	if err != nil {
		if os.IsNotExist(err) {
			s.log.WithField("path", item.Path).Debug("indexed file missing on disk")
			http.NotFound(w, r)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	size := item.Size
	if fi, err := f.Stat(); err == nil {
		// The index can lag a growing file; serve what is there now.
		size = fi.Size()
	}

	w.Header().Set("Content-Type", item.MimeType)
	w.Header().Set("Accept-Ranges", "bytes")

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		s.stream(w, f)
		return
	}

	rng, err := parseRange(rangeHeader, size)
	if err != nil {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "requested range not satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return
	}
	if _, err := f.Seek(rng.start, io.SeekStart); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rng.start, rng.end, size))
	w.Header().Set("Content-Length", strconv.FormatInt(rng.length(), 10))
	w.WriteHeader(http.StatusPartialContent)
	s.stream(w, io.LimitReader(f, rng.length()))
}

func (s *Server) stream(w io.Writer, r io.Reader) {
	buf := make([]byte, streamBufferSize)
	if _, err := io.CopyBuffer(w, r, buf); err != nil {
		// Clients abandon streams constantly when seeking; not an error
		// worth more than debug.
		s.log.WithError(err).Debug("media stream interrupted")
	}
}

func writeXML(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", `text/xml; charset="utf-8"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	if _, err := w.Write([]byte(body)); err != nil {
		logrus.WithError(err).Debug("failed to write XML response")
	}
}
