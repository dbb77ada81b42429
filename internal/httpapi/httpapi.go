// Package httpapi serves the side channel next to the viewer socket: object
// export, texture bakes, static assets, the message schema and the peer
// streaming toggles.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/OCAP2/rigstream/pkg/streaming"
)

var (
	ErrNotFound    = errors.New("object not found")
	ErrUnsupported = errors.New("unsupported format")
)

// Exporter dumps an object to an interchange format such as "dae".
type Exporter interface {
	Export(ctx context.Context, uid uint16, format string, hires bool) ([]byte, error)
}

// Baker renders a texture for an object. lod asks for the object's
// low-resolution proxy when it has one.
type Baker interface {
	Bake(ctx context.Context, uid uint16, lod bool, args []string) ([]byte, error)
}

// ObjectInfo is one index entry.
type ObjectInfo struct {
	UID    uint16
	Name   string
	Kind   string
	Remote bool
}

// Scene is the part of the world the HTTP surface touches. Implementations
// must be safe to call from HTTP goroutines.
type Scene interface {
	Objects() []ObjectInfo
	SetPeerStreaming(uid uint16, peer string, on bool) (addr string, err error)
}

type Config struct {
	Addr       string
	AssetsDir  string
	ViewerHost string
	ViewerPort int
}

type Dependencies struct {
	Scene    Scene
	Exporter Exporter
	Baker    Baker
	Logger   *slog.Logger
}

// Server is the HTTP side channel.
type Server struct {
	cfg    Config
	deps   Dependencies
	mux    *http.ServeMux
	logger *slog.Logger

	schemaOnce sync.Once
	schema     []byte
	schemaErr  error

	srv *http.Server
	ln  net.Listener
}

func New(cfg Config, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Server{cfg: cfg, deps: deps, mux: http.NewServeMux(), logger: deps.Logger}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthcheck", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})
	s.mux.HandleFunc("GET /favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "0")
		w.WriteHeader(http.StatusOK)
	})
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /index", s.handleIndex)
	s.mux.HandleFunc("GET /objects/{file}", s.handleObject)
	s.mux.HandleFunc("GET /bake/{file}", s.handleBake(false))
	s.mux.HandleFunc("GET /bake/LOD/{file}", s.handleBake(true))
	s.mux.HandleFunc("GET /schema/message.json", s.handleSchema)

	for _, dir := range []string{"javascripts", "textures"} {
		prefix := "/" + dir + "/"
		fs := http.FileServer(http.Dir(filepath.Join(s.cfg.AssetsDir, dir)))
		s.mux.Handle("GET "+prefix, http.StripPrefix(prefix, fs))
	}
}

// Handler exposes the routes, mainly for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Start binds cfg.Addr and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("http listen %s: %w", s.cfg.Addr, err)
	}
	s.ln = ln
	s.srv = &http.Server{Handler: s.mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server stopped", "error", err)
		}
	}()
	s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
	return nil
}

// Addr is the bound address once started.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// splitObjectFile parses "<uid>[.<ext>]".
func splitObjectFile(file string) (uint16, string, error) {
	name, ext := file, ""
	if i := strings.LastIndexByte(file, '.'); i >= 0 {
		name, ext = file[:i], file[i+1:]
	}
	uid, err := strconv.ParseUint(name, 10, 16)
	if err != nil || uid == 0 {
		return 0, "", fmt.Errorf("bad object id %q", name)
	}
	return uint16(uid), ext, nil
}

func peerHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) handleObject(w http.ResponseWriter, r *http.Request) {
	uid, ext, err := splitObjectFile(r.PathValue("file"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	q := r.URL.Query()
	if q.Has("streaming-on") || q.Has("streaming-off") {
		on := q.Has("streaming-on")
		addr, err := s.deps.Scene.SetPeerStreaming(uid, peerHost(r), on)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.logger.Info("Peer streaming toggled", "uid", uid, "peer", peerHost(r), "on", on)
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(addr))
		return
	}

	if s.deps.Exporter == nil {
		http.Error(w, "export not available", http.StatusNotImplemented)
		return
	}
	if ext == "" {
		http.Error(w, "missing format", http.StatusBadRequest)
		return
	}
	data, err := s.deps.Exporter.Export(r.Context(), uid, ext, q.Has("hires"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if ext == "dae" {
		w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

func (s *Server) handleBake(lod bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Baker == nil {
			http.Error(w, "bake not available", http.StatusNotImplemented)
			return
		}
		file := r.PathValue("file")
		if path.Ext(file) != ".jpg" {
			http.Error(w, "bake serves .jpg only", http.StatusBadRequest)
			return
		}
		uid, _, err := splitObjectFile(file)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var args []string
		if r.URL.RawQuery != "" {
			args = strings.Split(r.URL.RawQuery, "|")
		}
		data, err := s.deps.Baker.Bake(r.Context(), uid, lod, args)
		if err != nil {
			s.writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Write(data)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrUnsupported):
		http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
	default:
		s.logger.Error("HTTP request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// MessageSchema reflects the viewer message into a JSON schema.
func MessageSchema() *jsonschema.Schema {
	r := jsonschema.Reflector{DoNotReference: true}
	schema := r.Reflect(&streaming.Message{})
	schema.Title = "rigstream viewer message"
	schema.Description = "Scene update pushed to each viewer once per tick."
	return schema
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	s.schemaOnce.Do(func() {
		s.schema, s.schemaErr = json.MarshalIndent(MessageSchema(), "", "  ")
	})
	if s.schemaErr != nil {
		s.writeError(w, s.schemaErr)
		return
	}
	w.Header().Set("Content-Type", "application/schema+json")
	w.Write(s.schema)
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html><head><title>rigstream</title>
<script src="/javascripts/websockify/util.js"></script>
<script src="/javascripts/websockify/websock.js"></script>
<script type="text/javascript">
var HOST = "{{.Host}}";
var HOST_PORT = "{{.Port}}";
</script>
</head><body>
{{range .Groups}}<h3>{{.Kind}}</h3>
<ul>{{range .Objects}}
<li><a href="/objects/{{.UID}}.dae">{{if .Remote}}<i>{{.Name}}</i>{{else}}{{.Name}}{{end}}</a></li>{{end}}
</ul>
{{end}}</body></html>
`))

type indexGroup struct {
	Kind    string
	Objects []ObjectInfo
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var groups []indexGroup
	pos := map[string]int{}
	for _, o := range s.deps.Scene.Objects() {
		i, ok := pos[o.Kind]
		if !ok {
			i = len(groups)
			pos[o.Kind] = i
			groups = append(groups, indexGroup{Kind: o.Kind})
		}
		groups[i].Objects = append(groups[i].Objects, o)
	}

	host := s.cfg.ViewerHost
	if host == "" {
		host, _, _ = net.SplitHostPort(r.Host)
		if host == "" {
			host = r.Host
		}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := indexTemplate.Execute(w, struct {
		Host   string
		Port   int
		Groups []indexGroup
	}{host, s.cfg.ViewerPort, groups})
	if err != nil {
		s.logger.Error("Rendering index failed", "error", err)
	}
}
