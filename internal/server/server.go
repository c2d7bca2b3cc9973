// Package server exposes the daemon's HTTP control surface: a gRPC health
// handler and a JSON control API for inspecting adapters and their
// connected clients.
//
// GIP has no .proto-generated service of its own (spec.md describes a wire
// protocol, not an RPC schema), so unlike a fully generated ConnectRPC
// service this package serves plain net/http handlers returning JSON.
// grpchealth is still wired in so the daemon answers the standard
// grpc.health.v1 check the way the rest of the fleet expects.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"connectrpc.com/grpchealth"

	"github.com/gip-host/gogip/internal/gip"
)

// ErrAdapterNotFound indicates the requested adapter ID has not been registered.
var ErrAdapterNotFound = errors.New("adapter not found")

// HealthServiceName is reported to grpchealth for the control API.
const HealthServiceName = "gip.control.v1.Control"

// Server is the HTTP control surface: read-only queries about the
// adapters and clients registered with it, plus gRPC health checks for
// the process as a whole.
type Server struct {
	logger *slog.Logger

	mu       sync.RWMutex
	adapters map[int]*gip.Adapter
}

// New constructs a Server with no adapters registered. Adapters are added
// as they come up via RegisterAdapter, so the control API reflects the
// daemon's actual transport set rather than a fixed configuration.
func New(logger *slog.Logger) *Server {
	return &Server{
		logger:   logger.With(slog.String("component", "server")),
		adapters: make(map[int]*gip.Adapter),
	}
}

// RegisterAdapter makes an adapter visible to the control API.
func (s *Server) RegisterAdapter(a *gip.Adapter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adapters[a.ID] = a
}

// UnregisterAdapter removes an adapter from the control API, e.g. when its
// transport is unplugged.
func (s *Server) UnregisterAdapter(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.adapters, id)
}

func (s *Server) adapterIDs() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int, 0, len(s.adapters))
	for id := range s.adapters {
		ids = append(ids, id)
	}
	return ids
}

func (s *Server) adapter(id int) (*gip.Adapter, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.adapters[id]
	return a, ok
}

// Handler returns the mux serving the control API and health handler. opts
// wraps every request in the given middleware, outermost first.
func (s *Server) Handler(opts ...func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/adapters", s.handleListAdapters)
	mux.HandleFunc("GET /v1/adapters/{id}/clients", s.handleListClients)
	mux.HandleFunc("GET /v1/adapters/{id}/clients/{client_id}", s.handleGetClient)

	checker := grpchealth.NewStaticChecker(
		grpchealth.HealthV1ServiceName,
		HealthServiceName,
	)
	mux.Handle(grpchealth.NewHandler(checker))

	var h http.Handler = mux
	for i := len(opts) - 1; i >= 0; i-- {
		h = opts[i](h)
	}
	return h
}

// -------------------------------------------------------------------------
// JSON response types
// -------------------------------------------------------------------------

type adapterView struct {
	ID int `json:"id"`
}

type clientView struct {
	ID       uint8        `json:"id"`
	State    string       `json:"state"`
	Identity *identityDTO `json:"identity,omitempty"`
}

type identityDTO struct {
	Vendor  uint16 `json:"vendor"`
	Product uint16 `json:"product"`
	FwVer   uint32 `json:"fw_version"`
	HwVer   uint32 `json:"hw_version"`
	MAC     string `json:"mac"`
}

func toClientView(c *gip.Client) clientView {
	v := clientView{ID: c.ID, State: c.State().String()}
	if v.State == gip.StateIdentified.String() || v.State == gip.StateAnnounced.String() {
		id := c.Identity()
		v.Identity = &identityDTO{
			Vendor:  id.Vendor,
			Product: id.Product,
			FwVer:   id.FwVer,
			HwVer:   id.HwVer,
			MAC:     macString(id.MAC),
		}
	}
	return v
}

func macString(mac [6]byte) string {
	const hex = "0123456789abcdef"
	buf := make([]byte, 0, 17)
	for i, b := range mac {
		if i > 0 {
			buf = append(buf, ':')
		}
		buf = append(buf, hex[b>>4], hex[b&0x0f])
	}
	return string(buf)
}

// -------------------------------------------------------------------------
// Handlers
// -------------------------------------------------------------------------

func (s *Server) handleListAdapters(w http.ResponseWriter, r *http.Request) {
	ids := s.adapterIDs()
	views := make([]adapterView, 0, len(ids))
	for _, id := range ids {
		views = append(views, adapterView{ID: id})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleListClients(w http.ResponseWriter, r *http.Request) {
	a, ok := s.lookupAdapter(w, r)
	if !ok {
		return
	}

	clients := a.Bus.Clients()
	views := make([]clientView, 0, len(clients))
	for _, c := range clients {
		views = append(views, toClientView(c))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetClient(w http.ResponseWriter, r *http.Request) {
	a, ok := s.lookupAdapter(w, r)
	if !ok {
		return
	}

	clientID, ok := parseClientID(r.PathValue("client_id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid client id")
		return
	}

	c, err := a.Bus.Lookup(clientID)
	if err != nil {
		writeError(w, http.StatusNotFound, "client not found")
		return
	}

	writeJSON(w, http.StatusOK, toClientView(c))
}

func (s *Server) lookupAdapter(w http.ResponseWriter, r *http.Request) (*gip.Adapter, bool) {
	id, ok := parseAdapterID(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid adapter id")
		return nil, false
	}

	a, found := s.adapter(id)
	if !found {
		writeError(w, http.StatusNotFound, ErrAdapterNotFound.Error())
		return nil, false
	}
	return a, true
}

func parseAdapterID(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

func parseClientID(s string) (uint8, bool) {
	n, ok := parseAdapterID(s)
	if !ok || n > 0xff {
		return 0, false
	}
	return uint8(n), true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
