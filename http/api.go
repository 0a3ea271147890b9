package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/mengelbart/camrelay/internal/mounts"
	"github.com/mengelbart/camrelay/rtp"
)

type Registry interface {
	Mounts() []mounts.Mount
	Mount(name string) (mounts.Mount, bool)
	Setup(name string, client mounts.Client) (mounts.Setup, error)
	Teardown(clientID string) error
	Sessions() []mounts.SessionInfo
}

// ClientFactory creates the transport that sends a mount's frames to
// host:port and describes the resulting stream.
type ClientFactory func(m mounts.Mount, host string, port int) (mounts.Client, rtp.Description, error)

type API struct {
	logger    *slog.Logger
	registry  Registry
	newClient ClientFactory
}

func NewAPI(registry Registry, newClient ClientFactory) *API {
	return &API{
		logger:    slog.Default().With("component", "api"),
		registry:  registry,
		newClient: newClient,
	}
}

func (a *API) RegisterRoutes(mux *httprouter.Router) {
	mux.HandlerFunc("GET", "/api/v1/mounts", a.ListMounts)
	mux.HandlerFunc("POST", "/api/v1/mounts/:name/clients", a.CreateClient)
	mux.HandlerFunc("DELETE", "/api/v1/clients/:id", a.DeleteClient)
	mux.HandlerFunc("GET", "/api/v1/sessions", a.ListSessions)
}

type mountResponse struct {
	Name       string `json:"name"`
	Shared     bool   `json:"shared"`
	Format     string `json:"format"`
	FrameRate  string `json:"frameRate"`
	Capacity   int    `json:"capacity"`
	DropPolicy string `json:"dropPolicy"`
}

type createClientRequest struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type createClientResponse struct {
	SessionID string `json:"sessionId"`
	ClientID  string `json:"clientId"`
	SDP       string `json:"sdp"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *API) ListMounts(w http.ResponseWriter, r *http.Request) {
	res := []mountResponse{}
	for _, m := range a.registry.Mounts() {
		res = append(res, mountResponse{
			Name:       m.Name,
			Shared:     m.Shared,
			Format:     string(m.Format),
			FrameRate:  m.Config.FrameRate.String(),
			Capacity:   m.Config.Capacity,
			DropPolicy: m.Config.DropPolicy.String(),
		})
	}
	a.writeJSON(w, http.StatusOK, res)
}

func (a *API) CreateClient(w http.ResponseWriter, r *http.Request) {
	name := httprouter.ParamsFromContext(r.Context()).ByName("name")
	m, ok := a.registry.Mount(name)
	if !ok {
		a.writeError(w, http.StatusNotFound, mounts.ErrUnknownMount)
		return
	}

	var req createClientRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	if net.ParseIP(req.Host) == nil {
		a.writeError(w, http.StatusBadRequest, errors.New("host must be an IP address"))
		return
	}
	if req.Port <= 0 || req.Port > rtp.MaxRTPPort {
		a.writeError(w, http.StatusBadRequest, errors.New("port out of range"))
		return
	}

	client, desc, err := a.newClient(m, req.Host, req.Port)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	sdp, err := desc.Marshal()
	if err != nil {
		a.closeClient(client)
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	setup, err := a.registry.Setup(name, client)
	if err != nil {
		a.closeClient(client)
		status := http.StatusServiceUnavailable
		if errors.Is(err, mounts.ErrUnknownMount) {
			status = http.StatusNotFound
		}
		a.writeError(w, status, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, createClientResponse{
		SessionID: setup.SessionID,
		ClientID:  setup.ClientID,
		SDP:       string(sdp),
	})
}

func (a *API) DeleteClient(w http.ResponseWriter, r *http.Request) {
	id := httprouter.ParamsFromContext(r.Context()).ByName("id")
	if err := a.registry.Teardown(id); err != nil {
		if errors.Is(err, mounts.ErrUnknownClient) {
			a.writeError(w, http.StatusNotFound, err)
			return
		}
		a.logger.Warn("teardown failed", "client", id, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) ListSessions(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.registry.Sessions())
}

func (a *API) closeClient(c mounts.Client) {
	if err := c.Close(); err != nil {
		a.logger.Warn("failed to close client", "error", err)
	}
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("failed to write response", "error", err)
	}
}

func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	a.writeJSON(w, status, errorResponse{Error: err.Error()})
}
