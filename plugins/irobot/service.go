package irobot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/joshp123/gohome-irobot/internal/host"
	"go.uber.org/zap"
)

const commandTimeout = 10 * time.Second

type stateRequest struct {
	State string `json:"state"`
}

type commandRequest struct {
	Command string `json:"command"`
}

type conditionResponse struct {
	ID        string `json:"id"`
	Condition string `json:"condition"`
	Value     bool   `json:"value"`
}

type pairResponse struct {
	ID     string `json:"id"`
	IP     string `json:"ip"`
	Paired bool   `json:"paired"`
}

// RegisterHTTP mounts the robot and device routes.
func (p *Plugin) RegisterHTTP(mux *http.ServeMux) {
	mux.HandleFunc("GET /irobot/robots", p.handleRobots)
	mux.HandleFunc("POST /irobot/robots/{id}/pair", p.handlePair)
	mux.HandleFunc("GET /irobot/devices", p.handleDevices)
	mux.HandleFunc("GET /irobot/devices/{id}", p.handleDevice)
	mux.HandleFunc("PUT /irobot/devices/{id}/state", p.handleState)
	mux.HandleFunc("POST /irobot/devices/{id}/command", p.handleCommand)
	mux.HandleFunc("GET /irobot/devices/{id}/conditions/{name}", p.handleCondition)
}

func (p *Plugin) handleRobots(w http.ResponseWriter, r *http.Request) {
	kind, err := ParseKind(r.URL.Query().Get("kind"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	robots := p.Robots(kind)
	if robots == nil {
		robots = []Robot{}
	}
	writeJSON(w, http.StatusOK, robots)
}

func (p *Plugin) handlePair(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	record, err := p.PairDiscovered(r.Context(), id)
	if err != nil {
		p.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pairResponse{ID: id, IP: record.IP, Paired: record.HasAuth()})
}

func (p *Plugin) handleDevices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, p.Statuses())
}

func (p *Plugin) handleDevice(w http.ResponseWriter, r *http.Request) {
	adapter, ok := p.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, adapter.Status())
}

func (p *Plugin) handleState(w http.ResponseWriter, r *http.Request) {
	adapter, ok := p.lookup(w, r)
	if !ok {
		return
	}
	var req stateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("decode request: %v", err), http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()
	if err := adapter.SetTargetState(ctx, State(req.State)); err != nil {
		p.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, adapter.Status())
}

func (p *Plugin) handleCommand(w http.ResponseWriter, r *http.Request) {
	adapter, ok := p.lookup(w, r)
	if !ok {
		return
	}
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("decode request: %v", err), http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()
	if err := adapter.Command(ctx, req.Command); err != nil {
		p.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, adapter.Status())
}

func (p *Plugin) handleCondition(w http.ResponseWriter, r *http.Request) {
	adapter, ok := p.lookup(w, r)
	if !ok {
		return
	}
	name := r.PathValue("name")
	if !slices.Contains(AuxiliaryCapabilities, name) {
		p.writeError(w, fmt.Errorf("%s: %w", name, host.ErrUnknownCapability))
		return
	}
	value, err := adapter.Condition(name)
	if err != nil {
		p.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conditionResponse{ID: adapter.ID(), Condition: name, Value: value})
}

func (p *Plugin) lookup(w http.ResponseWriter, r *http.Request) (*Adapter, bool) {
	id := r.PathValue("id")
	adapter, ok := p.Adapter(id)
	if !ok {
		p.writeError(w, fmt.Errorf("%s: %w", id, host.ErrUnknownDevice))
		return nil, false
	}
	return adapter, true
}

func (p *Plugin) writeError(w http.ResponseWriter, err error) {
	status := httpStatus(err)
	if status >= http.StatusInternalServerError {
		p.log.Warn("request failed", zap.Error(err))
	}
	http.Error(w, err.Error(), status)
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, ErrUnsupportedState), errors.Is(err, ErrUnmappedState),
		errors.Is(err, host.ErrUnknownCapability),
		errors.Is(err, ErrInvalidHost), errors.Is(err, ErrInvalidUsername):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotConnected), errors.Is(err, host.ErrValueUnknown):
		return http.StatusConflict
	case errors.Is(err, ErrRemoved), errors.Is(err, host.ErrUnknownDevice):
		return http.StatusNotFound
	case errors.Is(err, ErrPairWindowExpired), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
