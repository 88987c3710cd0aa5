/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the inspection and mutation HTTP surface over the
// patchbay engine: port and connection listing, run-list and latency
// introspection, and connect/disconnect mutations. Every mutation is
// submitted through session.Manager's single mutator queue, never touches
// the registry or connection set directly.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/patchbay/internal/patchbay"
	"github.com/friendsincode/patchbay/internal/patchbay/conn"
	"github.com/friendsincode/patchbay/internal/patchbay/engine"
	"github.com/friendsincode/patchbay/internal/patchbay/port"
)

// API exposes HTTP handlers over an Engine.
type API struct {
	eng    *engine.Engine
	logger zerolog.Logger
}

// New creates the API handler wrapper.
func New(eng *engine.Engine, logger zerolog.Logger) *API {
	return &API{eng: eng, logger: logger.With().Str("component", "api").Logger()}
}

// RegisterRoutes mounts every inspection/mutation endpoint on r.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Get("/ports", a.listPorts)
	r.Get("/connections", a.listConnections)
	r.Get("/runlist", a.getRunList)
	r.Get("/latency/{port}", a.getLatency)
	r.Post("/connect", a.postConnect)
	r.Post("/disconnect", a.postDisconnect)
}

type portView struct {
	Name        string `json:"name"`
	Client      string `json:"client"`
	Type        string `json:"type"`
	Input       bool   `json:"input"`
	Output      bool   `json:"output"`
	Physical    bool   `json:"physical"`
	Terminal    bool   `json:"terminal"`
	CanMonitor  bool   `json:"can_monitor"`
	Latency     int    `json:"latency"`
	LockedBy    string `json:"locked_by,omitempty"`
}

func toPortView(p port.Port) portView {
	return portView{
		Name:       p.FQName(),
		Client:     p.Client,
		Type:       p.Type,
		Input:      p.Flags.Has(patchbay.IsInput),
		Output:     p.Flags.Has(patchbay.IsOutput),
		Physical:   p.Flags.Has(patchbay.IsPhysical),
		Terminal:   p.Flags.Has(patchbay.IsTerminal),
		CanMonitor: p.Flags.Has(patchbay.CanMonitor),
		Latency:    p.Latency,
		LockedBy:   p.LockedBy,
	}
}

// listPorts returns every registered port, matching jack_get_ports with no
// filter applied.
func (a *API) listPorts(w http.ResponseWriter, r *http.Request) {
	ports := a.eng.Manager.Enumerate(nil, nil, 0)
	views := make([]portView, 0, len(ports))
	for _, p := range ports {
		views = append(views, toPortView(p))
	}
	writeJSON(w, http.StatusOK, views)
}

type connectionView struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

func (a *API) resolveConnection(c conn.Connection) (connectionView, bool) {
	src, err := a.eng.Registry.Get(c.Src)
	if err != nil {
		return connectionView{}, false
	}
	dst, err := a.eng.Registry.Get(c.Dst)
	if err != nil {
		return connectionView{}, false
	}
	return connectionView{Source: src.FQName(), Destination: dst.FQName()}, true
}

// listConnections returns every live connection as a source/destination
// fully qualified name pair.
func (a *API) listConnections(w http.ResponseWriter, r *http.Request) {
	conns := a.eng.Conns.Snapshot()
	views := make([]connectionView, 0, len(conns))
	for _, c := range conns {
		if v, ok := a.resolveConnection(c); ok {
			views = append(views, v)
		}
	}
	writeJSON(w, http.StatusOK, views)
}

type runListEntryView struct {
	Client  string   `json:"client"`
	Inputs  []string `json:"inputs"`
	Outputs []string `json:"outputs"`
}

// getRunList returns the most recently compiled execution order, the same
// sequence the realtime driver walks each cycle.
func (a *API) getRunList(w http.ResponseWriter, r *http.Request) {
	snap := a.eng.Compiler.Load()
	if snap == nil {
		writeJSON(w, http.StatusOK, []runListEntryView{})
		return
	}
	views := make([]runListEntryView, 0, len(snap.RunList))
	for _, plan := range snap.RunList {
		views = append(views, runListEntryView{
			Client:  plan.Name,
			Inputs:  a.namesOf(plan.Inputs),
			Outputs: a.namesOf(plan.Outputs),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (a *API) namesOf(ids []patchbay.PortID) []string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if p, err := a.eng.Registry.Get(id); err == nil {
			names = append(names, p.FQName())
		}
	}
	return names
}

// getLatency returns the compiled end-to-end latency, in frames, for one
// port named by its fully qualified name ("client:short-name") in the
// {port} path segment.
func (a *API) getLatency(w http.ResponseWriter, r *http.Request) {
	fqn := chi.URLParam(r, "port")
	p, err := a.eng.Registry.Lookup(fqn)
	if err != nil {
		writeError(w, http.StatusNotFound, "port_not_found")
		return
	}
	snap := a.eng.Compiler.Load()
	if snap == nil {
		writeJSON(w, http.StatusOK, map[string]int{"latency": 0})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"latency": snap.Latency[p.ID]})
}

type connectRequest struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

// postConnect connects two ports by fully qualified name, submitted
// through the session manager's mutator queue.
func (a *API) postConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	if err := a.eng.Manager.ConnectByName(req.Source, req.Destination, "api"); err != nil {
		a.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "connected"})
}

// postDisconnect removes a connection by fully qualified name.
func (a *API) postDisconnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	if err := a.eng.Manager.DisconnectByName(req.Source, req.Destination); err != nil {
		a.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

func (a *API) writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case patchbay.IsKind(err, patchbay.KindNotFound):
		status = http.StatusNotFound
	case patchbay.IsKind(err, patchbay.KindDuplicate):
		status = http.StatusConflict
	case patchbay.IsKind(err, patchbay.KindTypeMismatch),
		patchbay.IsKind(err, patchbay.KindWrongDirection),
		patchbay.IsKind(err, patchbay.KindWouldCycle),
		patchbay.IsKind(err, patchbay.KindInvalidState):
		status = http.StatusUnprocessableEntity
	case patchbay.IsKind(err, patchbay.KindLocked):
		status = http.StatusForbidden
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
