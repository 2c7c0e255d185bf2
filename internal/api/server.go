// Package api is the presentation boundary of the console: it serves the
// latest telemetry snapshot, streams snapshots over SSE and websocket, and
// accepts command intents that it forwards to the link manager. All rendering
// happens on the other side of this boundary.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/omnitiles/tilelink/internal/link"
	"github.com/omnitiles/tilelink/internal/position"
	"github.com/omnitiles/tilelink/internal/protocol"
	"github.com/omnitiles/tilelink/internal/telemetry"
	"github.com/omnitiles/tilelink/internal/version"
)

// commandSpec maps an API command name onto its wire ID and whether it
// carries a payload byte.
type commandSpec struct {
	id         byte
	hasPayload bool
}

var commandSpecs = map[string]commandSpec{
	"ping":            {protocol.MsgPing, false},
	"m1_extend":       {protocol.MsgM1Extend, true},
	"m1_retract":      {protocol.MsgM1Retract, true},
	"m1_brake":        {protocol.MsgM1Brake, false},
	"m1_set_position": {protocol.MsgM1SetPosition, true},
	"m2_extend":       {protocol.MsgM2Extend, true},
	"m2_retract":      {protocol.MsgM2Retract, true},
	"m2_brake":        {protocol.MsgM2Brake, false},
	"m2_set_position": {protocol.MsgM2SetPosition, true},
}

// Server wires the HTTP surface to the link manager and telemetry pipeline.
type Server struct {
	links    *link.Manager
	pipeline *telemetry.Pipeline
	m1, m2   position.Actuator
	upgrader websocket.Upgrader
}

// NewServer creates a Server. The websocket upgrader accepts any origin; the
// console is a bench tool on a trusted network.
func NewServer(links *link.Manager, pipeline *telemetry.Pipeline, m1, m2 position.Actuator) *Server {
	return &Server{
		links:    links,
		pipeline: pipeline,
		m1:       m1,
		m2:       m2,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeMux returns the route table for the server.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/telemetry", s.latestHandler)
	mux.HandleFunc("/api/telemetry/stream", s.streamHandler)
	mux.HandleFunc("/api/ws", s.websocketHandler)
	mux.HandleFunc("/api/command", s.commandHandler)
	mux.HandleFunc("/api/link", s.linkHandler)
	mux.HandleFunc("/api/actuators", s.actuatorsHandler)
	mux.HandleFunc("/api/version", s.versionHandler)
	return mux
}

func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}

func (s *Server) latestHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snap, ok := s.pipeline.Latest()
	if !ok {
		http.Error(w, "no telemetry received yet", http.StatusNotFound)
		return
	}
	writeJSON(w, snap)
}

func (s *Server) linkHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]string{"state": s.links.State().String()})
}

// actuatorInfo describes one actuator's geometry so the presentation layer
// can build position controls with valid target bounds.
type actuatorInfo struct {
	StrokeMM    float64 `json:"stroke_mm"`
	MinTargetMM float64 `json:"min_target_mm"`
	MaxTargetMM float64 `json:"max_target_mm"`
}

func (s *Server) actuatorsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	info := func(a position.Actuator) actuatorInfo {
		return actuatorInfo{
			StrokeMM:    a.StrokeMM,
			MinTargetMM: a.MinTargetMM(),
			MaxTargetMM: a.MaxTargetMM(),
		}
	}
	writeJSON(w, map[string]actuatorInfo{"m1": info(s.m1), "m2": info(s.m2)})
}

// commandRequest is a command intent from the presentation layer.
type commandRequest struct {
	Command string `json:"command"`
	Payload *int   `json:"payload,omitempty"`
}

// commandResponse reports how the packet left the console. Sent is false on
// the mock route: the packet was accepted but there was nothing to carry it.
type commandResponse struct {
	Command string `json:"command"`
	Route   string `json:"route"`
	Sent    bool   `json:"sent"`
}

func (s *Server) commandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	spec, ok := commandSpecs[req.Command]
	if !ok {
		http.Error(w, fmt.Sprintf("unknown command %q", req.Command), http.StatusBadRequest)
		return
	}

	var cmd protocol.Command
	if spec.hasPayload {
		if req.Payload == nil {
			http.Error(w, fmt.Sprintf("command %q requires a payload", req.Command), http.StatusBadRequest)
			return
		}
		cmd = protocol.NewCommandWithPayload(spec.id, *req.Payload)
	} else {
		cmd = protocol.NewCommand(spec.id)
	}

	route, err := s.links.Send(cmd)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to send command: %v", err), http.StatusBadGateway)
		return
	}
	writeJSON(w, commandResponse{
		Command: req.Command,
		Route:   route.String(),
		Sent:    route != link.RouteMock,
	})
}

// streamHandler issues Server-Sent Events for every published snapshot.
func (s *Server) streamHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	id, ch := s.pipeline.Subscribe()
	defer s.pipeline.Unsubscribe(id)

	// Initial comment to establish the stream.
	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(snap)
			if err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// websocketHandler pushes snapshots as JSON messages over a websocket.
func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	id, ch := s.pipeline.Subscribe()
	defer s.pipeline.Unsubscribe(id)

	// Seed the client with the current state if there is any.
	if snap, ok := s.pipeline.Latest(); ok {
		if err := conn.WriteJSON(snap); err != nil {
			return
		}
	}

	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(snap); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}
