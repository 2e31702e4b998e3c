// Package server is the operator HTTP API: game state, the start signal,
// manual device commands and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/wfunc/guessroulette/broadcast"
	"github.com/wfunc/guessroulette/engine"
	"github.com/wfunc/guessroulette/game"
	"github.com/wfunc/guessroulette/logger"
	"github.com/wfunc/guessroulette/monitor"
	"github.com/wfunc/guessroulette/network"
	"github.com/wfunc/guessroulette/persistence"
	"github.com/wfunc/guessroulette/session"
)

// Controller is the game side of the API.
type Controller interface {
	View() game.View
	Start()
	Result() (engine.Result, bool)
}

type Deps struct {
	Controller  Controller
	Sender      broadcast.Sender
	Broadcaster broadcast.Broadcaster
	Monitor     *monitor.Monitor
	// Devices serves WebSocket devices when the stream binding is active.
	Devices http.Handler
	Send    session.SendOptions
}

type GameServer struct {
	addr string
	deps Deps
	http *http.Server
}

func NewGameServer(addr string, deps Deps) *GameServer {
	s := &GameServer{addr: addr, deps: deps}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *GameServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Healthz)
	r.Get("/state", s.handleState)
	r.Get("/result", s.handleResult)
	r.Post("/start", s.handleStart)
	r.Post("/devices/{id}/commands", s.handleDeviceCommand)
	r.Post("/broadcast", s.handleBroadcast)
	if s.deps.Monitor != nil {
		r.Handle("/metrics", s.deps.Monitor.Handler())
	}
	if s.deps.Devices != nil {
		r.Handle("/devices/ws", s.deps.Devices)
	}

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(r)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *GameServer) Run(ctx context.Context) error {
	errs := make(chan error, 1)
	go func() {
		logger.Log.Infof("operator api listening on %s", s.addr)
		errs <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown operator api: %w", err)
	}
	return nil
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *GameServer) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Controller.View())
}

func (s *GameServer) handleResult(w http.ResponseWriter, r *http.Request) {
	res, ok := s.deps.Controller.Result()
	if !ok {
		writeError(w, http.StatusNotFound, "game not finished")
		return
	}
	writeJSON(w, http.StatusOK, persistence.ToResult(res))
}

func (s *GameServer) handleStart(w http.ResponseWriter, r *http.Request) {
	s.deps.Controller.Start()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "start requested"})
}

func (s *GameServer) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 0 {
		writeError(w, http.StatusBadRequest, "invalid device id")
		return
	}
	cmd, err := decodeCommand(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = s.deps.Sender.Send(r.Context(), network.DeviceID(id), cmd, s.deps.Send)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "delivered"})
	case errors.Is(err, session.ErrUnknownDevice):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

type broadcastResponse struct {
	Delivered []network.DeviceID `json:"delivered"`
	Failed    map[string]string  `json:"failed,omitempty"`
}

func (s *GameServer) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	cmd, err := decodeCommand(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result := s.deps.Broadcaster.BroadcastToAll(r.Context(), cmd, s.deps.Send)
	resp := broadcastResponse{Delivered: []network.DeviceID{}}
	for _, id := range sortedIDs(result) {
		if err := result[id]; err != nil {
			if resp.Failed == nil {
				resp.Failed = make(map[string]string)
			}
			resp.Failed[strconv.Itoa(int(id))] = err.Error()
			continue
		}
		resp.Delivered = append(resp.Delivered, id)
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Debugf("writing response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
