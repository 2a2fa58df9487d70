package service

import (
	"context"
	"encoding/json"
	"os"
)

// Request is one message delivered to a worker on its topic
type Request struct {
	Subject string
	Data    []byte
}

// Handler is the business logic a worker runs. It is opaque to the launcher.
type Handler interface {
	Handle(ctx context.Context, req Request) ([]byte, error)
}

type HandlerFunc func(ctx context.Context, req Request) ([]byte, error)

func (f HandlerFunc) Handle(ctx context.Context, req Request) ([]byte, error) {
	return f(ctx, req)
}

// Identity describes the worker answering a request
type Identity struct {
	Unit         Unit     `json:"unit"`
	Instance     string   `json:"instance"`
	Slot         int      `json:"slot"`
	Generation   int      `json:"generation"`
	Pid          int      `json:"pid"`
	Capabilities []string `json:"capabilities"`
}

// StatusHandler answers every request with the worker identity as JSON.
type StatusHandler struct {
	identity Identity
}

func NewStatusHandler(identity Identity) *StatusHandler {
	if identity.Pid == 0 {
		identity.Pid = os.Getpid()
	}
	return &StatusHandler{identity: identity}
}

func (h *StatusHandler) Handle(ctx context.Context, req Request) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return json.Marshal(h.identity)
}

type errorResponse struct {
	Error string `json:"error"`
}

func encodeError(err error) []byte {
	data, _ := json.Marshal(errorResponse{Error: err.Error()})
	return data
}
