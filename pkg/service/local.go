package service

import (
	"context"
	"sync"

	"github.com/core-tools/hsu-launcher/pkg/errors"
)

// LocalTransport serves a unit without a broker. Requests are injected
// in-process with Request, which is what the stand-alone and test setups use.
type LocalTransport struct {
	mu       sync.RWMutex
	unit     *Unit
	handler  Handler
	ctx      context.Context
	inflight sync.WaitGroup
}

func NewLocalTransport() *LocalTransport {
	return &LocalTransport{}
}

func (t *LocalTransport) Bind(ctx context.Context, unit Unit, handler Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.unit != nil {
		return errors.NewValidationError("transport already bound", nil).WithContext("unit", unit.String())
	}
	t.unit = &unit
	t.handler = handler
	t.ctx = context.WithoutCancel(ctx)
	return nil
}

// Request delivers data to the bound handler if subject is the unit's topic
// or host address.
func (t *LocalTransport) Request(subject string, data []byte) ([]byte, error) {
	t.mu.RLock()
	if t.unit == nil {
		t.mu.RUnlock()
		return nil, errors.NewNotFoundError("no unit bound", nil).WithContext("subject", subject)
	}
	if subject != t.unit.Topic && subject != t.unit.HostAddress() {
		t.mu.RUnlock()
		return nil, errors.NewNotFoundError("no listener for subject", nil).WithContext("subject", subject)
	}
	handler, ctx := t.handler, t.ctx
	t.inflight.Add(1)
	t.mu.RUnlock()
	defer t.inflight.Done()

	return handler.Handle(ctx, Request{Subject: subject, Data: data})
}

func (t *LocalTransport) Close() error {
	t.mu.Lock()
	t.unit = nil
	t.handler = nil
	t.mu.Unlock()

	t.inflight.Wait()
	return nil
}
