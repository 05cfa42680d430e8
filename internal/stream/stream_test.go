package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oplogtail/oplogtail"
)

type mockHandler struct {
	ops []oplogtail.Operation
	err error
}

func (m *mockHandler) HandleOperation(op oplogtail.Operation) error {
	if m.err != nil {
		return m.err
	}
	m.ops = append(m.ops, op)
	return nil
}

func TestNewManager(t *testing.T) {
	manager := NewManager(nil, nil)

	if manager == nil {
		t.Fatal("NewManager returned nil")
	}

	if len(manager.handlers) != 0 {
		t.Error("Handlers should be empty initially")
	}
}

func TestManagerAddHandler(t *testing.T) {
	manager := NewManager(nil, nil)

	handler1 := &mockHandler{}
	handler2 := &mockHandler{}

	manager.AddHandler(handler1)
	manager.AddHandler(handler2)

	if len(manager.handlers) != 2 {
		t.Errorf("Expected 2 handlers, got %d", len(manager.handlers))
	}
}

func TestManagerHandleOperation(t *testing.T) {
	manager := NewManager(nil, nil)

	handler := &mockHandler{}
	manager.AddHandler(handler)

	op := oplogtail.Insert{
		ID:        42,
		Timestamp: time.Unix(1479561394, 0).UTC(),
		Namespace: "foo.bar",
	}

	err := manager.HandleOperation(op)
	if err != nil {
		t.Fatalf("HandleOperation failed: %v", err)
	}

	if len(handler.ops) != 1 {
		t.Errorf("Expected 1 operation in handler, got %d", len(handler.ops))
	}

	if handler.ops[0].Kind() != oplogtail.KindInsert {
		t.Error("Operation not forwarded correctly")
	}
}

func TestManagerHandleOperationWithMultipleHandlers(t *testing.T) {
	manager := NewManager(nil, nil)

	handler1 := &mockHandler{}
	handler2 := &mockHandler{}
	handler3 := &mockHandler{}

	manager.AddHandler(handler1)
	manager.AddHandler(handler2)
	manager.AddHandler(handler3)

	op := oplogtail.Noop{ID: 1, Timestamp: time.Now(), Message: "periodic noop"}

	err := manager.HandleOperation(op)
	if err != nil {
		t.Fatalf("HandleOperation failed: %v", err)
	}

	if len(handler1.ops) != 1 {
		t.Error("handler1 should have 1 operation")
	}
	if len(handler2.ops) != 1 {
		t.Error("handler2 should have 1 operation")
	}
	if len(handler3.ops) != 1 {
		t.Error("handler3 should have 1 operation")
	}
}

func TestManagerHandleOperationWithNoHandlers(t *testing.T) {
	manager := NewManager(nil, nil)

	op := oplogtail.Delete{ID: 7, Timestamp: time.Now(), Namespace: "foo.bar"}

	err := manager.HandleOperation(op)
	if err != nil {
		t.Errorf("HandleOperation with no handlers should not error: %v", err)
	}
}

func TestManagerHandleOperationHandlerFailure(t *testing.T) {
	manager := NewManager(nil, nil)

	manager.AddHandler(&mockHandler{err: errors.New("sink unavailable")})

	op := oplogtail.Noop{ID: 1, Timestamp: time.Now()}

	if err := manager.HandleOperation(op); err == nil {
		t.Error("expected error from failing handler")
	}
}

func TestManagerStartWithoutInit(t *testing.T) {
	manager := NewManager(nil, nil)

	err := manager.Start(context.Background())
	if err == nil {
		t.Error("Start should fail without Initialize")
	}
}

func TestManagerStopWhenNotRunning(t *testing.T) {
	manager := NewManager(nil, nil)

	err := manager.Stop(context.Background())
	if err != nil {
		t.Errorf("Stop should not fail when not running: %v", err)
	}
}

func TestManagerProgress(t *testing.T) {
	manager := NewManager(nil, nil)

	at := time.Unix(1479561394, 0).UTC()
	manager.recordProgress(oplogtail.Insert{ID: 99, Timestamp: at, Namespace: "foo.bar"})

	id, ts := manager.Progress()
	if id != 99 {
		t.Errorf("Expected id 99, got %d", id)
	}
	if !ts.Equal(at) {
		t.Errorf("Expected timestamp %v, got %v", at, ts)
	}
}
