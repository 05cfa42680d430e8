package stream

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/oplogtail/oplogtail"
	"github.com/oplogtail/oplogtail/internal/alert"
)

// Handler consumes decoded operations pulled off the oplog.
type Handler interface {
	HandleOperation(op oplogtail.Operation) error
}

// Manager drives a single oplog tail: it owns the client connection and the
// iterator, pulls operations in a background goroutine and fans them out to
// registered handlers. On transport failure it backs off exponentially,
// alerts if configured, and reopens the tail with a fresh cursor.
type Manager struct {
	clientOpts *options.ClientOptions
	filter     bson.D

	client *mongo.Client
	oplog  *oplogtail.Oplog

	handlers     []Handler
	mu           sync.RWMutex
	alertManager *alert.Manager

	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	lastID   int64
	lastTime time.Time
}

func NewManager(clientOpts *options.ClientOptions, filter bson.D) *Manager {
	return &Manager{
		clientOpts: clientOpts,
		filter:     filter,
		handlers:   make([]Handler, 0),
	}
}

func (m *Manager) AddHandler(handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
}

func (m *Manager) SetAlertManager(am *alert.Manager) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alertManager = am
}

func (m *Manager) Initialize(ctx context.Context) error {
	client, err := mongo.Connect(ctx, m.clientOpts)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(ctx)
		return fmt.Errorf("failed to ping: %w", err)
	}

	oplog, err := oplogtail.New(ctx, client, oplogtail.Options{Filter: m.filter})
	if err != nil {
		client.Disconnect(ctx)
		return fmt.Errorf("failed to open oplog: %w", err)
	}

	m.client = client
	m.oplog = oplog
	return nil
}

func (m *Manager) Start(ctx context.Context) error {
	if m.running {
		return fmt.Errorf("manager already running")
	}

	if m.oplog == nil {
		return fmt.Errorf("manager not initialized")
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)

	go m.pullLoop(ctx)

	return nil
}

func (m *Manager) Stop(ctx context.Context) error {
	if !m.running {
		return nil
	}

	m.cancel()
	m.wg.Wait()
	m.running = false

	if m.oplog != nil {
		if err := m.oplog.Close(ctx); err != nil {
			return err
		}
	}
	if m.client != nil {
		return m.client.Disconnect(ctx)
	}

	return nil
}

func (m *Manager) pullLoop(ctx context.Context) {
	defer m.wg.Done()

	errorCount := 0
	const maxBackoff = 30 * time.Second

	for {
		op, err := m.oplog.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			fmt.Printf("Error pulling operation: %v\n", err)
			errorCount++

			// Exponential backoff
			backoff := time.Duration(math.Pow(2, float64(errorCount))) * time.Second
			if backoff > maxBackoff {
				backoff = maxBackoff
			}

			// Send alert if configured
			m.mu.RLock()
			if m.alertManager != nil {
				_ = m.alertManager.SendStreamLostAlert(err, backoff)
			}
			m.mu.RUnlock()

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}

			if err := m.reopen(ctx); err != nil {
				fmt.Printf("Error reopening oplog: %v\n", err)
			}
			continue
		}

		// Reset error count on success
		errorCount = 0

		m.recordProgress(op)

		if err := m.HandleOperation(op); err != nil {
			fmt.Printf("Error handling operation: %v\n", err)
		}
	}
}

// reopen replaces the dead iterator with a fresh cursor using the same
// filter. Entries written while the tail was down are not replayed.
func (m *Manager) reopen(ctx context.Context) error {
	if m.oplog != nil {
		_ = m.oplog.Close(ctx)
	}

	oplog, err := oplogtail.New(ctx, m.client, oplogtail.Options{Filter: m.filter})
	if err != nil {
		return err
	}

	m.oplog = oplog
	return nil
}

// HandleOperation fans one operation out to every registered handler, so a
// Manager can itself serve as a Handler.
func (m *Manager) HandleOperation(op oplogtail.Operation) error {
	m.mu.RLock()
	handlers := make([]Handler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler.HandleOperation(op); err != nil {
			return fmt.Errorf("handler failed: %w", err)
		}
	}

	return nil
}

func (m *Manager) recordProgress(op oplogtail.Operation) {
	var id int64
	var ts time.Time

	switch op := op.(type) {
	case oplogtail.Noop:
		id, ts = op.ID, op.Timestamp
	case oplogtail.Insert:
		id, ts = op.ID, op.Timestamp
	case oplogtail.Update:
		id, ts = op.ID, op.Timestamp
	case oplogtail.Delete:
		id, ts = op.ID, op.Timestamp
	case oplogtail.Command:
		id, ts = op.ID, op.Timestamp
	}

	m.mu.Lock()
	m.lastID = id
	m.lastTime = ts
	m.mu.Unlock()
}

// Progress reports the id and timestamp of the most recent operation pulled.
func (m *Manager) Progress() (int64, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastID, m.lastTime
}
