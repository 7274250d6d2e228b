// Package memory provides an in-memory implementation of all storage
// interfaces. It is suitable for development, testing, and single-instance
// deployments; nothing survives a restart.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/oauthd/oauthd/instrumentation"
	"github.com/oauthd/oauthd/storage"
)

// defaultCleanupInterval is how often expired authorization codes are swept.
const defaultCleanupInterval = time.Minute

// Store is an in-memory implementation of ClientStore, FlowStore, and
// TokenStore. A single coarse RWMutex serializes writers per store map;
// critical sections are map accesses only, so contention is negligible for
// the intended working set.
type Store struct {
	mu sync.RWMutex

	clients map[string]*storage.Client
	codes   map[string]*storage.AuthorizationCode
	tokens  map[string]*storage.IssuedToken

	// Instrumentation
	inst *instrumentation.Instrumentation

	// Atomic counters for metrics (lock-free access during collection)
	clientsCountAtomic atomic.Int64
	codesCountAtomic   atomic.Int64
	tokensCountAtomic  atomic.Int64

	// Cleanup
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// Compile-time interface checks
var (
	_ storage.ClientStore = (*Store)(nil)
	_ storage.FlowStore   = (*Store)(nil)
	_ storage.TokenStore  = (*Store)(nil)
)

// New creates a new in-memory store with the default cleanup interval
// (1 minute).
func New() *Store {
	return NewWithInterval(defaultCleanupInterval)
}

// NewWithInterval creates a new in-memory store with a custom cleanup
// interval. A zero or negative interval falls back to the default.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = defaultCleanupInterval
	}

	s := &Store{
		clients:         make(map[string]*storage.Client),
		codes:           make(map[string]*storage.AuthorizationCode),
		tokens:          make(map[string]*storage.IssuedToken),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if logger != nil {
		s.logger = logger
	}
}

// SetInstrumentation registers OpenTelemetry gauges for store sizes
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.inst = inst
	s.clientsCountAtomic.Store(int64(len(s.clients)))
	s.codesCountAtomic.Store(int64(len(s.codes)))
	s.tokensCountAtomic.Store(int64(len(s.tokens)))
	s.mu.Unlock()

	if inst != nil {
		err := inst.RegisterStorageSizeCallbacks(
			func() int64 { return s.clientsCountAtomic.Load() },
			func() int64 { return s.codesCountAtomic.Load() },
			func() int64 { return s.tokensCountAtomic.Load() },
		)
		if err != nil {
			s.logger.Warn("Failed to register storage size callbacks", "error", err)
		}
	}
}

// Stop terminates the background cleanup goroutine
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}

// cleanupLoop periodically removes expired authorization codes. Issued
// tokens and clients are retained for the process lifetime.
func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweepExpiredCodes()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *Store) sweepExpiredCodes() {
	now := time.Now()

	s.mu.Lock()
	removed := 0
	for code, entry := range s.codes {
		if now.After(entry.ExpiresAt) {
			delete(s.codes, code)
			removed++
		}
	}
	s.codesCountAtomic.Store(int64(len(s.codes)))
	s.mu.Unlock()

	if removed > 0 {
		s.logger.Debug("Swept expired authorization codes", "removed", removed)
	}
}

// ==================== ClientStore ====================

// SaveClient saves a registered client
func (s *Store) SaveClient(_ context.Context, client *storage.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clients[client.ClientID] = client
	s.clientsCountAtomic.Store(int64(len(s.clients)))
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(_ context.Context, clientID string) (*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		return nil, storage.ErrClientNotFound
	}
	return client, nil
}

// ValidateClientSecret validates a client's secret against the stored
// bcrypt hash.
func (s *Store) ValidateClientSecret(_ context.Context, clientID, clientSecret string) error {
	s.mu.RLock()
	client, ok := s.clients[clientID]
	s.mu.RUnlock()

	if !ok {
		return storage.ErrClientNotFound
	}

	if err := bcrypt.CompareHashAndPassword([]byte(client.ClientSecretHash), []byte(clientSecret)); err != nil {
		return storage.ErrInvalidClientSecret
	}
	return nil
}

// ListClients lists all registered clients
func (s *Store) ListClients(_ context.Context) ([]*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]*storage.Client, 0, len(s.clients))
	for _, client := range s.clients {
		clients = append(clients, client)
	}
	return clients, nil
}

// ==================== FlowStore ====================

// SaveAuthorizationCode saves an issued authorization code
func (s *Store) SaveAuthorizationCode(_ context.Context, code *storage.AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.codes[code.Code] = code
	s.codesCountAtomic.Store(int64(len(s.codes)))
	return nil
}

// ConsumeAuthorizationCode atomically validates and deletes an
// authorization code. The whole check-and-delete sequence runs under the
// write lock, so exactly one of N concurrent callers can succeed for the
// same code. Every failure mode returns ErrInvalidAuthorizationCode; a
// matched-but-invalid code is deleted as well to prevent replay probing.
func (s *Store) ConsumeAuthorizationCode(_ context.Context, code, clientID, redirectURI string) (*storage.AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.codes[code]
	if !ok {
		return nil, storage.ErrInvalidAuthorizationCode
	}

	// Single-use: the code is gone after the first presentation, whether
	// or not the remaining checks pass.
	delete(s.codes, code)
	s.codesCountAtomic.Store(int64(len(s.codes)))

	if time.Now().After(entry.ExpiresAt) {
		return nil, storage.ErrInvalidAuthorizationCode
	}
	if entry.ClientID != clientID {
		return nil, storage.ErrInvalidAuthorizationCode
	}
	if entry.RedirectURI != redirectURI {
		return nil, storage.ErrInvalidAuthorizationCode
	}

	return entry, nil
}

// ==================== TokenStore ====================

// RecordToken inserts an issued token keyed by jti
func (s *Store) RecordToken(_ context.Context, token *storage.IssuedToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tokens[token.JTI]; exists {
		return storage.ErrDuplicateTokenID
	}

	s.tokens[token.JTI] = token
	s.tokensCountAtomic.Store(int64(len(s.tokens)))
	return nil
}

// GetToken retrieves an issued token by jti
func (s *Store) GetToken(_ context.Context, jti string) (*storage.IssuedToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.tokens[jti]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	return token, nil
}
