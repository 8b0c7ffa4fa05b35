// Package store provides storage backends for LeadRelay.
//
// It defines the narrow repository interface the conversation engine depends
// on, with PostgreSQL and SQLite implementations plus an in-memory store for
// tests. The engine never sees SQL; it sees contacts, messages, context blobs
// and the processed-message dedup set.
package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/leadrelay/leadrelay/internal/models"
)

// seededContextTurn extracts the turn count from a context blob supplied at
// contact creation. The optimistic turn check in UpdateContext must start in
// sync with the blob, or the first processed turn for a pre-seeded contact
// would be rejected as a conflict.
func seededContextTurn(raw []byte) int {
	if len(raw) == 0 {
		return 0
	}
	var blob struct {
		State struct {
			TurnCount int `json:"turn_count"`
		} `json:"state"`
	}
	if err := json.Unmarshal(raw, &blob); err != nil {
		return 0
	}
	return blob.State.TurnCount
}

// Repository is the persistence contract the orchestrator depends on.
type Repository interface {
	// GetContactBundle loads a contact with its workflow and client.
	// Returns models.ErrContactNotFound when the contact does not exist.
	GetContactBundle(ctx context.Context, contactID string) (*models.ContactBundle, error)

	// FindContactByAddress resolves an inbound sender address (phone or
	// email) to a contact bundle. Returns models.ErrContactNotFound when no
	// contact matches.
	FindContactByAddress(ctx context.Context, address string) (*models.ContactBundle, error)

	// ListMessages returns a contact's message log in chronological order,
	// keeping at most limit of the most recent entries (0 means no limit).
	ListMessages(ctx context.Context, contactID string, limit int) ([]models.Message, error)

	// SaveMessage appends one message to the log. Inserting the same
	// provider message ID for a contact twice is a no-op, so a retried turn
	// never duplicates history. Assigns msg.ID when empty.
	SaveMessage(ctx context.Context, msg *models.Message) error

	// UpdateContactStatus sets a contact's lifecycle status.
	UpdateContactStatus(ctx context.Context, contactID string, status models.ContactStatus) error

	// UpdateContext writes the contact's context blob. The write only
	// commits when the stored context turn equals newTurn-1; otherwise it
	// fails with models.ErrContextConflict. This catches lost updates if
	// per-contact serialization is ever violated across processes.
	UpdateContext(ctx context.Context, contactID string, raw []byte, newTurn int) error

	// WasProcessed reports whether a provider message ID completed a turn.
	WasProcessed(ctx context.Context, providerMessageID string) (bool, error)

	// MarkProcessed records a provider message ID as fully processed.
	MarkProcessed(ctx context.Context, providerMessageID string) error

	// CreateClient, CreateWorkflow and CreateContact seed entities. The
	// management dashboard owns full CRUD; these exist for bootstrap and the
	// test harness.
	CreateClient(ctx context.Context, client *models.Client) error
	CreateWorkflow(ctx context.Context, workflow *models.Workflow) error
	CreateContact(ctx context.Context, contact *models.Contact) error

	// Close releases the underlying connection.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	PostgresDSN string
	SQLiteDSN   string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithPostgresDSN configures a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.PostgresDSN = dsn }
}

// WithSQLiteDSN configures a SQLite database path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.SQLiteDSN = dsn }
}

// DetectDSNType reports "postgres" for PostgreSQL-style DSNs and "sqlite"
// for file paths.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// NewRepository creates a repository for the configured backend: Postgres
// when a Postgres DSN is set, SQLite for a file DSN, in-memory otherwise.
func NewRepository(opts ...Option) (Repository, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.PostgresDSN != "" {
		return NewPostgresRepository(opts...)
	}
	if cfg.SQLiteDSN != "" {
		return NewSQLiteRepository(opts...)
	}
	return NewInMemoryRepository(), nil
}

// InMemoryRepository is a Repository kept entirely in process memory.
// It backs tests and ad-hoc runs without a database.
type InMemoryRepository struct {
	mu        sync.RWMutex
	clients   map[string]models.Client
	workflows map[string]models.Workflow
	contacts  map[string]models.Contact
	messages  map[string][]models.Message // keyed by contact ID
	processed map[string]bool
	turns     map[string]int // context turn per contact
}

// NewInMemoryRepository creates an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		clients:   make(map[string]models.Client),
		workflows: make(map[string]models.Workflow),
		contacts:  make(map[string]models.Contact),
		messages:  make(map[string][]models.Message),
		processed: make(map[string]bool),
		turns:     make(map[string]int),
	}
}

func (r *InMemoryRepository) bundleLocked(contact models.Contact) (*models.ContactBundle, error) {
	workflow, ok := r.workflows[contact.WorkflowID]
	if !ok {
		return nil, models.ErrContactNotFound
	}
	client := r.clients[workflow.ClientID]
	return &models.ContactBundle{Contact: contact, Workflow: workflow, Client: client}, nil
}

// GetContactBundle loads a contact with its workflow and client.
func (r *InMemoryRepository) GetContactBundle(ctx context.Context, contactID string) (*models.ContactBundle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	contact, ok := r.contacts[contactID]
	if !ok {
		return nil, models.ErrContactNotFound
	}
	return r.bundleLocked(contact)
}

// FindContactByAddress resolves a sender address to a contact bundle.
func (r *InMemoryRepository) FindContactByAddress(ctx context.Context, address string) (*models.ContactBundle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, contact := range r.contacts {
		if contact.PhoneNumber == address || (contact.Email != "" && contact.Email == address) {
			return r.bundleLocked(contact)
		}
	}
	return nil, models.ErrContactNotFound
}

// ListMessages returns a contact's message log in chronological order.
func (r *InMemoryRepository) ListMessages(ctx context.Context, contactID string, limit int) ([]models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	log := r.messages[contactID]
	out := make([]models.Message, len(log))
	copy(out, log)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// SaveMessage appends one message, ignoring provider-ID duplicates.
func (r *InMemoryRepository) SaveMessage(ctx context.Context, msg *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if msg.ProviderMessageID != "" {
		for _, existing := range r.messages[msg.ContactID] {
			if existing.ProviderMessageID == msg.ProviderMessageID && existing.Direction == msg.Direction {
				return nil
			}
		}
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	r.messages[msg.ContactID] = append(r.messages[msg.ContactID], *msg)
	return nil
}

// UpdateContactStatus sets a contact's lifecycle status.
func (r *InMemoryRepository) UpdateContactStatus(ctx context.Context, contactID string, status models.ContactStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	contact, ok := r.contacts[contactID]
	if !ok {
		return models.ErrContactNotFound
	}
	contact.Status = status
	contact.UpdatedAt = time.Now()
	r.contacts[contactID] = contact
	return nil
}

// UpdateContext writes the context blob, enforcing the turn advance check.
func (r *InMemoryRepository) UpdateContext(ctx context.Context, contactID string, raw []byte, newTurn int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	contact, ok := r.contacts[contactID]
	if !ok {
		return models.ErrContactNotFound
	}
	if r.turns[contactID] != newTurn-1 {
		return models.ErrContextConflict
	}
	contact.Context = append([]byte(nil), raw...)
	contact.UpdatedAt = time.Now()
	r.contacts[contactID] = contact
	r.turns[contactID] = newTurn
	return nil
}

// WasProcessed reports whether a provider message ID completed a turn.
func (r *InMemoryRepository) WasProcessed(ctx context.Context, providerMessageID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.processed[providerMessageID], nil
}

// MarkProcessed records a provider message ID as fully processed.
func (r *InMemoryRepository) MarkProcessed(ctx context.Context, providerMessageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed[providerMessageID] = true
	return nil
}

// CreateClient stores a client record.
func (r *InMemoryRepository) CreateClient(ctx context.Context, client *models.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if client.ID == "" {
		client.ID = uuid.NewString()
	}
	if client.CreatedAt.IsZero() {
		client.CreatedAt = time.Now()
	}
	r.clients[client.ID] = *client
	return nil
}

// CreateWorkflow stores a workflow record.
func (r *InMemoryRepository) CreateWorkflow(ctx context.Context, workflow *models.Workflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if workflow.ID == "" {
		workflow.ID = uuid.NewString()
	}
	now := time.Now()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}
	workflow.UpdatedAt = now
	r.workflows[workflow.ID] = *workflow
	return nil
}

// CreateContact stores a contact record.
func (r *InMemoryRepository) CreateContact(ctx context.Context, contact *models.Contact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if contact.ID == "" {
		contact.ID = uuid.NewString()
	}
	if contact.Status == "" {
		contact.Status = models.ContactStatusPending
	}
	now := time.Now()
	if contact.CreatedAt.IsZero() {
		contact.CreatedAt = now
	}
	contact.UpdatedAt = now
	r.contacts[contact.ID] = *contact
	r.turns[contact.ID] = seededContextTurn(contact.Context)
	return nil
}

// Close is a no-op for the in-memory repository.
func (r *InMemoryRepository) Close() error { return nil }
