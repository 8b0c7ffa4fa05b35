// Package store provides storage backends for LeadRelay.
//
// This file implements the SQL repository shared by the PostgreSQL and SQLite
// backends. Queries are written with ? placeholders and rebound to $N for
// PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/leadrelay/leadrelay/internal/models"
)

// sqlRepository implements Repository over a database/sql connection.
type sqlRepository struct {
	db       *sql.DB
	postgres bool
}

// rebind converts ? placeholders to $N for PostgreSQL.
func (r *sqlRepository) rebind(query string) string {
	if !r.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

const bundleQuery = `
SELECT c.id, c.workflow_id, c.name, c.phone_number, c.email, c.channel, c.status, c.context, c.created_at, c.updated_at,
       w.id, w.client_id, w.name, w.active, w.channel, w.criteria, w.knowledge, w.appointment_duration, w.created_at, w.updated_at,
       cl.id, cl.name, cl.timezone, cl.created_at
FROM contacts c
JOIN workflows w ON w.id = c.workflow_id
JOIN clients cl ON cl.id = w.client_id
`

// scanBundle reads one joined contact/workflow/client row.
func scanBundle(row *sql.Row) (*models.ContactBundle, error) {
	var b models.ContactBundle
	var contactCtx sql.NullString
	var criteriaJSON, knowledgeJSON string
	err := row.Scan(
		&b.Contact.ID, &b.Contact.WorkflowID, &b.Contact.Name, &b.Contact.PhoneNumber, &b.Contact.Email,
		&b.Contact.Channel, &b.Contact.Status, &contactCtx, &b.Contact.CreatedAt, &b.Contact.UpdatedAt,
		&b.Workflow.ID, &b.Workflow.ClientID, &b.Workflow.Name, &b.Workflow.Active, &b.Workflow.Channel,
		&criteriaJSON, &knowledgeJSON, &b.Workflow.AppointmentDuration, &b.Workflow.CreatedAt, &b.Workflow.UpdatedAt,
		&b.Client.ID, &b.Client.Name, &b.Client.Timezone, &b.Client.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, models.ErrContactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan contact bundle: %w", err)
	}
	if contactCtx.Valid {
		b.Contact.Context = json.RawMessage(contactCtx.String)
	}
	if err := json.Unmarshal([]byte(criteriaJSON), &b.Workflow.QualificationCriteria); err != nil {
		slog.Warn("store.scanBundle: malformed criteria JSON, treating as empty", "error", err, "workflowID", b.Workflow.ID)
		b.Workflow.QualificationCriteria = nil
	}
	if err := json.Unmarshal([]byte(knowledgeJSON), &b.Workflow.Knowledge); err != nil {
		slog.Warn("store.scanBundle: malformed knowledge JSON, treating as empty", "error", err, "workflowID", b.Workflow.ID)
		b.Workflow.Knowledge = models.WorkflowKnowledge{}
	}
	return &b, nil
}

// GetContactBundle loads a contact with its workflow and client.
func (r *sqlRepository) GetContactBundle(ctx context.Context, contactID string) (*models.ContactBundle, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(bundleQuery+`WHERE c.id = ?`), contactID)
	return scanBundle(row)
}

// FindContactByAddress resolves a sender address to a contact bundle. Phone
// lookups match first; email is the fallback.
func (r *sqlRepository) FindContactByAddress(ctx context.Context, address string) (*models.ContactBundle, error) {
	row := r.db.QueryRowContext(ctx,
		r.rebind(bundleQuery+`WHERE (c.phone_number <> '' AND c.phone_number = ?) OR (c.email <> '' AND c.email = ?) ORDER BY c.created_at DESC LIMIT 1`),
		address, address)
	return scanBundle(row)
}

// ListMessages returns a contact's message log in chronological order.
func (r *sqlRepository) ListMessages(ctx context.Context, contactID string, limit int) ([]models.Message, error) {
	query := `SELECT id, contact_id, direction, channel, content, provider_message_id, delivery_status, model, tokens_used, created_at
FROM messages WHERE contact_id = ? ORDER BY created_at DESC`
	args := []interface{}{contactID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages for %s: %w", contactID, err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ContactID, &m.Direction, &m.Channel, &m.Content,
			&m.ProviderMessageID, &m.DeliveryStatus, &m.Model, &m.TokensUsed, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	// Rows arrive newest-first for the LIMIT; reverse to chronological.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// SaveMessage appends one message; provider-ID duplicates are ignored by the
// unique index so retried turns never duplicate history.
func (r *sqlRepository) SaveMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, r.rebind(`INSERT INTO messages
(id, contact_id, direction, channel, content, provider_message_id, delivery_status, model, tokens_used, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT DO NOTHING`),
		msg.ID, msg.ContactID, msg.Direction, msg.Channel, msg.Content,
		msg.ProviderMessageID, msg.DeliveryStatus, msg.Model, msg.TokensUsed, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert message for %s: %w", msg.ContactID, err)
	}
	return nil
}

// UpdateContactStatus sets a contact's lifecycle status.
func (r *sqlRepository) UpdateContactStatus(ctx context.Context, contactID string, status models.ContactStatus) error {
	res, err := r.db.ExecContext(ctx,
		r.rebind(`UPDATE contacts SET status = ?, updated_at = ? WHERE id = ?`),
		status, time.Now(), contactID)
	if err != nil {
		return fmt.Errorf("failed to update status for %s: %w", contactID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrContactNotFound
	}
	return nil
}

// UpdateContext writes the context blob, committing only when the stored
// context turn equals newTurn-1.
func (r *sqlRepository) UpdateContext(ctx context.Context, contactID string, raw []byte, newTurn int) error {
	res, err := r.db.ExecContext(ctx,
		r.rebind(`UPDATE contacts SET context = ?, context_turn = ?, updated_at = ? WHERE id = ? AND context_turn = ?`),
		string(raw), newTurn, time.Now(), contactID, newTurn-1)
	if err != nil {
		return fmt.Errorf("failed to update context for %s: %w", contactID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		var exists int
		if err := r.db.QueryRowContext(ctx, r.rebind(`SELECT 1 FROM contacts WHERE id = ?`), contactID).Scan(&exists); err == sql.ErrNoRows {
			return models.ErrContactNotFound
		}
		slog.Warn("store.UpdateContext: stale context turn rejected", "contactID", contactID, "newTurn", newTurn)
		return models.ErrContextConflict
	}
	return nil
}

// WasProcessed reports whether a provider message ID completed a turn.
func (r *sqlRepository) WasProcessed(ctx context.Context, providerMessageID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		r.rebind(`SELECT 1 FROM processed_messages WHERE provider_message_id = ?`), providerMessageID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query processed messages: %w", err)
	}
	return true, nil
}

// MarkProcessed records a provider message ID as fully processed.
func (r *sqlRepository) MarkProcessed(ctx context.Context, providerMessageID string) error {
	_, err := r.db.ExecContext(ctx,
		r.rebind(`INSERT INTO processed_messages (provider_message_id, processed_at) VALUES (?, ?) ON CONFLICT DO NOTHING`),
		providerMessageID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to record processed message: %w", err)
	}
	return nil
}

// CreateClient stores a client record.
func (r *sqlRepository) CreateClient(ctx context.Context, client *models.Client) error {
	if client.ID == "" {
		client.ID = uuid.NewString()
	}
	if client.CreatedAt.IsZero() {
		client.CreatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx,
		r.rebind(`INSERT INTO clients (id, name, timezone, created_at) VALUES (?, ?, ?, ?)`),
		client.ID, client.Name, client.Timezone, client.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert client: %w", err)
	}
	return nil
}

// CreateWorkflow stores a workflow record.
func (r *sqlRepository) CreateWorkflow(ctx context.Context, workflow *models.Workflow) error {
	if workflow.ID == "" {
		workflow.ID = uuid.NewString()
	}
	now := time.Now()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}
	workflow.UpdatedAt = now
	criteriaJSON, err := json.Marshal(workflow.QualificationCriteria)
	if err != nil {
		return fmt.Errorf("failed to marshal criteria: %w", err)
	}
	knowledgeJSON, err := json.Marshal(workflow.Knowledge)
	if err != nil {
		return fmt.Errorf("failed to marshal knowledge: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		r.rebind(`INSERT INTO workflows (id, client_id, name, active, channel, criteria, knowledge, appointment_duration, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		workflow.ID, workflow.ClientID, workflow.Name, workflow.Active, workflow.Channel,
		string(criteriaJSON), string(knowledgeJSON), workflow.AppointmentDuration, workflow.CreatedAt, workflow.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert workflow: %w", err)
	}
	return nil
}

// CreateContact stores a contact record.
func (r *sqlRepository) CreateContact(ctx context.Context, contact *models.Contact) error {
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
	var rawCtx interface{}
	if len(contact.Context) > 0 {
		rawCtx = string(contact.Context)
	}
	_, err := r.db.ExecContext(ctx,
		r.rebind(`INSERT INTO contacts (id, workflow_id, name, phone_number, email, channel, status, context, context_turn, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		contact.ID, contact.WorkflowID, contact.Name, contact.PhoneNumber, contact.Email,
		contact.Channel, contact.Status, rawCtx, seededContextTurn(contact.Context), contact.CreatedAt, contact.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert contact: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *sqlRepository) Close() error {
	slog.Debug("store.Close: closing database connection", "postgres", r.postgres)
	return r.db.Close()
}
