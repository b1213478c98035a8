package session

import "context"

// Repository defines the interface for session persistence.
// It acts as a port in the hexagonal architecture pattern: an in-memory map
// for tests and single-instance deployments, a persistent table in
// production.
type Repository interface {
	// Save persists a session. If the session already exists, it is updated.
	Save(ctx context.Context, sess *Session) error

	// FindByID retrieves a session by its identifier.
	// Returns ErrNotFound if the session does not exist.
	FindByID(ctx context.Context, id string) (*Session, error)

	// List returns all sessions.
	List(ctx context.Context) ([]*Session, error)

	// Delete removes a session record.
	// Returns ErrNotFound if the session does not exist.
	Delete(ctx context.Context, id string) error

	// DeleteIf removes a session record only when fn reports it eligible,
	// with fn evaluated under the store lock so the decision and the
	// removal are atomic with respect to concurrent Updates. Returns true
	// when the record was removed, false when fn declined, and ErrNotFound
	// if the session does not exist.
	DeleteIf(ctx context.Context, id string, fn func(sess *Session) bool) (bool, error)

	// Update applies fn to the stored session atomically under the store
	// lock, serializing concurrent mutations to a single record. If fn
	// returns an error the mutation is reported as failed but any changes
	// fn already made are kept, so fn must mutate only after its checks
	// pass. Returns ErrNotFound if the session does not exist.
	Update(ctx context.Context, id string, fn func(sess *Session) error) error
}
