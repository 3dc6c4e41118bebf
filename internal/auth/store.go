package auth

import "context"

// CredentialStore looks up credentials. Implementations return
// ErrUserNotFound when no record matches.
type CredentialStore interface {
	FindCredentialByEmail(ctx context.Context, email string) (*Credential, error)
	FindCredentialByID(ctx context.Context, id string) (*Credential, error)
}

// OrganizationStore looks up organizations. Implementations return
// ErrOrganizationNotFound when no record matches.
type OrganizationStore interface {
	FindOrganization(ctx context.Context, id string) (*Organization, error)
}

// Store is the persistence the service depends on.
type Store interface {
	CredentialStore
	OrganizationStore
}
