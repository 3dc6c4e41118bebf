package auth

import (
	"strings"
	"time"
)

// Roles understood by the API. Role values are stored upper-case.
const (
	RoleAdmin    = "ADMIN"
	RoleManager  = "MANAGER"
	RoleEmployee = "EMPLOYEE"
)

// Organization groups credentials; every authenticated user belongs to one.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Credential is the stored record a login is checked against.
type Credential struct {
	ID    string
	Email string
	Name  string
	Title string
	// PasswordHash is empty when password login is disabled for the account.
	PasswordHash string
	Role         string
	// OrganizationID is empty for accounts that cannot authenticate.
	OrganizationID string
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasPassword reports whether a password hash is set.
func (c *Credential) HasPassword() bool { return c != nil && c.PasswordHash != "" }

// HasOrganization reports whether the credential belongs to an organization.
func (c *Credential) HasOrganization() bool {
	return c != nil && strings.TrimSpace(c.OrganizationID) != ""
}

// Identity returns the claims an access token asserts for c.
func (c *Credential) Identity() Identity {
	return Identity{
		ID:             c.ID,
		Email:          c.Email,
		Role:           c.Role,
		OrganizationID: c.OrganizationID,
	}
}

// Profile returns the public view of c.
func (c *Credential) Profile() Profile {
	return Profile{
		ID:             c.ID,
		Email:          c.Email,
		Name:           c.Name,
		Title:          c.Title,
		Role:           c.Role,
		OrganizationID: c.OrganizationID,
		IsActive:       c.IsActive,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

// Identity is the authenticated caller as asserted by a verified access token.
type Identity struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	Role           string `json:"role"`
	OrganizationID string `json:"organizationId"`
}

// HasRole reports whether the identity holds any of roles. Comparison is
// case-insensitive.
func (i Identity) HasRole(roles ...string) bool {
	for _, r := range roles {
		if strings.EqualFold(strings.TrimSpace(r), i.Role) {
			return true
		}
	}
	return false
}

// Profile is a credential without its secret material.
type Profile struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	Name           string    `json:"name"`
	Title          string    `json:"title"`
	Role           string    `json:"role"`
	OrganizationID string    `json:"organizationId"`
	IsActive       bool      `json:"isActive"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	AccessToken      string
	RefreshToken     string
	ExpiresIn        int64
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	Identity         Identity
	Profile          Profile
	Organization     *Organization
}

// RefreshResult is returned by a successful refresh.
type RefreshResult struct {
	AccessToken     string
	ExpiresIn       int64
	AccessExpiresAt time.Time
}

// NormalizeEmail lower-cases and trims an email address for lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
