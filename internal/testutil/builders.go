package testutil

import domainauth "github.com/target/learnhub/internal/domain/auth"

// ProfileBuilder provides a fluent interface for building UserProfile values for testing.
type ProfileBuilder struct {
	p domainauth.UserProfile
}

// NewProfile creates a new ProfileBuilder for an inactive student.
func NewProfile() *ProfileBuilder {
	return &ProfileBuilder{
		p: domainauth.UserProfile{
			ID:    "user-1",
			Email: "ada@example.com",
			Name:  "Ada",
			Role:  domainauth.RoleStudent,
		},
	}
}

// WithID sets the subject id.
func (b *ProfileBuilder) WithID(id string) *ProfileBuilder {
	b.p.ID = id
	return b
}

// WithEmail sets the email.
func (b *ProfileBuilder) WithEmail(email string) *ProfileBuilder {
	b.p.Email = email
	return b
}

// WithName sets the display name.
func (b *ProfileBuilder) WithName(name string) *ProfileBuilder {
	b.p.Name = name
	return b
}

// WithRole sets the role.
func (b *ProfileBuilder) WithRole(role domainauth.Role) *ProfileBuilder {
	b.p.Role = role
	return b
}

// Active marks the profile active.
func (b *ProfileBuilder) Active() *ProfileBuilder {
	b.p.IsActive = true
	return b
}

// Build returns the built profile.
func (b *ProfileBuilder) Build() domainauth.UserProfile {
	return b.p
}
