package library

import (
	"context"
	"fmt"
	"strings"
)

// AuthService verifies credentials and registers member accounts.
type AuthService struct {
	users      UserRepository
	credential Credential
	observer
}

func NewAuthService(users UserRepository, credential Credential, opts ...Option) *AuthService {
	return &AuthService{users: users, credential: credential, observer: newObserver(opts)}
}

// Login returns the account for id when rawPassword matches. Unknown ids and
// wrong passwords produce the same error.
func (s *AuthService) Login(ctx context.Context, id, rawPassword string) (*User, error) {
	user, err := s.users.FindByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, s.done(ctx, "login", fmt.Errorf("looking up user: %w", err))
	}
	if user == nil || !s.credential.Matches(rawPassword, user.PasswordHash) {
		return nil, s.done(ctx, "login", AuthError(msgCredentialMismatch))
	}
	s.log.InfoContext(ctx, "user logged in", "user", user.ID, "role", user.Role)
	return user, nil
}

// Register creates a MEMBER account.
func (s *AuthService) Register(ctx context.Context, id, rawPassword, name string) (*User, error) {
	id = strings.TrimSpace(id)
	name = strings.TrimSpace(name)
	switch {
	case id == "":
		return nil, s.done(ctx, "register", ValidationError("id is required"))
	case strings.TrimSpace(rawPassword) == "":
		return nil, s.done(ctx, "register", ValidationError("password is required"))
	case name == "":
		return nil, s.done(ctx, "register", ValidationError("name is required"))
	}

	unlock := s.locks.Lock(userKey(id))
	defer unlock()

	existing, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, s.done(ctx, "register", fmt.Errorf("looking up user: %w", err))
	}
	if existing != nil {
		return nil, s.done(ctx, "register", ValidationError("id %q is already taken", id))
	}

	hash, err := s.credential.Encode(rawPassword)
	if err != nil {
		return nil, s.done(ctx, "register", fmt.Errorf("encoding password: %w", err))
	}
	user := &User{ID: id, PasswordHash: hash, Name: name, Role: RoleMember}
	if err := s.users.Save(ctx, user); err != nil {
		return nil, s.done(ctx, "register", fmt.Errorf("saving user: %w", err))
	}
	s.log.InfoContext(ctx, "member registered", "user", user.ID)
	return user, nil
}
