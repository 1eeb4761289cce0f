package services

import (
	"context"
	"fmt"
	"strings"

	"convo-lab/auth"
	"convo-lab/contract"
	"convo-lab/domain"
	"convo-lab/errors"
)

type Token string

func (t Token) String() string {
	return string(t)
}

// Credentials is what a successful Register or Login hands back to the caller.
type Credentials struct {
	Token  Token
	UserID domain.UserID
}

type IAuthService interface {
	Register(ctx context.Context, email, password, fullName string, role domain.Role) (Credentials, error)
	Login(ctx context.Context, email, password string) (Credentials, error)
}

var _ IAuthService = (*AuthService)(nil)

type AuthService struct {
	userRepository contract.IUserRepository
	tokens         *auth.Tokens
}

func NewAuthService(repo contract.IUserRepository, tokens *auth.Tokens) *AuthService {
	return &AuthService{userRepository: repo, tokens: tokens}
}

func (s *AuthService) Register(ctx context.Context, email, password, fullName string, role domain.Role) (Credentials, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	// Checked before any expensive hashing.
	if err := auth.ValidateRegister(auth.RegisterRequest{
		Email:    email,
		Password: password,
		FullName: strings.TrimSpace(fullName),
		Role:     role,
	}); err != nil {
		return Credentials{}, err
	}

	hashedPassword, err := auth.HashPassword(password)
	if err != nil {
		return Credentials{}, fmt.Errorf("hashing failed: %w", err)
	}

	user, err := s.userRepository.CreateUser(ctx, domain.User{
		Email:        email,
		PasswordHash: hashedPassword,
		Roles:        []domain.Role{role},
		FullName:     strings.TrimSpace(fullName),
	})
	if err != nil {
		return Credentials{}, err
	}
	return s.issue(user)
}

func (s *AuthService) Login(ctx context.Context, email, password string) (Credentials, error) {
	user, err := s.userRepository.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.IsRetryable(err) {
		return Credentials{}, err
	}
	if err != nil {
		// Same answer for unknown users and wrong passwords.
		return Credentials{}, errors.ErrInvalidCredentials
	}
	match, err := auth.ComparePassword(password, user.PasswordHash)
	if err != nil || !match {
		return Credentials{}, errors.ErrInvalidCredentials
	}
	return s.issue(user)
}

func (s *AuthService) issue(user domain.User) (Credentials, error) {
	token, err := s.tokens.Generate(user.ID, user.Roles)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{Token: Token(token), UserID: user.ID}, nil
}
