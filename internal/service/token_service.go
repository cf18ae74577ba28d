package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-nbif/internal/models"
	"github.com/noah-isme/gema-nbif/internal/repository"
)

// ErrAnonymousUser is returned when a token is requested without a username.
var ErrAnonymousUser = errors.New("api tokens require an authenticated user")

// TokenService issues the per-user API tokens handed to notebooks.
type TokenService interface {
	// Issue returns the user's token, creating it on first use.
	Issue(ctx context.Context, username string) (string, error)
	// Resolve returns the username owning token.
	Resolve(ctx context.Context, token string) (string, error)
}

type tokenService struct {
	repo   repository.APITokenRepository
	logger zerolog.Logger
}

// NewTokenService constructs a token service backed by repo.
func NewTokenService(repo repository.APITokenRepository, logger zerolog.Logger) TokenService {
	return &tokenService{
		repo:   repo,
		logger: logger.With().Str("component", "token_service").Logger(),
	}
}

func (s *tokenService) Issue(ctx context.Context, username string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" || username == "None" {
		return "", ErrAnonymousUser
	}

	existing, err := s.repo.GetByUsername(ctx, username)
	if err == nil {
		return existing.Token, nil
	}
	if !errors.Is(err, repository.ErrTokenNotFound) {
		return "", err
	}

	stored, err := s.repo.CreateIfAbsent(ctx, models.APIToken{Username: username, Token: uuid.NewString()})
	if err != nil {
		return "", err
	}
	s.logger.Info().Str("username", username).Msg("api token issued")
	return stored.Token, nil
}

func (s *tokenService) Resolve(ctx context.Context, token string) (string, error) {
	stored, err := s.repo.GetByToken(ctx, strings.TrimSpace(token))
	if err != nil {
		return "", err
	}
	return stored.Username, nil
}
