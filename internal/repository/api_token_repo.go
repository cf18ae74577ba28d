package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-nbif/internal/models"
)

// ErrTokenNotFound is returned when a username has no token yet.
var ErrTokenNotFound = errors.New("api token not found")

// APITokenRepository persists per-user API tokens.
type APITokenRepository interface {
	GetByUsername(ctx context.Context, username string) (models.APIToken, error)
	GetByToken(ctx context.Context, token string) (models.APIToken, error)
	// CreateIfAbsent stores token unless the user already has one, and
	// returns whichever token is stored.
	CreateIfAbsent(ctx context.Context, token models.APIToken) (models.APIToken, error)
}

type apiTokenRepository struct {
	db *gorm.DB
}

// NewAPITokenRepository constructs an API token repository.
func NewAPITokenRepository(db *gorm.DB) APITokenRepository {
	return &apiTokenRepository{db: db}
}

func (r *apiTokenRepository) GetByUsername(ctx context.Context, username string) (models.APIToken, error) {
	return r.first(ctx, "username = ?", username)
}

func (r *apiTokenRepository) GetByToken(ctx context.Context, token string) (models.APIToken, error) {
	return r.first(ctx, "token = ?", token)
}

func (r *apiTokenRepository) first(ctx context.Context, query string, arg string) (models.APIToken, error) {
	var token models.APIToken
	if err := r.db.WithContext(ctx).Where(query, arg).First(&token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.APIToken{}, ErrTokenNotFound
		}
		return models.APIToken{}, err
	}
	return token, nil
}

func (r *apiTokenRepository) CreateIfAbsent(ctx context.Context, token models.APIToken) (models.APIToken, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "username"}},
		DoNothing: true,
	}).Create(&token)
	if tx.Error != nil {
		return models.APIToken{}, tx.Error
	}
	return r.GetByUsername(ctx, token.Username)
}
