package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-nbif/internal/models"
)

func setupTokenTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.APIToken{}))
	return db
}

func TestAPITokenRepositoryCreateIfAbsentKeepsFirstToken(t *testing.T) {
	repo := NewAPITokenRepository(setupTokenTestDB(t))
	ctx := context.Background()

	_, err := repo.GetByUsername(ctx, "alice")
	require.ErrorIs(t, err, ErrTokenNotFound)

	first, err := repo.CreateIfAbsent(ctx, models.APIToken{Username: "alice", Token: "tok-1"})
	require.NoError(t, err)
	require.Equal(t, "tok-1", first.Token)

	second, err := repo.CreateIfAbsent(ctx, models.APIToken{Username: "alice", Token: "tok-2"})
	require.NoError(t, err)
	require.Equal(t, "tok-1", second.Token, "existing token must not be replaced")

	byToken, err := repo.GetByToken(ctx, "tok-1")
	require.NoError(t, err)
	require.Equal(t, "alice", byToken.Username)

	_, err = repo.GetByToken(ctx, "tok-2")
	require.ErrorIs(t, err, ErrTokenNotFound)
}
