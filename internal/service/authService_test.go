package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aman-churiwal/chatguard/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*models.User)}
}

func (r *fakeUserRepo) Create(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	r.users[user.Email] = user
	return nil
}

func (r *fakeUserRepo) FindByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.users[email], nil
}

func (r *fakeUserRepo) FindByID(_ context.Context, id string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if u.ID.String() == id {
			return u, nil
		}
	}
	return nil, nil
}

const testSecret = "test-secret"

func TestAuthService_RegisterAndLogin(t *testing.T) {
	repo := newFakeUserRepo()
	svc := NewAuthService(repo, testSecret, 1)
	ctx := context.Background()

	require.NoError(t, svc.Register(ctx, "ops@example.com", "hunter22", "Ops", ""))
	assert.Equal(t, models.RoleOperator, repo.users["ops@example.com"].Role)
	assert.NotEqual(t, "hunter22", repo.users["ops@example.com"].PasswordHash)

	err := svc.Register(ctx, "ops@example.com", "other", "Ops", "")
	assert.ErrorIs(t, err, ErrUserExists)

	token, err := svc.Login(ctx, "ops@example.com", "hunter22")
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", claims["email"])
	assert.Equal(t, models.RoleOperator, claims["role"])

	user, err := svc.GetUserByID(ctx, claims["user_id"].(string))
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "ops@example.com", user.Email)
}

func TestAuthService_LoginRejectsBadCredentials(t *testing.T) {
	svc := NewAuthService(newFakeUserRepo(), testSecret, 1)
	ctx := context.Background()

	require.NoError(t, svc.Register(ctx, "ops@example.com", "hunter22", "Ops", ""))

	_, err := svc.Login(ctx, "ops@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "nobody@example.com", "hunter22")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthService_EnsureAdmin(t *testing.T) {
	repo := newFakeUserRepo()
	svc := NewAuthService(repo, testSecret, 1)
	ctx := context.Background()

	created, err := svc.EnsureAdmin(ctx, "", "")
	require.NoError(t, err)
	assert.False(t, created)

	created, err = svc.EnsureAdmin(ctx, "admin@example.com", "changeme")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.RoleAdmin, repo.users["admin@example.com"].Role)

	created, err = svc.EnsureAdmin(ctx, "admin@example.com", "changeme")
	require.NoError(t, err)
	assert.False(t, created)
}

func TestParseHS256(t *testing.T) {
	sign := func(method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}

	valid := sign(jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
		"sub": "u-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	claims, err := ParseHS256(valid, []byte(testSecret))
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims["sub"])

	_, err = ParseHS256(valid, []byte("other-secret"))
	assert.Error(t, err)

	expired := sign(jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
		"sub": "u-1",
		"exp": time.Now().Add(-time.Minute).Unix(),
	})
	_, err = ParseHS256(expired, []byte(testSecret))
	assert.Error(t, err)

	unsigned := sign(jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, jwt.MapClaims{"sub": "u-1"})
	_, err = ParseHS256(unsigned, []byte(testSecret))
	assert.Error(t, err)

	_, err = ParseHS256("not-a-token", []byte(testSecret))
	assert.Error(t, err)
}
