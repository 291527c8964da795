package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/sparring/internal/domain"
)

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "learner-1",
		"exp":     exp.Unix(),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func TestStaticToken(t *testing.T) {
	_, err := StaticToken("  ").Token(context.Background())
	assert.ErrorIs(t, err, domain.ErrNoToken)

	tok, err := StaticToken("abc").Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)
}

func TestBearer(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	tests := []struct {
		name    string
		src     TokenSource
		wantErr error
	}{
		{name: "nil source", src: nil, wantErr: domain.ErrNoToken},
		{name: "empty token", src: TokenFunc(func(context.Context) (string, error) { return "", nil }), wantErr: domain.ErrNoToken},
		{name: "opaque token", src: StaticToken("opaque-token")},
		{name: "valid jwt", src: StaticToken(signed(t, now.Add(time.Hour)))},
		{name: "expired jwt", src: StaticToken(signed(t, now.Add(-time.Minute))), wantErr: domain.ErrTokenExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, err := Bearer(ctx, tt.src, now)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, tok)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, tok)
		})
	}
}

func TestBearerPropagatesSourceError(t *testing.T) {
	boom := errors.New("identity provider unreachable")
	_, err := Bearer(context.Background(), TokenFunc(func(context.Context) (string, error) { return "", boom }), time.Now())
	assert.ErrorIs(t, err, boom)
}
