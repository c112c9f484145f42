package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nusawave/prepaidnet/internal/domain"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, roles []string, expiry time.Time) string {
	t.Helper()
	claims := &domain.OperatorClaims{
		UserID: "op-1",
		Roles:  roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiry),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func protectedApp(roles ...string) *fiber.App {
	app := fiber.New()
	handlers := []fiber.Handler{VerifyOperatorToken(testSecret)}
	if len(roles) > 0 {
		handlers = append(handlers, AuthorizeRole(roles...))
	}
	handlers = append(handlers, func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"user_id": c.Locals(UserIDKey)})
	})
	app.Get("/protected", handlers...)
	return app
}

func TestVerifyOperatorToken(t *testing.T) {
	tests := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{
			name:       "valid token",
			authHeader: "Bearer " + signToken(t, testSecret, []string{domain.RoleOperator}, time.Now().Add(time.Hour)),
			wantStatus: fiber.StatusOK,
		},
		{
			name:       "missing header",
			authHeader: "",
			wantStatus: fiber.StatusUnauthorized,
		},
		{
			name:       "garbage token",
			authHeader: "Bearer not.a.jwt",
			wantStatus: fiber.StatusUnauthorized,
		},
		{
			name:       "wrong secret",
			authHeader: "Bearer " + signToken(t, "other-secret", []string{domain.RoleOperator}, time.Now().Add(time.Hour)),
			wantStatus: fiber.StatusUnauthorized,
		},
		{
			name:       "expired token",
			authHeader: "Bearer " + signToken(t, testSecret, []string{domain.RoleOperator}, time.Now().Add(-time.Hour)),
			wantStatus: fiber.StatusUnauthorized,
		},
	}

	app := protectedApp()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/protected", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestAuthorizeRole(t *testing.T) {
	app := protectedApp(domain.RoleAdmin)

	operatorToken := signToken(t, testSecret, []string{domain.RoleOperator}, time.Now().Add(time.Hour))
	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+operatorToken)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode, "operator role cannot reach admin routes")

	adminToken := signToken(t, testSecret, []string{domain.RoleOperator, domain.RoleAdmin}, time.Now().Add(time.Hour))
	req = httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
