package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/Recursive-Llama/Lotus-Trader-sub015/config"
)

func testHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("Failed to hash test password: %v", err)
	}
	return string(hash)
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(config.AuthConfig{
		Enabled:              true,
		JWTSecret:            "test-secret-for-lotus",
		AccessTokenDuration:  15 * time.Minute,
		RefreshTokenDuration: time.Hour,
		AdminUser:            "operator",
		AdminPasswordHash:    testHash(t, "Correct-Horse1"),
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create service: %v", err)
	}
	return svc
}

func TestNewServiceRequiresSecretAndHash(t *testing.T) {
	if _, err := NewService(config.AuthConfig{AdminPasswordHash: "x"}, zerolog.Nop()); err == nil {
		t.Error("Expected error without JWT secret")
	}
	if _, err := NewService(config.AuthConfig{JWTSecret: "x"}, zerolog.Nop()); err == nil {
		t.Error("Expected error without password hash")
	}
}

func TestLoginIssuesTokens(t *testing.T) {
	svc := newTestService(t)

	resp, err := svc.Login(LoginRequest{Username: "operator", Password: "Correct-Horse1"})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if resp.Subject != "operator" {
		t.Errorf("Expected subject operator, got %s", resp.Subject)
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		t.Error("Expected both tokens to be issued")
	}
	if resp.ExpiresIn != int64((15 * time.Minute).Seconds()) {
		t.Errorf("Expected expires_in 900, got %d", resp.ExpiresIn)
	}

	claims, err := svc.GetJWTManager().ValidateAccessToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("Issued access token failed validation: %v", err)
	}
	if claims.Subject != "operator" || claims.Role != RoleOperator {
		t.Errorf("Unexpected claims: %+v", claims)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc := newTestService(t)

	if _, err := svc.Login(LoginRequest{Username: "operator", Password: "wrong"}); err != ErrInvalidCredentials {
		t.Errorf("Expected ErrInvalidCredentials for wrong password, got %v", err)
	}
	if _, err := svc.Login(LoginRequest{Username: "intruder", Password: "Correct-Horse1"}); err != ErrInvalidCredentials {
		t.Errorf("Expected ErrInvalidCredentials for unknown username, got %v", err)
	}
}

func TestExpiredAccessTokenRejected(t *testing.T) {
	mgr := NewJWTManager("secret", -time.Minute, time.Hour)

	token, err := mgr.GenerateAccessToken(OperatorClaims{Subject: "operator", Role: RoleOperator})
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}

	if _, err := mgr.ValidateAccessToken(token); err != ErrTokenExpired {
		t.Errorf("Expected ErrTokenExpired, got %v", err)
	}
}

func TestTokenSignedWithOtherSecretRejected(t *testing.T) {
	token, err := NewJWTManager("other-secret", time.Minute, time.Hour).
		GenerateAccessToken(OperatorClaims{Subject: "operator", Role: RoleOperator})
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}

	if _, err := NewJWTManager("secret", time.Minute, time.Hour).ValidateAccessToken(token); err != ErrInvalidToken {
		t.Errorf("Expected ErrInvalidToken, got %v", err)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	svc := newTestService(t)

	resp, err := svc.Login(LoginRequest{Username: "operator", Password: "Correct-Horse1"})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	pair, err := svc.Refresh(RefreshRequest{RefreshToken: resp.RefreshToken})
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if pair.RefreshToken == resp.RefreshToken {
		t.Error("Expected refresh to rotate the refresh token")
	}

	// The consumed token must not work a second time.
	if _, err := svc.Refresh(RefreshRequest{RefreshToken: resp.RefreshToken}); err != ErrSessionRevoked {
		t.Errorf("Expected ErrSessionRevoked on reuse, got %v", err)
	}

	if _, err := svc.Refresh(RefreshRequest{RefreshToken: pair.RefreshToken}); err != nil {
		t.Errorf("Rotated token should refresh, got %v", err)
	}
}

func TestRefreshRejectsUnknownToken(t *testing.T) {
	svc := newTestService(t)

	if _, err := svc.Refresh(RefreshRequest{RefreshToken: "never-issued"}); err != ErrSessionRevoked {
		t.Errorf("Expected ErrSessionRevoked, got %v", err)
	}
}

func TestRevokeEndsSession(t *testing.T) {
	svc := newTestService(t)

	resp, err := svc.Login(LoginRequest{Username: "operator", Password: "Correct-Horse1"})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if !svc.Revoke(resp.RefreshToken) {
		t.Error("Expected Revoke to report an existing session")
	}
	if _, err := svc.Refresh(RefreshRequest{RefreshToken: resp.RefreshToken}); err != ErrSessionRevoked {
		t.Errorf("Expected ErrSessionRevoked after revoke, got %v", err)
	}
	if svc.ActiveSessions() != 0 {
		t.Errorf("Expected 0 active sessions, got %d", svc.ActiveSessions())
	}
}

func TestValidatePasswordStrength(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{name: "Strong mixed", password: "Lotus-Trader9", wantErr: false},
		{name: "Three classes", password: "lotustrader9X", wantErr: false},
		{name: "Too short", password: "Lt9!", wantErr: true},
		{name: "Only lowercase", password: "lotustrader", wantErr: true},
		{name: "Two classes", password: "lotustrader99", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePasswordStrength(tt.password)
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected wantErr=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := newTestService(t)

	router := gin.New()
	router.GET("/protected", Middleware(svc.GetJWTManager()), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"subject": GetSubject(c)})
	})

	resp, err := svc.Login(LoginRequest{Username: "operator", Password: "Correct-Horse1"})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	tests := []struct {
		name       string
		header     string
		expectCode int
	}{
		{name: "Valid token", header: "Bearer " + resp.AccessToken, expectCode: http.StatusOK},
		{name: "Missing header", header: "", expectCode: http.StatusUnauthorized},
		{name: "Wrong scheme", header: "Basic abc", expectCode: http.StatusUnauthorized},
		{name: "Garbage token", header: "Bearer not-a-jwt", expectCode: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			if w.Code != tt.expectCode {
				t.Errorf("Expected status %d, got %d", tt.expectCode, w.Code)
			}
		})
	}
}
