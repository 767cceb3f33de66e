package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.RegisteredClaims, method jwt.SigningMethod) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func validClaims(sub string) jwt.RegisteredClaims {
	now := time.Now().UTC()
	return jwt.RegisteredClaims{
		Subject:   sub,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}
}

func authRouter() (*gin.Engine, *string) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	var seen string
	r.GET("/p", Auth(testSecret), func(c *gin.Context) {
		uid, _ := UserID(c)
		seen = uid
		c.Status(http.StatusOK)
	})
	return r, &seen
}

func TestAuth_ValidToken(t *testing.T) {
	r, seen := authRouter()

	tok := signToken(t, testSecret, validClaims("user-42"), jwt.SigningMethodHS256)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if *seen != "user-42" {
		t.Fatalf("user id = %q", *seen)
	}
}

func TestAuth_Rejections(t *testing.T) {
	expired := validClaims("user-42")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().UTC().Add(-time.Hour))

	noExpiry := jwt.RegisteredClaims{Subject: "user-42"}
	noSubject := validClaims("")

	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic abc"},
		{"empty bearer", "Bearer   "},
		{"garbage token", "Bearer not.a.jwt"},
		{"wrong secret", "Bearer " + signToken(t, "other-secret", validClaims("user-42"), jwt.SigningMethodHS256)},
		{"expired", "Bearer " + signToken(t, testSecret, expired, jwt.SigningMethodHS256)},
		{"no expiry claim", "Bearer " + signToken(t, testSecret, noExpiry, jwt.SigningMethodHS256)},
		{"empty subject", "Bearer " + signToken(t, testSecret, noSubject, jwt.SigningMethodHS256)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, seen := authRouter()
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/p", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			r.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", w.Code)
			}
			if *seen != "" {
				t.Fatalf("handler ran with user %q", *seen)
			}
		})
	}
}

func TestAuth_RejectsWrongAlgorithm(t *testing.T) {
	// alg=none style downgrade: HMAC-only validation must refuse it.
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, validClaims("user-42"))
	signed, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}

	r, _ := authRouter()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}
