package services

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"

	"github.com/avachat/backend/internal/repo"
)

func newAuthService(db *gorm.DB) *AuthService {
	return &AuthService{DB: db, JWTSecret: "test-secret", TokenTTL: time.Hour}
}

func TestRegister_CreatesUserAndSettings(t *testing.T) {
	db := newTestDB(t)
	svc := newAuthService(db)
	ctx := context.Background()

	u, err := svc.Register(ctx, "  Ada  ", "Ada@Example.COM", "hunter2secret")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if u.Name != "Ada" || u.Email != "ada@example.com" {
		t.Fatalf("unexpected user: %+v", u)
	}
	if u.PasswordHash == "hunter2secret" {
		t.Fatalf("password stored in the clear")
	}

	// Registration seeds the default settings row.
	row, err := repo.GetSettings(ctx, db, u.ID)
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	if row.SelectedAvatar != DefaultAvatar || row.SelectedVoice != DefaultVoice {
		t.Fatalf("unexpected settings: %+v", row)
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	svc := newAuthService(newTestDB(t))
	ctx := context.Background()

	if _, err := svc.Register(ctx, "Ada", "ada@example.com", "hunter2secret"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := svc.Register(ctx, "Other", "ADA@example.com", "different-pass"); err != ErrEmailTaken {
		t.Fatalf("err = %v, want ErrEmailTaken", err)
	}
}

func TestLogin(t *testing.T) {
	svc := newAuthService(newTestDB(t))
	ctx := context.Background()

	reg, err := svc.Register(ctx, "Ada", "ada@example.com", "hunter2secret")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	u, tok, err := svc.Login(ctx, "ADA@example.com ", "hunter2secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if u.ID != reg.ID {
		t.Fatalf("user id = %q, want %q", u.ID, reg.ID)
	}
	if tok.Value == "" || !tok.ExpiresAt.After(time.Now()) {
		t.Fatalf("unexpected token: %+v", tok)
	}

	// The token subject is the user id.
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(tok.Value, &claims, func(tk *jwt.Token) (any, error) {
		return []byte("test-secret"), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		t.Fatalf("parse token: %v", err)
	}
	if claims.Subject != reg.ID {
		t.Fatalf("subject = %q, want %q", claims.Subject, reg.ID)
	}
}

func TestLogin_Failures(t *testing.T) {
	svc := newAuthService(newTestDB(t))
	ctx := context.Background()

	if _, err := svc.Register(ctx, "Ada", "ada@example.com", "hunter2secret"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	cases := []struct{ name, email, password string }{
		{"wrong password", "ada@example.com", "wrong"},
		{"unknown email", "nobody@example.com", "hunter2secret"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := svc.Login(ctx, tc.email, tc.password)
			if err != ErrInvalidCredentials {
				t.Fatalf("err = %v, want ErrInvalidCredentials", err)
			}
		})
	}
}
