package service

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-for-unit-tests"

func sign(t *testing.T, method jwt.SigningMethod, key any, claims Claims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func validClaims(tt TokenType, userID int, perms ...string) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprint(userID),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		TokenType:   tt,
		UserID:      userID,
		Permissions: perms,
	}
}

func TestValidateToken(t *testing.T) {
	v := NewTokenVerifier(testSecret)

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"candidate", sign(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims(TokenTypeCandidate, 17)), false},
		{"admin", sign(t, jwt.SigningMethodHS512, []byte(testSecret), validClaims(TokenTypeAdmin, 1, PermissionAssessmentWrite)), false},
		{"wrong secret", sign(t, jwt.SigningMethodHS256, []byte("other"), validClaims(TokenTypeCandidate, 17)), true},
		{"no subject", sign(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims(TokenTypeCandidate, 0)), true},
		{"none algorithm", sign(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, validClaims(TokenTypeAdmin, 1)), true},
		{"garbage", "not.a.jwt", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.ValidateToken(tt.token)
			if (err != nil) != tt.wantErr {
				t.Fatalf("wantErr=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateTokenExpired(t *testing.T) {
	v := NewTokenVerifier(testSecret)
	c := validClaims(TokenTypeCandidate, 5)
	c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	_, err := v.ValidateToken(sign(t, jwt.SigningMethodHS256, []byte(testSecret), c))
	if !errors.Is(err, jwt.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestHasPermission(t *testing.T) {
	c := validClaims(TokenTypeAdmin, 1, PermissionAssessmentRead)
	if !c.HasPermission(PermissionAssessmentRead) {
		t.Fatalf("expected read permission")
	}
	if c.HasPermission(PermissionAssessmentWrite) {
		t.Fatalf("unexpected write permission")
	}
}

func TestErrorClassification(t *testing.T) {
	wrapped := fmt.Errorf("handler: %w", ErrSectionAlreadySubmitted)
	if !errors.Is(wrapped, ErrSectionAlreadySubmitted) || KindOf(wrapped) != KindStateConflict {
		t.Fatalf("wrapped sentinel lost its identity")
	}

	dep := dependency("load assessment", errors.New("connection refused"))
	if !errors.Is(dep, ErrDependency) || KindOf(dep) != KindDependencyFailure {
		t.Fatalf("dependency error misclassified: %v", dep)
	}

	plain := errors.New("boom")
	if KindOf(plain) != KindDependencyFailure || CodeOf(plain) != ErrDependency.Code {
		t.Fatalf("unknown errors must classify as dependency failures")
	}
}
