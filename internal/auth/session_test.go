package auth

import (
	"testing"
	"time"
)

func TestSessionToken_RoundTrip(t *testing.T) {
	secret := []byte("test-secret-keep-out")

	token, err := GenerateSessionToken("sess-abc", time.Now().Add(time.Hour), secret)
	if err != nil {
		t.Fatalf("GenerateSessionToken failed: %v", err)
	}

	sessionID, err := ParseSessionToken(token, secret)
	if err != nil {
		t.Fatalf("ParseSessionToken failed: %v", err)
	}
	if sessionID != "sess-abc" {
		t.Errorf("Expected session ID sess-abc, got %s", sessionID)
	}
}

func TestSessionToken_Expired(t *testing.T) {
	secret := []byte("test-secret-keep-out")

	token, err := GenerateSessionToken("sess-abc", time.Now().Add(-time.Minute), secret)
	if err != nil {
		t.Fatalf("GenerateSessionToken failed: %v", err)
	}

	_, err = ParseSessionToken(token, secret)
	if err != ErrTokenExpired {
		t.Errorf("Expected ErrTokenExpired, got %v", err)
	}
}

func TestSessionToken_WrongSecret(t *testing.T) {
	token, err := GenerateSessionToken("sess-abc", time.Now().Add(time.Hour), []byte("secret-one"))
	if err != nil {
		t.Fatalf("GenerateSessionToken failed: %v", err)
	}

	_, err = ParseSessionToken(token, []byte("secret-two"))
	if err != ErrInvalidToken {
		t.Errorf("Expected ErrInvalidToken, got %v", err)
	}
}

func TestSessionToken_Garbage(t *testing.T) {
	_, err := ParseSessionToken("not-a-token", []byte("secret"))
	if err != ErrInvalidToken {
		t.Errorf("Expected ErrInvalidToken, got %v", err)
	}
}
