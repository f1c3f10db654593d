package testutil

import (
	"log"
	"os"
	"testing"
	"time"

	"github.com/npezzotti/go-callrelay/internal/auth"
)

func TestLogger(t *testing.T) *log.Logger {
	logger := log.New(os.Stdout, "[test] ", log.LstdFlags)
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
	})
	return logger
}

// Token signs a token for claims that is valid for an hour.
func Token(t *testing.T, signingKey []byte, claims auth.Claims) string {
	t.Helper()

	token, err := auth.CreateToken(signingKey, claims, time.Hour)
	if err != nil {
		t.Fatalf("failed to create token: %v", err)
	}
	return token
}
