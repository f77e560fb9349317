package cache

import (
	"context"
	"testing"
	"time"
)

func TestChangeNotifier_SetToken(t *testing.T) {
	// No database: refresh never happens and the set token is returned.
	notifier := NewChangeNotifier(nil, "", 5*time.Minute, nil)
	notifier.SetToken("rev-123")

	token, err := notifier.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if token != "rev-123" {
		t.Errorf("Token() = %q, want rev-123", token)
	}
}

func TestChangeNotifier_EmptyToken(t *testing.T) {
	notifier := NewChangeNotifier(nil, "", 5*time.Minute, nil)

	token, err := notifier.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if token != "" {
		t.Errorf("Token() = %q, want empty", token)
	}
}

func TestChangeNotifier_StopTwice(t *testing.T) {
	notifier := NewChangeNotifier(nil, "", 5*time.Minute, nil)

	if err := notifier.Stop(); err != nil {
		t.Errorf("first Stop() error = %v", err)
	}
	if err := notifier.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}
