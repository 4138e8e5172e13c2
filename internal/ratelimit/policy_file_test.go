package ratelimit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func writePolicyFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write policy file: %v", err)
	}
}

func TestLoadPolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.yaml")
	writePolicyFile(t, path, `user:
  max_tokens: 120
  refill_rate: 2
  burst_size: 20
"command:/dona-task":
  max_tokens: 3
  refill_rate: 0.1
  burst_size: 1
`)

	l := newTestLimiter(t)
	if err := LoadPolicyFile(l, path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	l.mu.Lock()
	user := l.policies["user"]
	task := l.policies["command:/dona-task"]
	l.mu.Unlock()

	if user.MaxTokens != 120 || user.RefillRate != 2 || user.BurstSize != 20 {
		t.Errorf("unexpected user policy: %+v", user)
	}
	if task.MaxTokens != 3 {
		t.Errorf("unexpected task policy: %+v", task)
	}
}

func TestLoadPolicyFile_InvalidEntryLeavesPoliciesUntouched(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.yaml")
	writePolicyFile(t, path, `user:
  max_tokens: 120
  refill_rate: 2
  burst_size: 20
broken:
  max_tokens: 0
  refill_rate: 1
  burst_size: 1
`)

	l := newTestLimiter(t)
	if err := LoadPolicyFile(l, path); err == nil {
		t.Fatal("expected an error for the invalid entry")
	}

	// The valid entry in the same file must not have been applied either
	l.mu.Lock()
	user := l.policies["user"]
	l.mu.Unlock()
	if user.MaxTokens != 60 {
		t.Errorf("expected default user policy to survive a failed load, got %+v", user)
	}
}

func TestLoadPolicyFile_MissingFile(t *testing.T) {
	l := newTestLimiter(t)
	if err := LoadPolicyFile(l, filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestWatchPolicyFile_Reloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.yaml")
	write := func(maxTokens int) {
		writePolicyFile(t, path, fmt.Sprintf("user:\n  max_tokens: %d\n  refill_rate: 2\n  burst_size: 20\n", maxTokens))
	}
	write(100)

	l := newTestLimiter(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- WatchPolicyFile(ctx, l, path, zap.NewNop()) }()

	// Give the watcher time to install before touching the file
	time.Sleep(100 * time.Millisecond)
	write(200)

	deadline := time.After(3 * time.Second)
	for {
		l.mu.Lock()
		max := l.policies["user"].MaxTokens
		l.mu.Unlock()
		if max == 200 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("policy never reloaded, user max still %d", max)
		case <-time.After(50 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("watcher returned error: %v", err)
	}
}
