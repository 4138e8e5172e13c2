package ratelimit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Quiet period after a file event before reloading, so editors that write in
// several steps trigger a single reload.
const reloadDebounce = 250 * time.Millisecond

// filePolicy is the YAML shape of one policy entry.
type filePolicy struct {
	MaxTokens  int     `yaml:"max_tokens"`
	RefillRate float64 `yaml:"refill_rate"`
	BurstSize  int     `yaml:"burst_size"`
}

// LoadPolicyFile reads a YAML file of policies keyed the same way the limiter
// keys them and installs every entry:
//
//	user:
//	  max_tokens: 120
//	  refill_rate: 2
//	  burst_size: 20
//	"command:/dona-task":
//	  max_tokens: 30
//	  refill_rate: 0.5
//	  burst_size: 5
//
// All entries are validated before any is applied, so a bad file leaves the
// limiter unchanged.
func LoadPolicyFile(l *Limiter, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read policy file: %w", err)
	}

	var entries map[string]filePolicy
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse policy file %s: %w", path, err)
	}

	policies := make(map[string]Policy, len(entries))
	for key, fp := range entries {
		p := Policy{
			MaxTokens:  fp.MaxTokens,
			RefillRate: fp.RefillRate,
			BurstSize:  fp.BurstSize,
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("policy %q: %w", key, err)
		}
		policies[key] = p
	}

	for key, p := range policies {
		if err := l.SetPolicy(key, p); err != nil {
			return err
		}
	}

	l.logger.Info("rate limit policies loaded",
		zap.String("path", path),
		zap.Int("count", len(policies)))
	return nil
}

// WatchPolicyFile reloads the policy file whenever it changes on disk. It
// watches the containing directory so editors that replace the file via
// rename keep triggering events. Blocks until ctx is cancelled; a reload
// failure is logged, the previous policies stay in effect.
func WatchPolicyFile(ctx context.Context, l *Limiter, path string, logger *zap.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create policy watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	logger.Info("watching rate limit policy file", zap.String("path", path))

	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce.Reset(reloadDebounce)
			pending = true

		case <-debounce.C:
			if !pending {
				continue
			}
			pending = false
			if err := LoadPolicyFile(l, path); err != nil {
				logger.Error("rate limit policy reload failed",
					zap.String("path", path),
					zap.Error(err))
				continue
			}
			logger.Info("rate limit policies reloaded", zap.String("path", path))

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("policy watcher error", zap.Error(err))
		}
	}
}
