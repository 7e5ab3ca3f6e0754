package toolexecutor

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryConfig controls automatic retry of failed tool executions.
type RetryConfig struct {
	Enabled        bool
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig returns the default retry configuration (disabled).
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Enabled:        false,
		MaxAttempts:    3,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
	}
}

// SetRetryConfig sets the retry configuration for this executor.
func (te *ToolExecutor) SetRetryConfig(cfg RetryConfig) {
	te.mu.Lock()
	defer te.mu.Unlock()
	te.retry = cfg
}

// ExecuteWithRetry executes a tool, retrying transient failures with
// exponential backoff. Permanent failures (validation, policy, unknown
// tool, non-transient handler errors) are returned immediately.
func (te *ToolExecutor) ExecuteWithRetry(ctx context.Context, toolName string, params map[string]interface{}, execCtx *ExecutionContext) ToolResult {
	te.mu.RLock()
	cfg := te.retry
	te.mu.RUnlock()

	if !cfg.Enabled || cfg.MaxAttempts <= 1 {
		return te.Execute(ctx, toolName, params, execCtx)
	}

	backoff := cfg.InitialBackoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}

	var result ToolResult
	attempts := 0

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		attempts++
		result = te.Execute(ctx, toolName, params, execCtx)
		if result.Success || !isTransientError(result.Error) {
			break
		}

		if attempt == cfg.MaxAttempts-1 {
			break
		}

		log.Info().
			Str("tool", toolName).
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Msg("Retrying tool after transient error")

		select {
		case <-ctx.Done():
			result.Error = ctx.Err().Error()
			result.Success = false
			if result.Metadata == nil {
				result.Metadata = map[string]interface{}{}
			}
			result.Metadata["retry_attempts"] = attempts - 1
			return result
		case <-time.After(backoff):
		}

		backoff *= 2
		if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}

	if result.Metadata == nil {
		result.Metadata = map[string]interface{}{}
	}
	result.Metadata["retry_attempts"] = attempts - 1

	return result
}

// isTransientError reports whether a tool failure is worth retrying.
func isTransientError(errMsg string) bool {
	if errMsg == "" {
		return false
	}

	msg := strings.ToLower(errMsg)

	transient := []string{
		"timeout",
		"timed out",
		"connection reset",
		"connection refused",
		"temporarily unavailable",
		"rate limit",
		"429",
		"502",
		"503",
		"504",
	}
	for _, marker := range transient {
		if strings.Contains(msg, marker) {
			return true
		}
	}

	return false
}
