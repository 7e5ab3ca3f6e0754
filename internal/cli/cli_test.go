package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/kemudi/internal/config"
	"github.com/harun/kemudi/pkg/agent"
)

type idleStreamer struct{}

func (idleStreamer) Stream(ctx context.Context, req agent.StreamRequest) (<-chan agent.StreamEvent, error) {
	out := make(chan agent.StreamEvent, 1)
	out <- agent.StreamEvent{Kind: agent.StreamTurnFinish, Finish: agent.FinishStop}
	close(out)
	return out, nil
}

func (idleStreamer) Provider() string { return "idle" }

func TestRootCommand(t *testing.T) {
	root := GetRootCmd()
	assert.Equal(t, "kemudi", root.Use)

	var names []string
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	assert.Contains(t, names, "chat")
	assert.Contains(t, names, "configure")
}

func TestConfigure_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kemudi.json")
	cfgFile = path
	defer func() { cfgFile = "" }()

	configureProvider = "openai"
	configureModel = "gpt-test"
	configureAPIKey = "secret"
	defer func() { configureProvider, configureModel, configureAPIKey = "", "", "" }()

	cmd := GetRootCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)

	require.NoError(t, runConfigure(configureCmd, nil))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.Agent.Provider)
	assert.Equal(t, "gpt-test", cfg.Agent.Model)
	assert.Equal(t, "secret", cfg.Providers.OpenAIAPIKey)
}

func TestHandleCommand(t *testing.T) {
	a, err := agent.New(agent.Options{Streamer: idleStreamer{}})
	require.NoError(t, err)

	ctx := context.Background()

	t.Run("plain text is not a command", func(t *testing.T) {
		var buf bytes.Buffer
		handled, quit := handleCommand(ctx, &buf, a, "hello")
		assert.False(t, handled)
		assert.False(t, quit)
	})

	t.Run("quit", func(t *testing.T) {
		var buf bytes.Buffer
		handled, quit := handleCommand(ctx, &buf, a, "/quit")
		assert.True(t, handled)
		assert.True(t, quit)
	})

	t.Run("steer without session", func(t *testing.T) {
		var buf bytes.Buffer
		handled, quit := handleCommand(ctx, &buf, a, "/steer go left")
		assert.True(t, handled)
		assert.False(t, quit)
		assert.Contains(t, buf.String(), "no session to steer")
	})

	t.Run("unknown command", func(t *testing.T) {
		var buf bytes.Buffer
		handled, _ := handleCommand(ctx, &buf, a, "/bogus")
		assert.True(t, handled)
		assert.Contains(t, buf.String(), "unknown command")
	})

	t.Run("recover with empty context reports failure", func(t *testing.T) {
		var buf bytes.Buffer
		handled, _ := handleCommand(ctx, &buf, a, "/recover")
		assert.True(t, handled)
		assert.Contains(t, buf.String(), "recover failed")
	})
}

func TestToolExecutionContext(t *testing.T) {
	t.Run("empty allow list allows everything", func(t *testing.T) {
		execCtx := toolExecutionContext(config.ToolsConfig{TimeoutS: 10})
		require.NotNil(t, execCtx.Policy)
		assert.True(t, execCtx.Policy.IsToolAllowed("read_file"))
		assert.Equal(t, 10*time.Second, execCtx.Timeout)
	})

	t.Run("deny overrides the wildcard", func(t *testing.T) {
		execCtx := toolExecutionContext(config.ToolsConfig{Deny: []string{"write_file"}})
		assert.True(t, execCtx.Policy.IsToolAllowed("read_file"))
		assert.False(t, execCtx.Policy.IsToolAllowed("write_file"))
	})

	t.Run("explicit allow list is exclusive", func(t *testing.T) {
		execCtx := toolExecutionContext(config.ToolsConfig{Allow: []string{"current_time"}})
		assert.True(t, execCtx.Policy.IsToolAllowed("current_time"))
		assert.False(t, execCtx.Policy.IsToolAllowed("read_file"))
	})
}

func TestAgentConfigPatch(t *testing.T) {
	base := config.AgentConfig{
		Model:        "model-a",
		Temperature:  0.7,
		MaxTokens:    4096,
		SteerMode:    "one",
		FollowUpMode: "all",
	}

	t.Run("no changes yields an empty patch", func(t *testing.T) {
		assert.Equal(t, agent.ConfigPatch{}, agentConfigPatch(base, base))
	})

	t.Run("changed fields become pointers", func(t *testing.T) {
		next := base
		next.Model = "model-b"
		next.Temperature = 0.2
		next.SteerMode = "all"

		patch := agentConfigPatch(base, next)
		require.NotNil(t, patch.Model)
		assert.Equal(t, "model-b", *patch.Model)
		require.NotNil(t, patch.Temperature)
		assert.Equal(t, 0.2, *patch.Temperature)
		require.NotNil(t, patch.SteerMode)
		assert.Equal(t, agent.DequeueAll, *patch.SteerMode)
		assert.Nil(t, patch.MaxTokens)
		assert.Nil(t, patch.FollowUpMode)
	})

	t.Run("cleared model is not patched", func(t *testing.T) {
		next := base
		next.Model = ""
		assert.Nil(t, agentConfigPatch(base, next).Model)
	})
}
