package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigPatch_Apply(t *testing.T) {
	cfg := AgentConfig{
		Model:       "model-a",
		Temperature: 0.5,
		MaxTokens:   1024,
		Tools:       []string{"search"},
	}

	model := "model-b"
	temperature := 0.9
	patched := ConfigPatch{Model: &model, Temperature: &temperature}.apply(cfg)

	assert.Equal(t, "model-b", patched.Model)
	assert.Equal(t, 0.9, patched.Temperature)
	assert.Equal(t, 1024, patched.MaxTokens)
	assert.Equal(t, []string{"search"}, patched.Tools)

	// The original is untouched.
	assert.Equal(t, "model-a", cfg.Model)
}

func TestConfigPatch_Merge(t *testing.T) {
	model := "model-b"
	temperature := 0.9
	maxTokens := 2048

	var pending ConfigPatch
	pending.merge(ConfigPatch{Model: &model, MaxTokens: &maxTokens})
	pending.merge(ConfigPatch{Temperature: &temperature})

	other := "model-c"
	pending.merge(ConfigPatch{Model: &other})

	cfg := pending.apply(AgentConfig{Model: "model-a"})
	assert.Equal(t, "model-c", cfg.Model)
	assert.Equal(t, 0.9, cfg.Temperature)
	assert.Equal(t, 2048, cfg.MaxTokens)
}

func TestConfigPatch_IsZero(t *testing.T) {
	assert.True(t, ConfigPatch{}.isZero())

	model := "m"
	assert.False(t, ConfigPatch{Model: &model}.isZero())
	assert.False(t, ConfigPatch{Tools: []string{}}.isZero())
}

func TestAgentConfig_CloneIsolation(t *testing.T) {
	cfg := AgentConfig{
		Model: "m",
		Tools: []string{"a"},
		ProviderOptions: map[string]interface{}{
			"key": "value",
		},
	}

	copied := cfg.clone()
	copied.Tools[0] = "b"
	copied.ProviderOptions["key"] = "other"

	assert.Equal(t, "a", cfg.Tools[0])
	assert.Equal(t, "value", cfg.ProviderOptions["key"])
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.NotEmpty(t, cfg.Model)
	assert.Equal(t, DequeueOne, cfg.SteerMode)
	assert.Equal(t, DequeueAll, cfg.FollowUpMode)
}
