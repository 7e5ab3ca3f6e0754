package agent

// AgentConfig configures model selection, sampling and queue behavior.
// Fields are copied on input and read so external aliasing cannot mutate
// internal state after the fact.
type AgentConfig struct {
	Model           string                 `json:"model"`
	SystemPrompt    string                 `json:"system_prompt,omitempty"`
	Temperature     float64                `json:"temperature,omitempty"`
	TopP            float64                `json:"top_p,omitempty"`
	TopK            int                    `json:"top_k,omitempty"`
	MaxTokens       int                    `json:"max_tokens,omitempty"`
	Tools           []string               `json:"tools,omitempty"`
	SteerMode       DequeueMode            `json:"steer_mode,omitempty"`
	FollowUpMode    DequeueMode            `json:"follow_up_mode,omitempty"`
	ProviderOptions map[string]interface{} `json:"provider_options,omitempty"`
}

// DefaultConfig returns the default agent configuration.
func DefaultConfig() AgentConfig {
	return AgentConfig{
		Model:        "claude-sonnet-4-20250514",
		Temperature:  0.7,
		MaxTokens:    4096,
		SteerMode:    DequeueOne,
		FollowUpMode: DequeueAll,
	}
}

func (c AgentConfig) clone() AgentConfig {
	out := c
	if c.Tools != nil {
		out.Tools = append([]string(nil), c.Tools...)
	}
	if c.ProviderOptions != nil {
		out.ProviderOptions = make(map[string]interface{}, len(c.ProviderOptions))
		for k, v := range c.ProviderOptions {
			out.ProviderOptions[k] = v
		}
	}
	return out
}

// ConfigPatch is an incremental configuration update. Nil fields are left
// unchanged. Patches issued mid-turn are merged into a single pending patch
// and applied atomically at the next safe checkpoint.
type ConfigPatch struct {
	Model           *string                `json:"model,omitempty"`
	SystemPrompt    *string                `json:"system_prompt,omitempty"`
	Temperature     *float64               `json:"temperature,omitempty"`
	TopP            *float64               `json:"top_p,omitempty"`
	TopK            *int                   `json:"top_k,omitempty"`
	MaxTokens       *int                   `json:"max_tokens,omitempty"`
	Tools           []string               `json:"tools,omitempty"`
	SteerMode       *DequeueMode           `json:"steer_mode,omitempty"`
	FollowUpMode    *DequeueMode           `json:"follow_up_mode,omitempty"`
	ProviderOptions map[string]interface{} `json:"provider_options,omitempty"`
}

// merge overlays other onto p; other's set fields win.
func (p *ConfigPatch) merge(other ConfigPatch) {
	if other.Model != nil {
		p.Model = other.Model
	}
	if other.SystemPrompt != nil {
		p.SystemPrompt = other.SystemPrompt
	}
	if other.Temperature != nil {
		p.Temperature = other.Temperature
	}
	if other.TopP != nil {
		p.TopP = other.TopP
	}
	if other.TopK != nil {
		p.TopK = other.TopK
	}
	if other.MaxTokens != nil {
		p.MaxTokens = other.MaxTokens
	}
	if other.Tools != nil {
		p.Tools = append([]string(nil), other.Tools...)
	}
	if other.SteerMode != nil {
		p.SteerMode = other.SteerMode
	}
	if other.FollowUpMode != nil {
		p.FollowUpMode = other.FollowUpMode
	}
	if other.ProviderOptions != nil {
		if p.ProviderOptions == nil {
			p.ProviderOptions = make(map[string]interface{}, len(other.ProviderOptions))
		}
		for k, v := range other.ProviderOptions {
			p.ProviderOptions[k] = v
		}
	}
}

// apply returns cfg with the patch's set fields replaced.
func (p ConfigPatch) apply(cfg AgentConfig) AgentConfig {
	out := cfg.clone()
	if p.Model != nil {
		out.Model = *p.Model
	}
	if p.SystemPrompt != nil {
		out.SystemPrompt = *p.SystemPrompt
	}
	if p.Temperature != nil {
		out.Temperature = *p.Temperature
	}
	if p.TopP != nil {
		out.TopP = *p.TopP
	}
	if p.TopK != nil {
		out.TopK = *p.TopK
	}
	if p.MaxTokens != nil {
		out.MaxTokens = *p.MaxTokens
	}
	if p.Tools != nil {
		out.Tools = append([]string(nil), p.Tools...)
	}
	if p.SteerMode != nil {
		out.SteerMode = *p.SteerMode
	}
	if p.FollowUpMode != nil {
		out.FollowUpMode = *p.FollowUpMode
	}
	if p.ProviderOptions != nil {
		if out.ProviderOptions == nil {
			out.ProviderOptions = make(map[string]interface{}, len(p.ProviderOptions))
		}
		for k, v := range p.ProviderOptions {
			out.ProviderOptions[k] = v
		}
	}
	return out
}

func (p ConfigPatch) isZero() bool {
	return p.Model == nil && p.SystemPrompt == nil && p.Temperature == nil &&
		p.TopP == nil && p.TopK == nil && p.MaxTokens == nil && p.Tools == nil &&
		p.SteerMode == nil && p.FollowUpMode == nil && p.ProviderOptions == nil
}
