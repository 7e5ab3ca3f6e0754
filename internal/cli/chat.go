package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/kemudi/internal/config"
	"github.com/harun/kemudi/internal/logger"
	"github.com/harun/kemudi/internal/observability"
	"github.com/harun/kemudi/internal/tracing"
	"github.com/harun/kemudi/pkg/agent"
	"github.com/harun/kemudi/pkg/coretools"
	"github.com/harun/kemudi/pkg/toolexecutor"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long: `Start an interactive session against the configured model.

While a response is streaming:
  /steer <text>   redirect the current turn at its next checkpoint
  /abort [reason] cancel the current session
Other commands:
  /recover        resume after an abort or error
  /reset          clear the conversation
  /quit           exit`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()

	if cfg.Tracing.Enabled {
		err := tracing.Init(tracing.Options{
			ServiceName: "kemudi",
			SampleRatio: cfg.Tracing.SampleRatio,
			Exporter:    cfg.Tracing.Exporter,
		})
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize tracing")
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = tracing.Shutdown(shutdownCtx)
		}()
	}

	if cfg.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.MetricsHandler())
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				log.Warn().Err(err).Msg("metrics endpoint failed")
			}
		}()
	}

	executor := toolexecutor.New()
	var execCtx *toolexecutor.ExecutionContext
	if cfg.Tools.Enabled {
		if err := coretools.Register(executor, coretools.Options{WorkspaceRoot: cfg.Tools.Workspace}); err != nil {
			return err
		}
		execCtx = toolExecutionContext(cfg.Tools)
		if cfg.Tools.Retry.Enabled {
			executor.SetRetryConfig(toolexecutor.RetryConfig{
				Enabled:        true,
				MaxAttempts:    cfg.Tools.Retry.MaxAttempts,
				InitialBackoff: time.Duration(cfg.Tools.Retry.InitialBackoffMS) * time.Millisecond,
				MaxBackoff:     time.Duration(cfg.Tools.Retry.MaxBackoffMS) * time.Millisecond,
			})
		}
	}

	streamer, err := agent.NewStreamer(cfg.Agent.Provider, cfg.APIKey(), executor, execCtx)
	if err != nil {
		return err
	}

	a, err := agent.New(agent.Options{
		Streamer: streamer,
		Config: agent.AgentConfig{
			Model:        cfg.Agent.Model,
			SystemPrompt: cfg.Agent.SystemPrompt,
			Temperature:  cfg.Agent.Temperature,
			TopP:         cfg.Agent.TopP,
			MaxTokens:    cfg.Agent.MaxTokens,
			SteerMode:    agent.DequeueMode(cfg.Agent.SteerMode),
			FollowUpMode: agent.DequeueMode(cfg.Agent.FollowUpMode),
		},
		Logger: log.GetZerolog(),
	})
	if err != nil {
		return err
	}

	// Edits to the config file feed the agent as a deferred patch, applied
	// at its next safe checkpoint.
	cfgPath := cfgFile
	if cfgPath == "" {
		if p, perr := config.DefaultPath(); perr == nil {
			cfgPath = p
		}
	}
	if cfgPath != "" {
		prev := cfg.Agent
		watcher := config.NewWatcher(cfgPath, log.GetZerolog(), func(next *config.Config) {
			a.UpdateConfig(agentConfigPatch(prev, next.Agent))
			prev = next.Agent
		})
		go func() {
			if err := watcher.Run(cmd.Context()); err != nil {
				log.Warn().Err(err).Msg("config watcher stopped")
			}
		}()
	}

	out := cmd.OutOrStdout()
	unsubscribe := a.Subscribe(func(ev agent.Event) {
		switch ev.Type {
		case agent.EventTextEnd:
			if ev.Part != nil {
				fmt.Fprintf(out, "\n%s\n", ev.Part.Text)
			}
		case agent.EventToolCall:
			if ev.Part != nil {
				fmt.Fprintf(out, "[tool] %s\n", ev.Part.ToolName)
			}
		case agent.EventToolError:
			if ev.Part != nil {
				fmt.Fprintf(out, "[tool error] %s: %v\n", ev.Part.ToolName, ev.Part.Output)
			}
		case agent.EventTurnError:
			fmt.Fprintf(out, "[error] %v (use /recover to retry)\n", ev.Err)
		case agent.EventTurnSteer:
			fmt.Fprintln(out, "[steering]")
		case agent.EventSessionEnd:
			fmt.Fprintln(out, "---")
		}
	})
	defer unsubscribe()

	fmt.Fprintf(out, "kemudi chat (%s / %s), /quit to exit\n", cfg.Agent.Provider, cfg.Agent.Model)

	ctx := cmd.Context()
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if handled, quit := handleCommand(ctx, out, a, line); quit {
			break
		} else if handled {
			continue
		}

		if a.Running() {
			if !a.FollowUp(agent.TextPrompt(line)) {
				fmt.Fprintln(out, "could not queue follow-up")
			}
			continue
		}
		if !a.Start(ctx, agent.TextPrompt(line)) {
			fmt.Fprintln(out, "could not start session")
		}
	}

	_ = a.Abort("cli exiting")
	return scanner.Err()
}

// toolExecutionContext builds the executor policy and timeout from the tools
// config. An empty allow list allows every registered tool.
func toolExecutionContext(tools config.ToolsConfig) *toolexecutor.ExecutionContext {
	allow := tools.Allow
	if len(allow) == 0 {
		allow = []string{"*"}
	}

	execCtx := &toolexecutor.ExecutionContext{
		Policy: &toolexecutor.ToolPolicy{
			Allow: allow,
			Deny:  tools.Deny,
		},
	}
	if tools.TimeoutS > 0 {
		execCtx.Timeout = time.Duration(tools.TimeoutS) * time.Second
	}
	return execCtx
}

// agentConfigPatch diffs two file-level agent configs into the patch the
// run-loop applies at its next safe checkpoint. Unchanged fields stay nil.
func agentConfigPatch(prev, next config.AgentConfig) agent.ConfigPatch {
	var patch agent.ConfigPatch
	if next.Model != prev.Model && next.Model != "" {
		patch.Model = &next.Model
	}
	if next.SystemPrompt != prev.SystemPrompt {
		patch.SystemPrompt = &next.SystemPrompt
	}
	if next.Temperature != prev.Temperature {
		patch.Temperature = &next.Temperature
	}
	if next.TopP != prev.TopP {
		patch.TopP = &next.TopP
	}
	if next.MaxTokens != prev.MaxTokens && next.MaxTokens > 0 {
		patch.MaxTokens = &next.MaxTokens
	}
	if next.SteerMode != prev.SteerMode && next.SteerMode != "" {
		mode := agent.DequeueMode(next.SteerMode)
		patch.SteerMode = &mode
	}
	if next.FollowUpMode != prev.FollowUpMode && next.FollowUpMode != "" {
		mode := agent.DequeueMode(next.FollowUpMode)
		patch.FollowUpMode = &mode
	}
	return patch
}

func handleCommand(ctx context.Context, out io.Writer, a *agent.Agent, line string) (handled, quit bool) {
	if !strings.HasPrefix(line, "/") {
		return false, false
	}

	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "/quit", "/exit":
		return true, true

	case "/steer":
		if rest == "" {
			fmt.Fprintln(out, "usage: /steer <text>")
		} else if !a.Steer(agent.TextPrompt(rest)) {
			fmt.Fprintln(out, "no session to steer")
		}

	case "/abort":
		reason := rest
		if reason == "" {
			reason = "user requested abort"
		}
		if err := a.Abort(reason); err != nil {
			fmt.Fprintf(out, "abort failed: %v\n", err)
		}

	case "/recover":
		if err := a.Recover(ctx); err != nil {
			fmt.Fprintf(out, "recover failed: %v\n", err)
		}

	case "/reset":
		if err := a.Reset(); err != nil {
			fmt.Fprintf(out, "reset failed: %v\n", err)
		}

	default:
		fmt.Fprintf(out, "unknown command: %s\n", cmd)
	}
	return true, false
}
