// Command qbit is the thin CLI adapter over the agent runtime: it wires
// a provider, the built-in tool registry, and a session bridge together,
// streams events to the terminal, and answers approval prompts on stdin.
// The full interactive REPL and desktop shell are separate front-ends;
// this binary covers one-shot prompts and session-archive inspection.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/google/uuid"

	"github.com/qbit-ai/qbit/internal/agent"
	"github.com/qbit-ai/qbit/internal/approval"
	"github.com/qbit-ai/qbit/internal/archive"
	"github.com/qbit-ai/qbit/internal/bridge"
	"github.com/qbit-ai/qbit/internal/coordinator"
	"github.com/qbit-ai/qbit/internal/events"
	"github.com/qbit-ai/qbit/internal/observability"
	"github.com/qbit-ai/qbit/internal/plan"
	"github.com/qbit-ai/qbit/internal/prompt"
	"github.com/qbit-ai/qbit/internal/providers/anthropic"
	"github.com/qbit-ai/qbit/internal/providers/gemini"
	"github.com/qbit-ai/qbit/internal/providers/openai"
	"github.com/qbit-ai/qbit/internal/providers/zai"
	"github.com/qbit-ai/qbit/internal/settings"
	"github.com/qbit-ai/qbit/internal/subagent"
	"github.com/qbit-ai/qbit/internal/tools"
	"github.com/qbit-ai/qbit/internal/tools/builtin"
	"github.com/qbit-ai/qbit/internal/transcript"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootFlags struct {
	provider    string
	model       string
	workspace   string
	autoApprove bool
	otlp        string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "qbit",
		Short:         "Agentic coding assistant runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.provider, "provider", "", "LLM provider (anthropic|openai|gemini|zai); defaults to the project setting, then anthropic")
	root.PersistentFlags().StringVar(&flags.model, "model", "", "model id (provider default when empty)")
	root.PersistentFlags().StringVar(&flags.workspace, "workspace", ".", "workspace directory")
	root.PersistentFlags().BoolVar(&flags.autoApprove, "auto-approve", false, "skip human-in-the-loop approval prompts")
	root.PersistentFlags().StringVar(&flags.otlp, "otlp-endpoint", "", "OTLP gRPC collector for traces")

	root.AddCommand(newRunCmd(flags))
	root.AddCommand(newSessionsCmd())
	return root
}

func newRunCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run one agent turn against the workspace",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTurn(cmd.Context(), flags, strings.Join(args, " "))
		},
	}
}

func runTurn(ctx context.Context, flags *rootFlags, userPrompt string) error {
	shutdownTracing, err := observability.SetupTracing(ctx, observability.TraceConfig{Endpoint: flags.otlp, Insecure: true})
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	// Per-project overrides layer under the CLI flags.
	proj, err := settings.Load(flags.workspace)
	if err != nil {
		return err
	}
	providerName := flags.provider
	if providerName == "" {
		providerName = proj.AI.Provider
	}
	if providerName == "" {
		providerName = "anthropic"
	}
	model := flags.model
	if model == "" {
		model = proj.AI.Model
	}

	provider, err := buildProvider(providerName)
	if err != nil {
		return err
	}
	if model == "" {
		if models := provider.Models(); len(models) > 0 {
			model = models[0].ID
		}
	}

	registry := builtin.NewDefaultRegistry(flags.workspace)
	shared := &bridge.Shared{
		Provider:       provider,
		Registry:       registry,
		Router:         tools.NewRouter(registry),
		SubAgents:      subagent.NewRegistry(),
		Plans:          plan.NewStore(),
		ApprovalPolicy: approval.DefaultPolicy(),
		Workspace:      flags.workspace,
	}
	recorderPath := filepath.Join(flags.workspace, ".qbit", "approvals.json")
	if recorder, err := approval.NewRecorder(recorderPath); err == nil {
		shared.ApprovalRecorder = recorder
	}

	if _, err := shared.SubAgents.LoadDir(filepath.Join(flags.workspace, ".qbit", "agents")); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	specs := tools.BuiltinSpecs()
	for _, def := range shared.SubAgents.List() {
		specs = append(specs, tools.SubAgentSpec(def.ID, def.Name, def.Description))
	}
	shared.Router.SetSpecs(specs)
	shared.ToolDefs = tools.AgentTools(registry, specs)

	prompts := prompt.NewRegistry()
	systemPrompt := prompts.Compose(prompt.Context{
		Provider:     providerName,
		Model:        model,
		HasSubAgents: len(shared.SubAgents.List()) > 0,
	})

	archiveDir, err := archive.DefaultDir()
	if err != nil {
		archiveDir = ""
	}

	manager := bridge.NewManager()
	runtime := &cliRuntime{out: os.Stdout, in: bufio.NewReader(os.Stdin), autoApprove: flags.autoApprove}

	opts := bridge.Options{
		SessionID:    uuid.NewString(),
		Model:        model,
		ProviderName: providerName,
		SystemPrompt: systemPrompt,
		ArchiveDir:   archiveDir,
	}
	if base, err := transcript.DefaultBaseDir(); err == nil {
		if writer, err := transcript.NewWriter(base, opts.SessionID); err == nil {
			opts.Transcript = writer
			defer writer.Close()
		}
	}

	b, err := manager.Create(shared, runtime, opts)
	if err != nil {
		return err
	}
	runtime.coordinator = b.Coordinator()
	b.Coordinator().MarkFrontendReady()

	result, err := b.SendUserMessage(ctx, userPrompt)
	if err != nil {
		return err
	}

	fmt.Fprintln(os.Stdout)
	fmt.Fprintf(os.Stdout, "tokens: %d in / %d out\n", result.Usage.InputTokens, result.Usage.OutputTokens)

	if path, err := manager.Shutdown(b.SessionID); err == nil && path != "" {
		fmt.Fprintf(os.Stdout, "session archived: %s\n", path)
	}
	return nil
}

func newSessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List archived sessions, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := archive.DefaultDir()
			if err != nil {
				return err
			}
			sessions, err := archive.ListSessions(dir)
			if err != nil {
				return err
			}
			for _, s := range sessions {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-12s %-24s %d messages\n",
					s.StartedAt.Format("2006-01-02 15:04"), s.Metadata.WorkspaceLabel, s.Metadata.Model, s.TotalMessages)
			}
			return nil
		},
	}
}

// buildProvider selects an adapter by name, reading its API key from the
// conventional environment variable.
func buildProvider(name string) (agent.LLMProvider, error) {
	switch strings.ToLower(name) {
	case "anthropic":
		return anthropic.New(os.Getenv("ANTHROPIC_API_KEY"))
	case "openai":
		return openai.New(os.Getenv("OPENAI_API_KEY"))
	case "gemini":
		return gemini.New(os.Getenv("GEMINI_API_KEY"))
	case "zai":
		return zai.New(os.Getenv("ZAI_API_KEY"))
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// cliRuntime renders envelopes to the terminal and answers approval
// requests on stdin.
type cliRuntime struct {
	out         *os.File
	in          *bufio.Reader
	autoApprove bool

	coordinator *coordinator.Coordinator
}

func (r *cliRuntime) IsInteractive() bool { return true }
func (r *cliRuntime) AutoApprove() bool   { return r.autoApprove }

func (r *cliRuntime) Emit(env events.Envelope) {
	switch e := env.Event.(type) {
	case events.TextDelta:
		fmt.Fprint(r.out, e.Delta)
	case events.Reasoning:
		// Reasoning stays off the terminal; it is preserved in history.
	case events.ToolRequest:
		d := tools.ResolveDisplay(e.ToolName, e.Args)
		fmt.Fprintf(r.out, "\n%s %s\n", d.Emoji, d.Summary())
	case events.ToolResult:
		if !e.Success {
			fmt.Fprintf(r.out, "  tool failed: %s\n", firstLine(e.Result))
		}
	case events.ToolApprovalRequest:
		r.promptApproval(e)
	case events.ToolDenied:
		fmt.Fprintf(r.out, "  denied: %s\n", e.ToolName)
	case events.LoopWarning:
		fmt.Fprintf(r.out, "  warning: %s called %d times with identical arguments\n", e.ToolName, e.Count)
	case events.LoopBlocked:
		fmt.Fprintf(r.out, "  blocked: %s repeated %d times\n", e.ToolName, e.Count)
	case events.Error:
		fmt.Fprintf(r.out, "error (%s): %s\n", e.ErrorType, e.Message)
	case events.Warning:
		fmt.Fprintf(r.out, "warning: %s\n", e.Message)
	}
}

func (r *cliRuntime) promptApproval(e events.ToolApprovalRequest) {
	d := tools.ResolveDisplay(e.ToolName, e.Args)
	fmt.Fprintf(r.out, "\napprove %s [%s risk]? [y/N] ", d.Summary(), e.RiskLevel)
	line, _ := r.in.ReadString('\n')
	approved := strings.HasPrefix(strings.TrimSpace(strings.ToLower(line)), "y")
	r.coordinator.ResolveApproval(e.RequestID, coordinator.Decision{Approved: approved})
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
