package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/core"
	"github.com/hugo-lorenzo-mato/rivalscope/internal/fsutil"
	"github.com/hugo-lorenzo-mato/rivalscope/internal/service"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <company>...",
	Short: "Analyze one or more companies and print the merged report",
	Long: `Run a single analysis session in the foreground. Every enabled provider
is asked about each company; the merged per-company profiles are printed
when the session ends.

Examples:
  # Analyze two companies with every enabled provider
  rivalscope analyze "Acme Corp" Globex

  # Only ask OpenAI and Perplexity, write YAML to a file
  rivalscope analyze Acme --providers openai,perplexity --format yaml --out acme.yaml

  # Exercise the pipeline without API keys
  rivalscope analyze Acme --dry-run`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAnalyze,
}

var (
	analyzeProviders      []string
	analyzeFormat         string
	analyzeOutput         string
	analyzeDryRun         bool
	analyzeIdempotencyKey string
)

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringSliceVar(&analyzeProviders, "providers", nil,
		"providers to ask (default: every enabled provider)")
	analyzeCmd.Flags().StringVarP(&analyzeFormat, "format", "f", "json",
		"output format (json, yaml)")
	analyzeCmd.Flags().StringVarP(&analyzeOutput, "out", "o", "",
		"also write the report to this file")
	analyzeCmd.Flags().BoolVar(&analyzeDryRun, "dry-run", false,
		"use static placeholder providers instead of calling any API")
	analyzeCmd.Flags().StringVar(&analyzeIdempotencyKey, "idempotency-key", "",
		"reuse the session previously started with this key")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	if err := checkFormat(analyzeFormat); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, appOptions{DryRun: analyzeDryRun, Providers: analyzeProviders})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.Shutdown(shutdownCtx)
	}()

	providers := analyzeProviders
	if len(providers) == 0 {
		providers = a.providerNames
	}

	res, err := a.orch.StartAnalysis(ctx, service.AnalysisRequest{
		Targets:        args,
		Providers:      providers,
		IdempotencyKey: analyzeIdempotencyKey,
	})
	if err != nil {
		if core.IsCategory(err, core.ErrCatGate) {
			return fmt.Errorf("analysis denied: %s", strings.Join(core.GateReasons(err), "; "))
		}
		return err
	}
	logger.Info("session started", "session_id", res.SessionID, "replayed", res.Replayed)

	session, err := waitForSession(ctx, a.orch, res.SessionID)
	if err != nil {
		return err
	}

	data, err := renderSession(session, analyzeFormat)
	if err != nil {
		return err
	}
	if _, err := cmd.OutOrStdout().Write(data); err != nil {
		return err
	}
	if analyzeOutput != "" {
		if err := fsutil.WriteFileAtomic(analyzeOutput, data, 0o644); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		logger.Info("report written", "path", analyzeOutput)
	}

	if session.Status == core.SessionFailed {
		return fmt.Errorf("session %s failed: %s", session.ID, session.FailureReason)
	}
	return nil
}

// waitForSession waits for id to finish. An interrupt cancels the session and
// still waits for its final state.
func waitForSession(ctx context.Context, orch *service.Orchestrator, id core.SessionID) (*core.AnalysisSession, error) {
	session, err := orch.Wait(ctx, id)
	if err == nil {
		return session, nil
	}
	if ctx.Err() == nil {
		return nil, err
	}

	cancelCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := orch.Cancel(cancelCtx, id); err != nil && !core.IsCategory(err, core.ErrCatConflict) {
		return nil, fmt.Errorf("cancelling session: %w", err)
	}
	return orch.Wait(cancelCtx, id)
}

func checkFormat(format string) error {
	switch format {
	case "json", "yaml":
		return nil
	default:
		return fmt.Errorf("unknown format %q (want json or yaml)", format)
	}
}

// renderSession encodes the session as indented JSON or as YAML with the
// same keys and key order.
func renderSession(s *core.AnalysisSession, format string) ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding session: %w", err)
	}
	if format != "yaml" {
		return append(data, '\n'), nil
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("converting to yaml: %w", err)
	}
	blockStyle(&node)
	var buf strings.Builder
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return nil, fmt.Errorf("encoding yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return []byte(buf.String()), nil
}

// blockStyle clears the flow and quoting styles that JSON input leaves on
// yaml nodes.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}

// writeJSON prints v as indented JSON.
func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
