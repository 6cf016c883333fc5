package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/adapters/providers"
	"github.com/hugo-lorenzo-mato/rivalscope/internal/core"
	"github.com/hugo-lorenzo-mato/rivalscope/internal/service"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Show provider availability and the current admission decision",
	Long: `List every configured provider with its availability status, whether an
adapter could be built for it, and whether a new analysis would be admitted
right now.`,
	Args: cobra.NoArgs,
	RunE: runProviders,
}

var providersJSON bool

func init() {
	rootCmd.AddCommand(providersCmd)
	providersCmd.Flags().BoolVar(&providersJSON, "json", false, "print the decision as JSON")
}

// providerRow is one line of the providers listing.
type providerRow struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Model   string `json:"model,omitempty"`
	Active  bool   `json:"active"`
	Status  string `json:"status"`
	Adapter string `json:"adapter"`
}

type providersReport struct {
	Decision  core.GateDecision `json:"gate_decision"`
	Providers []providerRow     `json:"providers"`
}

func runProviders(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx := cmd.Context()
	a := &app{cfg: cfg, logger: logger}
	source, err := a.buildAvailability(ctx)
	if err != nil {
		return err
	}

	registry := providers.NewRegistry()
	providers.ConfigureRegistryFromConfig(registry, cfg, logger)
	_, buildErrs := registry.Build()

	decision, err := service.NewGateEvaluator(source).Overview(ctx)
	if err != nil {
		return err
	}

	report := providersReport{Decision: decision}
	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := cfg.Providers[name]
		st := decision.ProviderStatus[name]
		row := providerRow{
			Name:    name,
			Kind:    p.Kind,
			Model:   p.Model,
			Active:  st.Active,
			Status:  st.Status,
			Adapter: "ok",
		}
		switch {
		case !p.Enabled:
			row.Adapter = "disabled"
		case buildErrs[name] != nil:
			row.Adapter = buildErrs[name].Error()
		}
		report.Providers = append(report.Providers, row)
	}

	if providersJSON {
		return writeJSON(cmd.OutOrStdout(), report)
	}
	return printProviders(cmd.OutOrStdout(), report)
}

func printProviders(w io.Writer, r providersReport) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tKIND\tMODEL\tACTIVE\tSTATUS\tADAPTER")
	for _, p := range r.Providers {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\n", p.Name, p.Kind, p.Model, p.Active, p.Status, p.Adapter)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if r.Decision.Allowed {
		_, err := fmt.Fprintln(w, "\nanalysis: allowed")
		return err
	}
	_, err := fmt.Fprintf(w, "\nanalysis: denied (%s)\n", strings.Join(r.Decision.Reasons, "; "))
	return err
}
