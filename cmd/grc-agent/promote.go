package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/exploopio/grc/pkg/api"
	"github.com/exploopio/grc/pkg/model"
	"github.com/exploopio/grc/pkg/promotion"
	"github.com/exploopio/grc/pkg/shared/severity"
)

var (
	promoteName           string
	promoteDescription    string
	promoteImpact         string
	promoteLikelihood     string
	promoteCategory       string
	promoteBusinessImpact string
	promoteTreatment      string
	promoteJSON           bool
)

var promoteCmd = &cobra.Command{
	Use:   "promote <finding-id>",
	Short: "Promote a finding to a tracked risk",
	Long: `Creates a risk from the finding, marks the finding promoted inside its
assessment and records the findings_to_risk mapping.

Name, description and category default to the finding's title,
description and category. If the assessment cannot be updated, the new
risk is deleted again. A failed mapping write is queued in the outbox
when outbox.path is configured.`,
	Args: cobra.ExactArgs(1),
	RunE: runPromote,
}

func init() {
	f := promoteCmd.Flags()
	f.StringVar(&promoteName, "name", "", "Risk name (default: finding title)")
	f.StringVar(&promoteDescription, "description", "", "Risk description (default: finding description)")
	f.StringVar(&promoteImpact, "impact", "", "Impact: high, medium or low (required)")
	f.StringVar(&promoteLikelihood, "likelihood", "", "Likelihood: high, medium or low (required)")
	f.StringVar(&promoteCategory, "category", "", "Risk category (default: finding category)")
	f.StringVar(&promoteBusinessImpact, "business-impact", "", "Business impact statement")
	f.StringVar(&promoteTreatment, "treatment", "", "Treatment approach (mitigate, accept, transfer, avoid)")
	f.BoolVar(&promoteJSON, "json", false, "Output JSON")
	_ = promoteCmd.MarkFlagRequired("impact")
	_ = promoteCmd.MarkFlagRequired("likelihood")
}

func parseRating(flag, v string) (severity.Rating, error) {
	r := severity.Rating(v)
	if !r.Valid() {
		return "", fmt.Errorf("--%s must be high, medium or low, got %q", flag, v)
	}
	return r, nil
}

func runPromote(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	impact, err := parseRating("impact", promoteImpact)
	if err != nil {
		return err
	}
	likelihood, err := parseRating("likelihood", promoteLikelihood)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	clientID, err := a.clientID()
	if err != nil {
		return err
	}

	findings, err := a.api.Findings.List(ctx, clientID, nil)
	if err != nil {
		return err
	}
	finding, err := api.EnsureExists("Finding", findings, func(f model.Finding) bool { return f.ID == args[0] })
	if err != nil {
		return err
	}
	if finding.PromotedToRisk {
		return fmt.Errorf("finding %s is already promoted to risk %s", finding.ID, finding.RiskID)
	}

	cfg := promotion.DefaultConfig(a.api)
	cfg.LegacyAssessmentFallback = *a.cfg.Promotion.LegacyAssessmentFallback
	cfg.Logger = a.logger
	cfg.Metrics = a.metrics
	cfg.Audit = a.auditRecorder()
	if a.outbox != nil {
		cfg.Outbox = a.outbox
	}
	engine, err := promotion.NewEngine(cfg)
	if err != nil {
		return err
	}

	in := promotion.RiskInput{
		ClientID:       clientID,
		Name:           orDefault(promoteName, finding.Title),
		Description:    orDefault(promoteDescription, finding.Description),
		Impact:         impact,
		Likelihood:     likelihood,
		Category:       orDefault(promoteCategory, finding.Category),
		BusinessImpact: promoteBusinessImpact,
		Treatment:      model.Treatment{Approach: promoteTreatment},
	}

	result, err := engine.PromoteToRisk(ctx, &finding, in)
	if err != nil {
		return err
	}

	if promoteJSON {
		out, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Finding %s promoted to risk %s (assessment %s)\n", finding.ID, result.RiskID, result.AssessmentID)
	if !result.FindingPatched {
		fmt.Fprintln(cmd.OutOrStdout(), "Warning: the finding was not found in its assessment and was not marked promoted")
	}
	if result.MappingDeferred {
		fmt.Fprintln(cmd.OutOrStdout(), "Warning: the findings_to_risk mapping could not be written")
	}
	return nil
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
