package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/exploopio/grc/pkg/api"
	"github.com/exploopio/grc/pkg/model"
	"github.com/exploopio/grc/pkg/shared/severity"
)

var (
	findingsSeverity string
	findingsStatus   string
	findingsSource   string
	findingsTags     []string
	findingsExpr     string
	findingsJSON     bool
)

var findingsCmd = &cobra.Command{
	Use:   "findings",
	Short: "List the findings of a client",
	Long: `Lists the findings embedded in the client's assessments.

Filters combine with AND. --expr takes a CEL expression over the variable
"finding", for example:

  grc-agent findings --expr 'finding.severity == "critical" && !finding.promotedToRisk'`,
	Args: cobra.NoArgs,
	RunE: runFindings,
}

func init() {
	f := findingsCmd.Flags()
	f.StringVar(&findingsSeverity, "severity", "", "Only findings of this severity")
	f.StringVar(&findingsStatus, "status", "", "Only findings in this status")
	f.StringVar(&findingsSource, "source", "", "Only findings from this assessment type")
	f.StringSliceVar(&findingsTags, "tag", nil, "Only findings carrying any of these tags")
	f.StringVar(&findingsExpr, "expr", "", "CEL filter expression")
	f.BoolVar(&findingsJSON, "json", false, "Output JSON")
}

func runFindings(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	clientID, err := a.clientID()
	if err != nil {
		return err
	}

	filter := &api.FindingFilter{
		SourceType: findingsSource,
		Status:     model.FindingStatus(findingsStatus),
		Tags:       findingsTags,
		Expression: findingsExpr,
	}
	if findingsSeverity != "" {
		filter.Severity = severity.FromString(findingsSeverity)
	}

	findings, err := a.api.Findings.List(ctx, clientID, filter)
	if err != nil {
		return err
	}

	if findingsJSON {
		out, _ := json.MarshalIndent(findings, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSEVERITY\tSTATUS\tASSESSMENT\tTITLE")
	for _, f := range findings {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", f.ID, f.Severity, f.Status, f.AssessmentID, f.Title)
	}
	w.Flush()
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d finding(s)\n", len(findings))
	return nil
}
