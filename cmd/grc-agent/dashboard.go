package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/exploopio/grc/pkg/cache"
	"github.com/exploopio/grc/pkg/dashboard"
	"github.com/exploopio/grc/pkg/scoring"
)

var (
	dashboardJSON    bool
	dashboardRefresh bool
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Compose the executive dashboard of a client",
	Long: `Fetches the client's findings, risks and assessments in parallel and
prints the overall score, per-control compliance, trends, top risks and
recent activity.

When redis.url is configured the dashboard is served from the shared
cache until its TTL expires. Use --refresh to bypass the cache.`,
	Args: cobra.NoArgs,
	RunE: runDashboard,
}

func init() {
	dashboardCmd.Flags().BoolVar(&dashboardJSON, "json", false, "Output JSON instead of formatted tables")
	dashboardCmd.Flags().BoolVar(&dashboardRefresh, "refresh", false, "Bypass the dashboard cache")
}

// newDashboardService wires the cache configured for a, if any.
func newDashboardService(a *app, fallback cache.Store) (*dashboard.Service, cache.Store, error) {
	store := fallback
	if a.cfg.Redis.URL != "" {
		rs, err := cache.NewRedisStore(cache.RedisOptions{URL: a.cfg.Redis.URL, Prefix: a.cfg.Redis.Prefix})
		if err != nil {
			return nil, nil, err
		}
		store = rs
	}

	opts := []dashboard.Option{dashboard.WithLogger(a.logger), dashboard.WithMetrics(a.metrics)}
	if store != nil {
		opts = append(opts, dashboard.WithCache(store, a.cfg.Redis.TTL))
	}
	return dashboard.NewService(a.api, opts...), store, nil
}

func runDashboard(cmd *cobra.Command, args []string) error {
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

	svc, store, err := newDashboardService(a, nil)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	var d *dashboard.Dashboard
	if dashboardRefresh {
		d, err = svc.Refresh(ctx, clientID)
	} else {
		d, err = svc.ExecutiveDashboard(ctx, clientID)
	}
	if err != nil {
		return err
	}

	if dashboardJSON {
		out, _ := json.MarshalIndent(d, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	}
	printDashboard(cmd.OutOrStdout(), d)
	return nil
}

func printDashboard(out io.Writer, d *dashboard.Dashboard) {
	s := d.Summary
	fmt.Fprintf(out, "Client %s  (generated %s)\n\n", d.ClientID, d.GeneratedAt.Format("2006-01-02 15:04 MST"))
	fmt.Fprintf(out, "Overall score: %d\n", d.OverallScore)
	fmt.Fprintf(out, "  Assessments %3d   Findings %3d   Risks %3d\n\n", s.AssessmentScore, s.FindingScore, s.RiskScore)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FINDINGS\tOPEN\tCRITICAL\tPROMOTED\tRISKS\tACTIVE\tASSESSMENTS\tCOMPLETED")
	fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
		s.TotalFindings, s.OpenFindings, s.CriticalFindings, s.PromotedFindings,
		s.TotalRisks, s.ActiveRisks, s.TotalAssessments, s.CompletedAssessments)
	w.Flush()

	fmt.Fprintln(out, "\nCompliance")
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, control := range scoring.Controls() {
		fmt.Fprintf(w, "  %s\t%d%%\n", control, d.Compliance[control])
	}
	w.Flush()

	t := d.Trends
	fmt.Fprintln(out, "\nTrends")
	fmt.Fprintf(out, "  Findings  30d %+d  90d %+d\n", t.Findings30d.Change, t.Findings90d.Change)
	fmt.Fprintf(out, "  Risks     30d %+d  90d %+d\n", t.Risks30d.Change, t.Risks90d.Change)
	fmt.Fprintf(out, "  Assessment score %s (%.2f/day)\n", t.AssessmentScore.Direction, t.AssessmentScore.Slope)

	if len(d.TopRisks) > 0 {
		fmt.Fprintln(out, "\nTop risks")
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  ID\tNAME\tIMPACT\tLIKELIHOOD\tSTATUS\tSCORE")
		for _, r := range d.TopRisks {
			fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\t%d\n", r.ID, r.Name, r.Impact, r.Likelihood, r.Status, r.Score)
		}
		w.Flush()
	}

	if len(d.RecentActivity) > 0 {
		fmt.Fprintln(out, "\nRecent activity")
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, act := range d.RecentActivity {
			fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", act.Date.Format("2006-01-02"), act.Kind, act.ID, act.Title)
		}
		w.Flush()
	}
}
