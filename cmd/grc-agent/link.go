package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/exploopio/grc/pkg/audit"
)

var (
	linkDelete bool
	linkJSON   bool
)

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Manage risk, objective and initiative links",
}

var linkRiskObjectiveCmd = &cobra.Command{
	Use:   "risk-objective <risk-id> <objective-id>",
	Short: "Link a risk to an objective (or unlink with --delete)",
	Args:  cobra.ExactArgs(2),
	RunE:  runLinkRiskObjective,
}

var linkObjectiveInitiativeCmd = &cobra.Command{
	Use:   "objective-initiative <objective-id> <initiative-id>",
	Short: "Link an objective to an initiative (or unlink with --delete)",
	Args:  cobra.ExactArgs(2),
	RunE:  runLinkObjectiveInitiative,
}

var linkListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every risk-objective and objective-initiative link",
	Args:  cobra.NoArgs,
	RunE:  runLinkList,
}

func init() {
	linkCmd.PersistentFlags().BoolVar(&linkDelete, "delete", false, "Remove the link instead of creating it")
	linkListCmd.Flags().BoolVar(&linkJSON, "json", false, "Output JSON")

	linkCmd.AddCommand(linkRiskObjectiveCmd)
	linkCmd.AddCommand(linkObjectiveInitiativeCmd)
	linkCmd.AddCommand(linkListCmd)
}

func runLinkRiskObjective(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	riskID, objectiveID := args[0], args[1]
	if linkDelete {
		if err := a.api.Links.DeleteRiskObjectiveMapping(ctx, riskID, objectiveID); err != nil {
			return err
		}
		logLink(a, audit.EventLinkDeleted, "risk_to_objective", riskID, objectiveID)
		fmt.Fprintf(cmd.OutOrStdout(), "Unlinked risk %s from objective %s\n", riskID, objectiveID)
		return nil
	}

	link, err := a.api.Links.CreateRiskObjectiveMapping(ctx, riskID, objectiveID)
	if err != nil {
		return err
	}
	logLink(a, audit.EventLinkCreated, "risk_to_objective", riskID, objectiveID)
	fmt.Fprintf(cmd.OutOrStdout(), "Linked risk %s to objective %s (%s, %s)\n", riskID, objectiveID, link.ID, link.DateLinked)
	return nil
}

func runLinkObjectiveInitiative(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	objectiveID, initiativeID := args[0], args[1]
	if linkDelete {
		if err := a.api.Links.DeleteObjectiveInitiativeMapping(ctx, objectiveID, initiativeID); err != nil {
			return err
		}
		logLink(a, audit.EventLinkDeleted, "objective_to_initiative", objectiveID, initiativeID)
		fmt.Fprintf(cmd.OutOrStdout(), "Unlinked objective %s from initiative %s\n", objectiveID, initiativeID)
		return nil
	}

	link, err := a.api.Links.CreateObjectiveInitiativeMapping(ctx, objectiveID, initiativeID)
	if err != nil {
		return err
	}
	logLink(a, audit.EventLinkCreated, "objective_to_initiative", objectiveID, initiativeID)
	fmt.Fprintf(cmd.OutOrStdout(), "Linked objective %s to initiative %s (%s, %s)\n", objectiveID, initiativeID, link.ID, link.DateLinked)
	return nil
}

func logLink(a *app, eventType audit.EventType, table, from, to string) {
	audit.OrNop(a.auditRecorder()).Log(audit.Event{
		Type:     eventType,
		ClientID: a.cfg.ClientID,
		Message:  fmt.Sprintf("%s %s -> %s", table, from, to),
		Details:  map[string]any{"table": table, "from": from, "to": to},
	})
}

func runLinkList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ro, err := a.api.Links.ListRiskObjectiveMappings(ctx)
	if err != nil {
		return err
	}
	oi, err := a.api.Links.ListObjectiveInitiativeMappings(ctx)
	if err != nil {
		return err
	}

	if linkJSON {
		out, _ := json.MarshalIndent(map[string]any{
			"riskToObjective":       ro,
			"objectiveToInitiative": oi,
		}, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TABLE\tFROM\tTO\tLINKED")
	for _, l := range ro {
		fmt.Fprintf(w, "risk_to_objective\t%s\t%s\t%s\n", l.RiskID, l.ObjectiveID, l.DateLinked)
	}
	for _, l := range oi {
		fmt.Fprintf(w, "objective_to_initiative\t%s\t%s\t%s\n", l.ObjectiveID, l.InitiativeID, l.DateLinked)
	}
	return w.Flush()
}
