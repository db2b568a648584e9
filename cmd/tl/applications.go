package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tradeline/internal/domain"
	"tradeline/internal/engine"
	"tradeline/internal/repo"
)

func applicationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "application",
		Aliases: []string{"bid"},
		Short:   "Bid on projects and decide bids",
	}
	cmd.AddCommand(applicationSubmitCmd())
	cmd.AddCommand(applicationListCmd())
	cmd.AddCommand(applicationDecisionCmd("accept", "Accept a bid and assign the project (client)", engine.Engine.AcceptApplication))
	cmd.AddCommand(applicationDecisionCmd("reject", "Reject a bid (client)", engine.Engine.RejectApplication))
	cmd.AddCommand(applicationDecisionCmd("withdraw", "Withdraw your bid (professional)", engine.Engine.WithdrawApplication))
	return cmd
}

func applicationSubmitCmd() *cobra.Command {
	var d engine.ApplicationDraft
	var bid string
	cmd := &cobra.Command{
		Use:   "submit <project-id>",
		Short: "Bid on an open project as the acting professional",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pro, err := actorID()
			if err != nil {
				return err
			}
			if bid != "" {
				if d.Bid, err = domain.ParseMoney(bid); err != nil {
					return fmt.Errorf("--bid: %w", err)
				}
			}
			d.ProjectID = args[0]
			d.ProfessionalID = pro
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.SubmitApplication(ctx, d)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&bid, "bid", "", "bid amount (default: project budget)")
	cmd.Flags().StringVar(&d.Proposal, "proposal", "", "proposal text")
	cmd.Flags().StringVar(&d.Availability, "availability", "", "availability")
	return cmd
}

func applicationListCmd() *cobra.Command {
	var f repo.ApplicationFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List bids, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListApplications(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Project", "Professional", "Bid", "Status", "Created"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.ProjectID, a.ProfessionalID, a.Bid.String(), a.Status, a.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project filter")
	cmd.Flags().StringVar(&f.ProfessionalID, "professional", "", "professional filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	return cmd
}

type applicationDecision func(engine.Engine, context.Context, string, string) (domain.Application, error)

func applicationDecisionCmd(verb, short string, decide applicationDecision) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <application-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := decide(e, ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
}
