package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tradeline/internal/app"
	"tradeline/internal/domain"
	"tradeline/internal/engine"
	"tradeline/internal/repo"
)

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Post and manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectCancelCmd())
	prj.AddCommand(projectCompleteCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var d engine.ProjectDraft
	var budget string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Post a project as the acting client",
		RunE: func(cmd *cobra.Command, args []string) error {
			clientID, err := actorID()
			if err != nil {
				return err
			}
			amount, err := domain.ParseMoney(budget)
			if err != nil {
				return fmt.Errorf("--budget: %w", err)
			}
			d.ClientID = clientID
			d.Budget = amount
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateProject(ctx, d)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&d.Title, "title", "", "project title")
	cmd.Flags().StringVar(&d.Description, "description", "", "description")
	cmd.Flags().StringVar(&budget, "budget", "", "budget, e.g. 600.00")
	cmd.Flags().StringVar(&d.Category, "category", "", "trade category")
	cmd.Flags().StringVar(&d.Location, "location", "", "site location")
	cmd.Flags().StringSliceVar(&d.RequiredSkills, "skill", nil, "required skill (repeatable)")
	cmd.Flags().StringSliceVar(&d.Requirements, "requirement", nil, "requirement (repeatable)")
	cmd.Flags().StringVar(&d.Timeline, "timeline", "", "expected timeline")
	cmd.Flags().StringVar(&d.Urgency, "urgency", "", "urgency")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("budget")
	return cmd
}

func projectListCmd() *cobra.Command {
	var f repo.ProjectFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListProjects(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Budget", "Client", "Assigned"})
				for _, p := range items {
					assigned := ""
					if p.AssignedTo != nil {
						assigned = *p.AssignedTo
					}
					tw.AppendRow(table.Row{p.ID, p.Title, p.Status, p.Budget.String(), p.ClientID, assigned})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.ClientID, "client", "", "client filter")
	cmd.Flags().StringVar(&f.AssignedTo, "assigned-to", "", "assigned professional filter")
	cmd.Flags().StringVar(&f.Category, "category", "", "category filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows (default: page size)")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show a project with its bid counts and latest ledger event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				v, err := ac.Board.View(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(v)
				}
				p := v.Project
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendRows([]table.Row{
					{"ID", p.ID},
					{"Title", p.Title},
					{"Status", p.Status},
					{"Budget", p.Budget.String()},
					{"Client", p.ClientID},
					{"Assigned", deref(p.AssignedTo)},
					{"Skills", strings.Join(p.RequiredSkills, ", ")},
					{"Bids", formatCounts(v.Applications)},
					{"Events", v.EventCount},
					{"Reviewed", v.Reviewed},
				})
				if v.LatestEvent != nil {
					tw.AppendRow(table.Row{"Latest", fmt.Sprintf("%s %s %s", v.LatestEvent.CreatedAt, v.LatestEvent.UpdateType, v.LatestEvent.Message)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectCancelCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <project-id>",
		Short: "Cancel a project (client or assigned professional)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CancelProject(ctx, args[0], actor, reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the project is cancelled")
	return cmd
}

func projectCompleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <project-id>",
		Short: "Mark the work complete (assigned professional)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.MarkComplete(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func formatCounts(counts map[domain.ApplicationStatus]int) string {
	var parts []string
	for _, s := range []domain.ApplicationStatus{domain.ApplicationPending, domain.ApplicationAccepted, domain.ApplicationRejected, domain.ApplicationWithdrawn} {
		if n := counts[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", s, n))
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, " ")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
