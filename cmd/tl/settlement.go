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
)

func reviewCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "review", Short: "Review finished work"}
	cmd.AddCommand(reviewSubmitCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "show <project-id>",
		Short: "Show a project's review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rv, err := e.GetReview(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(rv)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list <professional-id>",
		Short: "List reviews a professional has received",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				reviews, err := e.ListReviews(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(reviews)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Project", "Client", "Rating", "Comment", "Created"})
				for _, rv := range reviews {
					tw.AppendRow(table.Row{rv.ProjectID, rv.ClientID, rv.Rating, rv.Comment, rv.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	return cmd
}

func reviewSubmitCmd() *cobra.Command {
	var in engine.ReviewInput
	cmd := &cobra.Command{
		Use:   "submit <project-id>",
		Short: "Review the professional and archive the project (client)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			clientID, err := actorID()
			if err != nil {
				return err
			}
			in.ProjectID = args[0]
			in.ClientID = clientID
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rv, err := e.SubmitReview(ctx, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(rv)
			})
		},
	}
	cmd.Flags().IntVar(&in.Rating, "rating", 0, "rating")
	cmd.Flags().StringVar(&in.Comment, "comment", "", "comment")
	_ = cmd.MarkFlagRequired("rating")
	return cmd
}

func paymentCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "payment", Short: "Record and settle payments"}
	cmd.AddCommand(paymentCreateCmd())
	cmd.AddCommand(paymentListCmd())
	cmd.AddCommand(paymentCompleteCmd())
	cmd.AddCommand(paymentFailCmd())
	return cmd
}

func paymentCreateCmd() *cobra.Command {
	var amount string
	cmd := &cobra.Command{
		Use:   "create <project-id>",
		Short: "Record a pending payment to the assigned professional (client)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			clientID, err := actorID()
			if err != nil {
				return err
			}
			m, err := domain.ParseMoney(amount)
			if err != nil {
				return fmt.Errorf("--amount: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				pay, err := e.CreatePayment(ctx, engine.PaymentInput{ProjectID: args[0], ClientID: clientID, Amount: m})
				if err != nil {
					return err
				}
				return printJSONOrTable(pay)
			})
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "amount, e.g. 500.00")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func paymentListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <project-id>",
		Short: "List a project's payments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListPayments(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Amount", "Status", "Professional", "Updated"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Amount.String(), p.Status, p.ProfessionalID, p.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func paymentCompleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <payment-id>",
		Short: "Settle a payment; a completed project moves to paid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				pay, err := e.MarkPaymentComplete(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(pay)
			})
		},
	}
}

func paymentFailCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "fail <payment-id>",
		Short: "Mark a pending payment failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				pay, err := e.MarkPaymentFailed(ctx, args[0], actor, reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(pay)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "failure reason")
	return cmd
}
