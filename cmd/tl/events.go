package main

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tradeline/internal/domain"
	"tradeline/internal/engine"
)

func eventCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Project ledger",
		Long:  "The ledger is append-only. Only the assigned professional may append, and only while the project is assigned, in progress or in revision.",
	}
	cmd.AddCommand(eventAppendCmd())
	cmd.AddCommand(eventAttachCmd())
	cmd.AddCommand(eventListCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "show <event-id>",
		Short: "Show one ledger event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ev, err := e.GetEvent(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(ev)
			})
		},
	})
	return cmd
}

// printAppended reports the event; a failed lifecycle trigger is shown but the event stands.
func printAppended(ev domain.Event, err error) error {
	if err != nil && ev.ID == "" {
		return err
	}
	if perr := printJSONOrTable(ev); perr != nil {
		return perr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: event recorded but lifecycle update failed: %v\n", err)
	}
	return nil
}

func eventAppendCmd() *cobra.Command {
	var in engine.EventInput
	var meta map[string]string
	cmd := &cobra.Command{
		Use:   "append <project-id>",
		Short: "Append a ledger event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pro, err := actorID()
			if err != nil {
				return err
			}
			in.ProjectID = args[0]
			in.AuthorID = pro
			if len(meta) > 0 {
				in.Metadata = make(map[string]any, len(meta))
				for k, v := range meta {
					in.Metadata[k] = v
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printAppended(e.AppendEvent(ctx, in))
			})
		},
	}
	cmd.Flags().StringVarP(&in.UpdateType, "type", "t", "", "update type from marketplace.yml")
	cmd.Flags().StringVarP(&in.Message, "message", "m", "", "message")
	cmd.Flags().StringToStringVar(&meta, "meta", nil, "metadata key=value (repeatable)")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func eventAttachCmd() *cobra.Command {
	var a engine.Attachment
	cmd := &cobra.Command{
		Use:   "attach <project-id> <file>",
		Short: "Upload a file and append it to the ledger",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pro, err := actorID()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			a.ProjectID = args[0]
			a.AuthorID = pro
			a.Name = filepath.Base(args[1])
			a.ContentType = mime.TypeByExtension(filepath.Ext(args[1]))
			a.Data = data
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printAppended(e.AttachFile(ctx, a))
			})
		},
	}
	cmd.Flags().StringVarP(&a.UpdateType, "type", "t", "document", "files update type")
	cmd.Flags().StringVarP(&a.Message, "message", "m", "", "message")
	return cmd
}

func eventListCmd() *cobra.Command {
	var f engine.EventFilter
	var limit int
	cmd := &cobra.Command{
		Use:   "list <project-id>",
		Short: "List ledger events, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := engine.CollectEvents(e.ListEvents(ctx, args[0], f), limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "Type", "Category", "Author", "Message", "Attachment"})
				for _, ev := range items {
					tw.AppendRow(table.Row{ev.CreatedAt, ev.UpdateType, ev.Category, ev.AuthorID, ev.Message, ev.AttachmentRef})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&f.UpdateType, "type", "t", "", "update type filter")
	cmd.Flags().StringVarP(&f.Query, "query", "q", "", "text search")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "max events (0 for all)")
	return cmd
}
