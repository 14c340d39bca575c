package main

import (
	"context"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"rideline/internal/app"
	"rideline/internal/domain"
)

func requestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Transport requests at the gateway",
	}
	cmd.AddCommand(requestShowCmd())
	cmd.AddCommand(requestStatusCmd("approve", "Approve a pending request", domain.StatusApproved))
	cmd.AddCommand(requestStatusCmd("reject", "Reject a pending request", domain.StatusRejected))
	cmd.AddCommand(requestStatusCmd("cancel", "Cancel a request", domain.StatusCancelled))
	cmd.AddCommand(requestSetStatusCmd())
	cmd.AddCommand(requestEditCmd())
	return cmd
}

func requestShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <request-id>",
		Short: "Show a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				req, err := a.Engine.GetRequest(ctx, args[0])
				if err != nil {
					return err
				}
				return printRequest(req)
			})
		},
	}
}

func requestStatusCmd(use, short string, status domain.RequestStatus) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <request-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setStatus(cmd, args[0], status)
		},
	}
}

func requestSetStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <request-id> <status>",
		Short: "Move a request to any allowed status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := domain.ParseRequestStatus(args[1])
			if err != nil {
				return err
			}
			return setStatus(cmd, args[0], status)
		},
	}
}

func setStatus(cmd *cobra.Command, id string, status domain.RequestStatus) error {
	return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
		req, err := a.Engine.SetRequestStatus(ctx, id, status, actorID())
		if err != nil {
			return err
		}
		return printRequest(req)
	})
}

func requestEditCmd() *cobra.Command {
	var date, tm, note string
	cmd := &cobra.Command{
		Use:   "edit <request-id>",
		Short: "Edit a pending request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch domain.RequestPatch
			if cmd.Flags().Changed("date") {
				patch.ScheduledDate = &date
			}
			if cmd.Flags().Changed("time") {
				patch.ScheduledTime = &tm
			}
			if cmd.Flags().Changed("note") {
				patch.Note = &note
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				req, err := a.Engine.EditRequest(ctx, args[0], patch, actorID())
				if err != nil {
					return err
				}
				return printRequest(req)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "scheduled date YYYY-MM-DD")
	cmd.Flags().StringVar(&tm, "time", "", "scheduled time HH:MM")
	cmd.Flags().StringVar(&note, "note", "", "request note")
	return cmd
}

func printRequest(req domain.Request) error {
	if viper.GetBool("json") {
		return printJSON(req)
	}
	printRequests([]domain.Request{req})
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Employee", "Name", "Departure", "Arrival", "Start", "Taxi"})
	for _, p := range req.Passengers {
		tw.AppendRow(table.Row{p.EmployeeID, p.EmployeeName, p.Departure.Display(), p.Arrival.Display(), p.StartDate + " " + p.StartTime, p.TaxiTag})
	}
	tw.Render()
	return nil
}

func printRequests(reqs []domain.Request) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Reference", "Status", "Date", "Time", "Direction", "Passengers"})
	for _, r := range reqs {
		tw.AppendRow(table.Row{r.ID, r.Reference, r.Status, r.ScheduledDate, r.ScheduledTime, r.Direction, len(r.Passengers)})
	}
	tw.Render()
}
