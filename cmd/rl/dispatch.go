package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"rideline/internal/app"
	"rideline/internal/dispatch"
	"rideline/internal/domain"
	"rideline/internal/grouping"
)

func dispatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Split an approved request into virtual taxis",
		Long:  "The allocation is saved after every change and resumed by the next command until it is finalized or abandoned.",
	}
	cmd.AddCommand(dispatchListCmd())
	cmd.AddCommand(dispatchShowCmd())
	cmd.AddCommand(dispatchPoolCmd())
	cmd.AddCommand(dispatchAddTaxiCmd())
	cmd.AddCommand(dispatchRemoveTaxiCmd())
	cmd.AddCommand(dispatchAssignCmd())
	cmd.AddCommand(dispatchUnassignCmd())
	cmd.AddCommand(dispatchFinalizeCmd())
	cmd.AddCommand(dispatchAbandonCmd())
	return cmd
}

func withAllocator(cmd *cobra.Command, requestID string, fn func(context.Context, *app.App, *dispatch.Allocator) error) error {
	return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
		alloc, err := a.Engine.OpenDispatch(ctx, requestID)
		if err != nil {
			return err
		}
		return fn(ctx, a, alloc)
	})
}

// editAllocation applies fn and shows the taxis. Mutations save the
// allocation themselves; a failed save is reported without failing fn.
func editAllocation(cmd *cobra.Command, requestID string, fn func(context.Context, *dispatch.Allocator) error) error {
	return withAllocator(cmd, requestID, func(ctx context.Context, a *app.App, alloc *dispatch.Allocator) error {
		if err := fn(ctx, alloc); err != nil {
			return err
		}
		if err := alloc.AutosaveErr(); err != nil {
			fmt.Fprintln(os.Stderr, "warning: allocation not saved:", err)
		}
		return printAllocation(alloc)
	})
}

func dispatchListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List unfinished allocations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				snaps, err := a.Engine.ListAllocations(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(snaps)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Request", "Taxis", "Assigned", "Saved"})
				for _, s := range snaps {
					assigned := 0
					for _, t := range s.Taxis {
						assigned += len(t.Passengers)
					}
					tw.AppendRow(table.Row{s.RequestID, len(s.Taxis), assigned, s.SavedAt.Format("2006-01-02 15:04")})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func dispatchShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <request-id>",
		Short: "Show taxis and unassigned passengers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAllocator(cmd, args[0], func(ctx context.Context, a *app.App, alloc *dispatch.Allocator) error {
				return printAllocation(alloc)
			})
		},
	}
}

func dispatchPoolCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pool <request-id>",
		Short: "Group unassigned passengers by pickup point",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAllocator(cmd, args[0], func(ctx context.Context, a *app.App, alloc *dispatch.Allocator) error {
				pool := alloc.Pool()
				if viper.GetBool("json") {
					return printJSON(pool)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Pickup", "Passengers"})
				for _, k := range grouping.Keys(pool) {
					ids := make([]string, 0, len(pool[k]))
					for _, p := range pool[k] {
						ids = append(ids, p.EmployeeID)
					}
					tw.AppendRow(table.Row{k, strings.Join(ids, ", ")})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func dispatchAddTaxiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-taxi <request-id>",
		Short: "Add an empty taxi",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editAllocation(cmd, args[0], func(ctx context.Context, alloc *dispatch.Allocator) error {
				_, err := alloc.AddTaxi(ctx)
				return err
			})
		},
	}
}

func dispatchRemoveTaxiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-taxi <request-id> <taxi-id>",
		Short: "Remove an empty taxi",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editAllocation(cmd, args[0], func(ctx context.Context, alloc *dispatch.Allocator) error {
				return alloc.RemoveTaxi(ctx, args[1])
			})
		},
	}
}

func dispatchAssignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assign <request-id> <employee-id> <taxi-id>",
		Short: "Put a passenger in a taxi",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editAllocation(cmd, args[0], func(ctx context.Context, alloc *dispatch.Allocator) error {
				return alloc.Assign(ctx, args[1], args[2])
			})
		},
	}
}

func dispatchUnassignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unassign <request-id> <employee-id> <taxi-id>",
		Short: "Take a passenger out of a taxi",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editAllocation(cmd, args[0], func(ctx context.Context, alloc *dispatch.Allocator) error {
				return alloc.Unassign(ctx, args[1], args[2])
			})
		},
	}
}

func dispatchFinalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "finalize <request-id>",
		Short: "Send the taxi assignments and mark the request dispatched",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAllocator(cmd, args[0], func(ctx context.Context, a *app.App, alloc *dispatch.Allocator) error {
				taxis, err := a.Engine.FinalizeDispatch(ctx, alloc, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(taxis)
				}
				printTaxis(taxis)
				return nil
			})
		},
	}
}

func dispatchAbandonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "abandon <request-id>",
		Short: "Drop the saved allocation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAllocator(cmd, args[0], func(ctx context.Context, a *app.App, alloc *dispatch.Allocator) error {
				if err := a.Engine.AbandonDispatch(ctx, alloc, actorID()); err != nil {
					return err
				}
				fmt.Println("abandoned allocation of", args[0])
				return nil
			})
		},
	}
}

func printAllocation(alloc *dispatch.Allocator) error {
	if viper.GetBool("json") {
		return printJSON(alloc.Snapshot())
	}
	printTaxis(alloc.Taxis())
	unassigned := alloc.Unassigned()
	if len(unassigned) == 0 {
		fmt.Println("All passengers assigned.")
		return nil
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Unassigned", "Name", "Pickup"})
	for _, p := range unassigned {
		tw.AppendRow(table.Row{p.EmployeeID, p.EmployeeName, p.Departure.Display()})
	}
	tw.Render()
	return nil
}

func printTaxis(taxis []domain.VirtualTaxi) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Taxi", "Name", "Status", "Seats", "Passengers"})
	for _, t := range taxis {
		ids := make([]string, 0, len(t.Passengers))
		for _, p := range t.Passengers {
			ids = append(ids, p.EmployeeID)
		}
		tw.AppendRow(table.Row{t.ID, t.Name, t.Status, fmt.Sprintf("%d/%d", len(t.Passengers), t.Capacity), strings.Join(ids, ", ")})
	}
	tw.Render()
}
