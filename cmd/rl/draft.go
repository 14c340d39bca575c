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
	"rideline/internal/domain"
	"rideline/internal/draft"
	"rideline/internal/grouping"
)

var draftID string

func draftCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "draft",
		Short: "Author a transport request",
		Long:  "Every draft command works on --draft, or on the most recently saved draft when it is not set.",
	}
	cmd.PersistentFlags().StringVar(&draftID, "draft", "", "draft id (default: latest)")
	cmd.AddCommand(draftNewCmd())
	cmd.AddCommand(draftListCmd())
	cmd.AddCommand(draftShowCmd())
	cmd.AddCommand(draftSelectCmd())
	cmd.AddCommand(draftDeselectCmd())
	cmd.AddCommand(draftDirectionCmd())
	cmd.AddCommand(draftScheduleCmd())
	cmd.AddCommand(draftRecurringCmd())
	cmd.AddCommand(draftOccurrenceCmd())
	cmd.AddCommand(draftNoteCmd())
	cmd.AddCommand(draftKindCmd())
	cmd.AddCommand(draftAddressCmd())
	cmd.AddCommand(draftSubmitCmd())
	cmd.AddCommand(draftDiscardCmd())
	return cmd
}

// editDraft opens the draft, applies fn, saves and shows the result.
func editDraft(cmd *cobra.Command, fn func(context.Context, *app.App, *draft.Manager) error) error {
	return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
		m, err := a.Engine.OpenDraft(ctx, draftID)
		if err != nil {
			return err
		}
		if err := fn(ctx, a, m); err != nil {
			return err
		}
		if err := m.Persist(ctx); err != nil {
			return err
		}
		return printDraft(m)
	})
}

func draftNewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Start an empty draft",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				m := a.Engine.NewDraft()
				if err := m.Persist(ctx); err != nil {
					return err
				}
				return printDraft(m)
			})
		},
	}
}

func draftListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved drafts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				drafts, err := a.Engine.ListDrafts(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(drafts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Passengers", "Direction", "Schedule", "Modified"})
				for _, d := range drafts {
					tw.AppendRow(table.Row{d.ID, len(d.Passengers), d.Direction, scheduleSummary(d.Schedule), d.LastModified.Format("2006-01-02 15:04")})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func draftShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show passengers and pickup groups",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				m, err := a.Engine.OpenDraft(ctx, draftID)
				if err != nil {
					return err
				}
				return printDraft(m)
			})
		},
	}
}

func draftSelectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "select <employee-id>...",
		Short: "Add employees as passengers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editDraft(cmd, func(ctx context.Context, a *app.App, m *draft.Manager) error {
				for _, id := range args {
					if err := a.Engine.SelectEmployee(ctx, m, id); err != nil {
						return fmt.Errorf("%s: %w", id, err)
					}
				}
				return nil
			})
		},
	}
}

func draftDeselectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deselect <employee-id>...",
		Short: "Remove passengers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editDraft(cmd, func(ctx context.Context, a *app.App, m *draft.Manager) error {
				for _, id := range args {
					if err := m.Deselect(id); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func draftDirectionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "direction",
		Short: "Flip between HOME_TO_WORK and WORK_TO_HOME",
		RunE: func(cmd *cobra.Command, args []string) error {
			return editDraft(cmd, func(ctx context.Context, a *app.App, m *draft.Manager) error {
				return m.ToggleDirection(ctx)
			})
		},
	}
}

func draftScheduleCmd() *cobra.Command {
	var date, tm string
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Set the date and time",
		RunE: func(cmd *cobra.Command, args []string) error {
			return editDraft(cmd, func(ctx context.Context, a *app.App, m *draft.Manager) error {
				return m.SetSchedule(date, tm)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "date YYYY-MM-DD")
	cmd.Flags().StringVar(&tm, "time", "", "time HH:MM")
	return cmd
}

func draftRecurringCmd() *cobra.Command {
	var off bool
	var dates []string
	cmd := &cobra.Command{
		Use:   "recurring",
		Short: "Make the draft recurring over the given dates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return editDraft(cmd, func(ctx context.Context, a *app.App, m *draft.Manager) error {
				m.SetRecurring(!off)
				if off || !cmd.Flags().Changed("dates") {
					return nil
				}
				return m.SetRecurringDates(dates)
			})
		},
	}
	cmd.Flags().BoolVar(&off, "off", false, "back to a single occurrence")
	cmd.Flags().StringSliceVar(&dates, "dates", nil, "occurrence dates YYYY-MM-DD")
	return cmd
}

func draftOccurrenceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "occurrence <date> <time>",
		Short: "Set the time of one recurring occurrence",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editDraft(cmd, func(ctx context.Context, a *app.App, m *draft.Manager) error {
				return m.SetOccurrenceTime(args[0], args[1])
			})
		},
	}
}

func draftNoteCmd() *cobra.Command {
	var passenger string
	cmd := &cobra.Command{
		Use:   "note <text>",
		Short: "Set the draft note, or a passenger note with --passenger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editDraft(cmd, func(ctx context.Context, a *app.App, m *draft.Manager) error {
				if passenger != "" {
					return m.SetPassengerNote(passenger, args[0])
				}
				m.SetNote(args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&passenger, "passenger", "", "employee id")
	return cmd
}

func draftKindCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kind <PRIVATE|PUBLIC>",
		Short: "Set the transport kind",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editDraft(cmd, func(ctx context.Context, a *app.App, m *draft.Manager) error {
				return m.SetTransportKind(domain.TransportKind(args[0]))
			})
		},
	}
}

func draftAddressCmd() *cobra.Command {
	var leg, id string
	var save bool
	var addr domain.Address
	cmd := &cobra.Command{
		Use:   "address <employee-id>",
		Short: "Override the departure or arrival of a passenger",
		Long:  "Pass --id to pick a known address, or --line (with --city, --postal-code, --label) for an ad-hoc one. --save keeps the ad-hoc address selectable.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editDraft(cmd, func(ctx context.Context, a *app.App, m *draft.Manager) error {
				l := domain.Leg(strings.ToLower(leg))
				switch {
				case id != "" && addr.Line != "":
					return domain.Invalid(domain.ReasonInvalidInput, "use either --id or --line")
				case id != "":
					return m.SetAddress(args[0], l, domain.Known(id))
				case addr.Line != "" && save:
					_, err := m.AddCustomAddress(args[0], l, addr)
					return err
				case addr.Line != "":
					return m.SetAddress(args[0], l, domain.Inline(addr))
				}
				return domain.Invalid(domain.ReasonInvalidInput, "--id or --line is required")
			})
		},
	}
	cmd.Flags().StringVar(&leg, "leg", string(domain.LegDeparture), "departure or arrival")
	cmd.Flags().StringVar(&id, "id", "", "known address id")
	cmd.Flags().StringVar(&addr.Line, "line", "", "street line")
	cmd.Flags().StringVar(&addr.City, "city", "", "city")
	cmd.Flags().StringVar(&addr.PostalCode, "postal-code", "", "postal code")
	cmd.Flags().StringVar(&addr.Label, "label", "", "label")
	cmd.Flags().BoolVar(&save, "save", false, "keep the address on the passenger")
	return cmd
}

func draftSubmitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit",
		Short: "Create one transport request per occurrence",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				m, err := a.Engine.OpenDraft(ctx, draftID)
				if err != nil {
					return err
				}
				res, err := a.Engine.SubmitDraft(ctx, m, actorID())
				if err != nil {
					if res.Kept {
						fmt.Fprintf(os.Stderr, "%d request(s) created; draft %s kept with the remaining occurrences\n", len(res.Requests), res.DraftID)
					}
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				printRequests(res.Requests)
				return nil
			})
		},
	}
}

func draftDiscardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discard",
		Short: "Delete the draft",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				m, err := a.Engine.OpenDraft(ctx, draftID)
				if err != nil {
					return err
				}
				id := m.ID()
				if err := m.Discard(ctx); err != nil {
					return err
				}
				fmt.Println("discarded", id)
				return nil
			})
		},
	}
}

func printDraft(m *draft.Manager) error {
	d := m.Draft()
	if viper.GetBool("json") {
		return printJSON(d)
	}
	fmt.Printf("Draft %s  %s  %s  %s\n", d.ID, d.TransportKind, d.Direction, scheduleSummary(d.Schedule))
	if d.Note != "" {
		fmt.Println("Note:", d.Note)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Employee", "Name", "Departure", "Arrival", "Note"})
	for _, p := range d.Passengers {
		tw.AppendRow(table.Row{p.Employee.ID, p.Employee.Name, refLabel(p, p.Departure), refLabel(p, p.Arrival), p.Note})
	}
	tw.Render()

	groups := grouping.ByDeparture(d.Passengers)
	if len(groups) == 0 {
		return nil
	}
	gw := table.NewWriter()
	gw.SetOutputMirror(os.Stdout)
	gw.AppendHeader(table.Row{"Pickup", "Passengers"})
	for _, k := range grouping.Keys(groups) {
		names := make([]string, 0, len(groups[k]))
		for _, p := range groups[k] {
			names = append(names, p.Employee.Name)
		}
		gw.AppendRow(table.Row{k, strings.Join(names, ", ")})
	}
	gw.Render()
	return nil
}

func refLabel(p domain.SelectedPassenger, ref domain.AddressRef) string {
	a, ok := p.Resolve(ref)
	if !ok {
		return "(unresolved)"
	}
	label := a.Display()
	if ref.Manual {
		label += " *"
	}
	return label
}

func scheduleSummary(s domain.Schedule) string {
	if !s.Recurring {
		if s.Date == "" {
			return "(no date)"
		}
		return strings.TrimSpace(s.Date + " " + s.Time)
	}
	parts := make([]string, 0, len(s.Occurrences))
	for _, o := range s.Occurrences {
		parts = append(parts, strings.TrimSpace(o.Date+" "+o.Time))
	}
	return "recurring: " + strings.Join(parts, ", ")
}
