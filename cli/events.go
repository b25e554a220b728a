// ABOUTME: Event subcommands: list, show, add, edit, rm and search
// ABOUTME: Edits are stored locally first and pushed right away when an account is linked
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/harperreed/calsync/db"
	"github.com/harperreed/calsync/models"
	"github.com/harperreed/calsync/service"
)

func newEventsCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "events",
		Aliases: []string{"ev"},
		Short:   "List and edit local events",
	}
	cmd.AddCommand(
		newEventsListCmd(o),
		newEventsShowCmd(o),
		newEventsAddCmd(o),
		newEventsEditCmd(o),
		newEventsRmCmd(o),
		newEventsSearchCmd(o),
	)
	return cmd
}

func newEventsListCmd(o *rootOptions) *cobra.Command {
	var from string
	var days int
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the agenda, holidays included",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if all {
				events, err := a.svc.ListEvents(cmd.Context())
				if err != nil {
					return err
				}
				printEvents(out, events)
				return nil
			}

			start, err := parseDay(from, time.Now())
			if err != nil {
				return err
			}
			end := start.AddDate(0, 0, days)
			items, err := a.svc.Agenda(cmd.Context(), start, end)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "📅 %s to %s\n", start.Format("Jan 2"), end.AddDate(0, 0, -1).Format("Jan 2"))
			fmt.Fprintln(out, "─────────────────────────────────────────────────")
			if len(items) == 0 {
				fmt.Fprintln(out, "No upcoming events found.")
				return nil
			}
			for _, item := range items {
				printAgendaItem(out, item)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "today", "first day to show")
	cmd.Flags().IntVarP(&days, "days", "d", 7, "number of days to show")
	cmd.Flags().BoolVar(&all, "all", false, "list every event regardless of date")
	return cmd
}

func newEventsShowCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one event in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			ev, err := a.svc.GetEvent(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printEventDetail(cmd.OutOrStdout(), ev)
			return nil
		},
	}
}

// eventFlags are shared by add and edit.
type eventFlags struct {
	title, start, end, location, description string
	color, alert, recurrence, rrule, tz      string
	alertOffset                              int
	allDay                                   bool
	noPush                                   bool
}

func (f *eventFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.title, "title", "t", "", "event title")
	fs.StringVarP(&f.start, "start", "s", "", "start: YYYY-MM-DD, 'tomorrow 14:00' or RFC3339")
	fs.StringVarP(&f.end, "end", "e", "", "end (default: start + 1h, or the same day when all-day)")
	fs.BoolVar(&f.allDay, "all-day", false, "all-day event")
	fs.StringVarP(&f.location, "location", "l", "", "location")
	fs.StringVar(&f.description, "description", "", "description")
	fs.StringVar(&f.color, "color", "", "color: "+paletteNames())
	fs.StringVar(&f.alert, "alert", "", "reminder: none, popup or email")
	fs.IntVar(&f.alertOffset, "alert-offset", 10, "minutes before start for the reminder")
	fs.StringVar(&f.recurrence, "repeat", "", "none, daily, weekly, monthly, yearly or custom")
	fs.StringVar(&f.rrule, "rrule", "", "RRULE for --repeat custom, e.g. FREQ=WEEKLY;BYDAY=MO,WE")
	fs.StringVar(&f.tz, "tz", "", "IANA time zone used to read --start and --end")
	fs.BoolVar(&f.noPush, "no-push", false, "store the change locally without pushing")
}

// apply copies every changed flag onto ev. With create set, unchanged
// flags with defaults apply too.
func (f *eventFlags) apply(fs *pflag.FlagSet, ev *models.CalendarEvent, now time.Time, create bool) error {
	set := func(name string) bool { return create || fs.Changed(name) }

	if fs.Changed("tz") && f.tz != "" {
		loc, err := time.LoadLocation(f.tz)
		if err != nil {
			return fmt.Errorf("%w: unknown time zone %q", models.ErrInvalidEvent, f.tz)
		}
		ev.TimeZone = f.tz
		now = now.In(loc)
	}
	if set("title") {
		ev.Title = f.title
	}

	if fs.Changed("start") {
		start, dateOnly, err := parseWhen(f.start, now)
		if err != nil {
			return fmt.Errorf("%w: start: %v", models.ErrInvalidEvent, err)
		}
		span := ev.End.Sub(ev.Start)
		ev.Start = start
		ev.AllDay = dateOnly || f.allDay
		switch {
		case fs.Changed("end"):
		case ev.AllDay:
			ev.End = start
		case span > 0 && !create:
			ev.End = start.Add(span)
		default:
			ev.End = start.Add(time.Hour)
		}
	} else if create {
		return fmt.Errorf("%w: --start is required", models.ErrInvalidEvent)
	}
	if fs.Changed("all-day") {
		ev.AllDay = f.allDay
	}
	if fs.Changed("end") {
		end, _, err := parseWhen(f.end, now)
		if err != nil {
			return fmt.Errorf("%w: end: %v", models.ErrInvalidEvent, err)
		}
		ev.End = end
	}

	if set("location") {
		ev.Location = f.location
	}
	if set("description") {
		ev.Description = f.description
	}
	if set("color") {
		ev.Color = models.Color(strings.ToLower(f.color))
	}
	if set("alert") {
		ev.Alert = models.AlertKind(strings.ToLower(f.alert))
	}
	if set("alert-offset") {
		ev.AlertOffset = f.alertOffset
	}
	if set("repeat") {
		ev.Recurrence = models.Recurrence(strings.ToLower(f.recurrence))
	}
	if set("rrule") {
		ev.RecurrenceRule = f.rrule
		if f.rrule != "" && !fs.Changed("repeat") {
			ev.Recurrence = models.RecurrenceCustom
		}
	}
	return nil
}

func newEventsAddCmd(o *rootOptions) *cobra.Command {
	var f eventFlags
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create an event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var draft models.CalendarEvent
			if err := f.apply(cmd.Flags(), &draft, time.Now(), true); err != nil {
				return err
			}

			a, err := o.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			ev, err := a.svc.CreateEvent(cmd.Context(), &draft)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ Created %s (%s)\n", ev.Title, ev.ID)
			if !f.noPush {
				a.pushNow(cmd.Context(), out)
			}
			return nil
		},
	}
	f.register(cmd.Flags())
	return cmd
}

func newEventsEditCmd(o *rootOptions) *cobra.Command {
	var f eventFlags
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change fields of an event; unset flags keep their values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			ev, err := a.svc.GetEvent(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := f.apply(cmd.Flags(), ev, time.Now(), false); err != nil {
				return err
			}
			updated, err := a.svc.UpdateEvent(cmd.Context(), ev)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ Updated %s [%s]\n", updated.Title, updated.SyncStatus)
			if updated.SyncStatus == models.StatusConflict {
				fmt.Fprintln(out, "  Event is in conflict; run 'calsync resolve' to pick a side.")
			} else if !f.noPush {
				a.pushNow(cmd.Context(), out)
			}
			return nil
		},
	}
	f.register(cmd.Flags())
	return cmd
}

func newEventsRmCmd(o *rootOptions) *cobra.Command {
	var noPush bool
	cmd := &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete"},
		Short:   "Delete an event",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.svc.DeleteEvent(cmd.Context(), args[0]); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ Deleted %s\n", args[0])
			if !noPush {
				a.pushNow(cmd.Context(), out)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noPush, "no-push", false, "store the deletion locally without pushing")
	return cmd
}

func newEventsSearchCmd(o *rootOptions) *cobra.Command {
	var from, to string
	var limit int

	cmd := &cobra.Command{
		Use:   "search [text]",
		Short: "Search titles, locations and descriptions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := db.SearchQuery{Limit: limit}
			if len(args) == 1 {
				q.Text = args[0]
			}
			now := time.Now()
			if from != "" {
				d, err := parseDay(from, now)
				if err != nil {
					return err
				}
				q.From = d
			}
			if to != "" {
				d, err := parseDay(to, now)
				if err != nil {
					return err
				}
				q.To = d.AddDate(0, 0, 1)
			}

			a, err := o.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			events, err := a.svc.SearchEvents(cmd.Context(), q)
			if err != nil {
				return err
			}
			printEvents(cmd.OutOrStdout(), events)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "only events starting on or after this day")
	cmd.Flags().StringVar(&to, "to", "", "only events starting on or before this day")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum results")
	return cmd
}

// pushNow pushes pending changes when an account is linked. Failures leave
// the change queued for the next pass.
func (a *app) pushNow(ctx context.Context, out io.Writer) {
	if !a.creds.Status().Connected {
		fmt.Fprintln(out, "  Not connected to Google; the change stays local until 'calsync auth login'.")
		return
	}
	result, err := a.svc.PushChanges(ctx)
	if err != nil {
		fmt.Fprintf(out, "  Push failed, will retry on next sync: %v\n", err)
		return
	}
	fmt.Fprintf(out, "  Pushed: %s\n", result.Summary())
	if msg := result.ErrorMessage(); msg != "" {
		fmt.Fprintf(out, "  %s\n", msg)
	}
}

func statusGlyph(s models.SyncStatus) string {
	switch s {
	case models.StatusSynced:
		return "✓"
	case models.StatusLocal:
		return "↑"
	case models.StatusConflict:
		return "!"
	case models.StatusDeleted:
		return "✗"
	}
	return "?"
}

func formatEventTime(ev *models.CalendarEvent) string {
	if ev.AllDay {
		if ev.End.Sub(ev.Start) <= 24*time.Hour {
			return ev.Start.Format("Mon, Jan 2") + " (all day)"
		}
		return fmt.Sprintf("%s - %s (all day)", ev.Start.Format("Mon, Jan 2"), ev.End.Format("Mon, Jan 2"))
	}
	start, end := ev.Start.Local(), ev.End.Local()
	if start.YearDay() == end.YearDay() && start.Year() == end.Year() {
		return fmt.Sprintf("%s, %s - %s", start.Format("Mon, Jan 2"), start.Format("3:04 PM"), end.Format("3:04 PM"))
	}
	return fmt.Sprintf("%s - %s", start.Format("Mon, Jan 2 3:04 PM"), end.Format("Mon, Jan 2 3:04 PM"))
}

func printAgendaItem(out io.Writer, item service.AgendaItem) {
	if item.Holiday != nil {
		fmt.Fprintf(out, "★ %s  %s\n", item.Holiday.Date.Format("Mon, Jan 2"), item.Holiday.Title)
		return
	}
	printEventLine(out, item.Event)
}

func printEventLine(out io.Writer, ev *models.CalendarEvent) {
	fmt.Fprintf(out, "%s %s  %s", statusGlyph(ev.SyncStatus), formatEventTime(ev), ev.Title)
	if ev.Location != "" {
		fmt.Fprintf(out, " @ %s", ev.Location)
	}
	fmt.Fprintf(out, "  [%s]\n", ev.ID)
}

func printEvents(out io.Writer, events []*models.CalendarEvent) {
	if len(events) == 0 {
		fmt.Fprintln(out, "No events found.")
		return
	}
	for _, ev := range events {
		printEventLine(out, ev)
	}
	fmt.Fprintf(out, "Total: %d events\n", len(events))
}

func printEventDetail(out io.Writer, ev *models.CalendarEvent) {
	fmt.Fprintln(out, ev.Title)
	fmt.Fprintf(out, "  🕐 When:        %s\n", formatEventTime(ev))
	if ev.Location != "" {
		fmt.Fprintf(out, "  📍 Location:    %s\n", ev.Location)
	}
	if ev.Description != "" {
		fmt.Fprintf(out, "  📝 Description: %s\n", ev.Description)
	}
	if ev.Recurrence != models.RecurrenceNone {
		rec := string(ev.Recurrence)
		if ev.Recurrence == models.RecurrenceCustom {
			rec += " (" + ev.RecurrenceRule + ")"
		}
		fmt.Fprintf(out, "  🔁 Repeats:     %s\n", rec)
	}
	if ev.Color != "" {
		fmt.Fprintf(out, "  🎨 Color:       %s\n", ev.Color)
	}
	if ev.Alert != models.AlertNone {
		fmt.Fprintf(out, "  🔔 Alert:       %s, %d min before\n", ev.Alert, ev.AlertOffset)
	}
	fmt.Fprintf(out, "  📊 Status:      %s %s\n", statusGlyph(ev.SyncStatus), ev.SyncStatus)
	if ev.RemoteEventID != "" {
		fmt.Fprintf(out, "  🔗 Google id:   %s\n", ev.RemoteEventID)
	}
	fmt.Fprintf(out, "  🆔 ID:          %s\n", ev.ID)
}

func paletteNames() string {
	names := make([]string, len(models.Palette))
	for i, c := range models.Palette {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}
