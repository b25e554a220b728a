package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newHolidaysCmd(o *rootOptions) *cobra.Command {
	var country, from string
	var days int

	cmd := &cobra.Command{
		Use:   "holidays",
		Short: "List public holidays from Google's holiday calendars",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := parseDay(from, time.Now())
			if err != nil {
				return err
			}

			a, err := o.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			holidays, err := a.svc.ListHolidays(cmd.Context(), country, start, start.AddDate(0, 0, days))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(holidays) == 0 {
				fmt.Fprintln(out, "No holidays in range.")
				return nil
			}
			for _, h := range holidays {
				fmt.Fprintf(out, "★ %s  %s\n", h.Date.Format("Mon, Jan 2 2006"), h.Title)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&country, "country", "", "ISO country code (default: holiday_country from config)")
	cmd.Flags().StringVar(&from, "from", "today", "first day to show")
	cmd.Flags().IntVarP(&days, "days", "d", 90, "number of days to show")
	return cmd
}
