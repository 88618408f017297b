package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"nannynest/models"
	"nannynest/pay"
	"nannynest/pricing"

	"github.com/spf13/cobra"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printDue(w io.Writer, due []models.Booking) error {
	if len(due) == 0 {
		_, err := fmt.Fprintln(w, "nothing due")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BOOKING\tCAREGIVER\tCOMPLETED\tPAYOUT")
	var total int64
	for _, b := range due {
		completed := "-"
		if b.CompletedAt != nil {
			completed = b.CompletedAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", b.ID, b.CaregiverID, completed, pricing.Format(b.CaregiverAmount()))
		total += b.CaregiverAmount()
	}
	fmt.Fprintf(tw, "\t\t\t%s\n", pricing.Format(total))
	return tw.Flush()
}

func printBulk(w io.Writer, res pay.BulkResult) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, r := range res.Results {
		if r.Success {
			fmt.Fprintf(tw, "%s\treleased\t%s\n", r.BookingID, pricing.Format(r.Amount))
		} else {
			fmt.Fprintf(tw, "%s\tfailed\t%s\n", r.BookingID, r.Error)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "attempted %d, succeeded %d, failed %d\n", res.Attempted, res.Succeeded, res.Failed)
	return err
}

func reportBulk(cmd *cobra.Command, res pay.BulkResult) error {
	var err error
	if jsonOutput(cmd) {
		err = writeJSON(cmd.OutOrStdout(), res)
	} else {
		err = printBulk(cmd.OutOrStdout(), res)
	}
	if err != nil {
		return err
	}
	if res.Failed > 0 {
		return fmt.Errorf("%d of %d releases failed", res.Failed, res.Attempted)
	}
	return nil
}
