package main

import (
	"bytes"
	"testing"
	"time"

	"nannynest/models"
	"nannynest/pay"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintDue(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printDue(&buf, nil))
	assert.Equal(t, "nothing due\n", buf.String())

	done := time.Date(2025, 1, 4, 9, 30, 0, 0, time.UTC)
	buf.Reset()
	require.NoError(t, printDue(&buf, []models.Booking{
		{ID: "b1", CaregiverID: "c1", Subtotal: 60000, CompletedAt: &done},
		{ID: "b2", CaregiverID: "c2", Subtotal: 12345, CompletedAt: &done},
	}))
	out := buf.String()
	assert.Contains(t, out, "BOOKING")
	assert.Contains(t, out, "2025-01-04 09:30")
	assert.Contains(t, out, "$600.00")
	assert.Contains(t, out, "$723.45")
}

func TestReportBulkFailsOnAnyFailure(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().Bool("json", false, "")
	var buf bytes.Buffer
	cmd.SetOut(&buf)

	res := pay.BulkResult{
		Attempted: 2, Succeeded: 1, Failed: 1,
		Results: []pay.ItemResult{
			{BookingID: "b1", Success: true, Amount: 60000},
			{BookingID: "b2", Error: "caregiver has no payout account"},
		},
	}
	err := reportBulk(cmd, res)
	assert.EqualError(t, err, "1 of 2 releases failed")
	assert.Contains(t, buf.String(), "b1  released  $600.00")
	assert.Contains(t, buf.String(), "attempted 2, succeeded 1, failed 1")

	res.Failed, res.Succeeded = 0, 2
	res.Results[1] = pay.ItemResult{BookingID: "b2", Success: true, Amount: 100}
	require.NoError(t, reportBulk(cmd, res))
}
