package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/dirwatcher/dirwatcher/internal/audit"
)

func newAuditCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the hash-chained event trail",
	}
	cmd.AddCommand(newAuditVerifyCommand())
	return cmd
}

func newAuditVerifyCommand() *cobra.Command {
	var show int
	cmd := &cobra.Command{
		Use:   "verify <trail>",
		Short: "Check every link of an event trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return verifyTrail(cmd.OutOrStdout(), args[0], show)
		},
	}
	cmd.Flags().IntVar(&show, "show", 0, "also print the last N entries")
	return cmd
}

func verifyTrail(out io.Writer, path string, show int) error {
	entries, err := audit.Verify(path)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintf(out, "trail %s is valid and empty\n", path)
		return nil
	}

	head := entries[len(entries)-1]
	fmt.Fprintf(out, "trail %s is valid: %d entries, head %.16s\n", path, len(entries), head.Hash)

	if show <= 0 {
		return nil
	}
	if show < len(entries) {
		entries = entries[len(entries)-show:]
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			strconv.FormatInt(e.Seq, 10),
			e.Recorded.Local().Format(time.DateTime),
			e.Event.Kind.String(),
			e.Event.Message(),
			fmt.Sprintf("%.16s", e.Hash),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Seq", "Recorded", "Kind", "Message", "Hash"},
		rows,
		[]columnAlignment{alignRight},
	))
	return nil
}
