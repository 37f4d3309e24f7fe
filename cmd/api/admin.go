package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/areta360/form-relay/env"
	formrelay "github.com/areta360/form-relay/internal"
)

var (
	adminAddr  string
	adminToken string
)

var countsCmd = &cobra.Command{
	Use:   "counts",
	Short: "List the submission count of every tracked email",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := adminContext(cmd)
		defer cancel()

		counts, err := adminClient().Counts(ctx)
		if err != nil {
			return err
		}
		printCounts(cmd, counts)
		return nil
	},
}

var limitCmd = &cobra.Command{
	Use:   "limit <email>",
	Short: "Show the submission status of one email",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := adminContext(cmd)
		defer cancel()

		st, err := adminClient().Limit(ctx, args[0])
		if err != nil {
			return err
		}
		printStatus(cmd, st)
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear every submission record",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := adminContext(cmd)
		defer cancel()

		msg, err := adminClient().Reset(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), msg)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{countsCmd, limitCmd, resetCmd} {
		c.Flags().StringVar(&adminAddr, "addr", "http://localhost:8080", "base URL of the running relay")
		c.Flags().StringVar(&adminToken, "token", "", "admin bearer token (defaults to ADMIN_TOKEN)")
	}
}

func adminContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 15*time.Second)
}

func adminClient() *formrelay.AdminClient {
	token := adminToken
	if token == "" {
		_, _ = env.Load(envFile)
		token = os.Getenv("ADMIN_TOKEN")
	}
	return formrelay.NewAdminClient(adminAddr, token)
}

func printCounts(cmd *cobra.Command, counts map[string]int) {
	emails := make([]string, 0, len(counts))
	for e := range counts {
		emails = append(emails, e)
	}
	sort.Strings(emails)

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Email", "Submissions"})
	for _, e := range emails {
		t.AppendRow(table.Row{e, counts[e]})
	}
	t.AppendFooter(table.Row{"Tracked", len(emails)})
	t.Render()
}

func printStatus(cmd *cobra.Command, st formrelay.Status) {
	reset := "-"
	if st.HoursUntilReset != nil {
		reset = strconv.Itoa(*st.HoursUntilReset) + "h"
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendRows([]table.Row{
		{"Email", st.Identity},
		{"Submitted", fmt.Sprintf("%d / %d", st.Submitted, st.Limit)},
		{"Remaining", st.Remaining},
		{"Can submit", st.CanSubmit},
		{"Resets in", reset},
	})
	t.Render()
}
