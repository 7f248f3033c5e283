package main

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/herbtrace/herbtrace/internal/localstore"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List locally stored observations and their sync state",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := localstore.Open(viper.GetString("db"))
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		return err
	}

	recs, err := store.All(ctx)
	if err != nil {
		return err
	}

	// The store returns records unordered; newest-first is a display
	// concern and belongs here.
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].Timestamp.After(recs[j].Timestamp)
	})

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCATEGORY\tQUANTITY\tCAPTURED\tSTATE")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%.3f\t%s\t%s\n",
			r.ID, r.Category, r.Quantity,
			r.Timestamp.Local().Format(time.RFC3339),
			r.SyncState)
	}
	return tw.Flush()
}
