package main

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/dustin/go-humanize/english"
	"github.com/fatih/color"
	"github.com/openmined/idsync/internal/client"
	"github.com/openmined/idsync/internal/client/sync"
	"github.com/spf13/cobra"
)

var (
	red    = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green  = color.New(color.FgHiGreen).SprintFunc()
	yellow = color.New(color.FgHiYellow).SprintFunc()
)

func init() {
	rootCmd.AddCommand(newOnceCmd())
}

func newOnceCmd() *cobra.Command {
	var maxCycles int

	cmd := &cobra.Command{
		Use:   "once",
		Short: "Run sync cycles until nothing changes, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			applyLogLevel(cfg)
			cmd.SilenceUsage = true

			c, err := client.New(cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			for i := 1; i <= maxCycles; i++ {
				rep, err := c.SyncOnce(cmd.Context())
				if rep != nil {
					printReport(cmd.OutOrStdout(), i, rep)
				}
				if err != nil {
					return err
				}
				if !rep.HasChanges() {
					break
				}
			}
			printStatus(cmd.OutOrStdout(), c.Sync().Status().All())
			return nil
		},
	}

	cmd.Flags().IntVarP(&maxCycles, "cycles", "n", 3, "maximum number of cycles")
	return cmd
}

func printReport(w io.Writer, n int, rep *sync.CycleReport) {
	status := green("ok")
	switch {
	case rep.Err() != nil:
		status = red("failed")
	case rep.Aborted:
		status = yellow("aborted")
	}

	fmt.Fprintf(w, "cycle %d %s in %s: %s, %s, %s applied, %s purged\n",
		n, status, rep.Duration,
		english.Plural(rep.Conflicts, "conflict", ""),
		english.Plural(len(rep.Mutations), "mutation", ""),
		english.Plural(rep.Applied, "entry", "entries"),
		english.Plural(rep.Purged, "entry", "entries"),
	)
	for _, warning := range rep.Warnings {
		fmt.Fprintf(w, "  %s %s\n", yellow("warning"), warning)
	}
	if err := rep.Err(); err != nil {
		fmt.Fprintf(w, "  %s %v\n", red("error"), err)
	}
}

// printStatus lists the paths that still need attention.
func printStatus(w io.Writer, paths map[string]sync.PathStatus) {
	for _, p := range slices.Sorted(maps.Keys(paths)) {
		st := paths[p]
		switch {
		case st.ConflictState == sync.ConflictStateConflicted:
			fmt.Fprintf(w, "  %s %s\n", yellow("conflicted"), p)
		case st.ConflictState == sync.ConflictStateRejected:
			fmt.Fprintf(w, "  %s %s: %v\n", red("rejected"), p, st.Error)
		case st.Error != nil:
			fmt.Fprintf(w, "  %s %s: %v (%s)\n", red("error"), p, st.Error, english.Plural(st.ErrorCount, "attempt", ""))
		}
	}
}
