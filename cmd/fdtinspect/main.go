// Command fdtinspect drives an in-memory cage through a scripted sequence
// of fdtables operations and prints the resulting table as it goes. It is
// a debug/demo tool, not part of the library's public API — the same
// relationship lxd-benchmark and lxc have to the lxd core packages they
// exercise.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/JustinCappos/fdtables"
	"github.com/JustinCappos/fdtables/internal/fdlog"
)

type cmdInspect struct {
	cageID int64
	debug  bool
}

func (c *cmdInspect) command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = "fdtinspect"
	cmd.Short = "Run a scripted fdtables sequence and print the resulting cage state"
	cmd.RunE = c.run

	cmd.Flags().Int64Var(&c.cageID, "cage-id", 1, "cage id to operate on")
	cmd.Flags().BoolVar(&c.debug, "debug", false, "enable fdtables debug logging")

	return cmd
}

func (c *cmdInspect) run(cmd *cobra.Command, args []string) error {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stdout)

	if c.debug {
		log.SetLevel(log.DebugLevel)
		fdlog.SetLevel(log.DebugLevel)
	}

	fdtables.RegisterCloseHandlers(
		func(realfd uint64) { log.WithField("real_fd", realfd).Debug("intermediate close") },
		func(realfd uint64) { log.WithField("real_fd", realfd).Info("last reference closed") },
		func(optinfo uint64) { log.WithField("optionalinfo", optinfo).Info("unreal entry closed") },
	)

	cageID := fdtables.CageID(c.cageID)

	fdtables.InitEmptyCage(cageID)
	defer fdtables.RemoveCageFromFdtable(cageID)

	v1, err := fdtables.GetUnusedVirtualFd(cageID, 10, false, 0)
	if err != nil {
		return fmt.Errorf("allocate real entry: %w", err)
	}

	v2, err := fdtables.GetUnusedVirtualFd(cageID, fdtables.NoRealFD, true, 42)
	if err != nil {
		return fmt.Errorf("allocate unreal entry: %w", err)
	}

	err = fdtables.GetSpecificVirtualFd(cageID, 15, 10, false, 0)
	if err != nil {
		return fmt.Errorf("dup onto fd 15: %w", err)
	}

	printTable(cmd.OutOrStdout(), cageID)

	_, remaining, err := fdtables.CloseVirtualFd(cageID, v1)
	if err != nil {
		return fmt.Errorf("close v1: %w", err)
	}

	log.WithFields(log.Fields{"virt_fd": v1, "remaining_refs": remaining}).Info("closed first reference")

	stats := fdtables.Stats(cageID)
	log.WithFields(log.Fields{
		"real_entries":   stats.RealCount,
		"unreal_entries": stats.UnrealCount,
		"highest_virt":   stats.HighestVirt,
	}).Info("cage summary")

	printTable(cmd.OutOrStdout(), cageID)

	_, _, err = fdtables.CloseVirtualFd(cageID, v2)
	if err != nil {
		return fmt.Errorf("close v2: %w", err)
	}

	return nil
}

func printTable(w io.Writer, cageID fdtables.CageID) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"virt-fd", "real-fd", "cloexec", "optionalinfo"})
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	snap := fdtables.Snapshot(cageID)
	for vfd, e := range snap {
		realfd := fmt.Sprintf("%d", e.RealFD)
		if e.RealFD == fdtables.NoRealFD {
			realfd = "unreal"
		}

		table.Append([]string{
			fmt.Sprintf("%d", vfd),
			realfd,
			fmt.Sprintf("%t", e.ShouldCloexec),
			fmt.Sprintf("%d", e.OptionalInfo),
		})
	}

	table.Render()
}

func main() {
	c := &cmdInspect{}
	if err := c.command().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
