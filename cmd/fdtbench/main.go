// Command fdtbench stress-tests GetUnusedVirtualFd with many goroutines
// racing to allocate on the same cage, exercising the no-collision
// guarantee fdtables promises under concurrent access.
//
// The batching shape (fixed-size waves of goroutines, a WaitGroup per wave,
// periodic throughput logging) is adapted from lxd-benchmark's
// processBatch, which parallelizes container launches the same way.
package main

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/JustinCappos/fdtables"
)

type cmdBench struct {
	count    int
	parallel int
}

func (c *cmdBench) command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = "fdtbench"
	cmd.Short = "Race goroutines allocating virt-fds on one cage"
	cmd.RunE = c.run

	cmd.Flags().IntVar(&c.count, "count", 2000, "number of allocations to attempt")
	cmd.Flags().IntVar(&c.parallel, "parallel", 0, "goroutines per wave (defaults to NumCPU)")

	return cmd
}

func getBatchSize(parallel int) int {
	if parallel > 0 {
		return parallel
	}

	return runtime.NumCPU()
}

func (c *cmdBench) run(cmd *cobra.Command, args []string) error {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stdout)

	const cageID = fdtables.CageID(1)
	fdtables.InitEmptyCage(cageID)
	defer fdtables.RemoveCageFromFdtable(cageID)

	batchSize := getBatchSize(c.parallel)

	var mu sync.Mutex
	seen := make(map[fdtables.VirtFD]bool, c.count)
	var emfile, collisions int

	allocate := func(index int, wg *sync.WaitGroup) {
		defer wg.Done()

		vfd, err := fdtables.GetUnusedVirtualFd(cageID, fdtables.RealFD(index), false, 0)

		mu.Lock()
		defer mu.Unlock()

		if err != nil {
			emfile++
			return
		}

		if seen[vfd] {
			collisions++
			return
		}

		seen[vfd] = true
	}

	duration := processBatch(c.count, batchSize, allocate)

	log.WithFields(log.Fields{
		"allocated":  len(seen),
		"emfile":     emfile,
		"collisions": collisions,
		"duration":   duration,
	}).Info("bench complete")

	if collisions > 0 {
		return fmt.Errorf("detected %d virt-fd collisions under concurrent allocation", collisions)
	}

	return nil
}

func processBatch(count int, batchSize int, process func(index int, wg *sync.WaitGroup)) time.Duration {
	batches := count / batchSize
	remainder := count % batchSize
	processed := 0
	wg := sync.WaitGroup{}
	nextStat := batchSize

	log.Debugf("Allocation batch starting: %d allocations, batch size %d", count, batchSize)

	timeStart := time.Now()

	for range batches {
		for range batchSize {
			wg.Add(1)
			go process(processed, &wg)
			processed++
		}

		wg.Wait()

		if processed >= nextStat {
			interval := time.Since(timeStart).Seconds()
			log.Debugf("Processed %d allocations in %.3fs (%.3f/s)", processed, interval, float64(processed)/interval)
			nextStat *= 2
		}
	}

	for range remainder {
		wg.Add(1)
		go process(processed, &wg)
		processed++
	}

	wg.Wait()

	elapsed := time.Since(timeStart)
	log.Debugf("Allocation batch completed: %d allocations in %.3fs", processed, elapsed.Seconds())

	return elapsed
}

func main() {
	c := &cmdBench{}
	if err := c.command().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
