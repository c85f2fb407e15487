package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codewandler/identity-go/identity/app"
	"github.com/codewandler/identity-go/identity/user"
)

const loadtestPassword = "loadtest-password"

// runLoadtest registers n users and logs each one in, reporting throughput
// every batch operations.
func runLoadtest(ctx context.Context, svc *service, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	var (
		n       = fs.Int("n", 1_000, "number of users")
		batch   = fs.Int("batch", 100, "report interval in users")
		workers = fs.Int("workers", 8, "concurrent workers")
	)
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	if *n <= 0 || *batch <= 0 || *workers <= 0 {
		return fmt.Errorf("%w: -n, -batch and -workers must be positive", errUsage)
	}

	var (
		done     atomic.Int64
		startAt  = time.Now()
		lastTime = startAt
		runID    = user.NewID().String()[:8]
		reports  = make(chan int64, *workers)
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(*workers)

	reportDone := make(chan struct{})
	go func() {
		defer close(reportDone)
		for i := range reports {
			now := time.Now()
			took := now.Sub(lastTime)
			mu := getMemUsage()
			fmt.Fprintf(stdout, "| %6d users | %6d ms | %6d users/s | (%d / %d) MiB mem (sys) |\n",
				i, took.Milliseconds(), int(float64(*batch)/took.Seconds()), mu.Alloc/1024/1024, mu.Sys/1024/1024)
			lastTime = now
		}
	}()

	for i := range *n {
		g.Go(func() error {
			id := user.NewID().String()
			if err := svc.bus.Dispatch(ctx, app.RegisterUser{
				ID:       id,
				Email:    fmt.Sprintf("user-%s-%d@loadtest.example", runID, i),
				Password: loadtestPassword,
			}); err != nil {
				return fmt.Errorf("register user %d: %w", i, err)
			}
			if err := svc.bus.Dispatch(ctx, app.LoginUser{UserID: id, Password: loadtestPassword}); err != nil {
				return fmt.Errorf("login user %d: %w", i, err)
			}
			if c := done.Add(1); c%int64(*batch) == 0 {
				reports <- c
			}
			return nil
		})
	}
	err := g.Wait()
	close(reports)
	<-reportDone
	if err != nil {
		return err
	}

	took := time.Since(startAt)
	runtime.GC()
	fmt.Fprintf(stdout, "total runtime: %.3f seconds\n", took.Seconds())
	fmt.Fprintf(stdout, "        users: %d\n", done.Load())
	fmt.Fprintf(stdout, " avg. users/s: %d\n", int(float64(done.Load())/took.Seconds()))
	return nil
}

type memUsage struct {
	Alloc uint64 // bytes allocated and not yet freed (heap)
	Sys   uint64 // total bytes obtained from OS
}

func getMemUsage() memUsage {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return memUsage{Alloc: m.Alloc, Sys: m.Sys}
}
