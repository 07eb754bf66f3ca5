// Command simplequeue administers and works on job queues.
//
//	simplequeue [-driver sqlite|postgres|mysql|redis] [-dsn DSN] <command> [flags] [args]
//
// Commands:
//
//	schema                     create the storage structure of the backend
//	push [-queue q] <json>...  push one job per JSON payload argument
//	work [-queue q] [-rest 5s] [-limit n] [-workers n] [-stop-on-failure] [-log-results]
//	retry [-queue q]           handle one failed job
//	status [-queue q]          print the number of jobs per state
//	purge                      delete all jobs of all queues
//
// The driver and DSN default to the SIMPLEQUEUE_DRIVER and SIMPLEQUEUE_DSN
// environment variables, which may be set in a .env file.
// The work command logs the payload of every job as its result.
// SIGINT and SIGTERM stop workers after their current job.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/domonda/go-errs"
	"github.com/domonda/go-types/notnull"
	rootlog "github.com/domonda/golog/log"

	"github.com/domonda/go-simplequeue"
	"github.com/domonda/go-simplequeue/simplequeuedb"
	"github.com/domonda/go-simplequeue/worker"
)

var log = rootlog.NewPackageLogger()

func main() {
	err := run(context.Background(), os.Args[1:], os.Stdout)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(2)
	}
	if err != nil {
		log.Error("simplequeue failed").Err(err).Log()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) (err error) {
	config, err := simplequeuedb.ConfigFromEnv()
	if err != nil {
		return err
	}

	flags := flag.NewFlagSet("simplequeue", flag.ContinueOnError)
	driver := flags.String("driver", config.Driver.String(), "backend driver: sqlite, postgres, mysql or redis (overrides $SIMPLEQUEUE_DRIVER)")
	flags.StringVar(&config.DSN, "dsn", config.DSN, "SQLite file, postgres://, mysql:// or redis:// URL (overrides $SIMPLEQUEUE_DSN)")
	flags.DurationVar(&config.LockExpiry, "lock-expiry", config.LockExpiry, "expiry of Redis job locks (overrides $SIMPLEQUEUE_LOCK_EXPIRY)")
	flags.Usage = func() {
		fmt.Fprintln(flags.Output(), "usage: simplequeue [flags] schema|push|work|retry|status|purge [command flags] [args]")
		flags.PrintDefaults()
	}
	if err = flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() == 0 {
		flags.Usage()
		return flag.ErrHelp
	}
	config.Driver, err = simplequeuedb.ParseDriver(*driver)
	if err != nil {
		return err
	}

	command, commandArgs := flags.Arg(0), flags.Args()[1:]
	commandFunc, ok := commands[command]
	if !ok {
		flags.Usage()
		return errs.Errorf("unknown command %q", command)
	}

	client, err := simplequeuedb.Open(ctx, config)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, client.Close())
	}()

	return commandFunc(ctx, client, commandArgs, stdout)
}

type commandFunc func(ctx context.Context, client *simplequeue.Client, args []string, stdout io.Writer) error

var commands = map[string]commandFunc{
	"schema": schemaCommand,
	"push":   pushCommand,
	"work":   workCommand,
	"retry":  retryCommand,
	"status": statusCommand,
	"purge":  purgeCommand,
}

func newFlagSet(command string) (flags *flag.FlagSet, queue *string) {
	flags = flag.NewFlagSet(command, flag.ContinueOnError)
	queue = flags.String("queue", simplequeue.DefaultQueue, "name of the queue")
	return flags, queue
}

func schemaCommand(ctx context.Context, client *simplequeue.Client, args []string, stdout io.Writer) error {
	if err := client.CreateSchema(ctx); err != nil {
		return err
	}
	fmt.Fprintln(stdout, "schema created")
	return nil
}

func pushCommand(ctx context.Context, client *simplequeue.Client, args []string, stdout io.Writer) error {
	flags, queue := newFlagSet("push")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() == 0 {
		return errs.New("push needs at least one JSON payload argument")
	}
	for _, payload := range flags.Args() {
		jobID, err := client.Push(ctx, notnull.JSON(payload), simplequeue.InQueue(*queue))
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, jobID)
	}
	return nil
}

// logPayload is the handler of the work and retry commands.
var logPayload = simplequeue.HandlerFunc(func(ctx context.Context, job *simplequeue.Job) (any, error) {
	log.Info("Handling job").
		UUID("jobID", job.ID).
		Str("queue", job.Queue).
		Str("payload", string(job.Payload)).
		Log()
	return job.Payload, nil
})

func workCommand(ctx context.Context, client *simplequeue.Client, args []string, stdout io.Writer) error {
	config := worker.DefaultConfig()
	flags, queue := newFlagSet("work")
	flags.DurationVar(&config.RestInterval, "rest", config.RestInterval, "time to wait after every attempt to handle a job")
	flags.IntVar(&config.Limit, "limit", 0, "maximum number of attempts per worker, 0 for unlimited")
	flags.BoolVar(&config.StopOnFailure, "stop-on-failure", false, "stop after the first failed job")
	flags.BoolVar(&config.LogResults, "log-results", false, "log the result of every handled job")
	numWorkers := flags.Int("workers", 1, "number of concurrent workers")
	if err := flags.Parse(args); err != nil {
		return err
	}
	config.Queue = *queue

	stopSignals := make(chan os.Signal, 1)
	signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stopSignals)
	go func() {
		select {
		case sig := <-stopSignals:
			log.Info("Shutting down workers").
				Str("signal", sig.String()).
				Log()
			client.Shutdown()
		case <-client.ShutdownSignal():
		}
	}()
	// Ends the signal goroutine
	defer client.Shutdown()

	if *numWorkers == 1 {
		return worker.Work(ctx, client, logPayload, config)
	}
	return worker.RunConcurrently(ctx, *numWorkers, client, logPayload, config)
}

func retryCommand(ctx context.Context, client *simplequeue.Client, args []string, stdout io.Writer) error {
	flags, queue := newFlagSet("retry")
	if err := flags.Parse(args); err != nil {
		return err
	}
	result, err := client.HandleFailed(ctx, logPayload, simplequeue.InQueue(*queue), simplequeue.ReturnJobFailed())
	if err != nil {
		return err
	}
	if result == nil {
		fmt.Fprintln(stdout, "no failed job")
		return nil
	}
	fmt.Fprintf(stdout, "handled %s\n", result)
	return nil
}

func statusCommand(ctx context.Context, client *simplequeue.Client, args []string, stdout io.Writer) error {
	flags, queue := newFlagSet("status")
	if err := flags.Parse(args); err != nil {
		return err
	}
	status, err := client.GetStatus(ctx, simplequeue.InQueue(*queue))
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "queue:     %s\navailable: %d\nreserved:  %d\nfailed:    %d\n",
		status.Queue,
		status.NumAvailable,
		status.NumReserved,
		status.NumFailed,
	)
	return nil
}

func purgeCommand(ctx context.Context, client *simplequeue.Client, args []string, stdout io.Writer) error {
	if err := client.PurgeAll(ctx); err != nil {
		return err
	}
	fmt.Fprintln(stdout, "all jobs deleted")
	return nil
}
