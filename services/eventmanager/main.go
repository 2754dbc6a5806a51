// Command eventmanager drains the event_manager extension's queues.
// One process serves one queue: -E for the event queue, -W for the
// work queue. Parallelism comes from running more processes; the
// skip-locked dequeue keeps them from contending.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joeshaw/envdecode"
	_ "github.com/lib/pq"

	"github.com/neadwerx/eventmanager/core/csql"
	"github.com/neadwerx/eventmanager/core/logger"
	"github.com/neadwerx/eventmanager/core/worker"
)

const usageString = `Usage: event_manager
    -U DB User (default: postgres)
    -p DB Port (default: 5432)
    -h DB Host (default: localhost)
    -d DB name (default: DB User)
    -E | -W Start Event or Work Queue Processor, respectively
  [ -D debug mode
    -v VERSION
    -? HELP ]
`

// Service holds the ambient settings. The queue and connection
// selection stays on the command line; these only tune integrations.
type Service struct {
	StatusAddr   string `env:"EVENT_MANAGER_STATUS_ADDR,optional" description:"address for the HTTP status endpoint, e.g. :3000"`
	KafkaBrokers string `env:"EVENT_MANAGER_KAFKA_BROKERS,optional" description:"comma-separated Kafka brokers for the processing log"`
	KafkaTopic   string `env:"EVENT_MANAGER_KAFKA_TOPIC,default=event-manager-processing-log" description:"Kafka topic for the processing log"`
	UserAgent    string `env:"EVENT_MANAGER_USER_AGENT,optional" description:"user agent for remote URI calls"`
	Debug        bool   `env:"EVENT_MANAGER_DEBUG,default=false" description:"enable debug logging"`
}

func usage(message string) {
	if message != "" {
		fmt.Println(message)
	}
	fmt.Print(usageString)
	os.Exit(1)
}

func main() {
	fs := flag.NewFlagSet("event_manager", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	user := fs.String("U", "postgres", "DB user")
	host := fs.String("h", "localhost", "DB host")
	port := fs.String("p", "5432", "DB port")
	dbname := fs.String("d", "", "DB name")
	eventMode := fs.Bool("E", false, "start event queue processor")
	workMode := fs.Bool("W", false, "start work queue processor")
	debug := fs.Bool("D", false, "debug mode")
	version := fs.Bool("v", false, "print version")
	help := fs.Bool("?", false, "print usage")

	if err := fs.Parse(os.Args[1:]); err != nil {
		usage("Invalid argument.")
	}
	if *version {
		fmt.Printf("Event Manager, version %s\n", worker.Version)
		os.Exit(0)
	}
	if *help {
		usage("")
	}
	if *eventMode && *workMode {
		usage("Event and Work queue processing modes are mutually exclusive")
	}
	if !*eventMode && !*workMode {
		usage("Need to instruct program to listen to events (-E) or work (-W)")
	}
	if *dbname == "" {
		*dbname = *user
	}

	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		usage(err.Error())
	}
	logger.Init(*debug || service.Debug)

	conninfo := "user=" + *user + " host=" + *host + " port=" + *port + " dbname=" + *dbname
	logger.Default().Debugf("parsed args: %s", conninfo)

	db, err := csql.Open(conninfo)
	if err != nil {
		logger.Default().Fatalf("failed to connect to DB server: %s", err)
	}

	var mirror *worker.Mirror
	if service.KafkaBrokers != "" {
		mirror = worker.NewMirror(strings.Split(service.KafkaBrokers, ","), service.KafkaTopic)
	}

	w, err := worker.New(&worker.Builder{
		DB:        db,
		Conninfo:  conninfo,
		UserAgent: service.UserAgent,
		Mirror:    mirror,
	})
	if err != nil {
		logger.Default().Fatal(err)
	}

	if service.StatusAddr != "" {
		w.ServeStatus(service.StatusAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		for sig := range sigc {
			switch sig {
			case syscall.SIGTERM:
				logger.Default().Error("Got SIGTERM. Completing current transaction...")
				cancel()
			case syscall.SIGHUP:
				logger.Default().Info("Got SIGHUP")
				w.RequestReload()
			}
		}
	}()

	channel, handler := worker.EventQueueChannel, worker.Handler(w.EventQueueHandler)
	if *workMode {
		channel, handler = worker.WorkQueueChannel, worker.Handler(w.WorkQueueHandler)
	}

	err = w.Listen(ctx, channel, handler)
	w.Close()
	if errors.Is(err, context.Canceled) {
		logger.Default().Error("Exiting after receiving SIGTERM")
		os.Exit(1)
	}
	if err != nil {
		logger.Default().Fatal(err)
	}
}
