package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"github.com/couchcryptid/disaster-ingest/internal/domain"
	"github.com/couchcryptid/disaster-ingest/internal/task"
)

func main() {
	_ = godotenv.Load()

	var (
		taskName  = flag.String("task", "run", "task to enqueue: run, validate, or validate-all")
		connector = flag.String("connector", "", "connector type (required for run and validate)")
		natsURL   = flag.String("nats", envOr("NATS_URL", nats.DefaultURL), "NATS server URL")
	)
	flag.Parse()

	if err := enqueue(*natsURL, *taskName, *connector); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func enqueue(url, taskName, connectorArg string) error {
	pub, err := task.NewPublisher(url)
	if err != nil {
		return err
	}
	defer pub.Close()

	switch taskName {
	case "run", "validate":
		typ := domain.ConnectorType(connectorArg)
		if !typ.Valid() {
			return fmt.Errorf("unknown connector type %q", connectorArg)
		}
		if taskName == "run" {
			if err := pub.EnqueueRun(typ); err != nil {
				return err
			}
		} else {
			if err := pub.EnqueueValidate(typ); err != nil {
				return err
			}
		}
		fmt.Printf("enqueued %s for connector %s\n", taskName, typ)
	case "validate-all":
		if err := pub.EnqueueValidateAll(); err != nil {
			return err
		}
		fmt.Println("enqueued validate-all")
	default:
		return fmt.Errorf("unknown task %q (want run, validate, or validate-all)", taskName)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
