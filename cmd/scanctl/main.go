// Command scanctl publishes administrative scan commands on the
// command bus: start, cancel and reset for a document's scan session.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/document-scan-service/internal/config"
	"github.com/kirillkom/document-scan-service/internal/core/domain"
	"github.com/kirillkom/document-scan-service/internal/infrastructure/queue/nats"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	var (
		action       = flag.String("action", "", "command to publish: start, cancel or reset")
		documentID   = flag.String("doc", "", "document id")
		ownerID      = flag.String("owner", "", "owner id (start and cancel)")
		sources      = flag.String("sources", "", "comma-separated page storage keys (start only)")
		instructions = flag.String("instructions", "", "extra extraction instructions (start only)")
		natsURL      = flag.String("nats", cfg.NATSURL, "nats server url")
		subject      = flag.String("subject", cfg.NATSSubject, "command subject")
	)
	flag.Parse()

	act := domain.CommandAction(*action)
	switch act {
	case domain.ActionStart, domain.ActionCancel, domain.ActionReset:
	default:
		log.Fatalf("unknown action %q, want start, cancel or reset", *action)
	}
	if *documentID == "" {
		log.Fatalf("-doc is required")
	}

	noRetry := false
	bus, err := nats.NewWithOptions(*natsURL, *subject, nats.Options{
		RetryOnFailedConnect: &noRetry,
	})
	if err != nil {
		log.Fatalf("connect command bus: %v", err)
	}
	defer bus.Close()

	cmd := domain.ScanCommand{
		ID:           uuid.NewString(),
		Action:       act,
		DocumentID:   *documentID,
		OwnerID:      *ownerID,
		Sources:      splitSources(*sources),
		Instructions: *instructions,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := bus.PublishCommand(ctx, cmd); err != nil {
		log.Fatalf("publish command: %v", err)
	}
	fmt.Printf("published %s command %s for document %s\n", act, cmd.ID, *documentID)
}

func splitSources(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
