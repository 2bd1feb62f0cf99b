// seed inserts a handful of run_at triggers against a running scheduler's
// database for local dev exercise. Run: go run ./cmd/seed
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/cronback-oss/cronback/internal/domain"
	"github.com/cronback-oss/cronback/internal/errs"
	"github.com/cronback-oss/cronback/internal/id"
	"github.com/cronback-oss/cronback/internal/postgres"
	"github.com/cronback-oss/cronback/internal/store"
)

// seedOwnerID is a fixed project ID for local dev seeding.
const seedOwnerID = "SEEDDEV0000000001"

type triggerSpec struct {
	name    string
	url     string
	method  domain.Method
	retries int
	kind    domain.RetryPolicyKind
}

var triggerSpecs = []triggerSpec{
	// Happy path — should complete successfully
	{"seed-001", "https://httpbin.org/post", domain.MethodPOST, 3, domain.RetryExponential},
	{"seed-002", "https://httpbin.org/post", domain.MethodPOST, 3, domain.RetryExponential},
	{"seed-003", "https://httpbin.org/get", domain.MethodGET, 3, domain.RetryExponential},

	// Will fail — server returns 5xx, exhausts retries
	{"seed-004", "https://httpbin.org/status/500", domain.MethodPOST, 3, domain.RetryExponential},
	{"seed-005", "https://httpbin.org/status/503", domain.MethodPOST, 2, domain.RetrySimple},

	// Will fail — not found, no retry budget
	{"seed-006", "https://httpbin.org/status/404", domain.MethodGET, 1, domain.RetrySimple},

	// Mixed methods
	{"seed-007", "https://httpbin.org/put", domain.MethodPUT, 3, domain.RetryExponential},
	{"seed-008", "https://httpbin.org/patch", domain.MethodPATCH, 3, domain.RetryExponential},
	{"seed-009", "https://httpbin.org/delete", domain.MethodDELETE, 3, domain.RetryExponential},

	// Rejected at dispatch time by the SSRF gate — never reaches httpbin
	{"seed-010", "http://127.0.0.1:8888/", domain.MethodGET, 1, domain.RetrySimple},
}

func main() {
	ctx := context.Background()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	pool, err := postgres.NewPool(ctx, dbURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	triggerStore := postgres.NewTriggerStore(pool)

	scheduledAt := time.Now().Add(time.Minute)

	var created, skipped int
	var triggerIDs []string

	for _, spec := range triggerSpecs {
		trig := domain.Trigger{
			ID:    id.New(id.KindTrigger, seedOwnerID).String(),
			Owner: seedOwnerID,
			Name:  spec.name,
			Action: domain.WebhookAction{
				URL:      spec.url,
				Method:   spec.method,
				TimeoutS: 10,
				RetryPolicy: &domain.RetryPolicy{
					Kind:           spec.kind,
					MaxNumAttempts: spec.retries,
					DelayS:         2,
					MaxDelayS:      30,
				},
			},
			Payload: domain.Payload{
				Body:        []byte(`{"source":"seed"}`),
				ContentType: "application/json",
			},
			Schedule: domain.Schedule{
				Kind: domain.ScheduleRunAt,
				RunAt: domain.RunAt{
					Timepoints: []time.Time{scheduledAt},
				},
			},
			Status: domain.TriggerScheduled,
		}

		saved, err := triggerStore.Upsert(ctx, trig, store.Precondition{IfNotExists: true})
		if err != nil {
			if errs.KindOf(err) == errs.KindPreconditionFail {
				skipped++
				continue
			}
			log.Fatalf("insert trigger %s: %v", spec.name, err)
		}
		created++
		triggerIDs = append(triggerIDs, saved.ID)
	}

	fmt.Println("Seed complete")
	fmt.Println()
	fmt.Printf("  Owner ID:        %s\n", seedOwnerID)
	fmt.Printf("  Triggers created: %d  (skipped %d already existing)\n", created, skipped)
	fmt.Printf("  Scheduled at:     %s  (~1 minute from now)\n", scheduledAt.Format(time.RFC3339))
	fmt.Println()

	if len(triggerIDs) > 0 {
		fmt.Println("  Trigger IDs:")
		for _, tid := range triggerIDs {
			fmt.Printf("    %s\n", tid)
		}
	}

	fmt.Println()
	fmt.Println("How to test:")
	fmt.Println()
	fmt.Println("  curl -s http://localhost:8080/v1/triggers/TRIGGER_ID -H \"Authorization: Bearer $ADMIN_KEY\"")
	fmt.Println()
	fmt.Println("  Wait ~1 minute for the spinner to fire the trigger, then check its runs:")
	fmt.Println()
	fmt.Println("    curl -s http://localhost:8080/v1/triggers/TRIGGER_ID/runs -H \"Authorization: Bearer $ADMIN_KEY\"")
}
