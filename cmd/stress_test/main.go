package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/volundmush/mudsnake/internal/adapter/storage"
	"github.com/volundmush/mudsnake/internal/core/domain"
	"github.com/volundmush/mudsnake/internal/core/schema"
	"github.com/volundmush/mudsnake/internal/core/service"
	"github.com/volundmush/mudsnake/internal/port"
	"github.com/volundmush/mudsnake/internal/telemetry"
)

// Many players grab from one loot pile at once, all into the same small
// pack. Exactly the pack's capacity worth of loots may succeed.
func main() {
	var (
		schemaPath = flag.String("schema", "schemas/default.yaml", "schema file")
		looters    = flag.Int("looters", 50, "concurrent loot attempts")
		sqlitePath = flag.String("sqlite", "", "use a sqlite store at this path instead of memory")
		logLevel   = flag.String("log-level", "warn", "log level")
	)
	flag.Parse()

	log, err := telemetry.NewLogger(os.Stderr, *logLevel, "text")
	if err != nil {
		logrus.Fatal(err)
	}
	if err := run(context.Background(), log, *schemaPath, *sqlitePath, *looters); err != nil {
		log.WithError(err).Fatal("stress test failed")
	}
}

func run(ctx context.Context, log *logrus.Logger, schemaPath, sqlitePath string, looters int) error {
	registry, err := schema.LoadFile(schemaPath)
	if err != nil {
		return err
	}

	var store port.ObjectStore = storage.NewMemoryStore()
	if sqlitePath != "" {
		s, err := storage.OpenSQLite(sqlitePath)
		if err != nil {
			return err
		}
		defer s.Close()
		store = s
	}

	svc := service.NewInventoryService(service.Deps{Registry: registry, Store: store, Logger: log})
	defer svc.Close()

	rat, err := svc.SpawnActor(ctx, "rat", nil)
	if err != nil {
		return err
	}
	root, err := svc.Look(ctx, rat.RootContainer)
	if err != nil {
		return err
	}
	capacity := root.Container.Capacity.MaxCount

	pile, err := svc.CreateContainer(ctx, domain.Parent{}, domain.Capacity{})
	if err != nil {
		return err
	}
	items := make([]domain.ID, 0, looters)
	for range looters {
		res, err := svc.Create(ctx, rat.ID, "copper-ring", 1, pile.ID)
		if err != nil {
			return fmt.Errorf("seed pile: %w", err)
		}
		items = append(items, res.Created...)
	}

	var (
		mu       sync.Mutex
		success  int
		failures = map[domain.Kind]int{}
		wg       sync.WaitGroup
	)
	start := time.Now()
	for _, item := range items {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Loot(ctx, rat.ID, pile.ID, item, 0)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				success++
				return
			}
			failures[domain.KindOf(err)]++
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	after, err := svc.Look(ctx, rat.RootContainer)
	if err != nil {
		return err
	}

	fmt.Println("========== LOOT CONTENTION RESULTS ==========")
	fmt.Printf("Pack Capacity:    %d\n", capacity)
	fmt.Printf("Loot Attempts:    %d\n", len(items))
	fmt.Printf("Successful:       %d\n", success)
	for kind, n := range failures {
		fmt.Printf("Failed %-11s %d\n", kind+":", n)
	}
	fmt.Printf("Items In Pack:    %d\n", len(after.Items))
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("=============================================")

	if success != capacity || len(after.Items) != capacity {
		return fmt.Errorf("expected %d loots to land, got %d successes and %d items", capacity, success, len(after.Items))
	}
	fmt.Printf("PASS: exactly %d loots succeeded\n", capacity)
	return nil
}
