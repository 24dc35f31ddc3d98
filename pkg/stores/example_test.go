package stores_test

import (
	"context"
	"fmt"
	"log"

	"github.com/openfroyo/syncprobe/pkg/engine"
	"github.com/openfroyo/syncprobe/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path: ":memory:", // Use in-memory database for example
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}

	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	defer store.Close()

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_ProvisionedForRun shows how a ledger recovers the
// resources of an interrupted run for teardown.
func ExampleSQLiteStore_ProvisionedForRun() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	_ = store.RunStarted(ctx, "run-001", "test_2024_01_01T00_00_00")
	_ = store.ResourceCreated(ctx, "run-001", engine.ResourceGroup, "group_1")
	_ = store.ResourceCreated(ctx, "run-001", engine.ResourceDestination, "dest_1")
	_ = store.ResourceCreated(ctx, "run-001", engine.ResourceConnector, "conn_1")
	_ = store.ResourceDeleted(ctx, engine.ResourceConnector, "conn_1")

	p, err := store.ProvisionedForRun(ctx, "run-001")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("group=%s destination=%s connector=%q\n", p.GroupID, p.DestinationID, p.ConnectorID)
	// Output: group=group_1 destination=dest_1 connector=""
}
