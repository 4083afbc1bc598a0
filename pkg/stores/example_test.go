package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/statekeep/statekeep/pkg/stores"
)

// ExampleNewSQLiteBackend demonstrates creating and initializing a SQLite backend.
func ExampleNewSQLiteBackend() {
	backend, err := stores.NewSQLiteBackend(stores.Config{
		Path:            ":memory:",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := backend.Init(ctx); err != nil {
		log.Fatal(err)
	}
	if err := backend.Migrate(ctx); err != nil {
		log.Fatal(err)
	}
	defer backend.Close()

	fmt.Println("Backend initialized successfully")
	// Output: Backend initialized successfully
}

// ExampleSQLiteBackend_Set demonstrates storing and reading a value.
func ExampleSQLiteBackend_Set() {
	backend, _ := stores.Open(context.Background(), stores.DriverSQLite, ":memory:")
	defer backend.Close()

	ctx := context.Background()
	_ = backend.Set(ctx, "statekeep:currentTab", []byte(`"settings"`))

	value, _ := backend.Get(ctx, "statekeep:currentTab")
	fmt.Println(string(value))
	// Output: "settings"
}

// ExampleSQLiteBackend_Keys demonstrates listing keys by prefix.
func ExampleSQLiteBackend_Keys() {
	backend, _ := stores.Open(context.Background(), stores.DriverSQLite, ":memory:")
	defer backend.Close()

	ctx := context.Background()
	_ = backend.Set(ctx, "statekeep:currentTab", []byte("1"))
	_ = backend.Set(ctx, "statekeep:currentComponent", []byte("2"))
	_ = backend.Set(ctx, "other:currentTab", []byte("3"))

	keys, _ := backend.Keys(ctx, "statekeep:")
	fmt.Println(keys)
	// Output: [statekeep:currentComponent statekeep:currentTab]
}
