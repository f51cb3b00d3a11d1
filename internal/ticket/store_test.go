package ticket

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
)

// storeUnderTest lets the memory and sqlite stores share one behavioural
// suite.
func storeUnderTest(t *testing.T, kind string) Store {
	t.Helper()
	switch kind {
	case "memory":
		return NewMemoryStore()
	case "sqlite":
		st, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "tickets.db"))
		if err != nil {
			t.Fatalf("open sqlite store: %v", err)
		}
		t.Cleanup(func() { _ = st.Close() })
		return st
	default:
		t.Fatalf("unknown store kind %q", kind)
		return nil
	}
}

func TestStoreConsumeOnce(t *testing.T) {
	t.Parallel()

	for _, kind := range []string{"memory", "sqlite"} {
		t.Run(kind, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := storeUnderTest(t, kind)

			if err := st.Issue(ctx, "tok-1", Identity{User: "alice", Tenant: "acme"}); err != nil {
				t.Fatalf("issue: %v", err)
			}

			id, err := st.Consume(ctx, "tok-1")
			if err != nil {
				t.Fatalf("consume: %v", err)
			}
			if id.User != "alice" || id.Tenant != "acme" {
				t.Fatalf("identity = %+v", id)
			}

			if _, err := st.Consume(ctx, "tok-1"); !errors.Is(err, ErrUnknownTicket) {
				t.Fatalf("second consume: err = %v, want ErrUnknownTicket", err)
			}
		})
	}
}

func TestStoreUnknownTicket(t *testing.T) {
	t.Parallel()

	for _, kind := range []string{"memory", "sqlite"} {
		t.Run(kind, func(t *testing.T) {
			t.Parallel()
			st := storeUnderTest(t, kind)
			if _, err := st.Consume(context.Background(), "never-issued"); !errors.Is(err, ErrUnknownTicket) {
				t.Fatalf("err = %v, want ErrUnknownTicket", err)
			}
		})
	}
}

func TestStoreReissueOverwrites(t *testing.T) {
	t.Parallel()

	for _, kind := range []string{"memory", "sqlite"} {
		t.Run(kind, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := storeUnderTest(t, kind)

			if err := st.Issue(ctx, "tok", Identity{User: "alice", Tenant: "acme"}); err != nil {
				t.Fatal(err)
			}
			if err := st.Issue(ctx, "tok", Identity{User: "bob", Tenant: "globex"}); err != nil {
				t.Fatal(err)
			}

			id, err := st.Consume(ctx, "tok")
			if err != nil {
				t.Fatal(err)
			}
			if id.User != "bob" || id.Tenant != "globex" {
				t.Fatalf("identity = %+v, want the re-issued one", id)
			}
		})
	}
}

func TestStoreConcurrentConsumeSingleWinner(t *testing.T) {
	t.Parallel()

	for _, kind := range []string{"memory", "sqlite"} {
		t.Run(kind, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := storeUnderTest(t, kind)

			if err := st.Issue(ctx, "tok", Identity{User: "alice", Tenant: "acme"}); err != nil {
				t.Fatal(err)
			}

			const racers = 8
			var wg sync.WaitGroup
			wins := make(chan Identity, racers)
			for i := 0; i < racers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if id, err := st.Consume(ctx, "tok"); err == nil {
						wins <- id
					}
				}()
			}
			wg.Wait()
			close(wins)

			var n int
			for range wins {
				n++
			}
			if n != 1 {
				t.Fatalf("%d consumers succeeded, want exactly 1", n)
			}
		})
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tickets.db")

	st, err := OpenSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := st.Issue(ctx, fmt.Sprintf("tok-%d", i), Identity{User: "alice", Tenant: "acme"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	for i := 0; i < 3; i++ {
		if _, err := reopened.Consume(ctx, fmt.Sprintf("tok-%d", i)); err != nil {
			t.Fatalf("ticket tok-%d lost across reopen: %v", i, err)
		}
	}
}

func TestSQLiteStoreCreatesParentDirectory(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "dir", "tickets.db")
	st, err := OpenSQLiteStore(path)
	if err != nil {
		t.Fatalf("open with missing parent: %v", err)
	}
	defer st.Close()

	if err := st.Issue(context.Background(), "tok", Identity{User: "a", Tenant: "b"}); err != nil {
		t.Fatal(err)
	}
}
