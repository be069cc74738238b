package store

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"sync"
	"testing"

	"github.com/go-playground/assert/v2"
	"github.com/google/uuid"
)

func init() {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	flag.Set("v", "0")
}

// Behavior every backend must share. Room ids are random so the suite can
// run against a shared database.
func runStoreSuite(t *testing.T, s Store) {
	t.Run("GetMissing", func(t *testing.T) {
		_, err := s.Get(context.Background(), "missing-"+uuid.NewString())
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("FindOrCreateStartsEmpty", func(t *testing.T) {
		ctx := context.Background()
		roomID := "room-" + uuid.NewString()

		doc, err := s.FindOrCreate(ctx, roomID)
		if err != nil {
			t.Fatalf("Failed to find or create: %v", err)
		}
		assert.Equal(t, doc.RoomID, roomID)
		assert.Equal(t, string(doc.Content), string(EmptyContent))

		got, err := s.Get(ctx, roomID)
		if err != nil {
			t.Fatalf("Document should exist after creation: %v", err)
		}
		assert.Equal(t, string(got.Content), string(EmptyContent))
	})

	t.Run("SaveOverwrites", func(t *testing.T) {
		ctx := context.Background()
		roomID := "room-" + uuid.NewString()

		if _, err := s.FindOrCreate(ctx, roomID); err != nil {
			t.Fatalf("Failed to find or create: %v", err)
		}

		first := json.RawMessage(`{"ops":[{"insert":"hi"}]}`)
		second := json.RawMessage(`{"ops":[{"insert":"hello"}]}`)
		assert.Equal(t, s.Save(ctx, roomID, first), nil)
		assert.Equal(t, s.Save(ctx, roomID, second), nil)

		doc, err := s.FindOrCreate(ctx, roomID)
		if err != nil {
			t.Fatalf("Failed to reload: %v", err)
		}
		assert.Equal(t, string(doc.Content), string(second))
	})

	t.Run("SaveCreatesMissing", func(t *testing.T) {
		ctx := context.Background()
		roomID := "room-" + uuid.NewString()

		content := json.RawMessage(`{"ops":[{"insert":"x"}]}`)
		assert.Equal(t, s.Save(ctx, roomID, content), nil)

		doc, err := s.Get(ctx, roomID)
		if err != nil {
			t.Fatalf("Saved document should exist: %v", err)
		}
		assert.Equal(t, string(doc.Content), string(content))
	})

	t.Run("ConcurrentFindOrCreate", func(t *testing.T) {
		ctx := context.Background()
		roomID := "room-" + uuid.NewString()

		const callers = 16
		docs := make([]*Document, callers)
		errs := make([]error, callers)

		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				docs[i], errs[i] = s.FindOrCreate(ctx, roomID)
			}(i)
		}
		wg.Wait()

		for i := 0; i < callers; i++ {
			if errs[i] != nil {
				t.Fatalf("Caller %d failed: %v", i, errs[i])
			}
			assert.Equal(t, docs[i].RoomID, roomID)
			assert.Equal(t, string(docs[i].Content), string(EmptyContent))
			assert.Equal(t, docs[i].CreatedAt.Equal(docs[0].CreatedAt), true)
		}
	})
}
