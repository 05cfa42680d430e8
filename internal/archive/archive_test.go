package archive

import (
	"os"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/oplogtail/oplogtail"
)

func mustRaw(t *testing.T, doc bson.D) bson.Raw {
	t.Helper()
	raw, err := bson.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestStore(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "oplogtail-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	tmpfile.Close()
	defer os.Remove(tmpfile.Name())

	store, err := New(tmpfile.Name())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	t.Run("HandleOperation", func(t *testing.T) {
		ops := []oplogtail.Operation{
			oplogtail.Noop{
				ID:        1,
				Timestamp: time.Unix(1479419535, 0).UTC(),
				Message:   "initiating set",
			},
			oplogtail.Insert{
				ID:        2,
				Timestamp: time.Unix(1479561394, 0).UTC(),
				Namespace: "foo.bar",
				Document:  mustRaw(t, bson.D{{Key: "foo", Value: "bar"}}),
			},
			oplogtail.Insert{
				ID:        3,
				Timestamp: time.Unix(1479561395, 0).UTC(),
				Namespace: "foo.bar",
				Document:  mustRaw(t, bson.D{{Key: "foo", Value: "baz"}}),
			},
		}

		for _, op := range ops {
			if err := store.HandleOperation(op); err != nil {
				t.Fatalf("HandleOperation failed: %v", err)
			}
		}
	})

	t.Run("Counts", func(t *testing.T) {
		counts, err := store.Counts()
		if err != nil {
			t.Fatalf("Counts failed: %v", err)
		}

		if counts["noop"] != 1 {
			t.Errorf("expected 1 noop, got %d", counts["noop"])
		}
		if counts["insert"] != 2 {
			t.Errorf("expected 2 inserts, got %d", counts["insert"])
		}
	})

	t.Run("LastEntry", func(t *testing.T) {
		last, err := store.LastEntry()
		if err != nil {
			t.Fatalf("LastEntry failed: %v", err)
		}

		if last.Kind != "insert" {
			t.Errorf("expected insert, got %s", last.Kind)
		}
		if last.ID != 3 {
			t.Errorf("expected id 3, got %d", last.ID)
		}
		if last.Namespace != "foo.bar" {
			t.Errorf("expected namespace foo.bar, got %s", last.Namespace)
		}
	})
}

func TestLastEntryEmpty(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "oplogtail-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	tmpfile.Close()
	defer os.Remove(tmpfile.Name())

	store, err := New(tmpfile.Name())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	if _, err := store.LastEntry(); err == nil {
		t.Error("expected error for empty archive")
	}
}
