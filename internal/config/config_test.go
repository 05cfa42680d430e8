package config

import (
	"os"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	tmpfile, err := os.CreateTemp("", "oplogtail-test-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Remove(tmpfile.Name()) })

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}

	return tmpfile.Name()
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
mongo:
  uri: mongodb://localhost:27017
  replica_set: rs0
  connect_timeout: 10s

tail:
  operations:
    - i
    - u
  namespace: foo.bar
  lookback: 5m

archive:
  path: /tmp/oplogtail.db

alerts:
  enabled: false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Mongo.URI != "mongodb://localhost:27017" {
		t.Errorf("expected uri=mongodb://localhost:27017, got %s", cfg.Mongo.URI)
	}
	if cfg.Mongo.ReplicaSet != "rs0" {
		t.Errorf("expected replica_set=rs0, got %s", cfg.Mongo.ReplicaSet)
	}
	if len(cfg.Tail.Operations) != 2 {
		t.Errorf("expected 2 operations, got %d", len(cfg.Tail.Operations))
	}
	if cfg.Archive.Path != "/tmp/oplogtail.db" {
		t.Errorf("expected archive path /tmp/oplogtail.db, got %s", cfg.Archive.Path)
	}
}

func TestLoadMissingURI(t *testing.T) {
	path := writeConfig(t, `
tail:
  namespace: foo.bar
`)

	if _, err := Load(path); err == nil {
		t.Error("expected error for missing mongo.uri")
	}
}

func TestLoadInvalidOperationCode(t *testing.T) {
	path := writeConfig(t, `
mongo:
  uri: mongodb://localhost:27017

tail:
  operations:
    - i
    - x
`)

	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid operation code")
	}
}

func TestLoadInvalidLookback(t *testing.T) {
	path := writeConfig(t, `
mongo:
  uri: mongodb://localhost:27017

tail:
  lookback: yesterday
`)

	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid lookback")
	}
}

func TestFilterEmpty(t *testing.T) {
	tail := &TailConfig{}

	filter, err := tail.Filter()
	if err != nil {
		t.Fatalf("Filter failed: %v", err)
	}
	if filter != nil {
		t.Errorf("expected nil filter, got %v", filter)
	}
}

func TestFilterOperationsAndNamespace(t *testing.T) {
	tail := &TailConfig{
		Operations: []string{"i"},
		Namespace:  "foo.bar",
	}

	filter, err := tail.Filter()
	if err != nil {
		t.Fatalf("Filter failed: %v", err)
	}
	if len(filter) != 2 {
		t.Fatalf("expected 2 filter clauses, got %d", len(filter))
	}
	if filter[0].Key != "op" {
		t.Errorf("expected first clause on op, got %s", filter[0].Key)
	}
	if filter[1].Key != "ns" {
		t.Errorf("expected second clause on ns, got %s", filter[1].Key)
	}
}
