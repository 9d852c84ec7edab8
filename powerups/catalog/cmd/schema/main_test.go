package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteSchemaProducesJSON(t *testing.T) {
	out := filepath.Join(t.TempDir(), "nested", "catalog.schema.json")
	if err := writeSchema(out, buildSchema()); err != nil {
		t.Fatalf("writeSchema failed: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("schema is not valid JSON: %v", err)
	}
	if decoded["title"] != "Stream Drop Powerup Catalog" {
		t.Fatalf("unexpected title %v", decoded["title"])
	}
	if _, err := os.Stat(out + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("expected temp file to be renamed away")
	}
}
