// Copyright 2026 The QFS Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func writeTestFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestReadSnapshot(t *testing.T) {
	path := writeTestFile(t, "aegis.jsonc", `{
	// verdict from the 2026-08-20 verification round
	"round": 812,
	"eligible": [
		"node-a",
		"node-b", /* rejoined after maintenance */
	],
}`)

	got, err := readSnapshot(path)
	if err != nil {
		t.Fatalf("readSnapshot: %v", err)
	}
	want := `{"round":812,"eligible":["node-a","node-b"]}`
	if string(got) != want {
		t.Errorf("readSnapshot = %s, want %s", got, want)
	}
}

func TestReadSnapshot_CommentsDoNotChangeBytes(t *testing.T) {
	plain := writeTestFile(t, "plain.json", `{"round": 812, "eligible": ["node-a"]}`)
	annotated := writeTestFile(t, "annotated.jsonc", `{
	// same snapshot, heavily annotated
	"round": 812, /* verification round */
	"eligible": [
		"node-a", // sole survivor
	],
}`)

	first, err := readSnapshot(plain)
	if err != nil {
		t.Fatalf("readSnapshot(plain): %v", err)
	}
	second, err := readSnapshot(annotated)
	if err != nil {
		t.Fatalf("readSnapshot(annotated): %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("normalized snapshots differ:\n  plain:     %s\n  annotated: %s", first, second)
	}
}

func TestReadSnapshot_EmptyPath(t *testing.T) {
	got, err := readSnapshot("")
	if err != nil {
		t.Fatalf("readSnapshot(\"\"): %v", err)
	}
	if got != nil {
		t.Errorf("readSnapshot(\"\") = %v, want nil", got)
	}
}

func TestReadSnapshot_InvalidJSON(t *testing.T) {
	path := writeTestFile(t, "broken.jsonc", `{"round": 812`)

	_, err := readSnapshot(path)
	if err == nil {
		t.Fatal("readSnapshot succeeded on truncated JSON, want error")
	}
	if !strings.Contains(err.Error(), "not valid JSON") {
		t.Errorf("error %q does not mention invalid JSON", err)
	}
}

func TestReadSnapshot_MissingFile(t *testing.T) {
	if _, err := readSnapshot(filepath.Join(t.TempDir(), "absent.jsonc")); err == nil {
		t.Fatal("readSnapshot succeeded on a missing file, want error")
	}
}

func TestReadEligibleFile(t *testing.T) {
	path := writeTestFile(t, "eligible.txt", `# attested 2026-08-20
node-a
  node-b

# decommissioned: node-x
node-c
`)

	got, err := readEligibleFile(path)
	if err != nil {
		t.Fatalf("readEligibleFile: %v", err)
	}
	want := []string{"node-a", "node-b", "node-c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("readEligibleFile = %v, want %v", got, want)
	}
}

func TestReadEligibleFile_Empty(t *testing.T) {
	path := writeTestFile(t, "empty.txt", "# nothing attested yet\n\n")

	got, err := readEligibleFile(path)
	if err != nil {
		t.Fatalf("readEligibleFile: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("readEligibleFile = %v, want empty", got)
	}
}

func TestReadEligibleFile_MissingFile(t *testing.T) {
	if _, err := readEligibleFile(filepath.Join(t.TempDir(), "absent.txt")); err == nil {
		t.Fatal("readEligibleFile succeeded on a missing file, want error")
	}
}
