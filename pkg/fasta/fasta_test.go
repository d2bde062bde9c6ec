package fasta

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseSplitsIDAndDescription(t *testing.T) {
	input := ">HLA-A*01:01 1(A) 365 bp\nMAVM\nAPRT\n>HLA-B*07:02\nMLVM\n"

	records, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].ID != "HLA-A*01:01" {
		t.Errorf("wrong id: %q", records[0].ID)
	}
	if records[0].Description != "1(A) 365 bp" {
		t.Errorf("wrong description: %q", records[0].Description)
	}
	if records[0].Sequence != "MAVMAPRT" {
		t.Errorf("wrapped sequence not concatenated: %q", records[0].Sequence)
	}
	if records[1].Description != "" {
		t.Errorf("expected empty description, got %q", records[1].Description)
	}
}

func TestPairedRecordRoundTrip(t *testing.T) {
	// Chain-paired records carry ';;' in the header and '/' in the body.
	rec := Record{
		ID:          "HLA-DQA1*01:01",
		Description: "some text;;HLA-DQB1*02:01 more text",
		Sequence:    "MILNKA/MSWKKA",
	}

	path := filepath.Join(t.TempDir(), "pair.fasta")
	if err := WriteFile(path, []Record{rec}); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	if got[0].Header() != rec.Header() {
		t.Errorf("header changed: %q vs %q", got[0].Header(), rec.Header())
	}
	if got[0].Sequence != rec.Sequence {
		t.Errorf("sequence changed: %q vs %q", got[0].Sequence, rec.Sequence)
	}
}

func TestLongestFirstWinsOnTie(t *testing.T) {
	records := []Record{
		{ID: "short", Sequence: "AA"},
		{ID: "first", Sequence: "AAAA"},
		{ID: "second", Sequence: "CCCC"},
	}

	best, ok := Longest(records)
	if !ok {
		t.Fatal("expected a longest record")
	}
	if best.ID != "first" {
		t.Errorf("tie should keep the earliest record, got %q", best.ID)
	}

	if _, ok := Longest(nil); ok {
		t.Error("empty input should report ok=false")
	}
	if _, ok := Longest([]Record{{ID: "empty"}}); ok {
		t.Error("record without sequence should report ok=false")
	}
}

func TestFilterByHeaderCaseInsensitive(t *testing.T) {
	records := []Record{
		{ID: "HLA-DRB3*01:01", Description: "allele"},
		{ID: "HLA-DRB4*01:01"},
		{ID: "other", Description: "matches drb3 in description"},
	}

	kept := FilterByHeader(records, "DRB3")
	if len(kept) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(kept))
	}
	if kept[0].ID != "HLA-DRB3*01:01" || kept[1].ID != "other" {
		t.Errorf("wrong records kept: %+v", kept)
	}
}

func TestExtractByIDSkipsEmptySequences(t *testing.T) {
	records := []Record{
		{ID: "keep1", Sequence: "MKV"},
		{ID: "keep2", Sequence: ""},
		{ID: "drop", Sequence: "MMM"},
	}
	keep := map[string]bool{"keep1": true, "keep2": true}

	out := ExtractByID(records, keep)
	if len(out) != 1 {
		t.Fatalf("expected 1 record, got %d", len(out))
	}
	if out[0].ID != "keep1" {
		t.Errorf("wrong record: %q", out[0].ID)
	}
}

func TestStripAlignmentIdempotent(t *testing.T) {
	in := "MA--VXM-X"
	once := StripAlignment(in)
	if once != "MAVM" {
		t.Fatalf("expected MAVM, got %q", once)
	}
	if twice := StripAlignment(once); twice != once {
		t.Errorf("not idempotent: %q vs %q", twice, once)
	}
}

func TestCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "count.fasta")
	content := ">a\nMM\n>b\nKK\n>c\nLL\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	n, err := Count(path)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 records, got %d", n)
	}
}
