// Package fasta reads and writes the FASTA files the pipeline passes
// between stages. Parsing is deliberately permissive: headers are free
// text, and chain-paired records carry '/' and ';;' inside sequence and
// header, so no residue alphabet is enforced.
package fasta

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Record is a single FASTA entry. ID is the first whitespace-delimited
// token of the header line, Description the remainder (often empty).
type Record struct {
	ID          string
	Description string
	Sequence    string
}

// Header reassembles the full header line without the leading '>'.
func (r Record) Header() string {
	if r.Description == "" {
		return r.ID
	}
	return r.ID + " " + r.Description
}

// Parse reads all records from r. Sequence lines are concatenated, so
// wrapped and single-line layouts read the same.
func Parse(r io.Reader) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	// Aligned single-line sequences can get long
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var records []Record
	var current Record
	var seq strings.Builder
	in_record := false

	flush := func() {
		if in_record {
			current.Sequence = seq.String()
			records = append(records, current)
		}
		seq.Reset()
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ">") {
			flush()
			id, desc, _ := strings.Cut(line[1:], " ")
			current = Record{ID: id, Description: desc}
			in_record = true
		} else if in_record {
			seq.WriteString(line)
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan fasta: %w", err)
	}

	return records, nil
}

func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fasta %s: %w", path, err)
	}
	defer f.Close()

	records, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse fasta %s: %w", path, err)
	}
	return records, nil
}

// Write emits records in single-line layout, one sequence line per record.
func Write(w io.Writer, records []Record) error {
	bw := bufio.NewWriter(w)
	for _, rec := range records {
		if _, err := fmt.Fprintf(bw, ">%s\n%s\n", rec.Header(), rec.Sequence); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func WriteFile(path string, records []Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create fasta %s: %w", path, err)
	}
	defer f.Close()

	if err := Write(f, records); err != nil {
		return fmt.Errorf("write fasta %s: %w", path, err)
	}
	return nil
}

// Count returns the number of records in a file without keeping them around.
func Count(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open fasta %s: %w", path, err)
	}
	defer f.Close()

	n := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), ">") {
			n++
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan fasta %s: %w", path, err)
	}

	return n, nil
}

// Longest returns the record with the longest sequence. Comparison is
// strictly-greater, so on ties the earliest record wins. ok is false when
// there is no record with a non-empty sequence.
func Longest(records []Record) (Record, bool) {
	var best Record
	longest := 0
	found := false

	for _, rec := range records {
		if len(rec.Sequence) > longest {
			longest = len(rec.Sequence)
			best = rec
			found = true
		}
	}

	return best, found
}

// FilterByHeader keeps records whose full header line contains substr,
// compared case-insensitively. Order is preserved.
func FilterByHeader(records []Record, substr string) []Record {
	needle := strings.ToLower(substr)

	var kept []Record
	for _, rec := range records {
		if strings.Contains(strings.ToLower(rec.Header()), needle) {
			kept = append(kept, rec)
		}
	}
	return kept
}

// ExtractByID keeps records whose ID is in keep and whose sequence is
// non-empty. Cluster members with empty bodies would otherwise break the
// downstream alignment.
func ExtractByID(records []Record, keep map[string]bool) []Record {
	var out []Record
	for _, rec := range records {
		if keep[rec.ID] && len(rec.Sequence) > 0 {
			out = append(out, rec)
		}
	}
	return out
}

// StripAlignment removes gap ('-') and masked-residue ('X') characters.
// Applying it to an already stripped sequence is a no-op.
func StripAlignment(seq string) string {
	seq = strings.ReplaceAll(seq, "-", "")
	return strings.ReplaceAll(seq, "X", "")
}
