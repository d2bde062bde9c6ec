package pseudoseq

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Amirreza-0/PMGen/internal/util"
)

// FailureReason tags why a chain produced no pseudo-sequence.
type FailureReason string

const (
	// ReasonCardinalityMismatch marks rows whose file or representative
	// count disagrees with the MHC class.
	ReasonCardinalityMismatch FailureReason = "cardinality-mismatch"
	// ReasonMissingFile marks chains whose cluster inputs could not be read.
	ReasonMissingFile FailureReason = "missing-file"
	// ReasonArrayArtifact marks chains whose hotspot archive is absent,
	// malformed, or lacks an array at the chain index.
	ReasonArrayArtifact FailureReason = "array-artifact-error"
	// ReasonAlignFailed marks chains whose member alignment failed.
	ReasonAlignFailed FailureReason = "align-failed"
	// ReasonBadFilename marks cluster file names without a species tag.
	ReasonBadFilename FailureReason = "bad-filename"
	// ReasonEmptyAfterSlice marks chains whose members all projected to
	// empty pseudo-sequences.
	ReasonEmptyAfterSlice FailureReason = "empty-after-slice"
)

// PseudoRecord is one successful extraction: a cluster member projected
// onto its representative's hotspot positions.
type PseudoRecord struct {
	MhcID            string
	Species          string
	MhcType          int
	PseudoSequence   string
	RepresentativeID string
	Sequence         string // full aligned member sequence
	Positions        []int  // the representative's hotspot positions
}

// FailureRecord is one chain that yielded nothing, tagged with why.
type FailureRecord struct {
	Iden   string
	Reason FailureReason
}

// Accumulator collects successes and failures across a whole batch and
// writes the result tables at the end.
type Accumulator struct {
	records  []PseudoRecord
	failures []FailureRecord
}

func (a *Accumulator) AddRecord(rec PseudoRecord) {
	a.records = append(a.records, rec)
}

func (a *Accumulator) AddFailure(iden string, reason FailureReason) {
	a.failures = append(a.failures, FailureRecord{Iden: iden, Reason: reason})
}

// Counts reports how many successes and failed chains accumulated.
func (a *Accumulator) Counts() (successes, failures int) {
	return len(a.records), len(a.failures)
}

// WriteOutputs writes the four result tables: the full success and failure
// tables plus a de-duplicated version of each.
func (a *Accumulator) WriteOutputs(outDir string) error {
	if err := util.EnsureDir(outDir); err != nil {
		return err
	}
	if err := writePseudoTable(filepath.Join(outDir, "pseudoseq.tsv"), a.records); err != nil {
		return err
	}
	if err := writePseudoTable(filepath.Join(outDir, "pseudoseq_noduplicate.tsv"), dedupRecords(a.records)); err != nil {
		return err
	}
	if err := writeFailureTable(filepath.Join(outDir, "failed.tsv"), a.failures); err != nil {
		return err
	}
	return writeFailureTable(filepath.Join(outDir, "failed_noduplicate.tsv"), dedupFailures(a.failures))
}

// dedupRecords keeps the first occurrence per (mhc_id, species, mhc_types,
// representative_id, pseudo_sequence). The aligned sequence stays out of
// the key: members differing only in alignment padding are duplicates.
func dedupRecords(records []PseudoRecord) []PseudoRecord {
	type key struct {
		mhcID, species, rep, pseudo string
		mhcType                     int
	}
	seen := make(map[key]bool, len(records))
	out := make([]PseudoRecord, 0, len(records))
	for _, r := range records {
		k := key{r.MhcID, r.Species, r.RepresentativeID, r.PseudoSequence, r.MhcType}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	return out
}

func dedupFailures(failures []FailureRecord) []FailureRecord {
	seen := make(map[string]bool, len(failures))
	out := make([]FailureRecord, 0, len(failures))
	for _, f := range failures {
		if seen[f.Iden] {
			continue
		}
		seen[f.Iden] = true
		out = append(out, f)
	}
	return out
}

func writePseudoTable(path string, records []PseudoRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = '\t'
	w.Write([]string{"mhc_id", "species", "mhc_types", "pseudo_sequence", "representative_id", "sequence", "repres_pseudo_positions"})
	for _, r := range records {
		w.Write([]string{
			r.MhcID,
			r.Species,
			strconv.Itoa(r.MhcType),
			r.PseudoSequence,
			r.RepresentativeID,
			r.Sequence,
			joinPositions(r.Positions),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func writeFailureTable(path string, failures []FailureRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = '\t'
	w.Write([]string{"iden", "reason"})
	for _, fr := range failures {
		w.Write([]string{fr.Iden, string(fr.Reason)})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func joinPositions(positions []int) string {
	parts := make([]string, len(positions))
	for i, p := range positions {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ";")
}
