// Package align shells out to MAFFT and applies the coverage filter that
// decides which aligned candidates survive into clustering.
package align

import (
	"fmt"
	"os/exec"

	"github.com/Amirreza-0/PMGen/internal/run"
	"github.com/Amirreza-0/PMGen/pkg/fasta"
)

// Mafft invokes the mafft binary. Bin is the executable name or path.
type Mafft struct {
	Bin string
}

// AddToReference aligns query sequences onto the curated reference alleles.
// --keeplength pins the reference coordinate system so downstream position
// indices stay valid, --addfragments treats the query file as fragments to
// place. Alignment output (mafft writes to stdout) lands in alignedOut.
func (m Mafft) AddToReference(queryFasta, referenceFasta, alignedOut string) error {
	cmd := exec.Command(m.Bin, "--auto", "--reorder", "--keeplength", "--addfragments", queryFasta, referenceFasta)
	if err := run.CommandToFile(cmd, alignedOut); err != nil {
		return fmt.Errorf("mafft add-to-reference: %w", err)
	}
	return nil
}

// Align runs a plain mafft self-alignment of the input file.
func (m Mafft) Align(inputFasta, alignedOut string) error {
	cmd := exec.Command(m.Bin, inputFasta)
	if err := run.CommandToFile(cmd, alignedOut); err != nil {
		return fmt.Errorf("mafft align: %w", err)
	}
	return nil
}

// Coverage is the percentage of non-gap positions in an aligned sequence
// relative to the unaligned reference length.
func Coverage(alignedSeq string, refLen int) float64 {
	non_gap := 0
	for _, c := range alignedSeq {
		if c != '-' {
			non_gap++
		}
	}
	return float64(non_gap) / float64(refLen) * 100
}

// FilterByCoverage reads an alignment produced against referenceFasta and
// writes to filteredOut the records whose coverage reaches threshold, with
// gaps and masked residues stripped. The reference record itself is always
// carried through untouched. The reference identity and length come from
// the original reference file, not the alignment, so a reordered output
// cannot swap them.
//
// Returns the alignment record count and the retained count.
func FilterByCoverage(alignedFasta, referenceFasta, filteredOut string, threshold float64) (initial, kept int, err error) {
	aligned, err := fasta.ReadFile(alignedFasta)
	if err != nil {
		return 0, 0, err
	}

	refs, err := fasta.ReadFile(referenceFasta)
	if err != nil {
		return 0, 0, err
	}
	if len(refs) == 0 {
		return 0, 0, fmt.Errorf("reference fasta %s has no records", referenceFasta)
	}

	ref_id := refs[0].ID
	ref_len := len(refs[0].Sequence)
	if ref_len == 0 {
		return 0, 0, fmt.Errorf("reference record %s in %s has an empty sequence", ref_id, referenceFasta)
	}

	var filtered []fasta.Record
	for _, rec := range aligned {
		if rec.ID == ref_id {
			filtered = append(filtered, rec)
			continue
		}
		if Coverage(rec.Sequence, ref_len) >= threshold {
			rec.Sequence = fasta.StripAlignment(rec.Sequence)
			filtered = append(filtered, rec)
		}
	}

	if err := fasta.WriteFile(filteredOut, filtered); err != nil {
		return 0, 0, err
	}

	return len(aligned), len(filtered), nil
}
