// Package pseudoseq turns folding hotspot artifacts back into per-allele
// pseudo-sequences: every member of a representative's cluster is
// re-aligned and projected onto the hotspot positions predicted for the
// representative's folded structure.
package pseudoseq

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Amirreza-0/PMGen/internal/run"
	"github.com/Amirreza-0/PMGen/internal/util"
	"github.com/Amirreza-0/PMGen/logger"
	"github.com/Amirreza-0/PMGen/pkg/align"
	"github.com/Amirreza-0/PMGen/pkg/catalog"
	"github.com/Amirreza-0/PMGen/pkg/cluster"
	"github.com/Amirreza-0/PMGen/pkg/fasta"
	"go.uber.org/zap"
)

// DefaultModel selects which folding model's hotspot arrays are consumed.
const DefaultModel = "model_2_ptm"

// RunTableRow is one row of the extraction run table: one folding run with
// the cluster files and representative identifiers of its chains.
type RunTableRow struct {
	RowNum   int      // absolute position in the table, used for scratch names
	ChunkID  int
	Files    []string // per-chain cluster FASTA names
	TargetID string   // folding target directory name (column "id")
	MhcType  int
	RawIden  string   // iden column as read
	Idens    []string // per-chain representative IDs
}

// LoadRunTable reads the tab-separated run table the folding pipeline
// wrote. Required columns: chunk_id, file, id, mhc_type, iden; multi-chain
// values are ";;"-joined within a cell.
func LoadRunTable(path string) ([]RunTableRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open run table %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = '\t'
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse run table %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("run table %s is empty", path)
	}

	col := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		col[name] = i
	}
	for _, want := range []string{"chunk_id", "file", "id", "mhc_type", "iden"} {
		if _, ok := col[want]; !ok {
			return nil, fmt.Errorf("run table %s: missing column %q", path, want)
		}
	}

	table := make([]RunTableRow, 0, len(rows)-1)
	for i, cells := range rows[1:] {
		chunk, err := strconv.Atoi(cells[col["chunk_id"]])
		if err != nil {
			return nil, fmt.Errorf("run table %s row %d: bad chunk_id: %w", path, i, err)
		}
		mhcType, err := strconv.Atoi(cells[col["mhc_type"]])
		if err != nil {
			return nil, fmt.Errorf("run table %s row %d: bad mhc_type: %w", path, i, err)
		}
		iden := cells[col["iden"]]
		table = append(table, RunTableRow{
			RowNum:   i,
			ChunkID:  chunk,
			Files:    strings.Split(cells[col["file"]], ";;"),
			TargetID: cells[col["id"]],
			MhcType:  mhcType,
			RawIden:  iden,
			Idens:    splitIdens(iden),
		})
	}
	return table, nil
}

// splitIdens drops the "_<n>" counter the fold-input stage appended to the
// whole iden string, then splits it into per-chain representative IDs.
func splitIdens(iden string) []string {
	if i := strings.LastIndex(iden, "_"); i >= 0 {
		iden = iden[:i]
	} else {
		iden = ""
	}
	return strings.Split(iden, ";;")
}

// Extractor runs a pseudo-sequence extraction batch over a run table.
type Extractor struct {
	InputDir    string // chunked folding outputs
	ClusterDir  string // cluster files the fold inputs were built from
	OutputDir   string
	Model       string // folding model tag; DefaultModel when empty
	Mafft       align.Mafft
	ScratchBase string

	// ContinueFrom skips rows below the given absolute row number so an
	// interrupted batch can resume. Scratch names keep the absolute
	// numbering either way.
	ContinueFrom int

	Catalog *catalog.Catalog // optional audit sink
	RunID   string
}

// Run processes every row of the run table. Chains that fail produce
// tagged rows in the failure table instead of aborting the batch; only
// setup problems are fatal.
func (e Extractor) Run(runTablePath string) error {
	table, err := LoadRunTable(runTablePath)
	if err != nil {
		return err
	}

	if err := run.Available(e.Mafft.Bin); err != nil {
		return err
	}

	scratch, err := util.ScratchDir(e.ScratchBase)
	if err != nil {
		return err
	}
	defer os.RemoveAll(scratch)

	model := e.Model
	if model == "" {
		model = DefaultModel
	}

	acc := &Accumulator{}
	processed := 0
	for _, row := range table {
		if row.RowNum < e.ContinueFrom {
			continue
		}
		e.processRow(row, model, scratch, acc)
		processed++
	}

	if err := acc.WriteOutputs(e.OutputDir); err != nil {
		return err
	}

	successes, failures := acc.Counts()
	e.Catalog.TryRecord(catalog.Entry{
		RunID:   e.RunID,
		Stage:   "pseudoseq",
		Item:    filepath.Base(runTablePath),
		NBefore: processed,
		NAfter:  successes,
		Detail:  fmt.Sprintf("failed_chains=%d", failures),
	})
	logger.Info("pseudo-sequence extraction finished",
		zap.Int("rows", processed),
		zap.Int("sequences", successes),
		zap.Int("failed_chains", failures))
	return nil
}

func (e Extractor) processRow(row RunTableRow, model, scratch string, acc *Accumulator) {
	artifact := hotspotPath(e.InputDir, row, model)

	// Loaded once per row, lazily, so rows with only mouse chains never
	// touch the archive.
	var chains []ChainPositions
	var chainsErr error
	loaded := false

	for chainIdx, file := range row.Files {
		if strings.Contains(file, "mice") {
			// mouse alleles are prepared by a separate pipeline
			continue
		}
		if !loaded {
			chains, chainsErr = LoadHotspots(artifact)
			loaded = true
		}
		if reason := e.processChain(row, chainIdx, chains, chainsErr, scratch, acc); reason != "" {
			acc.AddFailure(failureIden(row, chainIdx), reason)
		}
	}
}

// processChain runs the per-chain pipeline: membership lookup, member
// extraction, self-alignment, hotspot projection. An empty return means
// the chain contributed at least one record.
func (e Extractor) processChain(row RunTableRow, chainIdx int, chains []ChainPositions, chainsErr error, scratch string, acc *Accumulator) FailureReason {
	desc, reason := buildDescriptor(row, chainIdx)
	if reason != "" {
		return reason
	}

	membership, err := cluster.ReadMembership(filepath.Join(e.ClusterDir, cluster.MembershipPathFor(desc.file)))
	if err != nil {
		return ReasonMissingFile
	}

	members := membership.MembersOf(desc.rep)
	keep := make(map[string]bool, len(members))
	for _, m := range members {
		keep[m] = true
	}

	source, err := fasta.ReadFile(filepath.Join(e.ClusterDir, desc.file))
	if err != nil {
		return ReasonMissingFile
	}

	subset := filepath.Join(scratch, fmt.Sprintf("%d_%s", row.RowNum, desc.file))
	if err := fasta.WriteFile(subset, fasta.ExtractByID(source, keep)); err != nil {
		return ReasonMissingFile
	}

	aligned := subset + "_aln.fasta"
	if err := e.Mafft.Align(subset, aligned); err != nil {
		return ReasonAlignFailed
	}

	if chainsErr != nil {
		return ReasonArrayArtifact
	}
	if chainIdx >= len(chains) {
		return ReasonArrayArtifact
	}
	positions := chains[chainIdx].Positions

	alignedRecords, err := fasta.ReadFile(aligned)
	if err != nil {
		return ReasonMissingFile
	}

	kept := 0
	for _, rec := range alignedRecords {
		pseudo := sliceAtPositions(rec.Sequence, positions)
		if pseudo == "" {
			continue
		}
		acc.AddRecord(PseudoRecord{
			MhcID:            rec.ID,
			Species:          desc.species,
			MhcType:          row.MhcType,
			PseudoSequence:   pseudo,
			RepresentativeID: desc.rep,
			Sequence:         rec.Sequence,
			Positions:        positions,
		})
		kept++
	}
	if kept == 0 {
		return ReasonEmptyAfterSlice
	}
	return ""
}

// chainDescriptor carries everything about a chain that can be validated
// before touching the filesystem.
type chainDescriptor struct {
	file    string // cluster FASTA name
	rep     string // representative ID for this chain
	species string
}

func buildDescriptor(row RunTableRow, chainIdx int) (chainDescriptor, FailureReason) {
	want := 1
	if row.MhcType == 2 {
		want = 2
	}
	if len(row.Files) != want || len(row.Idens) != want {
		return chainDescriptor{}, ReasonCardinalityMismatch
	}

	// "<gene>-<species>_..." file names carry the species tag
	file := row.Files[chainIdx]
	_, after, found := strings.Cut(file, "-")
	if !found {
		return chainDescriptor{}, ReasonBadFilename
	}
	species, _, _ := strings.Cut(after, "_")

	return chainDescriptor{file: file, rep: row.Idens[chainIdx], species: species}, ""
}

// failureIden picks the identifier a failure is reported under: the
// chain's representative when the row shape allows it, the raw iden cell
// otherwise.
func failureIden(row RunTableRow, chainIdx int) string {
	if chainIdx < len(row.Idens) {
		return row.Idens[chainIdx]
	}
	return row.RawIden
}

// hotspotPath builds the artifact path the folding stage writes. The
// "protienmpnn" spelling is part of the on-disk layout.
func hotspotPath(inputDir string, row RunTableRow, model string) string {
	return filepath.Join(inputDir,
		strconv.Itoa(row.ChunkID),
		"protienmpnn",
		row.TargetID,
		fmt.Sprintf("%s_model_1_%s", row.TargetID, model),
		"hotspots.npz")
}

// sliceAtPositions projects an aligned sequence onto hotspot positions.
// Positions past the end of the sequence are skipped, so short members
// yield a shorter pseudo-sequence rather than an error.
func sliceAtPositions(seq string, positions []int) string {
	var b strings.Builder
	for _, pos := range positions {
		if pos < len(seq) {
			b.WriteByte(seq[pos])
		}
	}
	return b.String()
}
