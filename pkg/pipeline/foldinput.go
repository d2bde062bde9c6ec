package pipeline

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Amirreza-0/PMGen/logger"
	"github.com/Amirreza-0/PMGen/pkg/fasta"
	"go.uber.org/zap"
)

// FoldInputRow is one line of the structure-prediction input table.
type FoldInputRow struct {
	Peptide string
	MhcSeq  string
	MhcType int
	Anchors string // reserved, written empty
	ID      string
}

// Default peptide ligands used when the caller supplies none: the human
// CLIP peptide core for class II and a 9-mer fragment of it for class I.
var (
	DefaultPeptidesClassI  = []string{"MRMATPLLM"}
	DefaultPeptidesClassII = []string{"MRMATPLLMQALPM"}
)

// BuildFoldInput walks the FASTA files in dir whose names carry marker
// (and not excludeMarker, when set) and emits one row per record and
// peptide. Row IDs are "<record>_<n>" with n counting up from startNum;
// the next unused n is returned so callers can chain several directories
// into one table.
func BuildFoldInput(dir string, peptides []string, mhcType int, marker, excludeMarker string, startNum int) ([]FoldInputRow, int, error) {
	if mhcType != 1 && mhcType != 2 {
		return nil, startNum, fmt.Errorf("mhc type must be 1 or 2, got %d", mhcType)
	}

	if len(peptides) == 0 {
		if mhcType == 1 {
			peptides = DefaultPeptidesClassI
		} else {
			peptides = DefaultPeptidesClassII
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, startNum, fmt.Errorf("read fold-input dir %s: %w", dir, err)
	}

	num := startNum
	var rows []FoldInputRow
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			continue
		}
		if !strings.HasSuffix(name, ".fasta") && !strings.HasSuffix(name, ".fa") {
			continue
		}
		if !strings.Contains(name, marker) {
			continue
		}
		if excludeMarker != "" && strings.Contains(name, excludeMarker) {
			continue
		}

		records, err := fasta.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, startNum, err
		}

		for _, rec := range records {
			for _, peptide := range peptides {
				rows = append(rows, FoldInputRow{
					Peptide: peptide,
					MhcSeq:  rec.Sequence,
					MhcType: mhcType,
					ID:      fmt.Sprintf("%s_%d", rec.ID, num),
				})
				num++
			}
		}
	}

	return rows, num, nil
}

// WriteFoldInput writes rows as the tab-separated table the folding
// pipeline consumes.
func WriteFoldInput(path string, rows []FoldInputRow) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create fold input %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = '\t'
	w.Write([]string{"peptide", "mhc_seq", "mhc_type", "anchors", "id"})
	for _, row := range rows {
		w.Write([]string{row.Peptide, row.MhcSeq, strconv.Itoa(row.MhcType), row.Anchors, row.ID})
	}
	w.Flush()

	if err := w.Error(); err != nil {
		return fmt.Errorf("write fold input %s: %w", path, err)
	}
	return nil
}

// FoldInputOptions configures the structure-input stage. Class I rows come
// from the single-chain cluster representatives, class II rows from the
// paired combinations; both share one ID counter.
type FoldInputOptions struct {
	ClusterDir      string
	CombinationsDir string
	OutputTSV       string
	Peptides        []string // optional override, applied to both classes
}

// RunFoldInput builds the merged table: class I representatives first
// (skipping D-locus files), then the class II combinations, with the ID
// counter threaded across the two passes.
func RunFoldInput(opts FoldInputOptions) error {
	class1, next, err := BuildFoldInput(opts.ClusterDir, opts.Peptides, 1, "_rep", "D", 0)
	if err != nil {
		return err
	}

	class2, _, err := BuildFoldInput(opts.CombinationsDir, opts.Peptides, 2, "_D", "", next)
	if err != nil {
		return err
	}

	rows := append(class1, class2...)
	if err := WriteFoldInput(opts.OutputTSV, rows); err != nil {
		return err
	}

	logger.Info("fold input written",
		zap.String("path", opts.OutputTSV),
		zap.Int("class1_rows", len(class1)),
		zap.Int("class2_rows", len(class2)))

	return nil
}
