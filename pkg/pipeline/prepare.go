package pipeline

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Amirreza-0/PMGen/internal/util"
	"github.com/Amirreza-0/PMGen/logger"
	"github.com/Amirreza-0/PMGen/pkg/fasta"
	"go.uber.org/zap"
)

// PrepareOptions configures the longest-allele extraction stage.
type PrepareOptions struct {
	RawDir       string // raw allele downloads, one FASTA per gene
	LongestCSV   string // output table of the longest allele per gene
	ReferenceDir string // output directory for per-gene reference FASTAs
}

// The DRB3/4/5 paralogs arrive bundled in a single download file and are
// told apart by their headers.
var drb345Genes = []string{"DRB3", "DRB4", "DRB5"}

type longestAllele struct {
	gene     string
	sequence string
	allele   string // full header of the winning record
}

// RunPrepare scans the raw allele downloads, keeps the longest allele per
// gene, and writes both a summary CSV and one reference FASTA per gene
// (named by the bare gene key) for the alignment stage to pick up.
func RunPrepare(opts PrepareOptions) error {
	entries, err := os.ReadDir(opts.RawDir)
	if err != nil {
		return fmt.Errorf("read raw dir %s: %w", opts.RawDir, err)
	}

	if err := util.EnsureDir(opts.ReferenceDir); err != nil {
		return err
	}

	var rows []longestAllele
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		records, err := fasta.ReadFile(filepath.Join(opts.RawDir, name))
		if err != nil {
			return err
		}

		if strings.Contains(name, "DRB345") {
			for _, gene := range drb345Genes {
				rec, ok := fasta.Longest(fasta.FilterByHeader(records, gene))
				if !ok {
					logger.Warn("no alleles found for gene",
						zap.String("gene", gene), zap.String("file", name))
					continue
				}
				rows = append(rows, longestAllele{gene: gene, sequence: rec.Sequence, allele: rec.Header()})
			}
			continue
		}

		gene, _, _ := strings.Cut(name, "_prot")
		rec, ok := fasta.Longest(records)
		if !ok {
			logger.Warn("no alleles found for gene",
				zap.String("gene", gene), zap.String("file", name))
			continue
		}
		rows = append(rows, longestAllele{gene: gene, sequence: rec.Sequence, allele: rec.Header()})
	}

	if err := writeLongestCSV(opts.LongestCSV, rows); err != nil {
		return err
	}

	for _, row := range rows {
		id, desc, _ := strings.Cut(row.allele, " ")
		ref := fasta.Record{ID: id, Description: desc, Sequence: row.sequence}
		if err := fasta.WriteFile(filepath.Join(opts.ReferenceDir, row.gene), []fasta.Record{ref}); err != nil {
			return err
		}
	}

	logger.Info("longest alleles extracted",
		zap.Int("genes", len(rows)),
		zap.String("csv", opts.LongestCSV),
		zap.String("reference_dir", opts.ReferenceDir))

	return nil
}

func writeLongestCSV(path string, rows []longestAllele) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create longest-allele csv %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Write([]string{"gene", "Sequence", "Len", "Allele"})
	for _, row := range rows {
		w.Write([]string{row.gene, row.sequence, strconv.Itoa(len(row.sequence)), row.allele})
	}
	w.Flush()

	if err := w.Error(); err != nil {
		return fmt.Errorf("write longest-allele csv %s: %w", path, err)
	}
	return nil
}
