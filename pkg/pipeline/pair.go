package pipeline

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/Amirreza-0/PMGen/internal/util"
	"github.com/Amirreza-0/PMGen/logger"
	"github.com/Amirreza-0/PMGen/pkg/catalog"
	"github.com/Amirreza-0/PMGen/pkg/fasta"
	"go.uber.org/zap"
)

// PairOptions configures the class II chain combination stage.
type PairOptions struct {
	ClusterDir string // directory holding the cluster representative FASTAs
	OutDir     string
	Marker     string // filename marker of representative files, normally "_rep"
	Pairs      GenePairs

	Catalog *catalog.Catalog
	RunID   string
}

// RunPair builds every alpha x beta chain combination for MHC class II.
// One output FASTA per gene pair and species; each record joins the two
// source headers with ";;" and the two sequences with "/", the convention
// the extractor splits on later.
//
// An alpha gene with no representative file for a species is skipped; two
// or more matches for either chain is a fatal ambiguity.
func RunPair(opts PairOptions) error {
	entries, err := os.ReadDir(opts.ClusterDir)
	if err != nil {
		return fmt.Errorf("read cluster dir %s: %w", opts.ClusterDir, err)
	}

	// Class II representative files all start with a D-locus gene name.
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.Contains(name, opts.Marker) || !strings.Contains(name, "fasta") {
			continue
		}
		if !strings.HasPrefix(name, "D") {
			continue
		}
		files = append(files, name)
	}

	if err := util.EnsureDir(opts.OutDir); err != nil {
		return err
	}

	type pairStat struct {
		file  string
		count int
	}
	var stats []pairStat

	total := 0
	for _, species := range Species {
		table := opts.Pairs[species]
		if table == nil {
			logger.Warn("no gene pairs configured for species", zap.String("species", species))
			continue
		}

		alphaGenes := make([]string, 0, len(table))
		for a := range table {
			alphaGenes = append(alphaGenes, a)
		}
		sort.Strings(alphaGenes)

		for _, alphaGene := range alphaGenes {
			alphaFiles := matchChainFiles(files, alphaGene, species)
			if len(alphaFiles) > 1 {
				return fmt.Errorf("ambiguous alpha files for %s/%s: %v", species, alphaGene, alphaFiles)
			}
			if len(alphaFiles) == 0 {
				// species does not carry this locus in the data
				continue
			}

			alphaRecords, err := fasta.ReadFile(filepath.Join(opts.ClusterDir, alphaFiles[0]))
			if err != nil {
				return err
			}

			for _, betaGene := range table[alphaGene] {
				betaFiles := matchChainFiles(files, betaGene, species)
				if len(betaFiles) != 1 {
					return fmt.Errorf("expected exactly one %s file for %s, found %d: %v",
						betaGene, species, len(betaFiles), betaFiles)
				}

				betaRecords, err := fasta.ReadFile(filepath.Join(opts.ClusterDir, betaFiles[0]))
				if err != nil {
					return err
				}

				outName := fmt.Sprintf("%s_%s-%s.fasta", alphaGene, betaGene, species)
				outPath := filepath.Join(opts.OutDir, outName)
				count, err := writeCombinations(alphaRecords, betaRecords, outPath)
				if err != nil {
					return err
				}

				total += count
				stats = append(stats, pairStat{file: outName, count: count})
				opts.Catalog.TryRecord(catalog.Entry{
					RunID:  opts.RunID,
					Stage:  "pair",
					Item:   outName,
					NAfter: count,
					Detail: fmt.Sprintf("alpha=%s beta=%s species=%s", alphaGene, betaGene, species),
				})
			}
		}
		logger.Info("total combinations", zap.String("species", species), zap.Int("running_total", total))
	}

	statsCSV := filepath.Join(opts.OutDir, "stats_combination.csv")
	f, err := os.Create(statsCSV)
	if err != nil {
		return fmt.Errorf("create combination stats %s: %w", statsCSV, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Write([]string{"file", "records"})
	for _, s := range stats {
		w.Write([]string{s.file, strconv.Itoa(s.count)})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write combination stats %s: %w", statsCSV, err)
	}

	return nil
}

// matchChainFiles finds the candidate files for a gene and species by
// filename substring, the naming contract of the clustering stage.
func matchChainFiles(files []string, gene, species string) []string {
	var out []string
	for _, f := range files {
		if strings.Contains(f, gene) && strings.Contains(f, species) {
			out = append(out, f)
		}
	}
	return out
}

func writeCombinations(alpha, beta []fasta.Record, outPath string) (int, error) {
	f, err := os.Create(outPath)
	if err != nil {
		return 0, fmt.Errorf("create combination fasta %s: %w", outPath, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	count := 0
	for _, a := range alpha {
		for _, b := range beta {
			fmt.Fprintf(w, ">%s;;%s\n%s/%s\n", a.Header(), b.Header(), a.Sequence, b.Sequence)
			count++
		}
	}

	if err := w.Flush(); err != nil {
		return 0, fmt.Errorf("write combination fasta %s: %w", outPath, err)
	}
	return count, nil
}
