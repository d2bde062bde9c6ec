package pipeline

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

// ProcessOptions configures the alignment-and-clustering stage.
type ProcessOptions struct {
	ReferenceDir string // per-gene reference FASTAs, named "<gene>-<species>"
	RawDir       string // raw downloads, "<gene>-<species>_prot.fasta"
	ProcessedDir string // stage output root; cluster files go to mmseq_clust/

	// CoverageThreshold is the minimum alignment coverage (percent of the
	// reference length) a candidate needs to survive filtering. It has no
	// default and must be set explicitly.
	CoverageThreshold float64

	MinSeqID        float64 // mmseqs --min-seq-id
	ClusterCoverage float64 // mmseqs -c

	Mafft  align.Mafft
	Mmseqs cluster.Mmseqs

	ScratchBase string // base for mmseqs tmp space, isolated per run

	Catalog *catalog.Catalog // optional audit sink
	RunID   string
}

type geneCount struct {
	gene       string
	nBefore    int
	nAfter     int
	mhcType    int
	clusterRep int
	species    string
}

// RunProcess aligns every raw gene file onto its curated reference,
// filters the alignment by coverage, clusters the survivors, and writes a
// counts summary (number_changes.csv) with one rollup row per MHC class.
// A failing external tool aborts the stage.
func RunProcess(opts ProcessOptions) error {
	if opts.CoverageThreshold <= 0 {
		return fmt.Errorf("coverage threshold must be set explicitly (got %v)", opts.CoverageThreshold)
	}
	if err := run.Available(opts.Mafft.Bin); err != nil {
		return err
	}
	if err := run.Available(opts.Mmseqs.Bin); err != nil {
		return err
	}

	clustDir := filepath.Join(opts.ProcessedDir, "mmseq_clust")
	if err := util.EnsureDir(clustDir); err != nil {
		return err
	}

	scratch, err := util.ScratchDir(opts.ScratchBase)
	if err != nil {
		return err
	}
	defer os.RemoveAll(scratch)

	refs, err := os.ReadDir(opts.ReferenceDir)
	if err != nil {
		return fmt.Errorf("read reference dir %s: %w", opts.ReferenceDir, err)
	}

	var counts []geneCount
	for _, species := range Species {
		for _, entry := range refs {
			name := entry.Name()
			if entry.IsDir() || !strings.Contains(name, "-"+species) {
				continue
			}

			gc, err := processGene(opts, name, species, clustDir, scratch)
			if err != nil {
				return err
			}
			counts = append(counts, gc)

			opts.Catalog.TryRecord(catalog.Entry{
				RunID:   opts.RunID,
				Stage:   "process",
				Item:    name,
				NBefore: gc.nBefore,
				NAfter:  gc.nAfter,
				Detail:  fmt.Sprintf("representatives=%d species=%s", gc.clusterRep, species),
			})
		}
	}

	countsCSV := filepath.Join(opts.ProcessedDir, "number_changes.csv")
	if err := writeCounts(countsCSV, counts); err != nil {
		return err
	}

	logger.Info("processing finished",
		zap.Int("genes", len(counts)), zap.String("counts", countsCSV))
	return nil
}

func processGene(opts ProcessOptions, gene, species, clustDir, scratch string) (geneCount, error) {
	query := filepath.Join(opts.RawDir, gene+"_prot.fasta")
	reference := filepath.Join(opts.ReferenceDir, gene)
	aligned := filepath.Join(opts.ProcessedDir, gene+"_aln.fa")
	filtered := filepath.Join(opts.ProcessedDir,
		fmt.Sprintf("%s_seqs_%d.fa", gene, int(opts.CoverageThreshold)))

	if err := opts.Mafft.AddToReference(query, reference, aligned); err != nil {
		return geneCount{}, fmt.Errorf("align %s: %w", gene, err)
	}

	nInit, nFinal, err := align.FilterByCoverage(aligned, reference, filtered, opts.CoverageThreshold)
	if err != nil {
		return geneCount{}, fmt.Errorf("filter %s: %w", gene, err)
	}

	prefix := filepath.Join(clustDir, gene+"_clust")
	res, err := opts.Mmseqs.EasyCluster(filtered, prefix, filepath.Join(scratch, gene),
		opts.MinSeqID, opts.ClusterCoverage)
	if err != nil {
		return geneCount{}, fmt.Errorf("cluster %s: %w", gene, err)
	}

	repCount, err := fasta.Count(res.RepSeqFasta)
	if err != nil {
		return geneCount{}, err
	}

	mhcType := 1
	if strings.HasPrefix(gene, "D") {
		mhcType = 2
	}

	logger.Info("processed gene",
		zap.String("gene", gene),
		zap.Int("before", nInit),
		zap.Int("after", nFinal),
		zap.Int("representatives", repCount))

	return geneCount{
		gene:       gene,
		nBefore:    nInit,
		nAfter:     nFinal,
		mhcType:    mhcType,
		clusterRep: repCount,
		species:    species,
	}, nil
}

// writeCounts writes the per-gene table plus one summary row per MHC class
// (gene and species columns set to "all").
func writeCounts(path string, counts []geneCount) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create counts csv %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Write([]string{"gene", "n_before_processing", "n_after_processing", "n_diff", "mhc_type", "cluster_rep", "species"})

	writeRow := func(gc geneCount) {
		w.Write([]string{
			gc.gene,
			strconv.Itoa(gc.nBefore),
			strconv.Itoa(gc.nAfter),
			strconv.Itoa(gc.nBefore - gc.nAfter),
			strconv.Itoa(gc.mhcType),
			strconv.Itoa(gc.clusterRep),
			gc.species,
		})
	}

	for _, gc := range counts {
		writeRow(gc)
	}
	for _, mhcType := range []int{1, 2} {
		sum := geneCount{gene: "all", mhcType: mhcType, species: "all"}
		for _, gc := range counts {
			if gc.mhcType != mhcType {
				continue
			}
			sum.nBefore += gc.nBefore
			sum.nAfter += gc.nAfter
			sum.clusterRep += gc.clusterRep
		}
		writeRow(sum)
	}
	w.Flush()

	if err := w.Error(); err != nil {
		return fmt.Errorf("write counts csv %s: %w", path, err)
	}
	return nil
}
