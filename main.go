package main

import (
	"flag"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/Amirreza-0/PMGen/internal/util"
	"github.com/Amirreza-0/PMGen/logger"
	"github.com/Amirreza-0/PMGen/pkg/align"
	"github.com/Amirreza-0/PMGen/pkg/catalog"
	"github.com/Amirreza-0/PMGen/pkg/cluster"
	"github.com/Amirreza-0/PMGen/pkg/pipeline"
	"github.com/Amirreza-0/PMGen/pkg/pseudoseq"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// app carries the shared configuration every subcommand starts from.
type app struct {
	data      string // PMGEN_DATA root
	alleles   string // <data>/HLA_alleles
	mafft     string
	mmseqs    string
	pairsFile string // optional gene-pair JSON override

	cat   *catalog.Catalog // nil when the catalog could not be opened
	runID string
}

func main() {

	// Establish logger
	VERSION := "0.1.0"
	LOG_LEVEL := zapcore.InfoLevel

	if err := logger.InitLogger(LOG_LEVEL); err != nil {
		panic(err)
	}

	// Try load env
	dotenvErr := godotenv.Load()

	if dotenvErr != nil {
		logger.Warn("No .env found, using local environment")
	}

	defer logger.Sync() // Make sure that the buffered is flushed.

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	pmgen_data := envOr("PMGEN_DATA", "./data")

	a := &app{
		data:      pmgen_data,
		alleles:   path.Join(pmgen_data, "HLA_alleles"),
		mafft:     envOr("PMGEN_MAFFT", "mafft"),
		mmseqs:    envOr("PMGEN_MMSEQS", "mmseqs"),
		pairsFile: os.Getenv("PMGEN_GENE_PAIRS"),
		runID:     uuid.NewString(),
	}

	logger.Info("Start:", zap.String("Version", VERSION), zap.String("run_id", a.runID))

	// The catalog is advisory: when it cannot be opened the stages still
	// run, they just leave no audit trail. Only 'history' needs it.
	catalog_db := envOr("PMGEN_CATALOG", path.Join(pmgen_data, "db/pipeline_catalog.db"))
	if err := util.EnsureDir(path.Dir(catalog_db)); err != nil {
		logger.Warn("Cannot create catalog directory", zap.String("error", err.Error()))
	} else if cat, err := catalog.Open(catalog_db); err != nil {
		logger.Warn("Catalog unavailable, stages run without audit", zap.String("error", err.Error()))
	} else {
		a.cat = cat
		defer a.cat.Close()
	}

	cmd, args := os.Args[1], os.Args[2:]

	var err error
	switch cmd {
	case "prepare":
		err = a.prepare(args)
	case "process":
		err = a.process(args)
	case "pair":
		err = a.pair(args)
	case "fold-input":
		err = a.foldInput(args)
	case "pseudoseq":
		err = a.pseudoseq(args)
	case "history":
		err = a.history(args)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		logger.Fatal("Stage failed", zap.String("command", cmd), zap.String("error", err.Error()))
	}
}

func (a *app) prepare(args []string) error {
	fs := flag.NewFlagSet("prepare", flag.ExitOnError)
	raw := fs.String("raw", path.Join(a.alleles, "raw"), "raw allele FASTA directory")
	csvOut := fs.String("csv", path.Join(a.alleles, "longest_alleles.csv"), "longest-allele summary table")
	refDir := fs.String("ref", path.Join(a.alleles, "reference_allele_fasta"), "reference FASTA output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return pipeline.RunPrepare(pipeline.PrepareOptions{
		RawDir:       *raw,
		LongestCSV:   *csvOut,
		ReferenceDir: *refDir,
	})
}

func (a *app) process(args []string) error {
	fs := flag.NewFlagSet("process", flag.ExitOnError)
	refDir := fs.String("ref", path.Join(a.alleles, "reference_allele_fasta"), "reference FASTA directory")
	raw := fs.String("raw", path.Join(a.alleles, "raw"), "raw allele FASTA directory")
	processed := fs.String("processed", path.Join(a.alleles, "processed"), "stage output directory")
	coverage := fs.Float64("coverage", 0, "minimum reference coverage percent, required")
	minSeqID := fs.Float64("min-seq-id", 0.95, "mmseqs --min-seq-id")
	clusterCov := fs.Float64("cluster-cov", 0.95, "mmseqs -c")
	scratch := fs.String("scratch", path.Join(a.data, "tmpmmseq"), "scratch space base")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *coverage == 0 {
		return fmt.Errorf("the -coverage flag is required")
	}

	return pipeline.RunProcess(pipeline.ProcessOptions{
		ReferenceDir:      *refDir,
		RawDir:            *raw,
		ProcessedDir:      *processed,
		CoverageThreshold: *coverage,
		MinSeqID:          *minSeqID,
		ClusterCoverage:   *clusterCov,
		Mafft:             align.Mafft{Bin: a.mafft},
		Mmseqs:            cluster.Mmseqs{Bin: a.mmseqs},
		ScratchBase:       *scratch,
		Catalog:           a.cat,
		RunID:             a.runID,
	})
}

func (a *app) pair(args []string) error {
	fs := flag.NewFlagSet("pair", flag.ExitOnError)
	clustDir := fs.String("cluster", path.Join(a.alleles, "processed/mmseq_clust"), "cluster representative directory")
	outDir := fs.String("out", path.Join(a.alleles, "processed/mmseq_clust/mhc2_rep_combinations"), "combination output directory")
	marker := fs.String("marker", "_rep", "representative filename marker")
	if err := fs.Parse(args); err != nil {
		return err
	}

	pairs := pipeline.DefaultGenePairs()
	if a.pairsFile != "" {
		loaded, err := pipeline.LoadGenePairs(a.pairsFile)
		if err != nil {
			return err
		}
		pairs = loaded
		logger.Info("Using gene pairs from", zap.String("file", a.pairsFile))
	}

	return pipeline.RunPair(pipeline.PairOptions{
		ClusterDir: *clustDir,
		OutDir:     *outDir,
		Marker:     *marker,
		Pairs:      pairs,
		Catalog:    a.cat,
		RunID:      a.runID,
	})
}

func (a *app) foldInput(args []string) error {
	fs := flag.NewFlagSet("fold-input", flag.ExitOnError)
	clustDir := fs.String("cluster", path.Join(a.alleles, "processed/mmseq_clust"), "cluster representative directory")
	combDir := fs.String("combinations", path.Join(a.alleles, "processed/mmseq_clust/mhc2_rep_combinations"), "class II combination directory")
	out := fs.String("out", path.Join(a.data, "fold_input.tsv"), "output table")
	peptides := fs.String("peptides", "", "comma-separated peptide override for both classes")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var peps []string
	if *peptides != "" {
		peps = strings.Split(*peptides, ",")
	}

	return pipeline.RunFoldInput(pipeline.FoldInputOptions{
		ClusterDir:      *clustDir,
		CombinationsDir: *combDir,
		OutputTSV:       *out,
		Peptides:        peps,
	})
}

func (a *app) pseudoseq(args []string) error {
	fs := flag.NewFlagSet("pseudoseq", flag.ExitOnError)
	table := fs.String("table", path.Join(a.data, "CLIP_example.tsv"), "extraction run table")
	input := fs.String("input", path.Join(a.data, "outputs_representatives"), "chunked folding output directory")
	clustDir := fs.String("cluster", path.Join(a.alleles, "processed/mmseq_clust"), "cluster file directory")
	out := fs.String("out", path.Join(a.data, "pseudoseq"), "output directory")
	model := fs.String("model", pseudoseq.DefaultModel, "folding model tag")
	contFrom := fs.Int("continue-from", 0, "resume from this row number")
	scratch := fs.String("scratch", path.Join(a.data, "tmpmmseq"), "scratch space base")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// A missing directory here would show up as a failure row per chain, so
	// catch it before the batch starts.
	for _, dir := range []string{*input, *clustDir} {
		if !util.DirExists(dir) {
			return fmt.Errorf("%s is not a directory", dir)
		}
	}

	ex := pseudoseq.Extractor{
		InputDir:     *input,
		ClusterDir:   *clustDir,
		OutputDir:    *out,
		Model:        *model,
		Mafft:        align.Mafft{Bin: a.mafft},
		ScratchBase:  *scratch,
		ContinueFrom: *contFrom,
		Catalog:      a.cat,
		RunID:        a.runID,
	}
	return ex.Run(*table)
}

func (a *app) history(args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	stage := fs.String("stage", "", "filter to one stage")
	limit := fs.Int("limit", 20, "maximum rows shown")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if a.cat == nil {
		return fmt.Errorf("catalog unavailable")
	}

	entries, err := a.cat.History(*stage, *limit)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%s\t%s\t%s\t%d -> %d\t%s\t%s\n",
			e.CreatedAt, e.Stage, e.Item, e.NBefore, e.NAfter, e.Detail, e.RunID)
	}
	return nil
}

// envOr reads an environment variable with a logged fallback.
func envOr(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		logger.Warn(fmt.Sprintf("No local environment (%s), using default value (%s)", key, fallback))
		return fallback
	}
	return v
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: pmgen <command> [flags]

commands:
  prepare     pick the longest allele per gene and write reference FASTAs
  process     align alleles against references, filter by coverage, cluster
  pair        build class II alpha x beta combination FASTAs
  fold-input  write the structure-prediction input table
  pseudoseq   extract pseudo-sequences from folding hotspot artifacts
  history     show recorded stage runs

run '<command> -h' for flags; configuration comes from .env / environment
(PMGEN_DATA, PMGEN_MAFFT, PMGEN_MMSEQS, PMGEN_CATALOG, PMGEN_GENE_PAIRS)`)
}
