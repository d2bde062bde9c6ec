package pseudoseq

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"

	"github.com/Amirreza-0/PMGen/pkg/align"
	"github.com/Amirreza-0/PMGen/pkg/catalog"
)

// writeFakeMafft drops a stand-in aligner on PATH that echoes its input
// unchanged, so the aligned file equals the extracted member subset.
func writeFakeMafft(t *testing.T, dir string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake tool scripts need a POSIX shell")
	}
	script := "#!/usr/bin/env bash\ncat \"$1\"\n"
	if err := os.WriteFile(filepath.Join(dir, "mafft"), []byte(script), 0o755); err != nil {
		t.Fatalf("write fake mafft: %v", err)
	}
}

func prependPath(t *testing.T, dir string) {
	t.Helper()
	old := os.Getenv("PATH")
	if err := os.Setenv("PATH", dir+string(os.PathListSeparator)+old); err != nil {
		t.Fatalf("set PATH: %v", err)
	}
	t.Cleanup(func() { _ = os.Setenv("PATH", old) })
}

func writeFixture(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// hotspotFixturePath creates the folding output directory for one target
// and returns where its hotspot archive belongs.
func hotspotFixturePath(t *testing.T, inputDir string, chunk int, target string) string {
	t.Helper()
	dir := filepath.Join(inputDir, strconv.Itoa(chunk), "protienmpnn", target,
		fmt.Sprintf("%s_model_1_%s", target, DefaultModel))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	return filepath.Join(dir, "hotspots.npz")
}

func TestLoadRunTableColumnsByName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.tsv")
	// shuffled column order must not matter
	writeFixture(t, path,
		"iden\tid\tchunk_id\tmhc_type\tfile\n"+
			"DQA1*01:01;;DQB1*06:02_12\tt12\t4\t2\tDQA1-homo_a.fasta;;DQB1-homo_b.fasta\n")

	rows, err := LoadRunTable(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	r := rows[0]
	if r.RowNum != 0 || r.ChunkID != 4 || r.TargetID != "t12" || r.MhcType != 2 {
		t.Errorf("row = %+v", r)
	}
	if len(r.Files) != 2 || r.Files[1] != "DQB1-homo_b.fasta" {
		t.Errorf("files = %v", r.Files)
	}
	if len(r.Idens) != 2 || r.Idens[0] != "DQA1*01:01" || r.Idens[1] != "DQB1*06:02" {
		t.Errorf("idens = %v", r.Idens)
	}
}

func TestLoadRunTableMissingColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.tsv")
	writeFixture(t, path, "chunk_id\tfile\tid\tmhc_type\n1\tx\tt\t1\n")

	if _, err := LoadRunTable(path); err == nil {
		t.Fatal("expected an error for a table without the iden column")
	}
}

func TestSplitIdens(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"B*01:01_7", []string{"B*01:01"}},
		{"DQA1*01:01;;DQB1*06:02_0", []string{"DQA1*01:01", "DQB1*06:02"}},
		{"nounderscore", []string{""}},
	}
	for _, c := range cases {
		if got := splitIdens(c.in); fmt.Sprint(got) != fmt.Sprint(c.want) {
			t.Errorf("splitIdens(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestExtractorRun(t *testing.T) {
	tmp := t.TempDir()
	bin := filepath.Join(tmp, "bin")
	if err := os.MkdirAll(bin, 0o755); err != nil {
		t.Fatalf("mkdir bin: %v", err)
	}
	writeFakeMafft(t, bin)
	prependPath(t, bin)

	clusterDir := filepath.Join(tmp, "clust")
	inputDir := filepath.Join(tmp, "runs")
	outDir := filepath.Join(tmp, "out")
	scratchBase := filepath.Join(tmp, "scratch")

	// class I cluster: three members behind one representative
	writeFixture(t, filepath.Join(clusterDir, "B-homo_clust_all_seqs.fasta"),
		">B*01:01 rep\nMKAVLT\n>B*02:05\nMKV\n>B*09:09\nMK\n")
	writeFixture(t, filepath.Join(clusterDir, "B-homo_clust_cluster.tsv"),
		"B*01:01\tB*01:01\nB*01:01\tB*02:05\nB*01:01\tB*09:09\n")

	// class II clusters, one per chain
	writeFixture(t, filepath.Join(clusterDir, "DQA1-homo_clust_all_seqs.fasta"),
		">DQA1*01:01\nGGGG\n")
	writeFixture(t, filepath.Join(clusterDir, "DQA1-homo_clust_cluster.tsv"),
		"DQA1*01:01\tDQA1*01:01\n")
	writeFixture(t, filepath.Join(clusterDir, "DQB1-homo_clust_all_seqs.fasta"),
		">DQB1*01:01\nTTTTT\n")
	writeFixture(t, filepath.Join(clusterDir, "DQB1-homo_clust_cluster.tsv"),
		"DQB1*01:01\tDQB1*01:01\n")

	writeNpz(t, hotspotFixturePath(t, inputDir, 1, "t1"),
		[]string{"chainA"}, [][]byte{npyBytes(t, 2, []int64{0, 0, 1, 2})})
	writeNpz(t, hotspotFixturePath(t, inputDir, 2, "t2"),
		[]string{"alpha", "beta"},
		[][]byte{npyBytes(t, 2, []int64{0, 1}), npyBytes(t, 2, []int64{0, 0, 1, 3})})

	table := filepath.Join(tmp, "runs.tsv")
	writeFixture(t, table,
		"chunk_id\tfile\tid\tmhc_type\tiden\n"+
			"1\tB-homo_clust_all_seqs.fasta\tt1\t1\tB*01:01_0\n"+
			"2\tDQA1-homo_clust_all_seqs.fasta;;DQB1-homo_clust_all_seqs.fasta\tt2\t2\tDQA1*01:01;;DQB1*01:01_1\n"+
			"3\tH2-mice_clust_all_seqs.fasta\tt3\t1\tH2-K_2\n"+
			"9\tB-homo_clust_all_seqs.fasta\tt9\t1\tB*01:01_3\n"+
			"1\tDQA1-homo_clust_all_seqs.fasta\tt4\t2\tDQA1*01:01_4\n"+
			"1\tbadname_clust_all_seqs.fasta\tt5\t1\tX_5\n")

	cat, err := catalog.Open(filepath.Join(tmp, "catalog.db"))
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	defer cat.Close()

	ex := Extractor{
		InputDir:    inputDir,
		ClusterDir:  clusterDir,
		OutputDir:   outDir,
		Mafft:       align.Mafft{Bin: "mafft"},
		ScratchBase: scratchBase,
		Catalog:     cat,
		RunID:       "run-1",
	}
	if err := ex.Run(table); err != nil {
		t.Fatalf("run: %v", err)
	}

	success := readTable(t, filepath.Join(outDir, "pseudoseq.tsv"))
	if len(success) != 6 {
		t.Fatalf("pseudoseq.tsv has %d lines, want header plus 5", len(success))
	}
	wantRows := []string{
		"B*01:01\thomo\t1\tMA\tB*01:01\tMKAVLT\t0;2",
		"B*02:05\thomo\t1\tMV\tB*01:01\tMKV\t0;2",
		"B*09:09\thomo\t1\tM\tB*01:01\tMK\t0;2",
		"DQA1*01:01\thomo\t2\tG\tDQA1*01:01\tGGGG\t1",
		"DQB1*01:01\thomo\t2\tTT\tDQB1*01:01\tTTTTT\t0;3",
	}
	for i, want := range wantRows {
		if got := strings.Join(success[i+1], "\t"); got != want {
			t.Errorf("row %d = %q, want %q", i, got, want)
		}
	}

	failed := readTable(t, filepath.Join(outDir, "failed.tsv"))
	wantFailures := []string{
		"B*01:01\tarray-artifact-error",
		"DQA1*01:01\tcardinality-mismatch",
		"X\tbad-filename",
	}
	if len(failed) != len(wantFailures)+1 {
		t.Fatalf("failed.tsv has %d lines, want header plus %d", len(failed), len(wantFailures))
	}
	for i, want := range wantFailures {
		if got := strings.Join(failed[i+1], "\t"); got != want {
			t.Errorf("failure %d = %q, want %q", i, got, want)
		}
	}

	entries, err := cat.History("pseudoseq", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d catalog entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Item != "runs.tsv" || e.NBefore != 6 || e.NAfter != 5 || e.Detail != "failed_chains=3" {
		t.Errorf("catalog entry = %+v", e)
	}

	// scratch space is removed once the batch finishes
	left, err := os.ReadDir(scratchBase)
	if err != nil {
		t.Fatalf("read scratch base: %v", err)
	}
	if len(left) != 0 {
		t.Errorf("scratch base still holds %d entries", len(left))
	}
}

func TestExtractorContinueFrom(t *testing.T) {
	tmp := t.TempDir()
	bin := filepath.Join(tmp, "bin")
	if err := os.MkdirAll(bin, 0o755); err != nil {
		t.Fatalf("mkdir bin: %v", err)
	}
	writeFakeMafft(t, bin)
	prependPath(t, bin)

	// both rows fail the class II chain-count check; only the second is
	// within the resume window
	table := filepath.Join(tmp, "runs.tsv")
	writeFixture(t, table,
		"chunk_id\tfile\tid\tmhc_type\tiden\n"+
			"1\tearly-file\tt1\t2\tEARLY*01_0\n"+
			"1\tlate-file\tt2\t2\tLATE*01_1\n")

	ex := Extractor{
		InputDir:     filepath.Join(tmp, "in"),
		ClusterDir:   filepath.Join(tmp, "clust"),
		OutputDir:    filepath.Join(tmp, "out"),
		Mafft:        align.Mafft{Bin: "mafft"},
		ScratchBase:  filepath.Join(tmp, "scratch"),
		ContinueFrom: 1,
	}
	if err := ex.Run(table); err != nil {
		t.Fatalf("run: %v", err)
	}

	failed := readTable(t, filepath.Join(tmp, "out", "failed.tsv"))
	if len(failed) != 2 {
		t.Fatalf("failed.tsv has %d lines, want header plus 1", len(failed))
	}
	if failed[1][0] != "LATE*01" || failed[1][1] != string(ReasonCardinalityMismatch) {
		t.Errorf("failure row = %v", failed[1])
	}
}
