// Package cluster wraps mmseqs2 easy-cluster and the membership table it
// leaves behind.
package cluster

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/Amirreza-0/PMGen/internal/run"
)

// Mmseqs invokes the mmseqs2 binary.
type Mmseqs struct {
	Bin string
}

// Result names the three files easy-cluster derives from the output prefix.
type Result struct {
	RepSeqFasta  string
	AllSeqsFasta string
	ClusterTSV   string
}

// EasyCluster clusters the input FASTA at the given identity and coverage
// cutoffs. tmpDir is mmseqs' scratch space; callers hand in a per-run
// directory so parallel invocations cannot trample each other.
func (m Mmseqs) EasyCluster(inputFasta, outPrefix, tmpDir string, minSeqID, coverage float64) (Result, error) {
	cmd := exec.Command(m.Bin, "easy-cluster", inputFasta, outPrefix, tmpDir,
		"--min-seq-id", strconv.FormatFloat(minSeqID, 'g', -1, 64),
		"-c", strconv.FormatFloat(coverage, 'g', -1, 64))

	if err := run.Command(cmd); err != nil {
		return Result{}, fmt.Errorf("mmseqs easy-cluster: %w", err)
	}

	return Result{
		RepSeqFasta:  outPrefix + "_rep_seq.fasta",
		AllSeqsFasta: outPrefix + "_all_seqs.fasta",
		ClusterTSV:   outPrefix + "_cluster.tsv",
	}, nil
}

// MembershipPathFor derives the cluster TSV filename belonging to an
// easy-cluster all-seqs FASTA. The two files share a prefix on disk, which
// is the contract between the clustering and extraction stages.
func MembershipPathFor(allSeqsFasta string) string {
	return strings.ReplaceAll(allSeqsFasta, "clust_all_seqs.fasta", "clust_cluster.tsv")
}

// Membership maps each cluster representative to its member IDs. Every
// representative is also its own member, mmseqs emits that row itself.
type Membership struct {
	members map[string][]string
}

// ReadMembership parses an mmseqs cluster TSV: two tab-separated columns,
// representative then member, no header.
func ReadMembership(path string) (*Membership, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open cluster tsv %s: %w", path, err)
	}
	defer f.Close()

	m := &Membership{members: make(map[string][]string)}

	scanner := bufio.NewScanner(f)
	line_no := 0
	for scanner.Scan() {
		line_no++
		line := scanner.Text()
		if line == "" {
			continue
		}
		rep, member, found := strings.Cut(line, "\t")
		if !found {
			return nil, fmt.Errorf("cluster tsv %s line %d: expected two tab-separated columns", path, line_no)
		}
		m.members[rep] = append(m.members[rep], member)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan cluster tsv %s: %w", path, err)
	}

	return m, nil
}

// MembersOf returns the members recorded for a representative in file
// order. Unknown representatives yield nil.
func (m *Membership) MembersOf(rep string) []string {
	return m.members[rep]
}
