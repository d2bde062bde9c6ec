// Package pipeline orchestrates the sequence-preparation stages in order:
// longest-allele extraction, reference alignment and coverage filtering,
// clustering, class II chain pairing, and structure-input generation.
package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
)

// Species lists the organisms the pipeline prepares, in processing order.
// File names throughout the data directories embed these tags.
var Species = []string{"homo", "SLA", "Patr", "Mamu", "BOLA", "DLA"}

// GenePairs maps species -> class II alpha-chain gene -> candidate
// beta-chain genes.
type GenePairs map[string]map[string][]string

// DefaultGenePairs returns the built-in alpha/beta pairing table. Human
// loci carry numbered genes and the split DRB paralogs; the other species
// use the generic locus names.
func DefaultGenePairs() GenePairs {
	pairs := GenePairs{}
	for _, sp := range Species {
		if sp == "homo" {
			pairs[sp] = map[string][]string{
				"DMA":  {"DMB"},
				"DOA":  {"DOB"},
				"DPA1": {"DPB1"},
				"DQA1": {"DQB1"},
				"DRA":  {"DRB1", "DRB3", "DRB4", "DRB5"},
			}
		} else {
			pairs[sp] = map[string][]string{
				"DMA": {"DMB"},
				"DOA": {"DOB"},
				"DPA": {"DPB"},
				"DQA": {"DQB"},
				"DRA": {"DRB"},
			}
		}
	}
	return pairs
}

// LoadGenePairs reads a pairing table from JSON shaped like
// {"homo": {"DRA": ["DRB1", "DRB3"]}}. Species present in the file replace
// the built-in table for that species; the rest keep the defaults.
func LoadGenePairs(path string) (GenePairs, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read gene pairs %s: %w", path, err)
	}

	var loaded GenePairs
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("parse gene pairs %s: %w", path, err)
	}

	pairs := DefaultGenePairs()
	for sp, table := range loaded {
		pairs[sp] = table
	}
	return pairs, nil
}
