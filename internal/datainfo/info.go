// Package datainfo summarizes trace dataset directories.
package datainfo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mltlsge/internal/dataset"
	"mltlsge/internal/mltl"
)

// FormulaFile optionally names the formula a dataset was labeled with.
const FormulaFile = "formula.txt"

type SetInfo struct {
	Name          string  `json:"name"`
	Traces        int     `json:"traces"`
	AverageLength float64 `json:"average_length"`
}

// Info describes a dataset directory. Formula fields are filled only when
// the directory carries a parseable formula.txt.
type Info struct {
	Path          string    `json:"path"`
	Propositions  int       `json:"propositions"`
	MaxBound      int       `json:"max_bound"`
	MinTrainLen   int       `json:"min_train_length"`
	AverageLength float64   `json:"average_length"`
	Sets          []SetInfo `json:"sets"`
	Formula       string    `json:"formula,omitempty"`
	FormulaSize   int       `json:"formula_size,omitempty"`
	Complen       int       `json:"formula_complen,omitempty"`
}

// Describe loads the dataset at root and reports per-set
// sizes and average trace lengths.
func Describe(root string) (Info, error) {
	split, err := dataset.LoadDir(root)
	if err != nil {
		return Info{}, err
	}

	info := Info{
		Path:         filepath.Clean(root),
		Propositions: split.PropositionCount(),
		MaxBound:     split.MaxTrainLength(),
		MinTrainLen:  split.MinTrainLength(),
	}
	sets := []struct {
		name   string
		traces []dataset.Trace
	}{
		{dataset.NegTestDir, split.NegTest},
		{dataset.NegTrainDir, split.NegTrain},
		{dataset.PosTestDir, split.PosTest},
		{dataset.PosTrainDir, split.PosTrain},
	}
	for _, set := range sets {
		steps := 0
		for _, trace := range set.traces {
			steps += trace.Len()
		}
		avg := float64(steps) / float64(len(set.traces))
		info.Sets = append(info.Sets, SetInfo{Name: set.name, Traces: len(set.traces), AverageLength: avg})
		info.AverageLength += avg
	}
	info.AverageLength /= float64(len(sets))

	raw, err := os.ReadFile(filepath.Join(root, FormulaFile))
	switch {
	case errors.Is(err, os.ErrNotExist):
		return info, nil
	case err != nil:
		return Info{}, err
	}
	formula, err := mltl.Parse(strings.TrimSpace(firstLine(string(raw))))
	if err != nil {
		return Info{}, fmt.Errorf("%s: %w", FormulaFile, err)
	}
	info.Formula = formula.String()
	info.FormulaSize = formula.Size()
	info.Complen = formula.ComputationLength()
	return info, nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
