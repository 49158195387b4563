// Package dataset loads labeled trace sets from disk.
package dataset

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrEmptySet      = errors.New("trace set is empty")
	ErrEmptyTrace    = errors.New("trace has no time steps")
	ErrWidthMismatch = errors.New("trace width mismatch")
	ErrInvalidBit    = errors.New("trace row contains a non-bit character")
)

// Set directory names under a dataset root.
const (
	PosTrainDir = "pos_train"
	NegTrainDir = "neg_train"
	PosTestDir  = "pos_test"
	NegTestDir  = "neg_test"
)

// Trace is a finite sequence of time steps. Character k of a step is the
// value of proposition pk.
type Trace []string

func (t Trace) Len() int { return len(t) }

// Width is the number of propositions per step, 0 for an empty trace.
func (t Trace) Width() int {
	if len(t) == 0 {
		return 0
	}
	return len(t[0])
}

// Split holds the four labeled trace sets of one dataset.
type Split struct {
	PosTrain []Trace
	NegTrain []Trace
	PosTest  []Trace
	NegTest  []Trace
}

// LoadDir reads a dataset laid out as root/{pos_train,neg_train,pos_test,neg_test}/,
// one file per trace and one step per line. Commas between bits are
// optional. Files load in name order.
func LoadDir(root string) (Split, error) {
	var split Split
	sets := []struct {
		dir string
		dst *[]Trace
	}{
		{PosTrainDir, &split.PosTrain},
		{NegTrainDir, &split.NegTrain},
		{PosTestDir, &split.PosTest},
		{NegTestDir, &split.NegTest},
	}
	for _, set := range sets {
		traces, err := LoadTraces(filepath.Join(root, set.dir))
		if err != nil {
			return Split{}, err
		}
		*set.dst = traces
	}
	if err := split.Validate(); err != nil {
		return Split{}, err
	}
	return split, nil
}

// LoadTraces reads every regular file in dir as one trace.
func LoadTraces(dir string) ([]Trace, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read trace dir %s: %w", dir, err)
	}
	out := make([]Trace, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		trace, err := ReadTrace(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, trace)
	}
	return out, nil
}

// ReadTrace parses one trace file. Blank lines are skipped.
func ReadTrace(path string) (Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace %s: %w", path, err)
	}
	defer f.Close()

	var trace Trace
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		row := strings.ReplaceAll(strings.TrimSpace(scanner.Text()), ",", "")
		row = strings.ReplaceAll(row, " ", "")
		if row == "" {
			continue
		}
		if strings.Trim(row, "01") != "" {
			return nil, fmt.Errorf("%w: %s:%d", ErrInvalidBit, path, line)
		}
		trace = append(trace, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read trace %s: %w", path, err)
	}
	return trace, nil
}

// Validate requires all four sets to be non-empty and every step of every
// trace to share the width of the first positive training trace.
func (s Split) Validate() error {
	named := []struct {
		name   string
		traces []Trace
	}{
		{PosTrainDir, s.PosTrain},
		{NegTrainDir, s.NegTrain},
		{PosTestDir, s.PosTest},
		{NegTestDir, s.NegTest},
	}
	width := -1
	for _, set := range named {
		if len(set.traces) == 0 {
			return fmt.Errorf("%w: %s", ErrEmptySet, set.name)
		}
		for i, trace := range set.traces {
			if len(trace) == 0 {
				return fmt.Errorf("%w: %s[%d]", ErrEmptyTrace, set.name, i)
			}
			if width < 0 {
				width = trace.Width()
			}
			for step, row := range trace {
				if len(row) != width {
					return fmt.Errorf("%w: %s[%d] step %d has %d columns, want %d",
						ErrWidthMismatch, set.name, i, step, len(row), width)
				}
			}
		}
	}
	return nil
}

// PropositionCount is the trace width, taken from the first positive
// training trace.
func (s Split) PropositionCount() int {
	if len(s.PosTrain) == 0 {
		return 0
	}
	return s.PosTrain[0].Width()
}

// MaxTrainLength is the longest training trace, positive or negative.
func (s Split) MaxTrainLength() int {
	n := 0
	for _, t := range s.training() {
		n = max(n, len(t))
	}
	return n
}

// MinTrainLength is the shortest training trace, 0 with no training data.
func (s Split) MinTrainLength() int {
	n := -1
	for _, t := range s.training() {
		if n < 0 || len(t) < n {
			n = len(t)
		}
	}
	return max(n, 0)
}

func (s Split) training() []Trace {
	out := make([]Trace, 0, len(s.PosTrain)+len(s.NegTrain))
	out = append(out, s.PosTrain...)
	return append(out, s.NegTrain...)
}

// Counts reports the size of each set in load order.
func (s Split) Counts() (posTrain, negTrain, posTest, negTest int) {
	return len(s.PosTrain), len(s.NegTrain), len(s.PosTest), len(s.NegTest)
}
