package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTrace(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func writeDataset(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeTrace(t, filepath.Join(root, PosTrainDir), "0.txt", "1,0\n1,1\n0,1\n")
	writeTrace(t, filepath.Join(root, PosTrainDir), "1.txt", "1,0\n\n0,0\n")
	writeTrace(t, filepath.Join(root, NegTrainDir), "0.txt", "0,0\n0,0\n0,0\n0,1\n")
	writeTrace(t, filepath.Join(root, PosTestDir), "0.txt", "10\n11\n")
	writeTrace(t, filepath.Join(root, NegTestDir), "0.txt", "00\n")
	return root
}

func TestLoadDir(t *testing.T) {
	split, err := LoadDir(writeDataset(t))
	require.NoError(t, err)

	require.Len(t, split.PosTrain, 2)
	assert.Equal(t, Trace{"10", "11", "01"}, split.PosTrain[0])
	assert.Equal(t, Trace{"10", "00"}, split.PosTrain[1])
	assert.Equal(t, Trace{"10", "11"}, split.PosTest[0])

	assert.Equal(t, 2, split.PropositionCount())
	assert.Equal(t, 4, split.MaxTrainLength())
	assert.Equal(t, 2, split.MinTrainLength())
	pt, nt, pv, nv := split.Counts()
	assert.Equal(t, []int{2, 1, 1, 1}, []int{pt, nt, pv, nv})
}

func TestLoadDirRejectsEmptySet(t *testing.T) {
	root := writeDataset(t)
	require.NoError(t, os.RemoveAll(filepath.Join(root, NegTestDir)))
	require.NoError(t, os.MkdirAll(filepath.Join(root, NegTestDir), 0o755))
	_, err := LoadDir(root)
	assert.ErrorIs(t, err, ErrEmptySet)
}

func TestLoadDirMissingDirectory(t *testing.T) {
	_, err := LoadDir(t.TempDir())
	assert.Error(t, err)
}

func TestReadTraceRejectsNonBits(t *testing.T) {
	dir := t.TempDir()
	writeTrace(t, dir, "bad.txt", "1,0\n1,x\n")
	_, err := ReadTrace(filepath.Join(dir, "bad.txt"))
	assert.ErrorIs(t, err, ErrInvalidBit)
}

func TestValidate(t *testing.T) {
	ok := Split{
		PosTrain: []Trace{{"10"}},
		NegTrain: []Trace{{"01", "00"}},
		PosTest:  []Trace{{"11"}},
		NegTest:  []Trace{{"00"}},
	}
	require.NoError(t, ok.Validate())

	ragged := ok
	ragged.NegTest = []Trace{{"001"}}
	assert.ErrorIs(t, ragged.Validate(), ErrWidthMismatch)

	empty := ok
	empty.PosTest = nil
	assert.ErrorIs(t, empty.Validate(), ErrEmptySet)

	hollow := ok
	hollow.NegTrain = []Trace{{}}
	assert.ErrorIs(t, hollow.Validate(), ErrEmptyTrace)
}
