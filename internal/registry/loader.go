package registry

import (
	"fmt"
	"os"
	"path/filepath"

	"botconvo/internal/common/fsutil"
	"botconvo/pkg/types"
)

// WeightsSuffix is the file extension of loadable weight files.
const WeightsSuffix = ".gguf"

// LoadDir scans a checkpoint directory and returns one entry per run sub-directory.
// Runs without weight files are still listed so operators can spot incomplete runs.
func LoadDir(dir string) ([]types.Checkpoint, error) {
	abs, err := fsutil.AbsDir(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var runs []types.Checkpoint
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		p := filepath.Join(abs, e.Name())
		weights, err := fsutil.FilesWithSuffix(p, WeightsSuffix)
		if err != nil {
			return nil, err
		}
		runs = append(runs, types.Checkpoint{RunName: e.Name(), Dir: p, Weights: weights})
	}
	return runs, nil
}

// ResolveWeights picks the weight file a session for ref should load: the first
// weight file of the run directory, else the first one in the model directory.
func ResolveWeights(ref types.CheckpointRef) (string, error) {
	if ref.RunName == "" {
		return "", fmt.Errorf("checkpoint: empty run name")
	}
	var tried []string
	if ref.CheckpointDir != "" {
		if base, err := fsutil.AbsDir(ref.CheckpointDir); err == nil {
			runDir := filepath.Join(base, ref.RunName)
			tried = append(tried, runDir)
			if w, err := fsutil.FilesWithSuffix(runDir, WeightsSuffix); err == nil && len(w) > 0 {
				return w[0], nil
			}
		} else {
			tried = append(tried, ref.CheckpointDir)
		}
	}
	if ref.ModelDir != "" {
		tried = append(tried, ref.ModelDir)
		if base, err := fsutil.AbsDir(ref.ModelDir); err == nil {
			if w, err := fsutil.FilesWithSuffix(base, WeightsSuffix); err == nil && len(w) > 0 {
				return w[0], nil
			}
		}
	}
	return "", fmt.Errorf("checkpoint %q: no %s weights in %v", ref.RunName, WeightsSuffix, tried)
}
