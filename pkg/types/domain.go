package types

// CheckpointRef identifies which model weights a session loads.
// It is supplied once at startup and reused on every recycle.
type CheckpointRef struct {
	// Directory holding one sub-directory per fine-tuned run.
	// example: /srv/checkpoint
	CheckpointDir string `json:"checkpoint_dir" example:"/srv/checkpoint"`
	// Directory holding the base model weights.
	// example: /srv/models
	ModelDir string `json:"model_dir" example:"/srv/models"`
	// Name of the run (sub-directory of CheckpointDir) to serve.
	// example: run1
	RunName string `json:"run_name" example:"run1"`
}

// Checkpoint is a run discovered under a checkpoint directory.
type Checkpoint struct {
	// Run name (directory name).
	// example: run1
	RunName string `json:"run_name" example:"run1"`
	// Absolute path of the run directory.
	// example: /srv/checkpoint/run1
	Dir string `json:"dir" example:"/srv/checkpoint/run1"`
	// Weight files found in the run directory, sorted by name.
	Weights []string `json:"weights"`
}

// GenerationParams are the per-request sampling parameters.
// Built fresh for every request and never mutated afterwards.
type GenerationParams struct {
	// Number of tokens to generate, in [30,100).
	LengthTokens int `json:"length_tokens"`
	// Sampling temperature, one of 0.60..0.79.
	Temperature float64 `json:"temperature"`
	// Start sentinel followed by the caller's prompt, if any.
	PromptPrefix string `json:"prompt_prefix"`
}
