package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"botconvo/internal/config"
)

// cliState carries persistent flag values and output streams into subcommands.
type cliState struct {
	configPath string
	dotenv     string
	logLevel   string
	logFormat  string
	stdout     io.Writer
	stderr     io.Writer
}

// usageError marks errors caused by how the command was invoked.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// Indirection for tests.
var (
	fnServe       = runServe
	fnCheckpoints = runCheckpoints
	fnAsk         = runAsk
)

// Main runs the CLI and returns the process exit code: 0 on success, 2 on
// invocation or configuration errors, 1 on runtime failure (including a
// session that could not be rebuilt).
func Main(args []string) int {
	st := &cliState{stdout: os.Stdout, stderr: os.Stderr}
	root := buildRootCmd(st)
	root.SetArgs(args)
	root.SetOut(st.stdout)
	root.SetErr(st.stderr)
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(st.stderr, "botd:", err)
		var ue usageError
		if errors.As(err, &ue) {
			return 2
		}
		return 1
	}
	return 0
}

func buildRootCmd(st *cliState) *cobra.Command {
	root := &cobra.Command{
		Use:           "botd",
		Short:         "Resident text-generation daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Help()
			return usageError{errors.New("a command is required: serve|checkpoints|ask")}
		},
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error { return usageError{err} })

	pf := root.PersistentFlags()
	pf.StringVar(&st.configPath, "config", "", "Config file (.yaml, .yml, .json, .toml)")
	pf.StringVar(&st.dotenv, "env-file", "", "Dotenv file loaded before BOTD_* variables (default .env if present)")
	pf.StringVar(&st.logLevel, "log-level", "", "Log level: debug|info|warn|error (defaults BOTD_LOG_LEVEL or info)")
	pf.StringVar(&st.logFormat, "log-format", "", "Log format: console|json (defaults BOTD_LOG_FORMAT or console)")

	root.AddCommand(serveCmd(st), checkpointsCmd(st), askCmd(st))
	return root
}

func serveCmd(st *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [checkpoint_dir model_dir run_name port]",
		Short: "Load the run and serve generation requests",
		Example: "  botd serve /srv/checkpoint /srv/models run1 8080\n" +
			"  botd serve --config botd.yaml --admin-addr 127.0.0.1:9090",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 4 {
				return usageError{fmt.Errorf("serve takes 0 or 4 positional arguments, got %d", len(args))}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveServeConfig(cmd, args, st)
			if err != nil {
				return err
			}
			log, err := newLogger(st.stderr, cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return usageError{err}
			}
			return fnServe(cmd.Context(), cfg, log)
		},
	}
	f := cmd.Flags()
	f.String("checkpoint-dir", "", "Directory holding one sub-directory per run")
	f.String("model-dir", "", "Directory holding the base model weights")
	f.String("run-name", "", "Run to serve (sub-directory of the checkpoint dir)")
	f.Int("port", 0, "Generation listener port")
	f.String("host", "", "Generation listener host (default 127.0.0.1)")
	f.String("admin-addr", "", "Admin listener address for /healthz, /readyz, /status, /metrics (empty disables)")
	f.String("engine", "", "Generation backend: llama|openai|spawn")
	f.String("engine-url", "", "Base URL of the OpenAI-compatible completion server (openai engine)")
	f.String("llama-server-bin", "", "llama-server binary started per session (spawn engine)")
	f.Int("recycle-threshold", 0, "Requests served before the session is rebuilt (default 30)")
	f.Int("candidates", 0, "Samples generated per request (default 5)")
	f.Uint64("seed", 0, "Seed for the parameter sampler (0 = random)")
	f.Int64("request-timeout", 0, "Per-request timeout in seconds (0 disables)")
	return cmd
}

// resolveServeConfig layers the config file, .env, BOTD_* variables,
// positional arguments and flags, in increasing precedence.
func resolveServeConfig(cmd *cobra.Command, args []string, st *cliState) (config.Config, error) {
	var cfg config.Config
	if st.configPath != "" {
		c, err := config.Load(st.configPath)
		if err != nil {
			return cfg, usageError{err}
		}
		cfg = c
	}
	if err := config.LoadEnv(&cfg, st.dotenv); err != nil {
		return cfg, usageError{err}
	}
	if len(args) == 4 {
		port, err := strconv.Atoi(args[3])
		if err != nil {
			return cfg, usageError{fmt.Errorf("port %q: %w", args[3], err)}
		}
		cfg.CheckpointDir, cfg.ModelDir, cfg.RunName, cfg.Port = args[0], args[1], args[2], port
	}

	f := cmd.Flags()
	str := func(name string, dst *string) {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}
	num := func(name string, dst *int) {
		if f.Changed(name) {
			*dst, _ = f.GetInt(name)
		}
	}
	str("checkpoint-dir", &cfg.CheckpointDir)
	str("model-dir", &cfg.ModelDir)
	str("run-name", &cfg.RunName)
	num("port", &cfg.Port)
	str("host", &cfg.Host)
	str("admin-addr", &cfg.AdminAddr)
	str("engine", &cfg.Engine)
	str("engine-url", &cfg.EngineURL)
	str("llama-server-bin", &cfg.LlamaServerBin)
	num("recycle-threshold", &cfg.RecycleThreshold)
	num("candidates", &cfg.Candidates)
	if f.Changed("seed") {
		cfg.Seed, _ = f.GetUint64("seed")
	}
	if f.Changed("request-timeout") {
		cfg.RequestTimeoutSeconds, _ = f.GetInt64("request-timeout")
	}
	if st.logLevel != "" {
		cfg.LogLevel = st.logLevel
	}
	if st.logFormat != "" {
		cfg.LogFormat = st.logFormat
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, usageError{err}
	}
	return cfg, nil
}

func checkpointsCmd(st *cliState) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:     "checkpoints",
		Short:   "List the runs found in a checkpoint directory",
		Example: "  botd checkpoints --checkpoint-dir /srv/checkpoint",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				var cfg config.Config
				if st.configPath != "" {
					c, err := config.Load(st.configPath)
					if err != nil {
						return usageError{err}
					}
					cfg = c
				}
				if err := config.LoadEnv(&cfg, st.dotenv); err != nil {
					return usageError{err}
				}
				dir = cfg.CheckpointDir
			}
			if dir == "" {
				return usageError{errors.New("checkpoint dir is required (--checkpoint-dir or BOTD_CHECKPOINT_DIR)")}
			}
			return fnCheckpoints(st.stdout, dir)
		},
	}
	cmd.Flags().StringVar(&dir, "checkpoint-dir", "", "Directory holding one sub-directory per run")
	return cmd
}

func askCmd(st *cliState) *cobra.Command {
	var (
		url     string
		prompt  string
		strip   bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:     "ask",
		Short:   "Request one sample from a running daemon",
		Example: "  botd ask --url http://127.0.0.1:8080 --prompt 'Hello there' --strip",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if url == "" {
				return usageError{errors.New("--url is required")}
			}
			return fnAsk(cmd.Context(), st.stdout, url, prompt, strip, timeout)
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "Base URL of the daemon")
	cmd.Flags().StringVar(&prompt, "prompt", "", "Prompt text (omit for an unprompted sample)")
	cmd.Flags().BoolVar(&strip, "strip", false, "Remove the start-of-text marker from the reply")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Request timeout (0 disables)")
	return cmd
}
