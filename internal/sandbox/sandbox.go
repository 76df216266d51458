// Package sandbox runs commands in disposable Docker containers. It is
// the canonical execution path; host execution is a dev-mode escape
// hatch elsewhere.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config describes the container a command runs in.
type Config struct {
	Image           string
	MemoryLimit     string
	CPULimit        string
	NetworkDisabled bool
	Workdir         string
}

// DefaultConfig is a locked-down Python image with no network.
// CORDON_DOCKER_IMAGE, CORDON_DOCKER_MEMORY, CORDON_DOCKER_CPUS, and
// CORDON_DOCKER_NETWORK override the defaults.
func DefaultConfig() Config {
	cfg := Config{
		Image:           "python:3.12-slim",
		MemoryLimit:     "2g",
		CPULimit:        "2.0",
		NetworkDisabled: true,
		Workdir:         "/workspace",
	}
	if v := os.Getenv("CORDON_DOCKER_IMAGE"); v != "" {
		cfg.Image = v
	}
	if v := os.Getenv("CORDON_DOCKER_MEMORY"); v != "" {
		cfg.MemoryLimit = v
	}
	if v := os.Getenv("CORDON_DOCKER_CPUS"); v != "" {
		cfg.CPULimit = v
	}
	if v := os.Getenv("CORDON_DOCKER_NETWORK"); v == "enabled" || v == "on" {
		cfg.NetworkDisabled = false
	}
	return cfg
}

// Result is the outcome of one container run.
type Result struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	TimedOut bool   `json:"timed_out"`
}

// Runner executes commands through the local Docker daemon.
type Runner struct {
	log zerolog.Logger
}

// NewRunner creates a Docker-backed runner.
func NewRunner(log zerolog.Logger) *Runner {
	return &Runner{log: log}
}

// Available reports whether a Docker daemon answers.
func (r *Runner) Available(ctx context.Context) bool {
	probe, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return exec.CommandContext(probe, "docker", "version").Run() == nil
}

// EnsureImage pulls the image if it is not already present.
func (r *Runner) EnsureImage(ctx context.Context, image string) bool {
	if exec.CommandContext(ctx, "docker", "image", "inspect", image).Run() == nil {
		return true
	}
	r.log.Info().Str("image", image).Msg("pulling sandbox image")
	return exec.CommandContext(ctx, "docker", "pull", image).Run() == nil
}

// Run executes command in a fresh container with worktree mounted
// read-write at cfg.Workdir. The container is removed afterwards.
func (r *Runner) Run(ctx context.Context, command, worktree string, cfg Config, timeout time.Duration, env map[string]string) Result {
	if cfg.Image == "" {
		cfg = DefaultConfig()
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	host, err := filepath.Abs(worktree)
	if err != nil {
		return Result{ExitCode: -1, Stderr: fmt.Sprintf("resolve worktree: %v", err)}
	}

	name := "cordon-worker-" + uuid.NewString()[:8]
	argv := []string{
		"run", "--rm",
		"--name", name,
		"-v", host + ":" + cfg.Workdir,
		"-w", cfg.Workdir,
		"--memory=" + cfg.MemoryLimit,
		"--cpus=" + cfg.CPULimit,
	}
	if cfg.NetworkDisabled {
		argv = append(argv, "--network=none")
	}
	argv = append(argv,
		"--pids-limit=128",
		"--read-only",
		"--tmpfs=/tmp:rw,noexec,nosuid,size=64m",
		"--tmpfs=/var/tmp:rw,noexec,nosuid,size=32m",
		"--security-opt=no-new-privileges",
		"--cap-drop=ALL",
		"--user=65534:65534",
	)
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		argv = append(argv, "-e", k+"="+env[k])
	}
	argv = append(argv, cfg.Image, "sh", "-c", command)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "docker", argv...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	r.log.Debug().
		Str("container", name).
		Str("image", cfg.Image).
		Dur("elapsed", time.Since(start)).
		Msg("container run finished")

	if runCtx.Err() == context.DeadlineExceeded {
		// The context kills docker-the-client; make sure the container
		// itself is gone too.
		exec.Command("docker", "kill", name).Run()
		exec.Command("docker", "rm", "-f", name).Run()
		return Result{ExitCode: -1, Stderr: "container execution timed out", TimedOut: true}
	}

	exitCode := 0
	if runErr != nil {
		if exitErr, isExit := runErr.(*exec.ExitError); isExit {
			exitCode = exitErr.ExitCode()
		} else {
			return Result{ExitCode: -1, Stderr: runErr.Error()}
		}
	}
	return Result{ExitCode: exitCode, Stdout: stdout.String(), Stderr: stderr.String()}
}

// RunTests executes a test command in the sandbox and reports in the
// shape the planner's test-delta reward consumes.
func (r *Runner) RunTests(ctx context.Context, worktree, testCommand string, cfg Config, timeout time.Duration) map[string]any {
	if testCommand == "" {
		testCommand = "pytest -v"
	}
	res := r.Run(ctx, testCommand, worktree, cfg, timeout, nil)
	return map[string]any{
		"returncode": res.ExitCode,
		"stdout":     res.Stdout,
		"stderr":     res.Stderr,
		"meta": map[string]any{
			"timed_out": res.TimedOut,
			"docker":    true,
			"image":     cfg.Image,
		},
	}
}
