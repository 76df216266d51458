// Package checkpoint provides real rollback for plan execution: git
// commits for the working tree and file copies for SQLite databases.
package checkpoint

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

func runCmd(ctx context.Context, dir string, name string, args ...string) (string, error) {
	log.Debug().Str("dir", dir).Str("cmd", name).Strs("args", args).Msg("running command")
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// Available checks if dir is inside a git work tree.
func Available(ctx context.Context, dir string) bool {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = dir
	return cmd.Run() == nil
}

// EnsureRepo makes workdir a git repository: init if needed, local
// identity, and an initial commit so HEAD always exists.
func EnsureRepo(ctx context.Context, workdir string) error {
	wd, err := filepath.Abs(workdir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(wd, 0o755); err != nil {
		return err
	}
	if _, statErr := os.Stat(filepath.Join(wd, ".git")); statErr == nil {
		return nil
	}
	if _, err := runCmd(ctx, wd, "git", "init"); err != nil {
		return fmt.Errorf("git init: %w", err)
	}
	// Identity is local to the repo so checkpoints work on hosts with no
	// global git config.
	if _, err := runCmd(ctx, wd, "git", "config", "user.email", "cordon@local"); err != nil {
		return err
	}
	if _, err := runCmd(ctx, wd, "git", "config", "user.name", "Cordon Planner"); err != nil {
		return err
	}
	if _, err := runCmd(ctx, wd, "git", "add", "-A"); err != nil {
		return err
	}
	if _, err := runCmd(ctx, wd, "git", "commit", "-m", "checkpoint:init", "--allow-empty"); err != nil {
		return fmt.Errorf("initial commit: %w", err)
	}
	return nil
}

// Commit records the current tree as a checkpoint and returns its hash.
func Commit(ctx context.Context, workdir, label string) (string, error) {
	if err := EnsureRepo(ctx, workdir); err != nil {
		return "", err
	}
	if _, err := runCmd(ctx, workdir, "git", "add", "-A"); err != nil {
		return "", err
	}
	if _, err := runCmd(ctx, workdir, "git", "commit", "-m", "checkpoint:"+label, "--allow-empty"); err != nil {
		return "", err
	}
	head, err := runCmd(ctx, workdir, "git", "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git rev-parse: %w", err)
	}
	return strings.TrimSpace(head), nil
}

// ResetHard restores the tree to commit and removes untracked files
// created since.
func ResetHard(ctx context.Context, workdir, commit string) error {
	if err := EnsureRepo(ctx, workdir); err != nil {
		return err
	}
	if _, err := runCmd(ctx, workdir, "git", "reset", "--hard", commit); err != nil {
		return fmt.Errorf("git reset --hard: %w", err)
	}
	if _, err := runCmd(ctx, workdir, "git", "clean", "-fd"); err != nil {
		return fmt.Errorf("git clean -fd: %w", err)
	}
	return nil
}

// CurrentCommit returns the HEAD hash, or "" when workdir is not a repo.
func CurrentCommit(ctx context.Context, workdir string) string {
	if _, err := os.Stat(filepath.Join(workdir, ".git")); err != nil {
		return ""
	}
	head, err := runCmd(ctx, workdir, "git", "rev-parse", "HEAD")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(head)
}
