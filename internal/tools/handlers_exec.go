package tools

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/shlex"
)

func handleSandboxExec(ctx context.Context, env *Env, args map[string]any) Result {
	if env == nil || env.Sandbox == nil {
		return fail(CodeToolInternalError, "sandbox runner not configured")
	}
	return env.Sandbox(ctx, args)
}

var blockedCommandSubstrings = []string{
	"rm -rf /",
	"rm -rf ~",
	"rm -rf .",
	"sudo",
	"chmod 777",
	":(){:|:&};:",
	"mkfs",
	"dd if=/dev/zero",
	"dd of=/dev",
	"> /dev/sda",
	"shutdown",
	"reboot",
	"init 0",
	"init 6",
	"kill -9 -1",
}

var blockedCommandPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)rm\s+-[rf]+\s+[/~.]`),
	regexp.MustCompile(`(?i)>\s*/dev/`),
	regexp.MustCompile(`(?i)\|\s*(ba)?sh`),
	regexp.MustCompile(`(?i)eval\s+`),
	regexp.MustCompile("`.*`"),
	regexp.MustCompile(`\$\(.*\)`),
}

// Shell launchers stay blocked even though the allowlist below would
// otherwise admit them by name.
var blockedExecutables = map[string]bool{
	"sh": true, "bash": true, "zsh": true, "fish": true, "dash": true,
	"ksh": true, "csh": true, "tcsh": true, "powershell": true,
	"pwsh": true, "cmd": true, "cmd.exe": true, "exec": true,
	"eval": true, "source": true,
}

var allowedExecutables = map[string]bool{
	// Filesystem inspection.
	"ls": true, "cat": true, "head": true, "tail": true, "wc": true,
	"grep": true, "find": true, "echo": true, "pwd": true, "stat": true,
	"file": true, "du": true, "df": true, "tree": true, "diff": true,
	"sort": true, "uniq": true, "cut": true, "tr": true, "sed": true,
	"awk": true,
	// Safe filesystem operations.
	"mkdir": true, "touch": true, "cp": true, "mv": true, "ln": true,
	"rm": true,
	// Language toolchains.
	"python": true, "python3": true, "pip": true, "pip3": true,
	"pytest": true, "go": true, "gofmt": true, "cargo": true,
	"rustc": true, "node": true, "npm": true, "npx": true, "make": true,
	// Version control and utilities.
	"git": true, "date": true, "env": true, "which": true, "tar": true,
	"gzip": true, "gunzip": true, "zip": true, "unzip": true, "jq": true,
	"curl": true, "wget": true,
}

func validateHostCommand(cmd string) (argv []string, reason string) {
	if strings.TrimSpace(cmd) == "" {
		return nil, "empty command"
	}
	lower := strings.ToLower(strings.TrimSpace(cmd))
	for _, blocked := range blockedCommandSubstrings {
		if strings.Contains(lower, blocked) {
			return nil, "blocked dangerous pattern: " + blocked
		}
	}
	for _, pat := range blockedCommandPatterns {
		if pat.MatchString(cmd) {
			return nil, "blocked pattern detected: " + pat.String()
		}
	}
	argv, err := shlex.Split(cmd)
	if err != nil {
		return nil, "invalid command syntax: " + err.Error()
	}
	if len(argv) == 0 {
		return nil, "empty command after parsing"
	}
	executable := argv[0]
	if strings.Contains(executable, "/") {
		executable = filepath.Base(executable)
	}
	if blockedExecutables[strings.ToLower(executable)] {
		return nil, "blocked shell launcher: " + executable
	}
	if !allowedExecutables[executable] {
		return nil, "command not in allowlist: " + executable
	}
	return argv, ""
}

var sensitiveEnvPatterns = []string{"PASSWORD", "SECRET", "TOKEN", "PRIVATE", "CREDENTIAL", "API_KEY"}

func sanitizedEnviron() []string {
	var out []string
	for _, kv := range os.Environ() {
		name := strings.ToUpper(kv)
		if i := strings.IndexByte(name, '='); i >= 0 {
			name = name[:i]
		}
		sensitive := false
		for _, pat := range sensitiveEnvPatterns {
			if strings.Contains(name, pat) {
				sensitive = true
				break
			}
		}
		if !sensitive {
			out = append(out, kv)
		}
	}
	out = append(out, "LC_ALL=C.UTF-8", "LANG=C.UTF-8", "PYTHONUNBUFFERED=1")
	return out
}

func outputHash(stdout, stderr []byte) string {
	h := sha256.New()
	h.Write(stdout)
	h.Write([]byte("---STDERR---"))
	h.Write(stderr)
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func runHostProcess(ctx context.Context, argv []string, cwd string, timeout, maxOutput int) Result {
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = cwd
	cmd.Env = sanitizedEnviron()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start).Milliseconds()

	if runCtx.Err() == context.DeadlineExceeded {
		return Result{
			Success: false,
			Output: map[string]any{
				"exit_code": -1,
				"stdout":    "",
				"stderr":    "",
				"meta":      map[string]any{"elapsed_ms": elapsed, "timeout": true},
			},
			Error: fmt.Sprintf("command timed out after %ds", timeout),
			Code:  CodeToolTimeout,
		}
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return fail(CodeToolExternalFailure, "command execution failed: %v", runErr)
		}
	}

	outB, errB := stdout.Bytes(), stderr.Bytes()
	hash := outputHash(outB, errB)
	truncated := false
	if len(outB) > maxOutput {
		outB = append(outB[:maxOutput], []byte("\n... (truncated)")...)
		truncated = true
	}
	if len(errB) > maxOutput {
		errB = append(errB[:maxOutput], []byte("\n... (truncated)")...)
		truncated = true
	}

	output := map[string]any{
		"exit_code": exitCode,
		"stdout":    string(outB),
		"stderr":    string(errB),
		"meta": map[string]any{
			"elapsed_ms":  elapsed,
			"output_hash": hash,
			"truncated":   truncated,
		},
	}
	if exitCode != 0 {
		return Result{Success: false, Output: output, Error: string(errB), Code: CodeToolExternalFailure}
	}
	return ok(output)
}

func handleRunCommand(ctx context.Context, _ *Env, args map[string]any) Result {
	command := argString(args, "command", "")
	cwd := argString(args, "cwd", ".")
	timeout := argInt(args, "timeout", 30)
	maxOutput := argInt(args, "max_output", 50_000)

	argv, reason := validateHostCommand(command)
	if reason != "" {
		return fail(CodeToolCommandBlocked, "%s", reason)
	}
	return runHostProcess(ctx, argv, cwd, timeout, maxOutput)
}

var blockedPythonPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)import\s+subprocess`),
	regexp.MustCompile(`(?i)from\s+subprocess\s+import`),
	regexp.MustCompile(`(?i)os\.system`),
	regexp.MustCompile(`(?i)os\.exec`),
	regexp.MustCompile(`(?i)os\.spawn`),
	regexp.MustCompile(`(?i)__import__\s*\(`),
	regexp.MustCompile(`(?i)eval\s*\(`),
	regexp.MustCompile(`(?i)exec\s*\(`),
}

func handleRunPython(ctx context.Context, _ *Env, args map[string]any) Result {
	code := argString(args, "code", "")
	cwd := argString(args, "cwd", ".")
	timeout := argInt(args, "timeout", 30)
	maxOutput := argInt(args, "max_output", 50_000)

	if strings.TrimSpace(code) == "" {
		return fail(CodeToolBadArgs, "empty code")
	}
	for _, pat := range blockedPythonPatterns {
		if pat.MatchString(code) {
			return fail(CodeToolCommandBlocked, "blocked dangerous pattern in code: %s", pat.String())
		}
	}
	return runHostProcess(ctx, []string{"python3", "-c", code}, cwd, timeout, maxOutput)
}
