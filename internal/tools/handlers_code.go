package tools

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"__pycache__":  true,
	"vendor":       true,
}

func handleGrepFiles(_ context.Context, _ *Env, args map[string]any) Result {
	pattern := argString(args, "pattern", "")
	dir := argString(args, "directory", "")
	filePattern := argString(args, "file_pattern", "*")
	maxResults := argInt(args, "max_results", 100)
	contextLines := argInt(args, "context_lines", 2)

	info, err := os.Stat(dir)
	if err != nil {
		return fail(CodeToolExternalFailure, "directory not found: %s", dir)
	}
	if !info.IsDir() {
		return fail(CodeToolBadArgs, "not a directory: %s", dir)
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return fail(CodeSchemaInvalidFormat, "invalid regex pattern: %v", err)
	}

	type match struct {
		File    string   `json:"file"`
		Line    int      `json:"line"`
		Match   string   `json:"match"`
		Context []string `json:"context"`
	}
	var matches []match
	truncated := false

	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skipDirs[d.Name()] || (strings.HasPrefix(d.Name(), ".") && path != dir) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if matched, _ := filepath.Match(filePattern, d.Name()); !matched {
			return nil
		}
		content, rerr := os.ReadFile(path)
		if rerr != nil {
			return nil
		}
		lines := strings.Split(string(content), "\n")
		for i, line := range lines {
			if !re.MatchString(line) {
				continue
			}
			start := max(0, i-contextLines)
			end := min(len(lines), i+contextLines+1)
			rel, _ := filepath.Rel(dir, path)
			matches = append(matches, match{
				File:    rel,
				Line:    i + 1,
				Match:   strings.TrimSpace(line),
				Context: lines[start:end],
			})
			if len(matches) >= maxResults {
				truncated = true
				return filepath.SkipAll
			}
		}
		return nil
	})
	if walkErr != nil {
		return fail(CodeToolInternalError, "search failed: %v", walkErr)
	}
	return ok(map[string]any{
		"matches":     matches,
		"truncated":   truncated,
		"total_shown": len(matches),
	})
}

var hunkHeader = regexp.MustCompile(`^@@\s*-(\d+)(?:,\d+)?\s*\+(\d+)(?:,\d+)?\s*@@`)

type diffHunk struct {
	oldStart int
	lines    []string
}

func parseHunks(diff string) []diffHunk {
	var hunks []diffHunk
	cur := -1
	for _, line := range strings.Split(diff, "\n") {
		if m := hunkHeader.FindStringSubmatch(line); m != nil {
			hunks = append(hunks, diffHunk{oldStart: atoiOr(m[1], 1)})
			cur = len(hunks) - 1
		} else if cur >= 0 {
			hunks[cur].lines = append(hunks[cur].lines, line)
		}
	}
	return hunks
}

func atoiOr(s string, def int) int {
	n := 0
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return def
	}
	return n
}

func handleApplyDiff(_ context.Context, _ *Env, args map[string]any) Result {
	filePath := argString(args, "file_path", "")
	diff := argString(args, "diff", "")
	dryRun := argBool(args, "dry_run", false)

	original, err := os.ReadFile(filePath)
	if err != nil {
		return fail(CodeToolExternalFailure, "file not found: %s", filePath)
	}
	hunks := parseHunks(diff)
	if len(hunks) == 0 {
		return fail(CodeSchemaInvalidFormat, "no valid diff hunks found")
	}

	lines := strings.SplitAfter(string(original), "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	offset := 0
	for _, h := range hunks {
		at := h.oldStart - 1 + offset
		var removals, additions []string
		for _, l := range h.lines {
			switch {
			case strings.HasPrefix(l, "---") || strings.HasPrefix(l, "+++"):
			case strings.HasPrefix(l, "-"):
				removals = append(removals, l[1:])
			case strings.HasPrefix(l, "+"):
				additions = append(additions, l[1:]+"\n")
			}
		}
		for range removals {
			if at >= 0 && at < len(lines) {
				lines = append(lines[:at], lines[at+1:]...)
				offset--
			}
		}
		for i, add := range additions {
			pos := at + i
			if pos > len(lines) {
				pos = len(lines)
			}
			lines = append(lines[:pos], append([]string{add}, lines[pos:]...)...)
			offset++
		}
	}
	result := strings.Join(lines, "")

	if dryRun {
		preview := result
		if len(preview) > 2000 {
			preview = preview[:2000] + "..."
		}
		return ok(map[string]any{
			"mode":          "dry_run",
			"preview":       preview,
			"hunks_applied": len(hunks),
		})
	}
	if err := os.WriteFile(filePath, []byte(result), 0o644); err != nil {
		return fail(CodeToolExternalFailure, "diff application failed: %v", err)
	}
	return ok(map[string]any{
		"mode":          "applied",
		"file":          filePath,
		"hunks_applied": len(hunks),
	})
}

type symbol struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Line int    `json:"line"`
}

var (
	goFuncPattern   = regexp.MustCompile(`^func\s+(\w+)\s*\(`)
	goMethodPattern = regexp.MustCompile(`^func\s+\(\s*\w+\s+\*?(\w+)\s*\)\s+(\w+)\s*\(`)
	goTypePattern   = regexp.MustCompile(`^type\s+(\w+)\s`)
	pyClassPattern  = regexp.MustCompile(`^class\s+(\w+)`)
	pyFuncPattern   = regexp.MustCompile(`^(\s*)def\s+(\w+)\s*\(`)
)

func handleGetSymbols(_ context.Context, _ *Env, args map[string]any) Result {
	filePath := argString(args, "file_path", "")
	maxSymbols := argInt(args, "max_symbols", 100)

	content, err := os.ReadFile(filePath)
	if err != nil {
		return fail(CodeToolExternalFailure, "file not found: %s", filePath)
	}
	lines := strings.Split(string(content), "\n")

	var symbols []symbol
	switch filepath.Ext(filePath) {
	case ".py":
		currentClass := ""
		for i, line := range lines {
			if m := pyClassPattern.FindStringSubmatch(line); m != nil {
				currentClass = m[1]
				symbols = append(symbols, symbol{Type: "class", Name: m[1], Line: i + 1})
			} else if m := pyFuncPattern.FindStringSubmatch(line); m != nil {
				name := m[2]
				kind := "function"
				if len(m[1]) > 0 && currentClass != "" {
					name = currentClass + "." + name
					kind = "method"
				} else {
					currentClass = ""
				}
				symbols = append(symbols, symbol{Type: kind, Name: name, Line: i + 1})
			}
			if len(symbols) >= maxSymbols {
				break
			}
		}
	default:
		for i, line := range lines {
			if m := goMethodPattern.FindStringSubmatch(line); m != nil {
				symbols = append(symbols, symbol{Type: "method", Name: m[1] + "." + m[2], Line: i + 1})
			} else if m := goFuncPattern.FindStringSubmatch(line); m != nil {
				symbols = append(symbols, symbol{Type: "function", Name: m[1], Line: i + 1})
			} else if m := goTypePattern.FindStringSubmatch(line); m != nil {
				symbols = append(symbols, symbol{Type: "type", Name: m[1], Line: i + 1})
			}
			if len(symbols) >= maxSymbols {
				break
			}
		}
	}

	return ok(map[string]any{
		"file":    filePath,
		"symbols": symbols,
		"total":   len(symbols),
	})
}
