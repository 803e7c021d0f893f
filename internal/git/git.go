package git

import (
	"fmt"
	"os/exec"
	"strings"
)

// Exposure describes how moodlock's private files relate to a git repository
type Exposure struct {
	IsRepo    bool
	Tracked   []string // Tracked by git (bad)
	Unignored []string // Not in .gitignore (warning)
}

// Clean reports whether nothing needs the user's attention
func (e *Exposure) Clean() bool {
	return !e.IsRepo || (len(e.Tracked) == 0 && len(e.Unignored) == 0)
}

// IsGitRepo checks if the working directory is inside a git repository
func IsGitRepo(workDir string) bool {
	cmd := exec.Command("git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = workDir
	return cmd.Run() == nil
}

// IsTracked checks if a path, or anything below it, is tracked by git
func IsTracked(workDir, path string) bool {
	cmd := exec.Command("git", "ls-files", "--", path)
	cmd.Dir = workDir
	output, err := cmd.Output()
	if err != nil {
		return false
	}
	return len(strings.TrimSpace(string(output))) > 0
}

// IsIgnored checks if a path is ignored by git (handles all .gitignore files)
func IsIgnored(workDir, path string) bool {
	cmd := exec.Command("git", "check-ignore", "-q", "--", path)
	cmd.Dir = workDir
	// git check-ignore returns exit code 0 if the path is ignored
	return cmd.Run() == nil
}

// CheckExposure checks each of paths against the repository at workDir
func CheckExposure(workDir string, paths []string) *Exposure {
	exp := &Exposure{}
	if !IsGitRepo(workDir) {
		return exp
	}
	exp.IsRepo = true

	for _, path := range paths {
		if IsTracked(workDir, path) {
			exp.Tracked = append(exp.Tracked, path)
			continue
		}
		if !IsIgnored(workDir, path) {
			exp.Unignored = append(exp.Unignored, path)
		}
	}
	return exp
}

// FormatExposure formats the exposure for display
func FormatExposure(exp *Exposure) string {
	if !exp.IsRepo {
		return ""
	}

	var result strings.Builder
	result.WriteString("\nGit:\n")
	if exp.Clean() {
		result.WriteString("   ok: moodlock files are ignored by git\n")
		return result.String()
	}

	for _, path := range exp.Tracked {
		result.WriteString(fmt.Sprintf("   error: %s is tracked by git (run: git rm -r --cached %s)\n", path, path))
	}
	for _, path := range exp.Unignored {
		result.WriteString(fmt.Sprintf("   warning: %s not in .gitignore\n", path))
	}
	return result.String()
}
