package localfs

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/openmined/idsync/internal/utils"
	gitignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFile is read from the root of the synchronized tree.
const IgnoreFile = ".idsyncignore"

var defaultIgnoreLines = []string{
	IgnoreFile,
	// editors
	".vscode",
	".idea",
	"*.swp",
	"*~",
	// general
	".git",
	"*.tmp",
	"*.partial",
	// os
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
	"Icon\r",
}

// IgnoreList decides which local paths never take part in a sync.
type IgnoreList struct {
	baseDir string
	ignore  *gitignore.GitIgnore
}

func NewIgnoreList(baseDir string) *IgnoreList {
	return &IgnoreList{baseDir: baseDir}
}

// Load compiles the default rules plus the lines of the ignore file, if any.
func (s *IgnoreList) Load() {
	ignorePath := filepath.Join(s.baseDir, IgnoreFile)
	ignoreLines := append([]string(nil), defaultIgnoreLines...)

	if utils.FileExists(ignorePath) {
		ignoreLines = append(ignoreLines, readIgnoreFile(ignorePath)...)
	}

	s.ignore = gitignore.CompileIgnoreLines(ignoreLines...)
}

func readIgnoreFile(ignorePath string) []string {
	file, err := os.Open(ignorePath)
	if err != nil {
		slog.Warn("ignore file open", "path", ignorePath, "error", err)
		return nil
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("ignore file read", "path", ignorePath, "error", err)
		return lines
	}
	slog.Info("ignore file loaded", "path", ignorePath, "rules", len(lines))
	return lines
}

// ShouldIgnore matches a slash-separated path relative to the base dir.
func (s *IgnoreList) ShouldIgnore(path string) bool {
	if s.ignore == nil {
		return false
	}
	return s.ignore.MatchesPath(path)
}
