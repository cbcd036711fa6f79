package shell

import (
	"sort"
	"strings"
	"sync"

	"github.com/chzyer/readline"

	"github.com/CDdanieldeng/excel-accelerator/pkg/help"
)

// commands lists every completable command word without the / prefix.
var commands = help.Names()

// ShellCompleter completes /commands and the column names of the current
// dataset. It implements readline.AutoCompleter.
type ShellCompleter struct {
	mu      sync.RWMutex
	columns []string
}

// NewShellCompleter creates a completer for columns.
func NewShellCompleter(columns []string) *ShellCompleter {
	c := &ShellCompleter{}
	c.SetColumns(columns)
	return c
}

// Ensure ShellCompleter implements readline.AutoCompleter at compile time.
var _ readline.AutoCompleter = (*ShellCompleter)(nil)

// SetColumns replaces the column names offered for completion.
func (c *ShellCompleter) SetColumns(columns []string) {
	sorted := append([]string(nil), columns...)
	sort.Strings(sorted)
	c.mu.Lock()
	c.columns = sorted
	c.mu.Unlock()
}

// Do implements readline.AutoCompleter. It returns candidate suffixes for
// the word before the cursor and the length of that word.
func (c *ShellCompleter) Do(line []rune, pos int) (newLine [][]rune, length int) {
	if len(line) == 0 || pos <= 0 {
		return nil, 0
	}
	if pos > len(line) {
		pos = len(line)
	}

	lineStr := string(line[:pos])
	wordStart := findWordStart(lineStr)
	currentWord := lineStr[wordStart:]
	if currentWord == "" {
		return nil, 0
	}

	if wordStart == 0 && strings.HasPrefix(currentWord, "/") {
		return completeCommand(currentWord)
	}
	// /load and /export take paths, not columns.
	if strings.HasPrefix(lineStr, "/load ") || strings.HasPrefix(lineStr, "/export ") {
		return nil, 0
	}
	return c.completeColumn(currentWord)
}

// findWordStart returns the index after the last space or tab.
func findWordStart(s string) int {
	return strings.LastIndexAny(s, " \t") + 1
}

// completeCommand returns completions for commands starting with prefix,
// which includes the leading "/".
func completeCommand(prefix string) ([][]rune, int) {
	cmdPrefix := strings.TrimPrefix(prefix, "/")

	var matches [][]rune
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, cmdPrefix) {
			matches = append(matches, []rune(cmd[len(cmdPrefix):]+" "))
		}
	}
	if len(matches) == 0 {
		return nil, 0
	}
	return matches, len([]rune(prefix))
}

// completeColumn returns the column names starting with prefix. readline
// only appends, so matching is case-sensitive.
func (c *ShellCompleter) completeColumn(prefix string) ([][]rune, int) {
	if len([]rune(prefix)) < 2 {
		return nil, 0
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var matches [][]rune
	for _, col := range c.columns {
		if strings.HasPrefix(col, prefix) {
			matches = append(matches, []rune(col[len(prefix):]))
		}
	}
	if len(matches) == 0 {
		return nil, 0
	}
	return matches, len([]rune(prefix))
}
