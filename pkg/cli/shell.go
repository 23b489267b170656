// Package cli is the interactive shell for flowsql: a REPL that loads
// CSV/JSON files as in-memory tables and runs queries against them through
// the root flowsql package.
package cli

import (
	"bufio"
	"io"
	"strings"
)

// Shell handles line-oriented input and multi-line SQL statement assembly.
// It has no SQL knowledge of its own: IsComplete only tracks quoting and
// comments well enough to know when a statement's terminating semicolon has
// been reached.
type Shell struct {
	reader *bufio.Reader

	output    io.Writer
	errOutput io.Writer

	prompt         string
	continuePrompt string

	history    []string
	maxHistory int
}

// NewShell creates a shell reading from input and writing to output/errOutput.
// A nil errOutput writes errors to output instead.
func NewShell(input io.Reader, output, errOutput io.Writer) *Shell {
	var reader *bufio.Reader
	if input != nil {
		reader = bufio.NewReader(input)
	}
	if errOutput == nil {
		errOutput = output
	}
	return &Shell{
		reader:         reader,
		output:         output,
		errOutput:      errOutput,
		prompt:         "flowsql> ",
		continuePrompt: "     ...> ",
		history:        make([]string, 0),
		maxHistory:     1000,
	}
}

func (s *Shell) SetPrompt(prompt string)         { s.prompt = prompt }
func (s *Shell) SetContinuePrompt(prompt string) { s.continuePrompt = prompt }

// ReadLine reads one line, stripping trailing whitespace, and reports EOF.
func (s *Shell) ReadLine() (string, bool) {
	if s.reader == nil {
		return "", true
	}
	line, err := s.reader.ReadString('\n')
	if err != nil {
		return strings.TrimRight(line, " \t\r\n"), true
	}
	return strings.TrimRight(line, " \t\r\n"), false
}

// ReadStatement reads lines until a terminating semicolon is seen outside of
// a string literal or line comment, or until EOF.
func (s *Shell) ReadStatement() (string, bool) {
	var lines []string
	isFirst := true

	for {
		if s.output != nil {
			if isFirst {
				io.WriteString(s.output, s.prompt)
			} else {
				io.WriteString(s.output, s.continuePrompt)
			}
		}
		isFirst = false

		line, eof := s.ReadLine()

		if eof && line == "" && len(lines) == 0 {
			return "", true
		}

		lines = append(lines, line)
		combined := strings.Join(lines, "\n")

		if s.IsComplete(combined) {
			if trimmed := strings.TrimSpace(combined); trimmed != "" {
				s.AddHistory(trimmed)
			}
			return combined, false
		}

		if eof {
			return combined, true
		}
	}
}

// IsComplete reports whether sql contains a semicolon outside string
// literals and line comments and leaves no string literal open. The
// semicolon need not be the last character.
func (s *Shell) IsComplete(sql string) bool {
	if sql == "" {
		return false
	}

	inSingleQuote := false
	inDoubleQuote := false
	inLineComment := false
	lastSemicolon := -1

	runes := []rune(sql)
	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if r == '\n' {
			inLineComment = false
			continue
		}
		if inLineComment {
			continue
		}
		if r == '-' && i+1 < len(runes) && runes[i+1] == '-' && !inSingleQuote && !inDoubleQuote {
			inLineComment = true
			i++
			continue
		}
		if r == '\'' && !inDoubleQuote {
			if inSingleQuote && i+1 < len(runes) && runes[i+1] == '\'' {
				i++
				continue
			}
			inSingleQuote = !inSingleQuote
			continue
		}
		if r == '"' && !inSingleQuote {
			if inDoubleQuote && i+1 < len(runes) && runes[i+1] == '"' {
				i++
				continue
			}
			inDoubleQuote = !inDoubleQuote
			continue
		}
		if r == ';' && !inSingleQuote && !inDoubleQuote {
			lastSemicolon = i
			continue
		}
	}

	return !inSingleQuote && !inDoubleQuote && lastSemicolon >= 0
}

// AddHistory appends stmt to the history, skipping consecutive duplicates.
func (s *Shell) AddHistory(stmt string) {
	if len(s.history) > 0 && s.history[len(s.history)-1] == stmt {
		return
	}
	s.history = append(s.history, stmt)
	if len(s.history) > s.maxHistory {
		s.history = s.history[len(s.history)-s.maxHistory:]
	}
}

// History returns a copy of the recorded statement history.
func (s *Shell) History() []string {
	out := make([]string, len(s.history))
	copy(out, s.history)
	return out
}
