// Package capture implements the wrapper's output-parser: line-delimited
// ingestion of a child process's stdout/stderr with default severities
// and an optional reclassification hook, per §4.9.
package capture

import (
	"bufio"
	"io"
)

// LogLine is one emitted line, ready for the log store and upward `log`
// forwarding.
type LogLine struct {
	Severity Severity
	Message  string
}

// ClassifyFunc re-tags a line to a different severity before persistence.
// The bool return reports whether the hook matched; false leaves the
// default severity in place.
type ClassifyFunc func(line string) (Severity, bool)

// Parser drains one stream (stdout or stderr) and emits a LogLine per
// line, including a final partial line with no trailing newline.
type Parser struct {
	defaultSeverity Severity
	classify        ClassifyFunc
}

// NewParser builds a Parser for one stream with the given default
// severity (INFO for stdout, ERROR for stderr per §4.9).
func NewParser(defaultSeverity Severity, classify ClassifyFunc) *Parser {
	return &Parser{defaultSeverity: defaultSeverity, classify: classify}
}

// Run reads r line by line until EOF, sending each LogLine to out. It
// returns any non-EOF scanner error. Callers typically run this in its
// own goroutine per stream.
func (p *Parser) Run(r io.Reader, out chan<- LogLine) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		sev := p.defaultSeverity
		if p.classify != nil {
			if s, ok := p.classify(line); ok {
				sev = s
			}
		}
		out <- LogLine{Severity: sev, Message: line}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return err
	}
	return nil
}
