package station

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"cell-tester/internal/duplicate"
	"cell-tester/internal/model"
)

// lineReader delivers input lines (barcode scans or typed text) so that waiting for the
// operator can be interrupted through a context.
type lineReader struct {
	lines chan string
	done  chan struct{}
}

func newLineReader(r io.Reader) *lineReader {
	l := &lineReader{lines: make(chan string), done: make(chan struct{})}
	go func() {
		defer close(l.lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case l.lines <- sc.Text():
			case <-l.done:
				return
			}
		}
	}()
	return l
}

// next returns io.EOF once the input is exhausted.
func (l *lineReader) next(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-l.lines:
		if !ok {
			return "", io.EOF
		}
		return strings.TrimSpace(line), nil
	}
}

func (l *lineReader) stop() { close(l.done) }

// consolePrompter asks duplicate questions on the operator console.
type consolePrompter struct {
	ctx context.Context
	in  *lineReader
	out io.Writer
}

var _ duplicate.Prompter = (*consolePrompter)(nil)

func (p *consolePrompter) Choose(existing model.CellTestResult) (duplicate.Choice, error) {
	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, rule('-'))
	fmt.Fprintf(p.out, "DUPLICATE DETECTED: %s\n", existing.Identifier)
	fmt.Fprintln(p.out, rule('-'))
	fmt.Fprintln(p.out, "This cell already has test results:")
	fmt.Fprintf(p.out, "  OCV  : %.4f V\n", existing.OCV)
	fmt.Fprintf(p.out, "  R0   : %.2f mΩ\n", existing.R0.Milliohms())
	fmt.Fprintf(p.out, "  DCIR : %.2f mΩ\n", existing.DCIR.Milliohms())
	fmt.Fprintln(p.out, "Options:")
	fmt.Fprintln(p.out, "  [R] Retest - test again and OVERWRITE the previous results")
	fmt.Fprintln(p.out, "  [S] Skip   - cancel and scan a different cell")
	fmt.Fprintln(p.out, "  [N] New    - this is a DIFFERENT cell, enter its serial number")
	for {
		fmt.Fprint(p.out, "Your choice (R/S/N): ")
		line, err := p.in.next(p.ctx)
		if err != nil {
			return 0, err
		}
		c, err := duplicate.ParseChoice(line)
		if err == nil {
			return c, nil
		}
		fmt.Fprintf(p.out, "  %v\n", err)
	}
}

func (p *consolePrompter) NewIdentifier() (string, error) {
	fmt.Fprint(p.out, "Enter the correct serial number: ")
	return p.in.next(p.ctx)
}

func rule(c rune) string { return strings.Repeat(string(c), 60) }
