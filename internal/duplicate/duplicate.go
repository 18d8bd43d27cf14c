// Package duplicate decides what to do when a cell identifier already has a stored result.
// It only decides; deleting or replacing the prior record is the caller's job.
package duplicate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cell-tester/internal/model"
)

// Kind is the outcome of resolving an identifier.
type Kind int

const (
	Proceed Kind = iota
	Skip
)

func (k Kind) String() string {
	switch k {
	case Proceed:
		return "proceed"
	case Skip:
		return "skip"
	default:
		return "unknown"
	}
}

// Decision is the resolved action. Identifier is the one to test, which differs from the
// scanned one after the operator picked a new identifier. Overwrite is set only on retest.
type Decision struct {
	Kind       Kind
	Identifier model.CellIdentifier
	Overwrite  bool
}

// Choice is the operator's answer to a duplicate prompt.
type Choice int

const (
	Retest Choice = iota + 1
	SkipCell
	NewIdentifier
)

var ErrInvalidChoice = errors.New("invalid choice, enter R, S or N")

// ParseChoice accepts R/S/N or the full words, case-insensitively.
func ParseChoice(s string) (Choice, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "r", "retest":
		return Retest, nil
	case "s", "skip":
		return SkipCell, nil
	case "n", "new":
		return NewIdentifier, nil
	default:
		return 0, ErrInvalidChoice
	}
}

// Lookup is the read side of a result store.
type Lookup interface {
	Lookup(ctx context.Context, id model.CellIdentifier) (*model.CellTestResult, bool, error)
}

// Prompter asks the operator. Choose is only called with an existing result.
type Prompter interface {
	Choose(existing model.CellTestResult) (Choice, error)
	NewIdentifier() (string, error)
}

// Resolve maps an identifier to a decision. Picking a new identifier starts over with it,
// so the same three outcomes apply to the replacement too.
func Resolve(ctx context.Context, id model.CellIdentifier, lookup Lookup, prompter Prompter) (Decision, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Decision{}, err
		}
		existing, found, err := lookup.Lookup(ctx, id)
		if err != nil {
			return Decision{}, fmt.Errorf("lookup %s: %w", id, err)
		}
		if !found {
			return Decision{Kind: Proceed, Identifier: id}, nil
		}
		choice, err := prompter.Choose(*existing)
		if err != nil {
			return Decision{}, err
		}
		switch choice {
		case Retest:
			return Decision{Kind: Proceed, Identifier: id, Overwrite: true}, nil
		case SkipCell:
			return Decision{Kind: Skip, Identifier: id}, nil
		case NewIdentifier:
			raw, err := prompter.NewIdentifier()
			if err != nil {
				return Decision{}, err
			}
			raw = strings.TrimSpace(raw)
			if raw == "" || strings.EqualFold(raw, "q") {
				return Decision{Kind: Skip, Identifier: id}, nil
			}
			id = model.CellIdentifier(raw)
		default:
			return Decision{}, fmt.Errorf("unknown choice %d", choice)
		}
	}
}

// Always answers every duplicate prompt with c, for callers without an operator.
// It never supplies a new identifier, so NewIdentifier resolves to Skip.
func Always(c Choice) Prompter { return fixed(c) }

type fixed Choice

func (f fixed) Choose(model.CellTestResult) (Choice, error) { return Choice(f), nil }

func (fixed) NewIdentifier() (string, error) { return "", nil }
