// Package model holds the runtime model selection and its one-way downgrade plan.
package model

import (
	"slices"
	"strconv"
	"strings"

	"github.com/soyeahso/hyperloop/internal/config"
)

// Selection is an immutable model choice: the identifier passed to the
// runtime and the launch arguments that go with it.
type Selection struct {
	ID        string
	Args      []string
	Quantized bool
}

// NewSelection returns a Selection owning a copy of args.
func NewSelection(id string, args []string, quantized bool) Selection {
	return Selection{ID: id, Args: slices.Clone(args), Quantized: quantized}
}

// RunArgs returns the arguments for "<bin> run": the model id followed by
// its launch arguments.
func (s Selection) RunArgs() []string {
	return append([]string{"run", s.ID}, s.Args...)
}

// ContextSize returns the value of --n_ctx, or 0 when it is absent or invalid.
func (s Selection) ContextSize() int {
	for i, a := range s.Args {
		var v string
		switch {
		case a == "--n_ctx" && i+1 < len(s.Args):
			v = s.Args[i+1]
		case strings.HasPrefix(a, "--n_ctx="):
			v = strings.TrimPrefix(a, "--n_ctx=")
		default:
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0
		}
		return n
	}
	return 0
}

func (s Selection) String() string {
	if len(s.Args) == 0 {
		return s.ID
	}
	return s.ID + " " + strings.Join(s.Args, " ")
}

// Plan is the primary selection, its quantized fallback and the attempt
// index after which the downgrade happens.
type Plan struct {
	Primary  Selection
	Fallback Selection
	SwitchAt int
}

// FromConfig builds a Plan from the models section.
func FromConfig(mc config.ModelsConfig) Plan {
	return Plan{
		Primary:  NewSelection(mc.Primary.ID, mc.Primary.Args, false),
		Fallback: NewSelection(mc.Fallback.ID, mc.Fallback.Args, true),
		SwitchAt: mc.SwitchAt,
	}
}

// ShouldDowngrade reports whether a failed attempt with the given index
// triggers the switch from current to the fallback.
func (p Plan) ShouldDowngrade(attempt int, current Selection) bool {
	return attempt == p.SwitchAt && !current.Quantized
}

// Identifiers lists the ids a readiness check should accept for current:
// the current id first, then its counterpart in the plan.
func (p Plan) Identifiers(current Selection) []string {
	ids := []string{current.ID}
	other := p.Fallback.ID
	if current.Quantized {
		other = p.Primary.ID
	}
	if other != "" && other != current.ID {
		ids = append(ids, other)
	}
	return ids
}
