package models

import (
	"fmt"
	"strconv"
)

// Command identifies one of the closed set of AIrsenal operations
type Command string

const (
	CommandCreateDatabase Command = "create-database"
	CommandUpdateDatabase Command = "update-database"
	CommandPredict        Command = "predict"
	CommandOptimise       Command = "optimise"
	CommandFullPipeline   Command = "full-pipeline"
)

// Commands lists every known command kind.
var Commands = []Command{
	CommandCreateDatabase,
	CommandUpdateDatabase,
	CommandPredict,
	CommandOptimise,
	CommandFullPipeline,
}

// ParseCommand maps a wire-level command name onto the closed set.
func ParseCommand(s string) (Command, error) {
	switch Command(s) {
	case CommandCreateDatabase, CommandUpdateDatabase, CommandPredict, CommandOptimise, CommandFullPipeline:
		return Command(s), nil
	}
	// common alternate spelling
	if s == "optimize" {
		return CommandOptimise, nil
	}
	return "", &ValidationError{Field: "command", Reason: fmt.Sprintf("unknown command %q", s)}
}

// Parameters holds the command-specific scalar arguments as submitted.
// A nil WeeksAhead means "use the default horizon"; an explicit zero is
// rejected. Zero-valued chip weeks mean "not requested".
type Parameters struct {
	WeeksAhead        *int `json:"weeks_ahead,omitempty"`
	WildcardWeek      int  `json:"wildcard_week,omitempty"`
	FreeHitWeek       int  `json:"free_hit_week,omitempty"`
	TripleCaptainWeek int  `json:"triple_captain_week,omitempty"`
	BenchBoostWeek    int  `json:"bench_boost_week,omitempty"`
}

// ValidationError is returned when a submission carries malformed or
// out-of-range parameters. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Spec is the typed variant of one executable command. Each kind carries its
// own validated parameter structure and knows how to build its argv.
type Spec interface {
	Kind() Command
	Validate() error
	Args() []string
}

// CreateDatabase builds the initial working database from scratch.
type CreateDatabase struct{}

func (CreateDatabase) Kind() Command   { return CommandCreateDatabase }
func (CreateDatabase) Validate() error { return nil }
func (CreateDatabase) Args() []string  { return []string{"airsenal_setup_initial_db"} }

// UpdateDatabase refreshes the working database with the latest data.
type UpdateDatabase struct{}

func (UpdateDatabase) Kind() Command   { return CommandUpdateDatabase }
func (UpdateDatabase) Validate() error { return nil }
func (UpdateDatabase) Args() []string  { return []string{"airsenal_update_db"} }

// Predict runs the points prediction over a horizon of gameweeks.
type Predict struct {
	WeeksAhead int
}

func (Predict) Kind() Command { return CommandPredict }

func (p Predict) Validate() error {
	if p.WeeksAhead < 1 || p.WeeksAhead > 6 {
		return &ValidationError{Field: "weeks_ahead", Reason: "must be between 1 and 6"}
	}
	return nil
}

func (p Predict) Args() []string {
	return []string{"airsenal_run_prediction", "--weeks_ahead", strconv.Itoa(p.WeeksAhead)}
}

// Optimise runs the squad optimisation, optionally planning chip usage.
type Optimise struct {
	WeeksAhead        int
	WildcardWeek      int
	FreeHitWeek       int
	TripleCaptainWeek int
	BenchBoostWeek    int
}

func (Optimise) Kind() Command { return CommandOptimise }

func (o Optimise) Validate() error {
	if o.WeeksAhead < 1 || o.WeeksAhead > 6 {
		return &ValidationError{Field: "weeks_ahead", Reason: "must be between 1 and 6"}
	}
	for _, chip := range []struct {
		name string
		week int
	}{
		{"wildcard_week", o.WildcardWeek},
		{"free_hit_week", o.FreeHitWeek},
		{"triple_captain_week", o.TripleCaptainWeek},
		{"bench_boost_week", o.BenchBoostWeek},
	} {
		if chip.week < 0 {
			return &ValidationError{Field: chip.name, Reason: "must not be negative"}
		}
	}
	return nil
}

func (o Optimise) Args() []string {
	args := []string{"airsenal_run_optimization", "--weeks_ahead", strconv.Itoa(o.WeeksAhead)}
	if o.WildcardWeek > 0 {
		args = append(args, "--wildcard_week", strconv.Itoa(o.WildcardWeek))
	}
	if o.FreeHitWeek > 0 {
		args = append(args, "--free_hit_week", strconv.Itoa(o.FreeHitWeek))
	}
	if o.TripleCaptainWeek > 0 {
		args = append(args, "--triple_captain_week", strconv.Itoa(o.TripleCaptainWeek))
	}
	if o.BenchBoostWeek > 0 {
		args = append(args, "--bench_boost_week", strconv.Itoa(o.BenchBoostWeek))
	}
	return args
}

// FullPipeline runs setup, prediction and optimisation in one go.
type FullPipeline struct{}

func (FullPipeline) Kind() Command   { return CommandFullPipeline }
func (FullPipeline) Validate() error { return nil }
func (FullPipeline) Args() []string  { return []string{"airsenal_run_pipeline"} }

// defaultWeeksAhead is applied when a prediction or optimisation is
// submitted without an explicit horizon.
const defaultWeeksAhead = 3

// NewSpec builds and validates the typed variant for a command/parameter
// pair. The returned error is a *ValidationError.
func NewSpec(cmd Command, p Parameters) (Spec, error) {
	weeks := defaultWeeksAhead
	if p.WeeksAhead != nil {
		weeks = *p.WeeksAhead
	}

	var spec Spec
	switch cmd {
	case CommandCreateDatabase:
		spec = CreateDatabase{}
	case CommandUpdateDatabase:
		spec = UpdateDatabase{}
	case CommandPredict:
		spec = Predict{WeeksAhead: weeks}
	case CommandOptimise:
		spec = Optimise{
			WeeksAhead:        weeks,
			WildcardWeek:      p.WildcardWeek,
			FreeHitWeek:       p.FreeHitWeek,
			TripleCaptainWeek: p.TripleCaptainWeek,
			BenchBoostWeek:    p.BenchBoostWeek,
		}
	case CommandFullPipeline:
		spec = FullPipeline{}
	default:
		return nil, &ValidationError{Field: "command", Reason: fmt.Sprintf("unknown command %q", cmd)}
	}

	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}
