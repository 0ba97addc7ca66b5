package models

import "time"

// OutputType tags the structured result variant
type OutputType string

const (
	OutputPrediction   OutputType = "prediction"
	OutputOptimisation OutputType = "optimisation"
	OutputGeneric      OutputType = "generic"
)

// PlayerForecast is one ranked entry of a prediction run
type PlayerForecast struct {
	Rank           int      `json:"rank"`
	Player         string   `json:"player"`
	ExpectedPoints *float64 `json:"expected_points"`
	Position       string   `json:"position,omitempty"`
}

// Transfer is one suggested swap of an optimisation run
type Transfer struct {
	Out  string   `json:"out"`
	In   string   `json:"in"`
	Cost *float64 `json:"cost,omitempty"`
	Gain *float64 `json:"gain,omitempty"`
}

// SquadSlot is one player of the suggested lineup
type SquadSlot struct {
	Name          string `json:"name"`
	PositionGroup string `json:"position_group"`
}

// Output is the structured result parsed from a completed run. Which fields
// are populated depends on Type; SummaryText is always the captured text the
// structure was derived from.
type Output struct {
	Type        OutputType `json:"type"`
	GeneratedAt time.Time  `json:"generated_at"`

	// prediction
	Headline string           `json:"headline,omitempty"`
	Players  []PlayerForecast `json:"players,omitempty"`

	// optimisation
	Transfers      []Transfer  `json:"transfers,omitempty"`
	Captain        string      `json:"captain,omitempty"`
	ViceCaptain    string      `json:"vice_captain,omitempty"`
	ExpectedPoints *float64    `json:"expected_points,omitempty"`
	BaselinePoints *float64    `json:"baseline_points,omitempty"`
	BestPoints     *float64    `json:"best_points,omitempty"`
	StartingLineup []SquadSlot `json:"starting_lineup,omitempty"`
	Bench          []SquadSlot `json:"bench,omitempty"`

	SummaryText string `json:"summary_text"`
}
