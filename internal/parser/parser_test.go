package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"airsenal-control/internal/models"
)

func TestCleanLine(t *testing.T) {
	assert.Equal(t, "hello", CleanLine("\x1B[32mhello\x1B[0m\r"))
	assert.Equal(t, "plain", CleanLine("  plain  "))
	assert.Equal(t, "", CleanLine("\x1B[2K\r"))
}

func TestParseEmptyInput(t *testing.T) {
	out := Parse(models.CommandPredict, nil)
	require.NotNil(t, out)
	assert.Equal(t, models.OutputGeneric, out.Type)
	assert.Equal(t, "", out.SummaryText)
}

func TestParseGenericFallback(t *testing.T) {
	logs := []string{"some chatter", "nothing structured here"}
	out := Parse(models.CommandFullPipeline, logs)
	require.NotNil(t, out)
	assert.Equal(t, models.OutputGeneric, out.Type)
	assert.Equal(t, "some chatter\nnothing structured here", out.SummaryText)
}

func TestParsePrediction(t *testing.T) {
	logs := []string{
		"fetching fixtures...",
		"\x1B[32mPREDICTED TOP 5 PLAYERS FOR NEXT 3 GAMEWEEKS:\x1B[0m",
		"---------------------",
		"GK:",
		"1. Alisson, 15.2pts",
		"2. Ederson, 14.8pts",
		"FWD:",
		"3. Haaland, 24.1pts",
		"Persisted DB to storage",
	}
	out := Parse(models.CommandPredict, logs)
	require.NotNil(t, out)
	assert.Equal(t, models.OutputPrediction, out.Type)
	assert.Equal(t, "PREDICTED TOP 5 PLAYERS FOR NEXT 3 GAMEWEEKS:", out.Headline)
	require.Len(t, out.Players, 3)

	assert.Equal(t, 1, out.Players[0].Rank)
	assert.Equal(t, "Alisson", out.Players[0].Player)
	assert.Equal(t, "GK", out.Players[0].Position)
	require.NotNil(t, out.Players[0].ExpectedPoints)
	assert.InDelta(t, 15.2, *out.Players[0].ExpectedPoints, 0.001)

	assert.Equal(t, 3, out.Players[2].Rank)
	assert.Equal(t, "Haaland", out.Players[2].Player)
	assert.Equal(t, "FWD", out.Players[2].Position)
}

func TestParsePredictionWithoutHeadline(t *testing.T) {
	logs := []string{
		"1. Salah, 18.7pts",
		"2. Haaland, 17.9pts",
		"3. Palmer, 15.1pts",
	}
	out := Parse(models.CommandPredict, logs)
	require.NotNil(t, out)
	assert.Equal(t, models.OutputPrediction, out.Type)
	assert.Empty(t, out.Headline)

	require.Len(t, out.Players, 3)
	assert.Equal(t, "Salah", out.Players[0].Player)
	assert.Equal(t, 1, out.Players[0].Rank)
	require.NotNil(t, out.Players[2].ExpectedPoints)
	assert.InDelta(t, 15.1, *out.Players[2].ExpectedPoints, 0.001)
}

func TestParsePredictionNothingRankedFallsBack(t *testing.T) {
	logs := []string{"Getting latest data..."}
	out := Parse(models.CommandPredict, logs)
	require.NotNil(t, out)
	assert.Equal(t, models.OutputGeneric, out.Type)
	assert.Equal(t, "Getting latest data...", out.SummaryText)
}

func TestParseOptimisationStrategyBlock(t *testing.T) {
	logs := []string{
		"Getting latest data...",
		"Strategy for Team ID 12345",
		"Baseline score: 251.3",
		"Best score: 260.9",
		"Players in      Players out",
		"--------------------------------",
		"Jones           Smith",
		"Palmer          Sterling",
		"",
		"=== starting 11 ===",
		"== GK ==",
		"Alisson",
		"== DEF ==",
		"Trippier (C)",
		"Saliba (VC)",
		"=== subs ===",
		"Ramsdale",
		"Total score: 260.9",
		"Persisted DB to storage",
	}
	out := Parse(models.CommandOptimise, logs)
	require.NotNil(t, out)
	assert.Equal(t, models.OutputOptimisation, out.Type)

	require.NotNil(t, out.BaselinePoints)
	assert.InDelta(t, 251.3, *out.BaselinePoints, 0.001)
	require.NotNil(t, out.BestPoints)
	assert.InDelta(t, 260.9, *out.BestPoints, 0.001)
	require.NotNil(t, out.ExpectedPoints)
	assert.InDelta(t, 260.9, *out.ExpectedPoints, 0.001)

	require.Len(t, out.Transfers, 2)
	assert.Equal(t, "Jones", out.Transfers[0].In)
	assert.Equal(t, "Smith", out.Transfers[0].Out)

	assert.Equal(t, "Trippier", out.Captain)
	assert.Equal(t, "Saliba", out.ViceCaptain)
	require.NotEmpty(t, out.StartingLineup)
	assert.Equal(t, "Alisson", out.StartingLineup[0].Name)
	assert.Equal(t, "GK", out.StartingLineup[0].PositionGroup)
	require.Len(t, out.Bench, 1)
	assert.Equal(t, "Ramsdale", out.Bench[0].Name)
	assert.Equal(t, "Subs", out.Bench[0].PositionGroup)
}

func TestParseOptimisationArrowTransfers(t *testing.T) {
	logs := []string{
		"Smith -> Jones cost=4.0 gain=2.1",
		"Captain: Haaland",
	}
	out := Parse(models.CommandOptimise, logs)
	require.NotNil(t, out)
	assert.Equal(t, models.OutputOptimisation, out.Type)

	require.Len(t, out.Transfers, 1)
	assert.Equal(t, "Smith", out.Transfers[0].Out)
	assert.Equal(t, "Jones", out.Transfers[0].In)
	require.NotNil(t, out.Transfers[0].Cost)
	assert.InDelta(t, 4.0, *out.Transfers[0].Cost, 0.001)
	require.NotNil(t, out.Transfers[0].Gain)
	assert.InDelta(t, 2.1, *out.Transfers[0].Gain, 0.001)

	assert.Equal(t, "Haaland", out.Captain)
}

func TestParseOptimisationNothingRecognisable(t *testing.T) {
	out := Parse(models.CommandOptimise, []string{"warming up", "done"})
	require.NotNil(t, out)
	assert.Equal(t, models.OutputGeneric, out.Type)
}

func TestParseIdempotent(t *testing.T) {
	logs := []string{
		"Strategy for Team ID 1",
		"Best score: 100.0",
		"Persisted DB to storage",
	}
	first := Parse(models.CommandOptimise, logs)
	second := Parse(models.CommandOptimise, logs)
	first.GeneratedAt = second.GeneratedAt
	assert.Equal(t, first, second)
}
