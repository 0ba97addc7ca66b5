package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"airsenal-control/internal/models"
)

var (
	ansiEscape  = regexp.MustCompile(`\x1B\[[0-?]*[ -/]*[@-~]`)
	playerLine  = regexp.MustCompile(`(?i)^\s*(\d+)\.\s*([^,]+),\s*([-+]?\d+(?:\.\d+)?)pts`)
	arrowLine   = regexp.MustCompile(`^(.+?)\s*->\s*([^\s].*?)(?:\s+cost=([-+]?\d+(?:\.\d+)?))?(?:\s+gain=([-+]?\d+(?:\.\d+)?))?\s*$`)
	scoreLine   = regexp.MustCompile(`(Baseline|Best|Total) score:\s*([-+]?\d+(?:\.\d+)?)`)
	captainTag  = regexp.MustCompile(`\s*\((VC|C)\)`)
	columnSplit = regexp.MustCompile(`\s{2,}|\t+`)
)

// CleanLine strips ANSI escape sequences and carriage returns and trims
// surrounding whitespace.
func CleanLine(line string) string {
	cleaned := ansiEscape.ReplaceAllString(strings.ReplaceAll(line, "\r", ""), "")
	return strings.TrimSpace(cleaned)
}

// Parse turns the captured output of a finished command into a structured
// result. Parsing is best effort: anything it cannot recognise comes back as
// a generic result carrying the raw text, never an error. Parsing the same
// input twice yields structurally equal results apart from GeneratedAt.
func Parse(cmd models.Command, logs []string) *models.Output {
	cleaned := cleanAll(logs)

	switch cmd {
	case models.CommandPredict:
		if out := parsePrediction(cleaned); out != nil {
			return out
		}
	case models.CommandOptimise:
		if out := parseOptimisation(cleaned); out != nil {
			return out
		}
	}
	return generic(cleaned)
}

func cleanAll(logs []string) []string {
	cleaned := make([]string, 0, len(logs))
	for _, raw := range logs {
		if line := CleanLine(raw); line != "" {
			cleaned = append(cleaned, line)
		}
	}
	return cleaned
}

func generic(cleaned []string) *models.Output {
	return &models.Output{
		Type:        models.OutputGeneric,
		SummaryText: strings.Join(cleaned, "\n"),
		GeneratedAt: time.Now().UTC(),
	}
}

func parsePrediction(cleaned []string) *models.Output {
	start := -1
	for idx, line := range cleaned {
		if strings.HasPrefix(strings.ToUpper(line), "PREDICTED TOP") {
			start = idx
			break
		}
	}
	if start < 0 {
		// Some pipeline variants print the ranked lines without the
		// headline. Fall back to scanning the whole output.
		players := parsePlayers(cleaned)
		if len(players) == 0 {
			return nil
		}
		return &models.Output{
			Type:        models.OutputPrediction,
			SummaryText: strings.Join(cleaned, "\n"),
			Players:     players,
			GeneratedAt: time.Now().UTC(),
		}
	}

	var summary []string
	for _, line := range cleaned[start:] {
		summary = append(summary, line)
		if strings.HasPrefix(strings.ToLower(line), "persisted db") {
			break
		}
	}

	return &models.Output{
		Type:        models.OutputPrediction,
		Headline:    summary[0],
		SummaryText: strings.Join(summary, "\n"),
		Players:     parsePlayers(summary[1:]),
		GeneratedAt: time.Now().UTC(),
	}
}

// parsePlayers reads ranked forecast lines, tracking "GK:"-style position
// headers along the way.
func parsePlayers(lines []string) []models.PlayerForecast {
	var players []models.PlayerForecast
	position := ""
	rank := 1
	for _, line := range lines {
		if isRule(line) {
			continue
		}
		if name, ok := strings.CutSuffix(line, ":"); ok && name != "" && name == strings.ToUpper(name) {
			position = name
			continue
		}
		m := playerLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		forecast := models.PlayerForecast{
			Rank:     rank,
			Player:   strings.TrimSpace(m[2]),
			Position: position,
		}
		if pts, err := strconv.ParseFloat(m[3], 64); err == nil {
			forecast.ExpectedPoints = &pts
		}
		players = append(players, forecast)
		rank++
	}
	return players
}

func parseOptimisation(cleaned []string) *models.Output {
	summary := strategyBlock(cleaned)
	if len(summary) == 0 {
		// No strategy header; the transfer suggestions may still be
		// present in a terser form.
		summary = cleaned
	}

	out := &models.Output{
		Type:        models.OutputOptimisation,
		SummaryText: strings.Join(summary, "\n"),
		GeneratedAt: time.Now().UTC(),
	}

	parseScores(out, out.SummaryText)
	parseTransferTable(out, summary)
	parseArrowTransfers(out, summary)
	parseSquad(out, summary)
	parseCaptainLines(out, summary)

	if !recognisedOptimisation(out) {
		return nil
	}
	return out
}

func strategyBlock(cleaned []string) []string {
	var summary []string
	capture := false
	for _, line := range cleaned {
		if !capture && strings.HasPrefix(line, "Strategy for Team ID") {
			capture = true
		}
		if capture {
			summary = append(summary, line)
			if strings.HasPrefix(strings.ToLower(line), "persisted db") {
				break
			}
		}
	}
	return summary
}

func recognisedOptimisation(out *models.Output) bool {
	return len(out.Transfers) > 0 ||
		out.Captain != "" ||
		out.ExpectedPoints != nil ||
		len(out.StartingLineup) > 0 ||
		strings.HasPrefix(out.SummaryText, "Strategy for Team ID")
}

func parseScores(out *models.Output, summary string) {
	for _, m := range scoreLine.FindAllStringSubmatch(summary, -1) {
		value, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		v := value
		switch m[1] {
		case "Baseline":
			out.BaselinePoints = &v
		case "Best":
			out.BestPoints = &v
		case "Total":
			out.ExpectedPoints = &v
		}
	}
	if out.ExpectedPoints == nil && out.BestPoints != nil {
		v := *out.BestPoints
		out.ExpectedPoints = &v
	}
}

// parseTransferTable reads the two-column "Players in / Players out" table.
func parseTransferTable(out *models.Output, summary []string) {
	start := -1
	for idx, line := range summary {
		if strings.HasPrefix(strings.ToLower(line), "players in") {
			start = idx
			break
		}
	}
	if start < 0 || start+2 >= len(summary) {
		return
	}

	for _, line := range summary[start+2:] {
		lower := strings.ToLower(line)
		if line == "" ||
			strings.HasPrefix(line, "=") ||
			strings.HasPrefix(line, "Total score") ||
			strings.HasPrefix(line, "Getting starting squad") ||
			strings.HasPrefix(lower, "total progress") {
			break
		}
		if isRule(line) {
			continue
		}
		var parts []string
		for _, part := range columnSplit.Split(line, -1) {
			if part = strings.TrimSpace(part); part != "" {
				parts = append(parts, part)
			}
		}
		if len(parts) == 0 {
			continue
		}
		transfer := models.Transfer{In: parts[0]}
		if len(parts) > 1 {
			transfer.Out = parts[1]
		}
		out.Transfers = append(out.Transfers, transfer)
	}
}

// parseArrowTransfers reads transfer suggestions of the form
// "Smith -> Jones cost=4.0 gain=2.1".
func parseArrowTransfers(out *models.Output, summary []string) {
	for _, line := range summary {
		m := arrowLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		transfer := models.Transfer{
			Out: strings.TrimSpace(m[1]),
			In:  strings.TrimSpace(m[2]),
		}
		if m[3] != "" {
			if cost, err := strconv.ParseFloat(m[3], 64); err == nil {
				transfer.Cost = &cost
			}
		}
		if m[4] != "" {
			if gain, err := strconv.ParseFloat(m[4], 64); err == nil {
				transfer.Gain = &gain
			}
		}
		out.Transfers = append(out.Transfers, transfer)
	}
}

func parseSquad(out *models.Output, summary []string) {
	group := ""
	inSquad := false

	for _, line := range summary {
		lower := strings.ToLower(line)
		switch {
		case strings.HasPrefix(line, "=== starting 11"):
			inSquad = true
			group = ""
			continue
		case !inSquad:
			continue
		case strings.HasPrefix(line, "=== subs"):
			group = "Subs"
			continue
		case strings.HasPrefix(line, "=="):
			group = strings.TrimSpace(strings.Trim(line, "="))
			continue
		case line == "" || strings.HasPrefix(line, "Persisted DB") || strings.HasPrefix(line, "Total score"):
			continue
		case strings.HasPrefix(lower, "total progress"):
			return
		case isRule(line):
			continue
		}

		name := strings.TrimSpace(captainTag.ReplaceAllString(line, ""))
		if name == "" {
			continue
		}
		slot := models.SquadSlot{Name: name, PositionGroup: group}
		if group == "Subs" {
			out.Bench = append(out.Bench, slot)
		} else {
			out.StartingLineup = append(out.StartingLineup, slot)
		}
		if strings.Contains(line, "(C)") && out.Captain == "" {
			out.Captain = name
		}
		if strings.Contains(line, "(VC)") && out.ViceCaptain == "" {
			out.ViceCaptain = name
		}
	}
}

// parseCaptainLines reads explicit "Captain: Name" style lines, which some
// pipeline variants print instead of (C)/(VC) markers.
func parseCaptainLines(out *models.Output, summary []string) {
	for _, line := range summary {
		lower := strings.ToLower(line)
		if name, ok := cutPrefixFold(line, lower, "vice captain:"); ok {
			if out.ViceCaptain == "" {
				out.ViceCaptain = name
			}
			continue
		}
		if name, ok := cutPrefixFold(line, lower, "captain:"); ok && out.Captain == "" {
			out.Captain = name
		}
	}
}

func cutPrefixFold(line, lower, prefix string) (string, bool) {
	if !strings.HasPrefix(lower, prefix) {
		return "", false
	}
	return strings.TrimSpace(line[len(prefix):]), true
}

// isRule reports whether the line is a horizontal rule of dashes.
func isRule(line string) bool {
	stripped := strings.TrimSpace(strings.ReplaceAll(line, "\t", ""))
	if stripped == "" {
		return false
	}
	return strings.Trim(stripped, "-") == ""
}
