package automation

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"tradeflow/internal/extract"
	"tradeflow/internal/models"
	"tradeflow/internal/store"
)

// Coach recommendation actions.
const (
	ActionCollectMoreData       = "collect_more_data"
	ActionImproveRewardRisk     = "improve_reward_risk"
	ActionTightenEntryFilter    = "tighten_entry_filter"
	ActionKeepPositionSizing    = "keep_position_sizing"
	ActionReviewTradeDiscipline = "review_trade_discipline"
)

const (
	coachSampleSize      = 20
	coachMinSample       = 5
	coachMaxTasks        = 3
	coachWinRateFloorPct = 45
)

// CoachStats summarizes recent closed trades.
type CoachStats struct {
	SampleSize int
	Wins       int
	Losses     int
	WinRate    decimal.Decimal
	AvgWin     decimal.Decimal
	AvgLoss    decimal.Decimal
	Expectancy decimal.Decimal
}

// Recommendation is one coaching action.
type Recommendation struct {
	Action   string
	Title    string
	Detail   string
	Priority string
}

// ComputeCoachStats derives win rate, average win, average loss magnitude and
// expectancy from closed journal rows. Rows without a P&L are skipped.
func ComputeCoachStats(rows []models.JournalEntry) CoachStats {
	var st CoachStats
	sumWin, sumLoss := decimal.Zero, decimal.Zero
	for _, r := range rows {
		if r.PL == nil {
			continue
		}
		st.SampleSize++
		pl := decimal.NewFromFloat(*r.PL)
		switch {
		case pl.IsPositive():
			st.Wins++
			sumWin = sumWin.Add(pl)
		case pl.IsNegative():
			st.Losses++
			sumLoss = sumLoss.Add(pl.Abs())
		}
	}
	if st.SampleSize == 0 {
		return st
	}
	st.WinRate = decimal.NewFromInt(int64(st.Wins)).Div(decimal.NewFromInt(int64(st.SampleSize)))
	if st.Wins > 0 {
		st.AvgWin = sumWin.Div(decimal.NewFromInt(int64(st.Wins)))
	}
	if st.Losses > 0 {
		st.AvgLoss = sumLoss.Div(decimal.NewFromInt(int64(st.Losses)))
	}
	lossRate := decimal.NewFromInt(1).Sub(st.WinRate)
	st.Expectancy = st.WinRate.Mul(st.AvgWin).Sub(lossRate.Mul(st.AvgLoss))
	return st
}

// Recommendations applies the fixed coaching rules in priority order.
func Recommendations(st CoachStats) []Recommendation {
	var out []Recommendation
	if st.SampleSize < coachMinSample {
		out = append(out, Recommendation{
			Action:   ActionCollectMoreData,
			Title:    "Collect more closed trades",
			Detail:   "Fewer than 5 closed trades; statistics are not yet reliable.",
			Priority: "high",
		})
	}
	if st.SampleSize > 0 {
		if st.AvgLoss.GreaterThan(st.AvgWin) {
			out = append(out, Recommendation{
				Action:   ActionImproveRewardRisk,
				Title:    "Improve reward:risk",
				Detail:   "Average loss exceeds average win. Widen targets or tighten stops.",
				Priority: "high",
			})
		}
		if st.WinRate.Mul(decimal.NewFromInt(100)).LessThan(decimal.NewFromInt(coachWinRateFloorPct)) {
			out = append(out, Recommendation{
				Action:   ActionTightenEntryFilter,
				Title:    "Tighten entry filter",
				Detail:   "Win rate is below 45%. Require stronger confirmation before entry.",
				Priority: "medium",
			})
		}
		if st.Expectancy.IsPositive() {
			out = append(out, Recommendation{
				Action:   ActionKeepPositionSizing,
				Title:    "Keep position sizing consistent",
				Detail:   "Expectancy is positive. Avoid changing size after streaks.",
				Priority: "low",
			})
		}
	}
	if len(out) == 0 {
		out = append(out, Recommendation{
			Action:   ActionReviewTradeDiscipline,
			Title:    "Review trade discipline",
			Detail:   "Re-check that each trade followed its written plan.",
			Priority: "medium",
		})
	}
	return out
}

func (st CoachStats) payload() map[string]interface{} {
	return map[string]interface{}{
		"sample_size": float64(st.SampleSize),
		"wins":        float64(st.Wins),
		"losses":      float64(st.Losses),
		"win_rate":    st.WinRate.Round(4).InexactFloat64(),
		"avg_win":     st.AvgWin.Round(4).InexactFloat64(),
		"avg_loss":    st.AvgLoss.Round(4).InexactFloat64(),
		"expectancy":  st.Expectancy.Round(4).InexactFloat64(),
	}
}

func (r Recommendation) payload() map[string]interface{} {
	return map[string]interface{}{
		"action":   r.Action,
		"title":    r.Title,
		"detail":   r.Detail,
		"priority": r.Priority,
	}
}

func (o *Orchestrator) coachAnalysis(ctx context.Context, e *models.Envelope) error {
	if len(o.pendingChildren(models.EventCoachAnalysisGenerated, e.EventID)) > 0 {
		return nil
	}
	existing, err := o.store.ListChildEvents(ctx, o.workspaceID, models.EventCoachAnalysisGenerated, e.EventID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	closed := false
	rows, err := o.store.GetJournal(ctx, store.JournalFilter{
		WorkspaceID: o.workspaceID,
		IsOpen:      &closed,
		Limit:       coachSampleSize,
	})
	if err != nil {
		return err
	}

	st := ComputeCoachStats(rows)
	recs := Recommendations(st)
	list := make([]interface{}, 0, len(recs))
	for _, r := range recs {
		list = append(list, r.payload())
	}

	analysis := o.derive(e, models.EventCoachAnalysisGenerated, map[string]interface{}{
		"stats":           st.payload(),
		"recommendations": list,
	})
	analysis.Payload["analysis_id"] = analysis.EventID
	if sym := extract.SymbolOf(e); sym != "" {
		analysis.Payload["symbol"] = sym
	}
	o.emit(analysis)
	o.result.CoachAnalyses++
	return nil
}

func (o *Orchestrator) coachTasks(ctx context.Context, e *models.Envelope) error {
	recs := recommendationsOf(e)
	if len(recs) > coachMaxTasks {
		recs = recs[:coachMaxTasks]
	}
	if len(recs) == 0 {
		return nil
	}

	analysisID := analysisIDOf(e)
	seen := map[string]bool{}
	prior, err := o.priorSuggestions(ctx, e, analysisID)
	if err != nil {
		return err
	}
	for i := range prior {
		if a, ok := extract.AsString(prior[i].Payload["action"]); ok {
			seen[a] = true
		}
	}

	for _, r := range recs {
		if r.Action == "" || seen[r.Action] {
			continue
		}
		seen[r.Action] = true
		o.emit(o.derive(e, models.EventStrategyRuleSuggested, map[string]interface{}{
			"analysis_id": analysisID,
			"action":      r.Action,
			"title":       r.Title,
			"priority":    r.Priority,
		}))
		o.result.CoachTasks++
	}
	return nil
}

// priorSuggestions returns stored and pending suggestions that reference the
// analysis, either by its analysis_id or as children of this event. A
// resubmitted analysis keeps its analysis_id under a new event id.
func (o *Orchestrator) priorSuggestions(ctx context.Context, e *models.Envelope, analysisID string) ([]models.Envelope, error) {
	prior, err := o.store.ListAnalysisEvents(ctx, o.workspaceID, models.EventStrategyRuleSuggested, analysisID)
	if err != nil {
		return nil, err
	}
	children, err := o.store.ListChildEvents(ctx, o.workspaceID, models.EventStrategyRuleSuggested, e.EventID)
	if err != nil {
		return nil, err
	}
	prior = append(prior, children...)
	for _, p := range o.result.Events {
		if p.EventType != models.EventStrategyRuleSuggested {
			continue
		}
		if p.Correlation.ParentEventID == e.EventID || p.Payload["analysis_id"] == analysisID {
			prior = append(prior, p)
		}
	}
	return prior, nil
}

func analysisIDOf(e *models.Envelope) string {
	if id, ok := extract.AsString(e.Payload["analysis_id"]); ok {
		return id
	}
	return e.EventID
}

// recommendationsOf reads recommendations back from an analysis payload.
func recommendationsOf(e *models.Envelope) []Recommendation {
	raw, ok := e.Payload["recommendations"].([]interface{})
	if !ok {
		return nil
	}
	out := make([]Recommendation, 0, len(raw))
	for _, item := range raw {
		obj, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		var r Recommendation
		r.Action, _ = extract.AsString(obj["action"])
		r.Title, _ = extract.AsString(obj["title"])
		r.Detail, _ = extract.AsString(obj["detail"])
		r.Priority, _ = extract.AsString(obj["priority"])
		if r.Title == "" {
			r.Title = strings.ReplaceAll(r.Action, "_", " ")
		}
		out = append(out, r)
	}
	return out
}
