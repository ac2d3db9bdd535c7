// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/goalplanner/pkg/ux"
	"github.com/AleutianAI/goalplanner/services/planner"
	"github.com/AleutianAI/goalplanner/services/planner/model"
	"github.com/AleutianAI/goalplanner/services/planner/patterns"
)

func renderPlan(p *ux.Printer, plan *model.Plan) error {
	if p.Machine() {
		return p.Document(plan)
	}
	p.Title("Plan " + plan.ID)
	rows := [][2]string{
		{"mode", string(plan.Mode)},
		{"cost", formatFloat(plan.TotalCost)},
		{"duration", plan.EstimatedDuration.String()},
		{"goal", formatState(plan.Goal)},
	}
	if plan.FromPattern() {
		rows = append(rows, [2]string{"pattern", plan.SourcePatternID})
	}
	if plan.BridgeLength > 0 {
		rows = append(rows, [2]string{"bridged", strconv.Itoa(plan.BridgeLength) + " action(s)"})
	}
	p.Fields(rows)

	if len(plan.Actions) == 0 {
		p.Success("goal already satisfied, nothing to do")
		return nil
	}
	steps := make([][]string, len(plan.Actions))
	for i, id := range plan.Actions {
		steps[i] = []string{strconv.Itoa(i + 1), id}
	}
	p.Table([]string{"#", "action"}, steps)
	return nil
}

func renderTrack(p *ux.Printer, res planner.TrackResult) error {
	if p.Machine() {
		return p.Document(res)
	}
	switch res.Learned {
	case planner.LearningLearned:
		p.Success("learned new pattern " + res.PatternID)
	case planner.LearningMerged:
		p.Success("merged into pattern " + res.PatternID)
	case planner.LearningUpdated:
		p.Success(fmt.Sprintf("updated pattern %s (%+.3f)", res.PatternID, res.Delta))
	case planner.LearningIgnored:
		p.Muted("nothing to learn from this outcome")
	default:
		p.Error("outcome could not be recorded")
	}
	rows := [][2]string{{"plan", res.PlanID}, {"mode", string(res.Mode)}}
	if res.PatternID != "" {
		rows = append(rows, [2]string{"confidence", formatScore(res.Confidence)})
	}
	if res.Degraded {
		rows = append(rows, [2]string{"degraded", "yes"})
	}
	p.Fields(rows)
	if res.Warning != nil {
		p.Warning(res.Warning.Error())
	}
	return nil
}

func renderPatterns(p *ux.Printer, list []*patterns.Pattern, cfg planner.Config, now time.Time) error {
	if p.Machine() {
		return p.Document(list)
	}
	if len(list) == 0 {
		p.Muted("no patterns stored")
		return nil
	}
	rows := make([][]string, len(list))
	for i, pat := range list {
		flag := ""
		if pat.Degraded {
			flag = string(ux.IconWarning)
		}
		rows[i] = []string{
			pat.ID,
			strings.Join(pat.Actions, " "+string(ux.IconArrow)+" "),
			formatScore(pat.Confidence),
			formatScore(pat.EffectiveConfidence(now, cfg.Confidence)),
			fmt.Sprintf("%d/%d", pat.SuccessCount, pat.UsageCount),
			flag,
		}
	}
	p.Table([]string{"id", "actions", "confidence", "effective", "success", "degraded"}, rows)
	return nil
}

func renderPattern(p *ux.Printer, pat *patterns.Pattern, cfg planner.Config, now time.Time) error {
	if p.Machine() {
		return p.Document(pat)
	}
	p.Title("Pattern " + pat.ID)
	p.Fields([][2]string{
		{"actions", strings.Join(pat.Actions, " "+string(ux.IconArrow)+" ")},
		{"goal", strings.Join(pat.Context.Goal, ", ")},
		{"state", strings.Join(pat.Context.State, ", ")},
		{"confidence", formatScore(pat.Confidence)},
		{"effective", formatScore(pat.EffectiveConfidence(now, cfg.Confidence))},
		{"usage", fmt.Sprintf("%d (%d succeeded)", pat.UsageCount, pat.SuccessCount)},
		{"cost", fmt.Sprintf("%s avg, %s var, sequence %s",
			formatFloat(pat.AverageCost), formatScore(pat.CostVariance), formatFloat(pat.SequenceCost))},
		{"generalization", strconv.Itoa(pat.GeneralizationLevel)},
		{"degraded", strconv.FormatBool(pat.Degraded)},
		{"created", pat.CreatedAt.Format(time.RFC3339)},
		{"last used", pat.LastUsed.Format(time.RFC3339)},
	})
	return nil
}

func renderReport(p *ux.Printer, rep patterns.Report) error {
	if p.Machine() {
		return p.Document(rep)
	}
	p.Success("consolidation finished in " + rep.Duration.Round(time.Millisecond).String())
	p.Fields([][2]string{
		{"scanned", strconv.Itoa(rep.Scanned)},
		{"merged", strconv.Itoa(rep.Merged)},
		{"pruned", strconv.Itoa(rep.Pruned)},
		{"corrupt", strconv.Itoa(rep.Corrupt)},
		{"skipped", strconv.Itoa(rep.Skipped)},
	})
	return nil
}

func renderStoreStats(p *ux.Printer, st storeStats) error {
	if p.Machine() {
		return p.Document(st)
	}
	p.Title("Pattern store (" + st.Backend + ")")
	p.Fields([][2]string{
		{"patterns", strconv.Itoa(st.Patterns)},
		{"reusable", strconv.Itoa(st.Reusable)},
		{"degraded", strconv.Itoa(st.Degraded)},
		{"corrupt", strconv.Itoa(st.Corrupt)},
		{"breaker", st.Breaker.State},
	})
	if st.Corrupt > 0 {
		p.Warning(strconv.Itoa(st.Corrupt) + " unreadable record(s); consolidate skips them")
	}
	return nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatState(s model.WorldState) string {
	keys := s.Keys()
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + s[k].String()
	}
	return strings.Join(parts, ", ")
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', 3, 64)
}
