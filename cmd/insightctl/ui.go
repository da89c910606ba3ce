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
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// ---------- styles ----------

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	endpointStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("2"))

	fallbackStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("3"))

	noViableStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("9"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(lipgloss.Color("7")).
			PaddingLeft(1)

	spinnerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))
)

// ---------- spinner ----------

// spinResult carries the fetch outcome back into the bubbletea loop.
type spinResult[T any] struct {
	value T
	err   error
}

type spinModel[T any] struct {
	spinner spinner.Model
	label   string
	fetch   func() (T, error)
	result  spinResult[T]
	done    bool
}

func (m spinModel[T]) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		func() tea.Msg {
			value, err := m.fetch()
			return spinResult[T]{value: value, err: err}
		},
	)
}

func (m spinModel[T]) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinResult[T]:
		m.result = msg
		m.done = true
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.done = true
			m.result.err = fmt.Errorf("interrupted")
			return m, tea.Quit
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m spinModel[T]) View() string {
	if m.done {
		return ""
	}
	return m.spinner.View() + " " + m.label + "..."
}

// withSpinner runs fetch with a spinner on a TTY, or directly otherwise.
func withSpinner[T any](label string, fetch func() (T, error)) (T, error) {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return fetch()
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	model := spinModel[T]{spinner: sp, label: label, fetch: fetch}
	final, err := tea.NewProgram(model).Run()
	if err != nil {
		// The TUI failed, not the request. Fall back to a plain call.
		return fetch()
	}
	m := final.(spinModel[T])
	return m.result.value, m.result.err
}

// ---------- rendering ----------

// renderDecision formats a decision for the terminal. verbose adds the full
// per-candidate score table (explain mode).
func renderDecision(question string, d *decisionResponse, verbose bool) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Query: ") + question + "\n\n")

	switch {
	case d.SelectedEndpointID == "":
		b.WriteString(noViableStyle.Render("No viable endpoint") + "\n")
		b.WriteString(labelStyle.Render("Nothing in the catalog matched this question.") + "\n")
	case d.UsedFallback:
		b.WriteString(labelStyle.Render("Endpoint:   ") + fallbackStyle.Render(d.SelectedEndpointID) +
			dimStyle.Render("  (fallback: "+d.FallbackStage+")") + "\n")
	default:
		b.WriteString(labelStyle.Render("Endpoint:   ") + endpointStyle.Render(d.SelectedEndpointID) + "\n")
	}

	if d.SelectedEndpointID != "" {
		b.WriteString(labelStyle.Render("Confidence: ") + fmt.Sprintf("%.2f", d.Confidence))
		b.WriteString(renderFlags(d) + "\n")
	}

	if len(d.CombinedWith) > 0 {
		b.WriteString(labelStyle.Render("Combined:   ") +
			strings.Join(d.CombinedWith, ", ") +
			dimStyle.Render("  ("+d.CombinationStrategy+")") + "\n")
	}

	if verbose && len(d.ScoreBreakdown) > 0 {
		b.WriteString("\n" + renderBreakdown(d.ScoreBreakdown))
	}

	b.WriteString("\n" + dimStyle.Render(fmt.Sprintf("catalog %s · normalized %q", d.CatalogVersion, d.NormalizedQuery)))
	return b.String()
}

func renderFlags(d *decisionResponse) string {
	var flags []string
	if d.FromCache {
		flags = append(flags, "cached")
	}
	if !d.SemanticUsed {
		flags = append(flags, "pattern-only")
	}
	if len(flags) == 0 {
		return ""
	}
	return dimStyle.Render("  [" + strings.Join(flags, ", ") + "]")
}

// renderBreakdown prints the candidate table in rank order.
func renderBreakdown(candidates []candidateScore) string {
	maxIDLen := len("Endpoint")
	for _, c := range candidates {
		if len(c.EndpointID) > maxIDLen {
			maxIDLen = len(c.EndpointID)
		}
	}
	w := maxIDLen + 2

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%-*s %8s %9s %8s  %s\n", w, "Endpoint", "Pattern", "Semantic", "Total", "Evidence"))
	b.WriteString(dimStyle.Render(strings.Repeat("─", w+40)) + "\n")

	for _, c := range candidates {
		evidence := strings.Join(c.MatchedTerms, " ")
		if len(c.AvoidedTerms) > 0 {
			evidence += dimStyle.Render(" (avoid: " + strings.Join(c.AvoidedTerms, " ") + ")")
		}
		if !c.FieldsResolved {
			evidence += noViableStyle.Render(" missing: " + strings.Join(c.MissingFields, ","))
		}
		b.WriteString(fmt.Sprintf("%-*s %8.2f %9.2f %8.2f  %s\n",
			w, c.EndpointID, c.PatternScore, c.SemanticScore, c.TotalScore, evidence))
	}

	return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

// renderCatalog formats the endpoint listing.
func renderCatalog(catalog *catalogResponse) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Endpoint catalog ") + dimStyle.Render("v"+catalog.Version) + "\n\n")

	maxIDLen := len("ID")
	for _, e := range catalog.Endpoints {
		if len(e.ID) > maxIDLen {
			maxIDLen = len(e.ID)
		}
	}
	w := maxIDLen + 2

	b.WriteString(fmt.Sprintf("%-*s %-14s %8s  %s\n", w, "ID", "Category", "Priority", "Description"))
	b.WriteString(dimStyle.Render(strings.Repeat("─", w+60)) + "\n")
	for _, e := range catalog.Endpoints {
		id := e.ID
		if id == catalog.DefaultEndpoint {
			id += "*"
		}
		// Pad before styling: ANSI escapes would break %-*s alignment.
		padded := fmt.Sprintf("%-*s", w, id)
		if e.ID == catalog.DefaultEndpoint {
			padded = endpointStyle.Render(padded)
		}
		b.WriteString(fmt.Sprintf("%s %-14s %8.1f  %s\n", padded, e.Category, e.PriorityWeight, e.Description))
	}

	b.WriteString("\n" + dimStyle.Render("* default endpoint"))
	return b.String()
}
