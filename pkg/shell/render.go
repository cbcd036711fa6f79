package shell

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/CDdanieldeng/excel-accelerator/pkg/orchestrator"
	"github.com/CDdanieldeng/excel-accelerator/pkg/session"
)

type styles struct {
	prompt   lipgloss.Style
	title    lipgloss.Style
	answer   lipgloss.Style
	formula  lipgloss.Style
	step     lipgloss.Style
	question lipgloss.Style
	failure  lipgloss.Style
	faint    lipgloss.Style
	code     lipgloss.Style
	section  lipgloss.Style
}

func newStyles() styles {
	return styles{
		prompt:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		title:    lipgloss.NewStyle().Bold(true),
		answer:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		formula:  lipgloss.NewStyle().Foreground(lipgloss.Color("159")),
		step:     lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		question: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		failure:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		faint:    lipgloss.NewStyle().Faint(true),
		code:     lipgloss.NewStyle().Foreground(lipgloss.Color("245")).PaddingLeft(2),
		section:  lipgloss.NewStyle().MarginTop(1),
	}
}

// renderResponse formats a turn for the terminal. debug adds the state
// trace and the generated snippet.
func renderResponse(resp *orchestrator.Response, debug bool, s styles) string {
	var lines []string

	switch resp.State {
	case orchestrator.StateDoneClarify:
		lines = append(lines, s.question.Render(resp.Answer))
	case orchestrator.StateDoneError:
		lines = append(lines, s.failure.Render(resp.Answer))
	default:
		if resp.Code != "" {
			// Done, but the calculation itself failed.
			lines = append(lines, s.failure.Render(resp.Answer))
		} else {
			lines = append(lines, s.answer.Render(resp.Answer))
		}
		if resp.Formula != "" {
			lines = append(lines, s.formula.Render("In Excel: "+resp.Formula))
		}
		for _, step := range resp.Steps {
			lines = append(lines, s.step.Render("  "+step))
		}
	}

	if debug {
		var dbg []string
		for _, t := range resp.Thinking {
			dbg = append(dbg, s.faint.Render("· "+t))
		}
		if resp.GeneratedCode != "" {
			dbg = append(dbg, s.code.Render(resp.GeneratedCode))
		}
		if resp.Code != "" {
			dbg = append(dbg, s.faint.Render("code: "+resp.Code+"  request: "+resp.RequestID))
		}
		if len(dbg) > 0 {
			lines = append(lines, s.section.Render(lipgloss.JoinVertical(lipgloss.Left, dbg...)))
		}
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderSchema(schema orchestrator.Schema, s styles) string {
	head, body, _ := strings.Cut(schema.Summary, "\n")
	return lipgloss.JoinVertical(lipgloss.Left,
		s.title.Render(head),
		s.step.Render(body),
	)
}

func renderHistory(turns []session.Turn, s styles) string {
	if len(turns) == 0 {
		return s.faint.Render("No questions yet.")
	}
	lines := make([]string, 0, 2*len(turns))
	for i, t := range turns {
		lines = append(lines, s.title.Render(fmt.Sprintf("%d. %s", i+1, t.Utterance)))
		answer := t.Answer
		if r := []rune(answer); len(r) > 120 {
			answer = string(r[:117]) + "..."
		}
		lines = append(lines, s.step.Render("   "+answer)+s.faint.Render(" ["+t.Terminal+"]"))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderSessions(list []session.Summary, current string, s styles) string {
	if len(list) == 0 {
		return s.faint.Render("No sessions.")
	}
	lines := make([]string, 0, len(list))
	for _, sum := range list {
		mark := "  "
		if sum.ID == current {
			mark = "* "
		}
		lines = append(lines, fmt.Sprintf("%s%s  %s  %d turns  last active %s",
			mark, sum.ID, sum.DatasetRef, sum.TurnCount, sum.LastActiveAt.Format("15:04:05")))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}
