package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/arqady01/chatllm/common/id"
	"github.com/arqady01/chatllm/common/llm"
	"github.com/arqady01/chatllm/internal/model"
	"github.com/arqady01/chatllm/internal/prompt"
)

var (
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	separatorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	mutedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	titleStyle     = lipgloss.NewStyle().Bold(true).Underline(true)
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	okStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

const timeLayout = "2006-01-02 15:04"

func renderMessage(w io.Writer, m model.Message) {
	if m.IsContextSeparator() {
		fmt.Fprintln(w, separatorStyle.Render("── context cleared "+m.Timestamp.Format(timeLayout)+" ──"))
		return
	}

	label := userStyle.Render("you")
	if m.Role == model.RoleAssistant {
		label = assistantStyle.Render("assistant")
	}
	header := label + " " + mutedStyle.Render(m.Timestamp.Format(timeLayout))
	if m.ExcludeFromContext {
		header += mutedStyle.Render(" (excluded)")
	}
	fmt.Fprintln(w, header)

	if m.ImageRef != "" || m.HasImage() {
		ref := m.ImageRef
		if ref == "" {
			ref = "image"
		}
		fmt.Fprintln(w, mutedStyle.Render("["+ref+"]"))
	}
	if m.Content != "" {
		fmt.Fprintln(w, m.Content)
	}
	fmt.Fprintln(w)
}

func renderTranscript(w io.Writer, conv model.Conversation, msgs []model.Message) {
	fmt.Fprintln(w, titleStyle.Render(conv.Name))
	if conv.Description != "" {
		fmt.Fprintln(w, mutedStyle.Render(conv.Description))
	}
	fmt.Fprintln(w)
	for _, m := range msgs {
		renderMessage(w, m)
	}
}

func renderSummaries(w io.Writer, sums []model.Summary, active *model.Conversation) {
	if len(sums) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("no conversations yet"))
		return
	}
	for _, s := range sums {
		marker := " "
		if active != nil && active.ID == s.ID {
			marker = "*"
		}
		line := fmt.Sprintf("%s %s  %s  %s", marker, mutedStyle.Render(id.String(s.ID)), titleStyle.Render(s.Name),
			mutedStyle.Render(fmt.Sprintf("%d messages", s.MessageCount)))
		fmt.Fprintln(w, line)
		if s.LastMessage != "" {
			fmt.Fprintln(w, "    "+mutedStyle.Render(truncateLine(s.LastMessage, 72)))
		}
	}
}

func renderSettings(w io.Writer, conv model.Conversation) {
	limit := "unlimited"
	if conv.ContextLimit != nil {
		limit = fmt.Sprintf("%d", *conv.ContextLimit)
	}
	fmt.Fprintf(w, "name:         %s\n", conv.Name)
	fmt.Fprintf(w, "description:  %s\n", conv.Description)
	fmt.Fprintf(w, "context:      %s\n", limit)
	fmt.Fprintf(w, "temperature:  %.2f\n", conv.EffectiveTemperature())
}

func renderStats(w io.Writer, s prompt.Stats) {
	fmt.Fprintf(w, "context: %d of %d messages (%.0f%%)", s.ContextLength, s.TotalMessages, s.ContextRatio*100)
	if s.HasImages {
		fmt.Fprintf(w, ", %d with images", s.ImageMessages)
	}
	fmt.Fprintln(w)
}

func renderConfig(w io.Writer, cfg model.ChatConfig) {
	fmt.Fprintf(w, "api key:   %s\n", maskKey(cfg.APIKey))
	fmt.Fprintf(w, "base url:  %s\n", cfg.BaseURL)
	fmt.Fprintf(w, "model:     %s\n", cfg.Model)
}

func renderResolution(w io.Writer, res *llm.Resolution) {
	if res.Valid {
		fmt.Fprintln(w, okStyle.Render("found API at "+res.BaseURL))
	} else {
		fmt.Fprintln(w, errorStyle.Render("no API found at "+res.BaseURL))
	}
	if len(res.Detected) > 1 {
		fmt.Fprintln(w, mutedStyle.Render("also answering: "+strings.Join(res.Detected[1:], ", ")))
	}
	if res.ErrorDetails != "" {
		fmt.Fprintln(w, mutedStyle.Render(res.ErrorDetails))
	}
}

func maskKey(key string) string {
	switch {
	case key == "":
		return "(not set)"
	case len(key) <= 8:
		return strings.Repeat("*", len(key))
	default:
		return key[:3] + strings.Repeat("*", len(key)-7) + key[len(key)-4:]
	}
}

func truncateLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
