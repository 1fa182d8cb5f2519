package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	session "github.com/koscakluka/ema-session/core"
	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/wordwrap"
)

const minWrapWidth = 20

type theme struct {
	header       lipgloss.Style
	user         lipgloss.Style
	agent        lipgloss.Style
	handoff      lipgloss.Style
	confirmation lipgloss.Style
	muted        lipgloss.Style
	status       lipgloss.Style
	errorStatus  lipgloss.Style
	connected    lipgloss.Style
	disconnected lipgloss.Style
	panel        lipgloss.Style
	input        lipgloss.Style
}

func newTheme() theme {
	blue := lipgloss.Color("#01cdfe")
	mint := lipgloss.Color("#05ffa1")
	pink := lipgloss.Color("#ff71ce")
	amber := lipgloss.Color("#ffb86c")
	muted := lipgloss.Color("#9ca3d8")

	return theme{
		header:       lipgloss.NewStyle().Bold(true).Foreground(blue),
		user:         lipgloss.NewStyle().Bold(true).Foreground(blue),
		agent:        lipgloss.NewStyle().Bold(true).Foreground(mint),
		handoff:      lipgloss.NewStyle().Bold(true).Foreground(amber),
		confirmation: lipgloss.NewStyle().Foreground(mint),
		muted:        lipgloss.NewStyle().Foreground(muted),
		status:       lipgloss.NewStyle().Foreground(blue).Bold(true),
		errorStatus:  lipgloss.NewStyle().Foreground(pink).Bold(true),
		connected:    lipgloss.NewStyle().Foreground(mint),
		disconnected: lipgloss.NewStyle().Foreground(pink),
		panel: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(muted).
			Padding(0, 1),
		input: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(blue).
			Padding(0, 1),
	}
}

func senderLabel(message session.Message) string {
	if message.Sender == session.SenderUser {
		return "you"
	}
	return "agent"
}

// renderMessage renders one transcript entry wrapped to width.
func renderMessage(t theme, message session.Message, width int) string {
	width = max(minWrapWidth, width)

	style := t.agent
	if message.Sender == session.SenderUser {
		style = t.user
	}

	var b strings.Builder
	b.WriteString(style.Render(fmt.Sprintf("%s [%s]", message.Timestamp.Format("15:04:05"), senderLabel(message))))
	b.WriteString("\n")
	b.WriteString(indent.String(wordwrap.String(message.Text, width-2), 2))

	if message.Handoff != nil {
		b.WriteString("\n")
		b.WriteString(t.handoff.Render(indent.String(fmt.Sprintf(
			"handoff suggested: %s (category %s, urgency %s, confidence %.0f%%)",
			message.Handoff.Reason, message.Handoff.Category, message.Handoff.Urgency,
			message.Handoff.Confidence*100,
		), 2)))
		b.WriteString("\n")
		b.WriteString(t.muted.Render(indent.String("press ctrl+t or type /handoff to talk to a human", 2)))
	}
	if message.Audio != nil {
		b.WriteString("\n")
		b.WriteString(t.muted.Render(indent.String(audioLabel(message.Audio), 2)))
	}
	return b.String()
}

func audioLabel(asset *session.AudioAsset) string {
	if asset.Released() {
		return "♪ audio (released)"
	}
	return fmt.Sprintf("♪ audio %s, %d bytes", asset.MimeType, asset.Len())
}

func renderTranscript(t theme, messages []session.Message, width int) string {
	if len(messages) == 0 {
		return t.muted.Render("No messages yet. Type a message to start the conversation.")
	}

	rendered := make([]string, 0, len(messages))
	for _, message := range messages {
		rendered = append(rendered, renderMessage(t, message, width))
	}
	return strings.Join(rendered, "\n\n")
}

func connectionLabel(t theme, state session.ConnectionState) string {
	switch state.Status {
	case session.ConnectionConnected:
		return t.connected.Render("● connected")
	case session.ConnectionConnecting:
		return t.muted.Render("● connecting")
	case session.ConnectionErrored:
		return t.disconnected.Render("● error")
	default:
		return t.disconnected.Render("● disconnected")
	}
}

func processingLabel(t theme, state session.ProcessingState) string {
	if state.Status == "" {
		return ""
	}
	return t.status.Render(state.Status)
}
