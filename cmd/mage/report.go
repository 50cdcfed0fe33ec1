package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/randr97/mage-ai/internal/pipeline"
	"github.com/randr97/mage-ai/internal/status"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	blockStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	skippedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

func renderBlockTag(blockID string, styled bool) string {
	tag := "[" + blockID + "]"
	if !styled {
		return tag
	}
	return blockStyle.Render(tag)
}

func renderError(message string, styled bool) string {
	if !styled {
		return message
	}
	return failureStyle.Render(message)
}

func statusGlyph(s status.Status, styled bool) string {
	glyph := "•"
	style := pendingStyle
	switch s {
	case status.Succeeded:
		glyph, style = "✓", successStyle
	case status.Failed:
		glyph, style = "✗", failureStyle
	case status.Cancelled:
		glyph, style = "⊘", skippedStyle
	}
	if !styled {
		return glyph
	}
	return style.Render(glyph)
}

// renderRunReport prints one line per block in authoring order plus a
// closing summary line.
func renderRunReport(runID string, p *pipeline.Pipeline, final status.Status, styled bool) string {
	var b strings.Builder

	header := fmt.Sprintf("Run %s (%s)", runID, p.UUID)
	if styled {
		header = titleStyle.Render(header)
	}
	b.WriteString("\n" + header + "\n")

	for _, block := range p.Blocks {
		fmt.Fprintf(&b, "  %s %-24s %s\n", statusGlyph(block.Status, styled), block.UUID, block.Status)
	}

	closing := "Run finished: " + string(final)
	if styled {
		switch final {
		case status.Succeeded:
			closing = successStyle.Render(closing)
		case status.Failed:
			closing = failureStyle.Render(closing)
		default:
			closing = skippedStyle.Render(closing)
		}
	}
	b.WriteString(closing + "\n")
	return b.String()
}
