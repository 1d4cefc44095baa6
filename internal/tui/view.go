package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"verifyflow/internal/capture"
	"verifyflow/internal/confirmation"
	"verifyflow/internal/conversation"
	"verifyflow/internal/orchestrator"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FAFAFA")).Background(lipgloss.Color("#5A56E0")).Padding(0, 1)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	botStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D7AFF")).Bold(true)
	userStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#43BF6D")).Bold(true)
	linkStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Underline(true)
	panelStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#5A56E0")).Padding(0, 1)
	headingStyle = lipgloss.NewStyle().Bold(true)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#43BF6D"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F2B705"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#E0475B"))
	offlineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FAFAFA")).Background(lipgloss.Color("#E0475B")).Padding(0, 1)
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D7AFF"))
)

// View implements tea.Model.
func (m *Model) View() string {
	var b strings.Builder
	b.WriteString(m.header())
	b.WriteString("\n")
	b.WriteString(m.chat.View())
	b.WriteString("\n")
	if panel := m.panel(); panel != "" {
		b.WriteString(panelStyle.Width(max(m.width-2, 20)).Render(panel))
		b.WriteString("\n")
	}
	if m.input.Focused() {
		b.WriteString(m.input.View())
		b.WriteString("\n")
	}
	b.WriteString(m.help.ShortHelpView(m.bindings()))
	return b.String()
}

func (m *Model) header() string {
	u := m.update
	parts := []string{titleStyle.Render("Account onboarding")}
	if !u.SessionID.IsNil() {
		parts = append(parts, mutedStyle.Render("session "+shortID(u.SessionID.String())))
	}
	parts = append(parts, mutedStyle.Render(u.State.String()))
	if u.Offline {
		parts = append(parts, offlineStyle.Render("backend unreachable"))
	}
	return strings.Join(parts, "  ")
}

func renderMessages(messages []conversation.Message, width int) string {
	wrap := lipgloss.NewStyle().Width(max(width-2, 20))
	var b strings.Builder
	for i, msg := range messages {
		if i > 0 {
			b.WriteString("\n")
		}
		who := botStyle.Render("Assistant")
		if msg.Role == conversation.RoleUser {
			who = userStyle.Render("You")
		}
		fmt.Fprintf(&b, "%s %s\n", who, mutedStyle.Render(msg.Timestamp.Format("15:04")))
		b.WriteString(wrap.Render(msg.Content))
		b.WriteString("\n")
		if msg.ActionURL != "" {
			b.WriteString(linkStyle.Render(msg.ActionURL))
			b.WriteString("\n")
		}
	}
	return b.String()
}

// panel renders the active overlay. Only one overlay is ever rendered.
func (m *Model) panel() string {
	u := m.update
	var lines []string
	switch u.Overlay {
	case orchestrator.OverlayStartPrompt:
		lines = append(lines,
			headingStyle.Render("Identity verification"),
			"We'll capture your identity document, a short face video and a fingerprint.",
		)
	case orchestrator.OverlayDocuments:
		lines = append(lines,
			headingStyle.Render("Identity document"),
			slotLine("Front", slotOf(u.Slots, capture.KindDocumentFront)),
			slotLine("Back", slotOf(u.Slots, capture.KindDocumentBack)),
		)
		if m.attaching {
			lines = append(lines, warnStyle.Render(fmt.Sprintf("Attaching the %s side", sideName(m.attachSide))))
		}
	case orchestrator.OverlayFace:
		lines = append(lines,
			headingStyle.Render("Face verification"),
			"Look at the camera. Blink, then turn your head slowly when asked.",
			slotLine("Selfie", slotOf(u.Slots, capture.KindSelfie)),
			slotLine("Video", slotOf(u.Slots, capture.KindLivenessVideo)),
		)
	case orchestrator.OverlayFingerprint:
		lines = append(lines,
			headingStyle.Render("Fingerprint"),
			"Place your finger flat in front of the camera.",
			slotLine("Fingerprint", slotOf(u.Slots, capture.KindFingerprint)),
		)
	case orchestrator.OverlayConfirmation:
		lines = append(lines, headingStyle.Render("Review your details"))
		if u.Snapshot == nil {
			lines = append(lines, m.spinner.View()+" Loading your details…")
		} else {
			for _, f := range confirmation.Render(u.Snapshot) {
				value := f.Value
				if !f.Available {
					value = mutedStyle.Render(value)
				}
				lines = append(lines, fmt.Sprintf("%-26s %s", f.Label+":", value))
			}
		}
	default:
		if u.State == orchestrator.StateComplete {
			lines = append(lines, okStyle.Render("✓ Verification submitted. You can close this window."))
		}
	}

	if u.Capturing || u.Pending || len(m.busy) > 0 {
		status := u.Status
		if status == "" {
			status = "Working…"
		}
		lines = append(lines, m.spinner.View()+" "+status)
	}
	if u.Notice != "" {
		lines = append(lines, warnStyle.Render(u.Notice))
	}
	if m.lastErr != "" && m.lastErr != u.Notice {
		lines = append(lines, errStyle.Render(m.lastErr))
	}
	return strings.Join(lines, "\n")
}

func slotOf(slots []capture.Slot, kind capture.Kind) capture.Slot {
	for _, s := range slots {
		if s.Kind == kind {
			return s
		}
	}
	return capture.Slot{Kind: kind}
}

func slotLine(label string, s capture.Slot) string {
	var mark string
	switch {
	case s.State == capture.SlotSubmitted && s.Delivered:
		mark = okStyle.Render("✓ sent")
	case s.State == capture.SlotSubmitted:
		mark = errStyle.Render("✗ not delivered")
	case s.State == capture.SlotCaptured:
		mark = okStyle.Render("● captured")
		if s.Artifact != nil && s.Artifact.Source == capture.SourceUpload {
			mark = okStyle.Render("● attached")
		}
	default:
		mark = mutedStyle.Render("○ missing")
	}
	return fmt.Sprintf("%-12s %s", label, mark)
}

func (m *Model) bindings() contextual {
	k := m.keys
	if m.attaching {
		return contextual{k.Send, k.SwitchSide, k.CloseSurf}
	}
	switch m.update.Overlay {
	case orchestrator.OverlayStartPrompt:
		return contextual{k.Start, k.ResetFlow, k.Quit}
	case orchestrator.OverlayDocuments:
		return contextual{k.Front, k.Back, k.Attach, k.Submit, k.CloseSurf, k.ResetFlow}
	case orchestrator.OverlayFace, orchestrator.OverlayFingerprint:
		return contextual{k.Capture, k.Submit, k.CloseSurf, k.ResetFlow}
	case orchestrator.OverlayConfirmation:
		return contextual{k.Confirm, k.Edit, k.Retry, k.ResetFlow}
	default:
		return contextual{k.Send, k.ScrollUp, k.ResetFlow, k.Quit}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
