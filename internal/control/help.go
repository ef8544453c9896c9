package control

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	helpTitle   = lipgloss.NewStyle().Bold(true)
	helpSection = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	helpUsage   = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	helpDim     = lipgloss.NewStyle().Faint(true)
)

func (d *Dispatcher) help(string) (Result, error) {
	var b strings.Builder

	b.WriteString(helpTitle.Render("mash - control multiple SSH sessions from one prompt"))
	b.WriteString("\n\n")

	b.WriteString(helpSection.Render("Input modes:"))
	b.WriteString("\n")
	fmt.Fprintf(&b, "  %s        Send to all enabled remote shells\n", helpUsage.Render("<command>"))
	fmt.Fprintf(&b, "  %s Run a mash control command (see below)\n", helpUsage.Render(":command [args]"))
	fmt.Fprintf(&b, "  %s         Run a local shell command\n", helpUsage.Render("!command"))
	fmt.Fprintf(&b, "  %s           Send EOF to all remote shells\n\n", helpUsage.Render("Ctrl-D"))

	b.WriteString(helpSection.Render("Prompt indicators:"))
	b.WriteString("\n")
	fmt.Fprintf(&b, "  %s idle  %s running  %s pending  %s dead  %s disabled\n\n",
		lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Render("●"),
		lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Render("◉"),
		lipgloss.NewStyle().Foreground(lipgloss.Color("4")).Render("◌"),
		lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Render("✕"),
		lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render("○"))

	b.WriteString(helpSection.Render("Control commands:"))
	b.WriteString("\n")

	width := 0
	for _, v := range verbs {
		if n := len(v.name) + 1 + len(v.args); n > width {
			width = n
		}
	}
	for _, v := range verbs {
		visible := ":" + v.name
		usage := helpUsage.Render(visible)
		if v.args != "" {
			visible += " " + v.args
			usage += " " + helpDim.Render(v.args)
		}
		pad := width + 2 - len(visible)
		if pad < 1 {
			pad = 1
		}
		fmt.Fprintf(&b, "  %s%s %s\n", usage, strings.Repeat(" ", pad), helpDim.Render(v.desc))
	}

	fmt.Fprintf(&b, "\n%s can use %s and %s wildcards to match session names or last output.\n",
		helpUsage.Render("PATTERN"), helpTitle.Render("*"), helpTitle.Render("?"))
	fmt.Fprintf(&b, "Omitting %s selects all enabled sessions.\n", helpUsage.Render("PATTERN"))

	d.Console.Output([]byte(b.String()))
	return Result{}, nil
}
