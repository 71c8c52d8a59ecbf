package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"servectl/internal/smoke"
	"servectl/pkg/types"
)

var (
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	dimStyle    = lipgloss.NewStyle().Faint(true)
	cellStyle   = lipgloss.NewStyle().PaddingRight(2)
)

func printOK(w io.Writer, format string, a ...any) {
	fmt.Fprintln(w, okStyle.Render("✓")+" "+fmt.Sprintf(format, a...))
}

func printWarn(w io.Writer, format string, a ...any) {
	fmt.Fprintln(w, warnStyle.Render("!")+" "+fmt.Sprintf(format, a...))
}

func printErr(w io.Writer, format string, a ...any) {
	fmt.Fprintln(w, errStyle.Render("✗")+" "+fmt.Sprintf(format, a...))
}

// printInvocation writes the command line so it can be pasted into a shell.
func printInvocation(w io.Writer, inv []string) {
	quoted := make([]string, len(inv))
	for i, a := range inv {
		if a == "" || strings.ContainsAny(a, " \t\"'$\\") {
			quoted[i] = strconv.Quote(a)
		} else {
			quoted[i] = a
		}
	}
	fmt.Fprintln(w, strings.Join(quoted, " "))
}

func renderProfiles(profiles []types.Profile) string {
	headers := []string{"KEY", "MODEL", "CONTEXT", "REQS", "MEM", "TOOL PARSER"}
	rows := make([][]string, 0, len(profiles))
	for _, p := range profiles {
		parser := p.ToolParser
		if parser == "" {
			parser = "-"
		}
		rows = append(rows, []string{
			p.Key, p.ModelID, strconv.Itoa(p.ContextLength), strconv.Itoa(p.MaxConcurrentRequests),
			strconv.FormatFloat(p.MemoryFraction, 'f', 2, 64), parser,
		})
	}
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, r := range rows {
		for i, c := range r {
			if w := lipgloss.Width(c); w > widths[i] {
				widths[i] = w
			}
		}
	}
	var b strings.Builder
	line := func(cells []string, st lipgloss.Style) {
		out := make([]string, len(cells))
		for i, c := range cells {
			out[i] = cellStyle.Width(widths[i] + 2).Render(st.Render(c))
		}
		b.WriteString(strings.TrimRight(lipgloss.JoinHorizontal(lipgloss.Top, out...), " "))
		b.WriteByte('\n')
	}
	line(headers, headerStyle)
	for _, r := range rows {
		line(r, lipgloss.NewStyle())
	}
	return b.String()
}

func printSmokeReport(w io.Writer, rep smoke.Report) {
	if !rep.Reachable {
		printErr(w, "server not reachable at %s", rep.BaseURL)
		return
	}
	for _, s := range rep.Steps {
		if s.OK {
			printOK(w, "%-11s %s %s", s.Name, s.Detail, dimStyle.Render(s.Duration.Round(1e6).String()))
		} else {
			printErr(w, "%-11s %s", s.Name, s.Err)
		}
	}
}
