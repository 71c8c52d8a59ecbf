package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"servectl/pkg/types"
)

var errPickerCancelled = errors.New("no profile selected")

var (
	cursorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	selectedStyle = lipgloss.NewStyle().Bold(true)
)

// pickerModel is a single-choice list of profiles.
type pickerModel struct {
	profiles []types.Profile
	cursor   int
	chosen   string
	quit     bool
}

func (m pickerModel) Init() tea.Cmd { return nil }

func (m pickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	km, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch km.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.profiles)-1 {
			m.cursor++
		}
	case "enter":
		if len(m.profiles) > 0 {
			m.chosen = m.profiles[m.cursor].Key
		}
		return m, tea.Quit
	case "q", "esc", "ctrl+c":
		m.quit = true
		return m, tea.Quit
	default:
		// digits jump straight to a row
		if s := km.String(); len(s) == 1 && s[0] >= '1' && s[0] <= '9' {
			if i := int(s[0] - '1'); i < len(m.profiles) {
				m.cursor = i
			}
		}
	}
	return m, nil
}

func (m pickerModel) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Select a model profile") + "\n\n")
	for i, p := range m.profiles {
		prefix := "  "
		name := fmt.Sprintf("%d) %-10s %s", i+1, p.Key, dimStyle.Render(p.ModelID))
		if i == m.cursor {
			prefix = cursorStyle.Render("> ")
			name = selectedStyle.Render(fmt.Sprintf("%d) %-10s", i+1, p.Key)) + " " + dimStyle.Render(p.ModelID)
		}
		b.WriteString(prefix + name + "\n")
	}
	b.WriteString("\n" + dimStyle.Render("↑/↓ move • enter select • q quit") + "\n")
	return b.String()
}

// pickProfile runs the interactive picker on in/out.
func pickProfile(profiles []types.Profile, in io.Reader, out io.Writer) (string, error) {
	p := tea.NewProgram(pickerModel{profiles: profiles}, tea.WithInput(in), tea.WithOutput(out))
	final, err := p.Run()
	if err != nil {
		return "", fmt.Errorf("profile picker: %w", err)
	}
	m := final.(pickerModel)
	if m.quit || m.chosen == "" {
		return "", errPickerCancelled
	}
	return m.chosen, nil
}
