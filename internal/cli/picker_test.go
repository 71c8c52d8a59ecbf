package cli

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"servectl/internal/registry"
)

func press(m tea.Model, keys ...tea.KeyMsg) tea.Model {
	for _, k := range keys {
		m, _ = m.Update(k)
	}
	return m
}

func TestPickerNavigation(t *testing.T) {
	profiles := registry.Builtin().List()
	var m tea.Model = pickerModel{profiles: profiles}
	m = press(m,
		tea.KeyMsg{Type: tea.KeyDown},
		tea.KeyMsg{Type: tea.KeyDown},
		tea.KeyMsg{Type: tea.KeyUp},
		tea.KeyMsg{Type: tea.KeyEnter},
	)
	pm := m.(pickerModel)
	if pm.chosen != profiles[1].Key {
		t.Fatalf("chosen=%q want %q", pm.chosen, profiles[1].Key)
	}
}

func TestPickerBounds(t *testing.T) {
	profiles := registry.Builtin().List()
	var m tea.Model = pickerModel{profiles: profiles}
	m = press(m, tea.KeyMsg{Type: tea.KeyUp})
	if c := m.(pickerModel).cursor; c != 0 {
		t.Fatalf("cursor moved above top: %d", c)
	}
	for range profiles {
		m = press(m, tea.KeyMsg{Type: tea.KeyDown})
	}
	if c := m.(pickerModel).cursor; c != len(profiles)-1 {
		t.Fatalf("cursor moved past bottom: %d", c)
	}
}

func TestPickerDigitAndQuit(t *testing.T) {
	profiles := registry.Builtin().List()
	var m tea.Model = pickerModel{profiles: profiles}
	m = press(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("3")})
	if c := m.(pickerModel).cursor; c != 2 {
		t.Fatalf("digit jump cursor=%d", c)
	}
	m = press(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	pm := m.(pickerModel)
	if !pm.quit || pm.chosen != "" {
		t.Fatalf("quit not recorded: %+v", pm)
	}
	if v := pm.View(); v == "" {
		t.Fatalf("empty view")
	}
}
