package tokenmgr

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/relaygw/internal/auth"
)

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
	}
}

func TestPickerListsAdminScopes(t *testing.T) {
	m := New()
	var scopes []string
	for _, li := range m.list.Items() {
		scopes = append(scopes, li.(item).scope)
	}
	assert.Equal(t, []string{
		auth.ScopeAll, auth.ScopeEventsRO, auth.ScopeWorkersRO, auth.ScopeWorkersRW, auth.ScopeHistoryRO,
	}, scopes)
}

func TestToggleAndConfirm(t *testing.T) {
	var cur tea.Model = *New()

	cur, _ = cur.Update(tea.WindowSizeMsg{Width: 80, Height: 40})
	cur, _ = cur.Update(key(" "))
	cur, _ = cur.Update(tea.KeyMsg{Type: tea.KeyDown})
	cur, _ = cur.Update(key(" "))
	cur, cmd := cur.Update(key("enter"))
	require.NotNil(t, cmd)

	m := cur.(model)
	assert.Equal(t, []string{auth.ScopeAll, auth.ScopeEventsRO}, m.GetSelectedScopes())
	assert.Contains(t, m.View(), "Selected scopes")
}

func TestCancelReturnsNoScopes(t *testing.T) {
	var cur tea.Model = *New()

	cur, _ = cur.Update(key(" "))
	cur, _ = cur.Update(key("q"))

	m := cur.(model)
	assert.Nil(t, m.GetSelectedScopes())
	assert.Contains(t, m.View(), "Cancelled.")
}
