package history

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTitle(t *testing.T) {
	twenty := strings.Repeat("a", 20)

	tests := []struct {
		name     string
		messages []Message
		want     string
	}{
		{"no messages", nil, PlaceholderTitle},
		{"only assistant", []Message{{Role: RoleAssistant, Content: "hi"}}, PlaceholderTitle},
		{"short", []Message{{Role: RoleUser, Content: "hello"}}, "hello"},
		{"exactly twenty", []Message{{Role: RoleUser, Content: twenty}}, twenty},
		{"twenty one", []Message{{Role: RoleUser, Content: twenty + "b"}}, twenty + "..."},
		{"counts characters not bytes", []Message{{Role: RoleUser, Content: strings.Repeat("你", 21)}}, strings.Repeat("你", 20) + "..."},
		{"first user message wins", []Message{
			{Role: RoleAssistant, Content: "greeting"},
			{Role: RoleUser, Content: "first"},
			{Role: RoleUser, Content: "second"},
		}, "first"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Conversation{Messages: tt.messages}
			assert.Equal(t, tt.want, c.Title())
		})
	}
}

func TestSummaries(t *testing.T) {
	now := time.Now()
	convs := []Conversation{
		{ID: "1", UpdatedAt: now, Messages: []Message{{Role: RoleUser, Content: "q"}, {Role: RoleAssistant, Content: "a"}}},
		{ID: "2", UpdatedAt: now.Add(-time.Hour)},
	}
	got := Summaries(convs)
	assert.Equal(t, []Summary{
		{ID: "1", Title: "q", UpdatedAt: now, MessageCount: 2},
		{ID: "2", Title: PlaceholderTitle, UpdatedAt: now.Add(-time.Hour), MessageCount: 0},
	}, got)
}
