// ABOUTME: Tests for the visible-transcript projection
// ABOUTME: Covers bootstrap filtering and the legacy leading-user-message rule

package history

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shayanahmad7/interactive-networks-textbook/internal/store"
)

func msg(role store.Role, content string, bootstrap bool) store.Message {
	return store.Message{Role: role, Content: content, IsBootstrap: bootstrap}
}

func contents(msgs []store.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, string(m.Role)+":"+m.Content)
	}
	return out
}

func TestProject(t *testing.T) {
	tests := []struct {
		name string
		log  []store.Message
		want []string
	}{
		{
			name: "empty",
			log:  nil,
			want: []string{},
		},
		{
			name: "bootstrap pair only",
			log: []store.Message{
				msg(store.RoleUser, "Hi", true),
				msg(store.RoleAssistant, "Hello! Ready to learn?", true),
			},
			want: []string{},
		},
		{
			name: "bootstrap then conversation",
			log: []store.Message{
				msg(store.RoleUser, "Hi", true),
				msg(store.RoleAssistant, "Hello!", true),
				msg(store.RoleUser, "What is a socket?", false),
				msg(store.RoleAssistant, "An endpoint.", false),
			},
			want: []string{"user:What is a socket?", "assistant:An endpoint."},
		},
		{
			name: "legacy opening user message dropped",
			log: []store.Message{
				msg(store.RoleUser, "Hi", false),
				msg(store.RoleAssistant, "Hello!", false),
			},
			want: []string{"assistant:Hello!"},
		},
		{
			name: "legacy log starting with assistant kept",
			log: []store.Message{
				msg(store.RoleAssistant, "Welcome", false),
				msg(store.RoleUser, "Thanks", false),
			},
			want: []string{"assistant:Welcome", "user:Thanks"},
		},
		{
			name: "flagged log does not apply legacy rule",
			log: []store.Message{
				msg(store.RoleUser, "Hi", true),
				msg(store.RoleUser, "First real question", false),
			},
			want: []string{"user:First real question"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Project(tt.log)
			assert.NotNil(t, got)
			assert.Equal(t, tt.want, contents(got))
			for _, m := range got {
				assert.False(t, m.IsBootstrap)
			}
		})
	}
}

func TestProject_DoesNotMutateInput(t *testing.T) {
	log := []store.Message{
		msg(store.RoleUser, "Hi", true),
		msg(store.RoleAssistant, "Hello!", true),
		msg(store.RoleUser, "Q", false),
	}
	_ = Project(log)
	assert.Len(t, log, 3)
	assert.Equal(t, "Hi", log[0].Content)
}
