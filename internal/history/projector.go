// ABOUTME: Projects a raw thread log into the user-visible conversation history
// ABOUTME: Hides bootstrap exchanges and the opening user message of legacy records

package history

import (
	"github.com/samber/lo"

	"github.com/shayanahmad7/interactive-networks-textbook/internal/store"
)

// Project returns the visible messages of log in their original order.
//
// Entries flagged IsBootstrap are removed. Records written before the flag
// existed carry no flagged entries at all; for those the first remaining
// message is dropped when it was sent by the user, since it is the opening
// prompt that started the conversation. The input slice is not modified.
func Project(log []store.Message) []store.Message {
	legacy := !lo.SomeBy(log, func(m store.Message) bool { return m.IsBootstrap })

	visible := lo.Reject(log, func(m store.Message, _ int) bool { return m.IsBootstrap })
	if legacy && len(visible) > 0 && visible[0].Role == store.RoleUser {
		visible = visible[1:]
	}
	if visible == nil {
		return []store.Message{}
	}
	return visible
}
