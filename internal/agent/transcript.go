package agent

import "bdagent/internal/domain"

// Transcript is the ordered user/assistant history of one session. Turns are
// only ever appended.
type Transcript struct {
	messages []domain.Message
}

func (t *Transcript) Append(msgs ...domain.Message) {
	t.messages = append(t.messages, msgs...)
}

// Messages returns a copy of the history.
func (t *Transcript) Messages() []domain.Message {
	out := make([]domain.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

func (t *Transcript) Len() int { return len(t.messages) }
