package chatclient

// Message states, in the order a streamed reply moves through them.
const (
	StateThinking  = "thinking"  // placeholder, no content yet
	StateStreaming = "streaming" // partial content arriving
	StateSettled   = "settled"   // final
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string
	Content string
	State   string
}

// Session is the client-side chat state machine: the ordered message list
// plus the streaming flag of the in-flight assistant reply.
type Session struct {
	ConversationID string
	Messages       []Message
	Err            error
}

// NewSession starts a session. A configured greeting becomes the first
// assistant message without any chat request.
func NewSession(greeting string) *Session {
	s := &Session{}
	if greeting != "" {
		s.Messages = append(s.Messages, Message{
			Role:    RoleAssistant,
			Content: greeting,
			State:   StateSettled,
		})
	}
	return s
}

// Submit appends the user message and an empty assistant placeholder in the
// thinking state. Call before opening the stream.
func (s *Session) Submit(userMessage string) {
	s.Err = nil
	s.Messages = append(s.Messages,
		Message{Role: RoleUser, Content: userMessage, State: StateSettled},
		Message{Role: RoleAssistant, State: StateThinking},
	)
}

// ApplyChunk feeds one received stream line into the state machine.
func (s *Session) ApplyChunk(content string, done bool) {
	last := s.last()
	if last == nil || last.Role != RoleAssistant || last.State == StateSettled {
		return
	}
	if content != "" {
		last.Content += content
		last.State = StateStreaming
	}
	if done {
		last.State = StateSettled
	}
}

// Fail aborts the in-flight reply: the placeholder assistant message is
// removed and the error is kept for display.
func (s *Session) Fail(err error) {
	s.Err = err
	if last := s.last(); last != nil && last.Role == RoleAssistant && last.State != StateSettled {
		s.Messages = s.Messages[:len(s.Messages)-1]
	}
}

// Streaming reports whether an assistant reply is still in flight.
func (s *Session) Streaming() bool {
	last := s.last()
	return last != nil && last.Role == RoleAssistant && last.State != StateSettled
}

func (s *Session) last() *Message {
	if len(s.Messages) == 0 {
		return nil
	}
	return &s.Messages[len(s.Messages)-1]
}
