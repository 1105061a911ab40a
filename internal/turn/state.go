package turn

import (
	"fmt"
	"time"

	"github.com/eduplay/voiceroom/pkg/capture"
	"github.com/eduplay/voiceroom/pkg/frame"
	"github.com/eduplay/voiceroom/pkg/media"
)

// FallbackText is published instead of a reply when generation fails.
const FallbackText = "I'm not sure what to say, can you try again?"

// State is the turn-taking state of a session.
type State int

const (
	// Idle is the state before Start and after End.
	Idle State = iota
	// Listening accepts the next utterance.
	Listening
	// Thinking waits for the reply text.
	Thinking
	// Speaking waits for playback to finish.
	Speaking
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Thinking:
		return "thinking"
	case Speaking:
		return "speaking"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Source tells how the user produced a turn.
type Source int

const (
	// SourceSpeech is a recognized utterance.
	SourceSpeech Source = iota
	// SourceText is a typed message.
	SourceText
)

func (s Source) String() string {
	if s == SourceText {
		return "text"
	}
	return "speech"
}

// Turn is one listen, think, speak cycle. At most one is in flight.
type Turn struct {
	ID           uint64
	Epoch        uint64
	Utterance    capture.Utterance
	Frame        *frame.Frame
	ResponseText string
	Source       Source

	started time.Time
}

// Sender identifies the speaker of a transcript line.
type Sender string

const (
	SenderUser  Sender = "user"
	SenderAgent Sender = "agent"
)

// Transcript is one line of the conversation.
type Transcript struct {
	Sender Sender
	Text   string
	// Fallback marks the local apology sent when generation failed.
	Fallback bool
	At       time.Time
}

// Update is published to subscribers on every state change, transcript
// line, availability change and surfaced error. Transcript and Err are nil
// unless the update carries one.
type Update struct {
	State        State
	Availability media.Availability
	Transcript   *Transcript
	Err          error
}
