package model

// EventKind tells status side-channel events apart from answer text.
type EventKind string

const (
	EventStatus   EventKind = "status"
	EventContent  EventKind = "content"
	EventError    EventKind = "error"
	EventDecision EventKind = "decision"
	EventDone     EventKind = "done"
)

// DoneMarker terminates every event stream.
const DoneMarker = "[DONE]"

// Event is one item of a streamed answer.
type Event struct {
	Kind     EventKind `json:"-"`
	Status   string    `json:"status,omitempty"`
	Section  string    `json:"section,omitempty"`
	Content  string    `json:"content,omitempty"`
	Error    string    `json:"error,omitempty"`
	Decision *Decision `json:"decision,omitempty"`
}

// Decision is the optional one-line verdict shown above a grounded answer.
type Decision struct {
	Signal      string `json:"signal"`
	Vibe        string `json:"vibe"`
	Instruction string `json:"instruction"`
}

func StatusEvent(status string) Event {
	return Event{Kind: EventStatus, Status: status}
}

func TopicEvent(topic, section string) Event {
	return Event{Kind: EventStatus, Status: "Topic: " + topic, Section: section}
}

func ContentEvent(text string) Event {
	return Event{Kind: EventContent, Content: text}
}

func ErrorEvent(msg string) Event {
	return Event{Kind: EventError, Error: msg}
}

func DecisionEvent(d Decision) Event {
	return Event{Kind: EventDecision, Decision: &d}
}

func DoneEvent() Event {
	return Event{Kind: EventDone}
}
