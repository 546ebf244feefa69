package socket

import "strings"

// EventType is a readiness event kind. Values are bits so a set of them
// doubles as an interest mask.
type EventType uint8

const (
	// socket has data to read.
	EventType_Readable = EventType(1 << 0)
	// socket accepts writes.
	EventType_Writable = EventType(1 << 1)
	// socket reported an error.
	EventType_Error = EventType(1 << 2)
	// peer hung up, or the loop is stopping.
	EventType_Shutdown = EventType(1 << 3)
	// a poll round elapsed with no ready socket.
	EventType_Idle = EventType(1 << 4)

	EventType_All = EventType_Readable | EventType_Writable | EventType_Error | EventType_Shutdown | EventType_Idle
)

var eventTypeStrings = [...]struct {
	t EventType
	s string
}{
	{EventType_Readable, "Readable"},
	{EventType_Writable, "Writable"},
	{EventType_Error, "Error"},
	{EventType_Shutdown, "Shutdown"},
	{EventType_Idle, "Idle"},
}

func (e EventType) String() string {
	var names []string
	for _, v := range eventTypeStrings {
		if e&v.t != 0 {
			names = append(names, v.s)
		}
	}
	if len(names) == 0 {
		return "None"
	}
	return strings.Join(names, "|")
}

// Event is delivered to the Handler owning the entry.
type Event struct {
	Type EventType
	// Err is set for Error and Shutdown events.
	Err error
}

// Handler receives the events of one registered entry. Calls for the same
// entry never overlap.
type Handler interface {
	HandleEvent(id ID, evt Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ID, Event)

func (f HandlerFunc) HandleEvent(id ID, evt Event) { f(id, evt) }
