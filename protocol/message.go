package protocol

import "strconv"

// Standard parameters of a failed response.
const (
	StatusCode        = "Status_Code"
	StatusDescription = "Status_Description"
)

type Param struct {
	Name  string
	Value string
}

// Message is a method plus uniquely named parameters kept in insertion
// order.
type Message struct {
	Method Method
	params []Param
}

func NewMessage(m Method, params ...Param) *Message {
	msg := &Message{Method: m}
	for _, p := range params {
		msg.Set(p.Name, p.Value)
	}
	return msg
}

// Set adds name or replaces its value in place.
func (m *Message) Set(name, value string) {
	for i := range m.params {
		if m.params[i].Name == name {
			m.params[i].Value = value
			return
		}
	}
	m.params = append(m.params, Param{Name: name, Value: value})
}

func (m *Message) Lookup(name string) (string, bool) {
	for _, p := range m.params {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

// Get returns the value of name, or "" when absent.
func (m *Message) Get(name string) string {
	v, _ := m.Lookup(name)
	return v
}

func (m *Message) Has(name string) bool {
	_, ok := m.Lookup(name)
	return ok
}

// Params returns a copy of the parameters in insertion order.
func (m *Message) Params() []Param {
	return append([]Param(nil), m.params...)
}

func (m *Message) Len() int { return len(m.params) }

// Map returns the parameters keyed by name.
func (m *Message) Map() map[string]string {
	out := make(map[string]string, len(m.params))
	for _, p := range m.params {
		out[p.Name] = p.Value
	}
	return out
}

// SetStatus marks the message as failed.
func (m *Message) SetStatus(code int, description string) {
	m.Set(StatusCode, strconv.Itoa(code))
	m.Set(StatusDescription, description)
}

// Status returns the failure code, or 0 when the message carries none.
func (m *Message) Status() (code int, description string, failed bool) {
	v, ok := m.Lookup(StatusCode)
	if !ok {
		return 0, "", false
	}
	code, _ = strconv.Atoi(v)
	return code, m.Get(StatusDescription), true
}

// String renders the message in wire form without the terminator.
func (m *Message) String() string {
	b := AppendMessage(nil, m)
	return string(b[:len(b)-1])
}
