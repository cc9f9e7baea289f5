package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// StateEntry is one credential item issued by the platform, usually a cookie.
// Only Key and Value are interpreted. Every other member the platform sent
// (domain, expires, creation, ...) is kept verbatim, in its original order,
// and written back unchanged.
type StateEntry struct {
	Key   string
	Value string

	// members is nil for entries that carry nothing but a string key and a
	// string value.
	members []stateMember
}

type stateMember struct {
	name string
	raw  json.RawMessage
}

// SessionState is the opaque credential blob proving an authenticated session.
// It is only ever replaced wholesale.
type SessionState []StateEntry

func (s SessionState) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("session state is empty")
	}
	for i, entry := range s {
		if strings.TrimSpace(entry.Key) == "" {
			return fmt.Errorf("session state entry %d has empty key", i)
		}
	}
	return nil
}

// Clone returns a copy that shares no backing array with s. Preserved members
// are never mutated in place, so they are shared.
func (s SessionState) Clone() SessionState {
	if s == nil {
		return nil
	}
	out := make(SessionState, len(s))
	copy(out, s)
	return out
}

// Marshal renders the state as a two-space indented JSON array.
func (s SessionState) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return nil, fmt.Errorf("encode session state: %w", err)
	}
	return buf.Bytes(), nil
}

func UnmarshalSessionState(data []byte) (SessionState, error) {
	var state SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode session state: %w", err)
	}
	if err := state.Validate(); err != nil {
		return nil, err
	}
	return state, nil
}

func (e *StateEntry) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("session state entry must be an object")
	}

	var members []stateMember
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := tok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("session state member %q: %w", name, err)
		}
		members = append(members, stateMember{name: name, raw: raw})
	}

	entry := StateEntry{members: members}
	for _, m := range members {
		switch m.name {
		case "key":
			entry.Key = memberText(m.raw)
		case "value":
			entry.Value = memberText(m.raw)
		}
	}
	if entry.isPlain() {
		entry.members = nil
	}

	*e = entry
	return nil
}

func (e StateEntry) MarshalJSON() ([]byte, error) {
	members := e.members
	if members == nil {
		members = []stateMember{{name: "key"}, {name: "value"}}
	}

	var buf bytes.Buffer
	seen := map[string]bool{}
	write := func(name string, raw []byte) {
		if buf.Len() > 0 {
			buf.WriteByte(',')
		}
		buf.Write(encodeText(name))
		buf.WriteByte(':')
		buf.Write(raw)
	}

	for _, m := range members {
		switch m.name {
		case "key":
			write(m.name, memberRaw(m.raw, e.Key))
		case "value":
			write(m.name, memberRaw(m.raw, e.Value))
		default:
			write(m.name, m.raw)
		}
		seen[m.name] = true
	}
	if !seen["key"] {
		write("key", encodeText(e.Key))
	}
	if !seen["value"] {
		write("value", encodeText(e.Value))
	}

	return append(append([]byte{'{'}, buf.Bytes()...), '}'), nil
}

// isPlain reports whether the entry is exactly {"key": string, "value": string}
// in canonical encoding, so nothing is lost by dropping its members.
func (e StateEntry) isPlain() bool {
	if len(e.members) != 2 || e.members[0].name != "key" || e.members[1].name != "value" {
		return false
	}
	return bytes.Equal(e.members[0].raw, encodeText(e.Key)) && bytes.Equal(e.members[1].raw, encodeText(e.Value))
}

// memberText is the text of a JSON string, or the literal JSON otherwise.
func memberText(raw json.RawMessage) string {
	var s string
	if len(raw) > 0 && raw[0] == '"' && json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}

// memberRaw keeps the original encoding while text still matches it.
func memberRaw(raw json.RawMessage, text string) []byte {
	if raw != nil && memberText(raw) == text {
		return raw
	}
	return encodeText(text)
}

func encodeText(s string) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return bytes.TrimRight(buf.Bytes(), "\n")
}
