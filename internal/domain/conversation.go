package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single canonical conversation entry.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// History is an ordered sequence of turns. It decodes the canonical form as
// well as the legacy encodings (flat list of strings, objects without a role).
type History []Turn

// UnmarshalJSON implements json.Unmarshaler.
func (h *History) UnmarshalJSON(data []byte) error {
	decoded, _, err := DecodeHistory(data)
	if err != nil {
		return err
	}
	*h = decoded
	return nil
}

// Append returns a copy of h with turn appended. The receiver is never modified.
func (h History) Append(turn Turn) History {
	out := make(History, 0, len(h)+1)
	out = append(out, h...)
	return append(out, turn)
}

// Last returns at most n trailing turns.
func (h History) Last(n int) History {
	if n <= 0 || len(h) <= n {
		return h
	}
	return h[len(h)-n:]
}

// DecodeHistory decodes a JSON array of turns in any supported shape.
// legacy reports whether at least one entry was not in canonical form.
// JSON null and empty input decode to an empty history.
func DecodeHistory(data []byte) (history History, legacy bool, err error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return History{}, false, nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, false, fmt.Errorf("decode history: %w", err)
	}
	history = make(History, 0, len(raw))
	for i, item := range raw {
		turn, canonical, ok := decodeTurn(item, i)
		if !ok {
			legacy = true
			continue
		}
		if !canonical {
			legacy = true
		}
		history = append(history, turn)
	}
	return history, legacy, nil
}

// positionalRole assigns roles to legacy entries: even positions are the user.
func positionalRole(i int) Role {
	if i%2 == 0 {
		return RoleUser
	}
	return RoleAssistant
}

func decodeTurn(item json.RawMessage, i int) (turn Turn, canonical bool, ok bool) {
	if bytes.Equal(bytes.TrimSpace(item), []byte("null")) {
		return Turn{}, false, false
	}
	var text string
	if err := json.Unmarshal(item, &text); err == nil {
		return Turn{Role: positionalRole(i), Content: text}, false, true
	}

	var obj map[string]any
	if err := json.Unmarshal(item, &obj); err != nil || obj == nil {
		return Turn{}, false, false
	}

	content, hasContent := obj["content"].(string)
	if !hasContent {
		for _, key := range []string{"text", "message", "msg"} {
			if v, found := obj[key].(string); found {
				content = v
				break
			}
		}
	}

	role, _ := obj["role"].(string)
	switch Role(role) {
	case RoleUser, RoleAssistant:
		return Turn{Role: Role(role), Content: content}, hasContent, true
	default:
		return Turn{Role: positionalRole(i), Content: content}, false, true
	}
}
