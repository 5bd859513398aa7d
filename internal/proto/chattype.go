package proto

import (
	"encoding/json"
	"fmt"
)

// ChatKind discriminates the chat type union.
type ChatKind string

const (
	ChatPrivate ChatKind = "Private"
	ChatGroup   ChatKind = "Group"
	ChatSystem  ChatKind = "System"
)

// ChatType is the externally tagged union the server speaks:
//
//	{"Private":{"target":"bob"}}
//	{"Group":{"members":["alice","bob"]}}
//	"System"
type ChatType struct {
	Kind    ChatKind
	Target  string
	Members []string
}

// PrivateChat builds a private chat type addressed to target.
func PrivateChat(target string) ChatType {
	return ChatType{Kind: ChatPrivate, Target: target}
}

// GroupChat builds a group chat type over the given members.
func GroupChat(members []string) ChatType {
	return ChatType{Kind: ChatGroup, Members: members}
}

// SystemChat builds the system chat type.
func SystemChat() ChatType {
	return ChatType{Kind: ChatSystem}
}

type privateBody struct {
	Target string `json:"target"`
}

type groupBody struct {
	Members []string `json:"members"`
}

func (t ChatType) MarshalJSON() ([]byte, error) {
	switch t.Kind {
	case ChatPrivate:
		return json.Marshal(map[string]privateBody{"Private": {Target: t.Target}})
	case ChatGroup:
		members := t.Members
		if members == nil {
			members = []string{}
		}
		return json.Marshal(map[string]groupBody{"Group": {Members: members}})
	case ChatSystem:
		return json.Marshal("System")
	default:
		return nil, fmt.Errorf("marshal chat type: unknown kind %q", t.Kind)
	}
}

func (t *ChatType) UnmarshalJSON(data []byte) error {
	var unit string
	if err := json.Unmarshal(data, &unit); err == nil {
		if unit != "System" {
			return fmt.Errorf("unmarshal chat type: unknown variant %q", unit)
		}
		*t = ChatType{Kind: ChatSystem}
		return nil
	}

	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("unmarshal chat type: %w", err)
	}

	if raw, ok := tagged["Private"]; ok {
		var body privateBody
		if err := json.Unmarshal(raw, &body); err != nil {
			return fmt.Errorf("unmarshal private chat type: %w", err)
		}
		*t = ChatType{Kind: ChatPrivate, Target: body.Target}
		return nil
	}
	if raw, ok := tagged["Group"]; ok {
		var body groupBody
		if err := json.Unmarshal(raw, &body); err != nil {
			return fmt.Errorf("unmarshal group chat type: %w", err)
		}
		*t = ChatType{Kind: ChatGroup, Members: body.Members}
		return nil
	}
	return fmt.Errorf("unmarshal chat type: no known variant in %s", data)
}
