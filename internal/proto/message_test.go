package proto

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestChatTypeWireFormat(t *testing.T) {
	private, err := json.Marshal(PrivateChat("bob"))
	if err != nil {
		t.Fatal(err)
	}
	if string(private) != `{"Private":{"target":"bob"}}` {
		t.Fatalf("private wire format: %s", private)
	}

	group, err := json.Marshal(GroupChat([]string{"alice", "bob"}))
	if err != nil {
		t.Fatal(err)
	}
	if string(group) != `{"Group":{"members":["alice","bob"]}}` {
		t.Fatalf("group wire format: %s", group)
	}

	system, err := json.Marshal(SystemChat())
	if err != nil {
		t.Fatal(err)
	}
	if string(system) != `"System"` {
		t.Fatalf("system wire format: %s", system)
	}
}

func TestChatTypeDecode(t *testing.T) {
	var private ChatType
	if err := json.Unmarshal([]byte(`{"Private":{"target":"bob"}}`), &private); err != nil {
		t.Fatal(err)
	}
	if private.Kind != ChatPrivate || private.Target != "bob" {
		t.Fatalf("decoded private: %+v", private)
	}

	var group ChatType
	if err := json.Unmarshal([]byte(`{"Group":{"members":["a","b"]}}`), &group); err != nil {
		t.Fatal(err)
	}
	if group.Kind != ChatGroup || len(group.Members) != 2 {
		t.Fatalf("decoded group: %+v", group)
	}

	var system ChatType
	if err := json.Unmarshal([]byte(`"System"`), &system); err != nil {
		t.Fatal(err)
	}
	if system.Kind != ChatSystem {
		t.Fatalf("decoded system: %+v", system)
	}

	var unknown ChatType
	if err := json.Unmarshal([]byte(`{"Broadcast":{}}`), &unknown); err == nil {
		t.Fatal("unknown variant must fail to decode")
	}
}

func TestEnvelopeDoubleEncoding(t *testing.T) {
	env, err := Encode(TypeChatInvite, ChatInvite{ID: "inv-1", From: "alice", ChatType: PrivateChat("bob")})
	if err != nil {
		t.Fatal(err)
	}

	// the payload travels as a string field, itself JSON
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), `"message_type":"ChatInvite"`) {
		t.Fatalf("missing tag: %s", raw)
	}
	if !json.Valid([]byte(env.Data)) {
		t.Fatalf("inner payload is not JSON: %s", env.Data)
	}

	var round ChatInvite
	if err := env.DecodeData(&round); err != nil {
		t.Fatal(err)
	}
	if round.ID != "inv-1" || round.ChatType.Target != "bob" {
		t.Fatalf("round trip lost data: %+v", round)
	}
}

func TestExtractSessionID(t *testing.T) {
	text := "Username 'alice' è disponibile; session_id: 3b9e7c1a-0f4d-4e2a-9c6b-2f8d1e0a5b7c"
	if got := ExtractSessionID(text); got != "3b9e7c1a-0f4d-4e2a-9c6b-2f8d1e0a5b7c" {
		t.Fatalf("extracted %q", got)
	}
	if got := ExtractSessionID("login ok"); got != "" {
		t.Fatalf("expected no session id, got %q", got)
	}
}
