package protocol

import (
	"encoding/json"
	"testing"
)

func TestClientRequestWireShapes(t *testing.T) {
	cases := []struct {
		name string
		req  ClientRequest
		want string
	}{
		{"join", ClientRequest{Join: &JoinRequest{Room: "rust", Name: "alice"}}, `{"Join":{"room":"rust","name":"alice"}}`},
		{"leave", ClientRequest{Leave: &LeaveRequest{Room: "rust"}}, `{"Leave":{"room":"rust"}}`},
		{"message", ClientRequest{Message: &MessageRequest{Room: "rust", Text: "hi"}}, `{"Message":{"room":"rust","text":"hi"}}`},
		{"members", ClientRequest{Members: &MembersRequest{Room: "rust"}}, `{"Members":{"room":"rust"}}`},
		{"roomlist", ClientRequest{RoomList: true}, `"RoomList"`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.req.Encode()
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			assertJSONEqual(t, got, []byte(tc.want))

			decoded, err := DecodeClientRequest([]byte(tc.want))
			if err != nil {
				t.Fatalf("DecodeClientRequest: %v", err)
			}
			redone, err := decoded.Encode()
			if err != nil {
				t.Fatalf("re-encode: %v", err)
			}
			assertJSONEqual(t, redone, []byte(tc.want))
		})
	}
}

func TestServerEventWireShapes(t *testing.T) {
	cases := []struct {
		name string
		evt  ServerEvent
		want string
	}{
		{"joined", ServerEvent{UserJoined: &UserJoinedEvent{Room: "rust", Name: "alice"}}, `{"UserJoined":{"room":"rust","name":"alice"}}`},
		{"left", ServerEvent{UserLeft: &UserLeftEvent{Room: "rust", Name: "alice"}}, `{"UserLeft":{"room":"rust","name":"alice"}}`},
		{"message", ServerEvent{NewMessage: &NewMessageEvent{Room: "rust", Name: "alice", Text: "hi", Ts: 1234567890123}}, `{"NewMessage":{"room":"rust","name":"alice","text":"hi","ts":1234567890123}}`},
		{"roomlist", ServerEvent{RoomList: &RoomListEvent{Rooms: []string{"rust", "go"}}}, `{"RoomList":{"rooms":["rust","go"]}}`},
		{"members", ServerEvent{MemberList: &MemberListEvent{Room: "rust", Members: []string{"alice", "bob"}}}, `{"MemberList":{"room":"rust","members":["alice","bob"]}}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.evt.Encode()
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			assertJSONEqual(t, got, []byte(tc.want))

			decoded, err := DecodeServerEvent([]byte(tc.want))
			if err != nil {
				t.Fatalf("DecodeServerEvent: %v", err)
			}
			redone, err := decoded.Encode()
			if err != nil {
				t.Fatalf("re-encode: %v", err)
			}
			assertJSONEqual(t, redone, []byte(tc.want))
		})
	}
}

func TestIsNewMessage(t *testing.T) {
	msg := ServerEvent{NewMessage: &NewMessageEvent{Room: "rust", Name: "a", Text: "hi", Ts: 1}}
	if !msg.IsNewMessage() {
		t.Fatal("expected NewMessage event to report IsNewMessage")
	}

	joined := ServerEvent{UserJoined: &UserJoinedEvent{Room: "rust", Name: "a"}}
	if joined.IsNewMessage() {
		t.Fatal("expected UserJoined event to not report IsNewMessage")
	}
}

func TestDecodeUnknownVariantErrors(t *testing.T) {
	if _, err := DecodeClientRequest([]byte(`"Bogus"`)); err == nil {
		t.Fatal("expected error for unknown string request variant")
	}
	if _, err := DecodeServerEvent([]byte(`{"Bogus":{}}`)); err == nil {
		t.Fatal("expected error for unknown tagged event variant")
	}
}

func assertJSONEqual(t *testing.T, got, want []byte) {
	t.Helper()
	var g, w any
	if err := json.Unmarshal(got, &g); err != nil {
		t.Fatalf("got is not valid JSON: %v (%s)", err, got)
	}
	if err := json.Unmarshal(want, &w); err != nil {
		t.Fatalf("want is not valid JSON: %v (%s)", err, want)
	}
	gj, _ := json.Marshal(g)
	wj, _ := json.Marshal(w)
	if string(gj) != string(wj) {
		t.Fatalf("JSON mismatch:\n got:  %s\n want: %s", got, want)
	}
}
