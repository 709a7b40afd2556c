// Package protocol defines the externally-tagged wire JSON shapes for
// ClientRequest and ServerEvent values, and the codec between them and
// the Go types used throughout the chat server.
//
// Both sum types are externally tagged: a variant carrying data encodes
// as {"VariantName": {...fields}}; a variant without data encodes as
// the bare JSON string "VariantName". See spec §6 for the exact wire
// shapes this package must produce and accept.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ClientRequest is the tagged sum of requests a client may send.
// Exactly one variant is set: either one of the embedded variant
// pointers is non-nil, or RoomList is true.
type ClientRequest struct {
	Join     *JoinRequest
	Leave    *LeaveRequest
	Message  *MessageRequest
	RoomList bool
	Members  *MembersRequest
}

// JoinRequest is the {"Join":{"room":...,"name":...}} variant.
type JoinRequest struct {
	Room string `json:"room"`
	Name string `json:"name"`
}

// LeaveRequest is the {"Leave":{"room":...}} variant.
type LeaveRequest struct {
	Room string `json:"room"`
}

// MessageRequest is the {"Message":{"room":...,"text":...}} variant.
type MessageRequest struct {
	Room string `json:"room"`
	Text string `json:"text"`
}

// MembersRequest is the {"Members":{"room":...}} variant.
type MembersRequest struct {
	Room string `json:"room"`
}

// DecodeClientRequest parses one wire JSON value into a ClientRequest.
func DecodeClientRequest(data []byte) (ClientRequest, error) {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		if asString == "RoomList" {
			return ClientRequest{RoomList: true}, nil
		}
		return ClientRequest{}, fmt.Errorf("protocol: unknown request variant %q", asString)
	}

	tag, payload, err := splitTagged(data)
	if err != nil {
		return ClientRequest{}, err
	}

	switch tag {
	case "Join":
		var v JoinRequest
		if err := json.Unmarshal(payload, &v); err != nil {
			return ClientRequest{}, fmt.Errorf("protocol: decode Join: %w", err)
		}
		return ClientRequest{Join: &v}, nil
	case "Leave":
		var v LeaveRequest
		if err := json.Unmarshal(payload, &v); err != nil {
			return ClientRequest{}, fmt.Errorf("protocol: decode Leave: %w", err)
		}
		return ClientRequest{Leave: &v}, nil
	case "Message":
		var v MessageRequest
		if err := json.Unmarshal(payload, &v); err != nil {
			return ClientRequest{}, fmt.Errorf("protocol: decode Message: %w", err)
		}
		return ClientRequest{Message: &v}, nil
	case "Members":
		var v MembersRequest
		if err := json.Unmarshal(payload, &v); err != nil {
			return ClientRequest{}, fmt.Errorf("protocol: decode Members: %w", err)
		}
		return ClientRequest{Members: &v}, nil
	default:
		return ClientRequest{}, fmt.Errorf("protocol: unknown request variant %q", tag)
	}
}

// Encode serializes r back to its wire JSON shape. Used by the round-trip
// property test; production code only ever encodes ServerEvents.
func (r ClientRequest) Encode() ([]byte, error) {
	switch {
	case r.Join != nil:
		return marshalTagged("Join", r.Join)
	case r.Leave != nil:
		return marshalTagged("Leave", r.Leave)
	case r.Message != nil:
		return marshalTagged("Message", r.Message)
	case r.Members != nil:
		return marshalTagged("Members", r.Members)
	case r.RoomList:
		return json.Marshal("RoomList")
	default:
		return nil, fmt.Errorf("protocol: empty ClientRequest")
	}
}

// ServerEvent is the tagged sum of events the server may broadcast or
// reply with. Exactly one of the embedded variant pointers is non-nil.
type ServerEvent struct {
	UserJoined *UserJoinedEvent
	UserLeft   *UserLeftEvent
	NewMessage *NewMessageEvent
	RoomList   *RoomListEvent
	MemberList *MemberListEvent
}

// UserJoinedEvent is the {"UserJoined":{"room":...,"name":...}} variant.
type UserJoinedEvent struct {
	Room string `json:"room"`
	Name string `json:"name"`
}

// UserLeftEvent is the {"UserLeft":{"room":...,"name":...}} variant.
type UserLeftEvent struct {
	Room string `json:"room"`
	Name string `json:"name"`
}

// NewMessageEvent is the {"NewMessage":{...}} variant. Ts is unsigned
// milliseconds since epoch (spec §3, §9 Open Question resolved to ms).
type NewMessageEvent struct {
	Room string `json:"room"`
	Name string `json:"name"`
	Text string `json:"text"`
	Ts   uint64 `json:"ts"`
}

// RoomListEvent is the {"RoomList":{"rooms":[...]}} variant.
type RoomListEvent struct {
	Rooms []string `json:"rooms"`
}

// MemberListEvent is the {"MemberList":{"room":...,"members":[...]}} variant.
type MemberListEvent struct {
	Room    string   `json:"room"`
	Members []string `json:"members"`
}

// Encode serializes e into its wire JSON shape. This is the single
// encode point every Room broadcast goes through before freezing the
// result into a bufferpool.Frame.
func (e ServerEvent) Encode() ([]byte, error) {
	switch {
	case e.UserJoined != nil:
		return marshalTagged("UserJoined", e.UserJoined)
	case e.UserLeft != nil:
		return marshalTagged("UserLeft", e.UserLeft)
	case e.NewMessage != nil:
		return marshalTagged("NewMessage", e.NewMessage)
	case e.RoomList != nil:
		return marshalTagged("RoomList", e.RoomList)
	case e.MemberList != nil:
		return marshalTagged("MemberList", e.MemberList)
	default:
		return nil, fmt.Errorf("protocol: empty ServerEvent")
	}
}

// IsNewMessage reports whether e is a NewMessage event, the only variant
// the Room's history ring retains (spec invariant 3).
func (e ServerEvent) IsNewMessage() bool {
	return e.NewMessage != nil
}

// DecodeServerEvent parses one wire JSON value into a ServerEvent. Used
// by tests asserting the round-trip law and by any future client-side
// tooling that shares this package.
func DecodeServerEvent(data []byte) (ServerEvent, error) {
	tag, payload, err := splitTagged(data)
	if err != nil {
		return ServerEvent{}, err
	}

	switch tag {
	case "UserJoined":
		var v UserJoinedEvent
		if err := json.Unmarshal(payload, &v); err != nil {
			return ServerEvent{}, fmt.Errorf("protocol: decode UserJoined: %w", err)
		}
		return ServerEvent{UserJoined: &v}, nil
	case "UserLeft":
		var v UserLeftEvent
		if err := json.Unmarshal(payload, &v); err != nil {
			return ServerEvent{}, fmt.Errorf("protocol: decode UserLeft: %w", err)
		}
		return ServerEvent{UserLeft: &v}, nil
	case "NewMessage":
		var v NewMessageEvent
		if err := json.Unmarshal(payload, &v); err != nil {
			return ServerEvent{}, fmt.Errorf("protocol: decode NewMessage: %w", err)
		}
		return ServerEvent{NewMessage: &v}, nil
	case "RoomList":
		var v RoomListEvent
		if err := json.Unmarshal(payload, &v); err != nil {
			return ServerEvent{}, fmt.Errorf("protocol: decode RoomList: %w", err)
		}
		return ServerEvent{RoomList: &v}, nil
	case "MemberList":
		var v MemberListEvent
		if err := json.Unmarshal(payload, &v); err != nil {
			return ServerEvent{}, fmt.Errorf("protocol: decode MemberList: %w", err)
		}
		return ServerEvent{MemberList: &v}, nil
	default:
		return ServerEvent{}, fmt.Errorf("protocol: unknown event variant %q", tag)
	}
}

// marshalTagged encodes payload as {"tag": payload}.
func marshalTagged(tag string, payload any) ([]byte, error) {
	return json.Marshal(map[string]any{tag: payload})
}

// splitTagged unwraps a single-key externally-tagged JSON object into
// its tag and raw payload.
func splitTagged(data []byte) (tag string, payload json.RawMessage, err error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", nil, fmt.Errorf("protocol: malformed frame: %w", err)
	}
	if len(obj) != 1 {
		return "", nil, fmt.Errorf("protocol: expected exactly one tag, got %d", len(obj))
	}
	for k, v := range obj {
		return k, v, nil
	}
	return "", nil, fmt.Errorf("protocol: empty tagged object")
}
