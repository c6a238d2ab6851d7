package types

import (
	"encoding/json"
)

// Inbound message types accepted on the duplex channel.
const (
	MessageTypeAuthenticate          = "authenticate"
	MessageTypeListTeachers          = "list_teachers"
	MessageTypePing                  = "ping"
	MessageTypeSubscribeAchievements = "subscribe_achievements"
)

// Outbound event types emitted on the duplex channel.
const (
	EventTypeAuthenticated  = "authenticated"
	EventTypeError          = "error"
	EventTypeTeachersOnline = "teachers_online"
	EventTypeNewSubmission  = "new_submission"
)

// Roles resolved from the directory service. Any identity the directory
// cannot resolve defaults to RoleStudent.
const (
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// ClientMessage is the inbound envelope, discriminated by Type.
// Fields belonging to other variants are simply absent; unknown types are
// ignored by the handler.
type ClientMessage struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
}

// AuthenticatedEvent acknowledges a successful authenticate message.
type AuthenticatedEvent struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// ErrorEvent reports a recoverable failure to the client. The connection
// stays open after an ErrorEvent.
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// TeachersOnlineEvent carries the current roster snapshot. Teachers is never
// null: an empty roster serializes as an empty array.
type TeachersOnlineEvent struct {
	Type     string        `json:"type"`
	Teachers []TeacherInfo `json:"teachers"`
}

// SubmissionEvent is dispatcher-originated only; clients never send it.
// Data is relayed verbatim from the push endpoint payload.
type SubmissionEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// TeacherInfo is one roster entry as it appears on the wire.
type TeacherInfo struct {
	UserID      string  `json:"user_id"`
	FullName    string  `json:"full_name"`
	Department  *string `json:"department"`
	Designation *string `json:"designation"`
	LastSeen    int64   `json:"last_seen"`
}

// Profile is the display metadata the directory service resolves for an
// identity. Department and Designation are nil when the directory has no
// value for them.
type Profile struct {
	UserID      string
	FullName    string
	Department  *string
	Designation *string
	Role        string
}
