package models

// Room channel message types.
const (
	MessageJoin           = "JOIN"
	MessageLeave          = "LEAVE"
	MessageVotingStarted  = "VOTING_STARTED"
	MessageNextCategory   = "NEXT_CATEGORY"
	MessageVotingFinished = "VOTING_FINISHED"
	MessageRoomClosed     = "ROOM_CLOSED"
)

// Poll channel message types.
const (
	MessageSetup                  = "SETUP"
	MessageStart                  = "START"
	MessageVote                   = "VOTE"
	MessageMatch                  = "MATCH"
	MessageEnd                    = "END"
	MessageUpdateParticipantCount = "UPDATE_PARTICIPANT_COUNT"
	MessageIncreaseVotedCount     = "INCREASE_VOTED_COUNT"
)

// RoomMessage is the shape broadcast on room/{roomCode} and accepted as an
// inbound action on the same socket.
type RoomMessage struct {
	Type          string       `json:"type"`
	ParticipantID int64        `json:"participant_id"`
	Username      string       `json:"username,omitempty"`
	Category      *CategoryRef `json:"category,omitempty"`
}

// PollMessage is the shape broadcast on poll/{roomCode}/{categoryId} and
// accepted as an inbound action on the same socket.
type PollMessage struct {
	VoterID           int64   `json:"voter_id"`
	OptionIDs         []int64 `json:"option_ids,omitempty"`
	MessageType       string  `json:"message_type"`
	ParticipantsCount int     `json:"participants_count"`
}
