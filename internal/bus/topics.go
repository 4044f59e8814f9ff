package bus

import "strconv"

// Topic names double as websocket subscription destinations, so the bus and
// the broadcaster agree on naming by construction.

// RoomTopic carries chat messages for a room.
func RoomTopic(roomID int64) string {
	return "room/" + strconv.FormatInt(roomID, 10)
}

// RoomMembersTopic carries presence transitions for a room.
func RoomMembersTopic(roomID int64) string {
	return RoomTopic(roomID) + "/members"
}

// RoomInfoTopic carries room metadata updates (participant counts).
func RoomInfoTopic(roomID int64) string {
	return RoomTopic(roomID) + "/info"
}

// RoomTypingTopic carries typing indicator relays.
func RoomTypingTopic(roomID int64) string {
	return RoomTopic(roomID) + "/typing"
}

// AnalysisTopic carries analysis updates for a room.
func AnalysisTopic(roomID int64) string {
	return "analysis/" + strconv.FormatInt(roomID, 10)
}
