package chat

import (
	"sort"
	"strings"
)

const roomDelimiter = "_"

// RoomID derives the deterministic room key of a two-party conversation.
// The result does not depend on argument order.
func RoomID(userA, userB string) (string, error) {
	if !validParticipant(userA) || !validParticipant(userB) || userA == userB {
		return "", ErrInvalidParticipants
	}
	ids := []string{userA, userB}
	sort.Strings(ids)
	return strings.Join(ids, roomDelimiter), nil
}

// ParseRoomID recovers the two participants of roomID in canonical (sorted) order.
func ParseRoomID(roomID string) (string, string, error) {
	parts := strings.Split(roomID, roomDelimiter)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" || parts[0] == parts[1] {
		return "", "", ErrMalformedRoomID
	}
	if strings.TrimSpace(parts[0]) != parts[0] || strings.TrimSpace(parts[1]) != parts[1] {
		return "", "", ErrMalformedRoomID
	}
	if parts[1] < parts[0] {
		parts[0], parts[1] = parts[1], parts[0]
	}
	return parts[0], parts[1], nil
}

// CanonicalRoomID normalizes roomID so both spellings of a pair map to one key.
func CanonicalRoomID(roomID string) (string, error) {
	a, b, err := ParseRoomID(roomID)
	if err != nil {
		return "", err
	}
	return a + roomDelimiter + b, nil
}

func validParticipant(id string) bool {
	return id != "" && strings.TrimSpace(id) == id && !strings.Contains(id, roomDelimiter)
}

// Topics on the realtime channel.

func InboxTopic(userID string) string {
	return "inbox:" + userID
}

func RoomTopic(roomID string) string {
	return "room:" + roomID
}
