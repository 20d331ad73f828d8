package store

import "fmt"

// SessionKey holds the Session record for a PIN.
func SessionKey(pin string) string {
	return fmt.Sprintf("session:%s", pin)
}

// ParticipantKey holds one student's Participant record.
func ParticipantKey(pin, studentID string) string {
	return fmt.Sprintf("session:%s:participant:%s", pin, studentID)
}

// QuestionsKey holds the immutable question snapshot.
func QuestionsKey(pin string) string {
	return fmt.Sprintf("session:%s:questions", pin)
}

// StudentIDsKey is the set of student ids that own a Participant record.
func StudentIDsKey(pin string) string {
	return fmt.Sprintf("session:%s:student_ids", pin)
}

// TakenCharactersKey is the set of claimed character indices.
func TakenCharactersKey(pin string) string {
	return fmt.Sprintf("session:%s:taken_characters", pin)
}

// SessionKeys lists every key scoped to a PIN, participants included.
func SessionKeys(pin string, studentIDs []string) []string {
	keys := []string{
		SessionKey(pin),
		QuestionsKey(pin),
		StudentIDsKey(pin),
		TakenCharactersKey(pin),
	}
	for _, id := range studentIDs {
		keys = append(keys, ParticipantKey(pin, id))
	}
	return keys
}
