package kahoot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/gokatarajesh/live-quiz/internal/quiz"
	"github.com/gokatarajesh/live-quiz/internal/store"
)

// StateManager gives typed access to a session's records in the shared
// store. Every mutation is an optimistic read-modify-write against the
// freshest stored value.
type StateManager struct {
	store  *store.RedisStore
	ttl    time.Duration
	logger zerolog.Logger
}

// NewStateManager creates a state manager whose keys live for ttl.
func NewStateManager(st *store.RedisStore, ttl time.Duration, logger zerolog.Logger) *StateManager {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &StateManager{
		store:  st,
		ttl:    ttl,
		logger: logger.With().Str("component", "session_state").Logger(),
	}
}

// CreateSession writes sess only if its PIN is free.
func (m *StateManager) CreateSession(ctx context.Context, sess *Session) (bool, error) {
	sess.V = schemaVersion
	return m.store.SetIfAbsent(ctx, store.SessionKey(sess.PIN), sess, m.ttl)
}

// GetSession returns the freshest session record.
func (m *StateManager) GetSession(ctx context.Context, pin string) (*Session, error) {
	var raw json.RawMessage
	found, err := m.store.Get(ctx, store.SessionKey(pin), &raw)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrSessionNotFound
	}
	return decodeSession(raw)
}

// UpdateSession applies fn to the freshest session and writes the result.
// fn may run several times. Errors from fn abort the write and are returned.
func (m *StateManager) UpdateSession(ctx context.Context, pin string, fn func(*Session) error) (*Session, error) {
	var out *Session
	err := m.store.Update(ctx, store.SessionKey(pin), m.ttl, func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, ErrSessionNotFound
		}
		sess, err := decodeSession(current)
		if err != nil {
			return nil, err
		}
		if err := fn(sess); err != nil {
			return nil, err
		}
		sess.V = schemaVersion
		out = sess
		return json.Marshal(sess)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SaveQuestions stores the immutable question snapshot.
func (m *StateManager) SaveQuestions(ctx context.Context, pin string, questions []quiz.Question) error {
	return m.store.Set(ctx, store.QuestionsKey(pin), questions, m.ttl)
}

// GetQuestions returns the question snapshot.
func (m *StateManager) GetQuestions(ctx context.Context, pin string) ([]quiz.Question, error) {
	var questions []quiz.Question
	found, err := m.store.Get(ctx, store.QuestionsKey(pin), &questions)
	if err != nil {
		return nil, err
	}
	if !found || len(questions) == 0 {
		return nil, ErrQuestionsNotFound
	}
	return questions, nil
}

// GetParticipant returns nil without error when the student has no record.
func (m *StateManager) GetParticipant(ctx context.Context, pin, studentID string) (*Participant, error) {
	var raw json.RawMessage
	found, err := m.store.Get(ctx, store.ParticipantKey(pin, studentID), &raw)
	if err != nil || !found {
		return nil, err
	}
	return decodeParticipant(raw)
}

// ParticipantFunc receives the current participant (nil when absent) and
// returns the record to write.
type ParticipantFunc func(p *Participant) (*Participant, error)

// UpdateParticipant applies fn to the freshest participant record. guards
// are evaluated in the same transaction.
func (m *StateManager) UpdateParticipant(ctx context.Context, pin, studentID string, fn ParticipantFunc, guards ...store.Guard) (*Participant, error) {
	var out *Participant
	err := m.store.Update(ctx, store.ParticipantKey(pin, studentID), m.ttl, func(current []byte) ([]byte, error) {
		var cur *Participant
		if current != nil {
			p, err := decodeParticipant(current)
			if err != nil {
				return nil, err
			}
			cur = p
		}
		next, err := fn(cur)
		if err != nil {
			return nil, err
		}
		next.V = schemaVersion
		out = next
		return json.Marshal(next)
	}, guards...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SessionGuard builds a guard that checks the session record in the same
// transaction as a participant update.
func SessionGuard(pin string, check func(*Session) error) store.Guard {
	return store.Guard{
		Key: store.SessionKey(pin),
		Check: func(current []byte) error {
			if current == nil {
				return ErrSessionNotFound
			}
			sess, err := decodeSession(current)
			if err != nil {
				return err
			}
			return check(sess)
		},
	}
}

// AddStudent records studentID in the participant-id set.
func (m *StateManager) AddStudent(ctx context.Context, pin, studentID string) error {
	_, err := m.store.AddToSet(ctx, store.StudentIDsKey(pin), studentID, m.ttl)
	return err
}

// StudentIDs lists every student with a participant record.
func (m *StateManager) StudentIDs(ctx context.Context, pin string) ([]string, error) {
	return m.store.Members(ctx, store.StudentIDsKey(pin))
}

// Participants loads every participant of pin in one round trip, ordered by
// student id. Missing or undecodable records are skipped.
func (m *StateManager) Participants(ctx context.Context, pin string) ([]*Participant, error) {
	ids, err := m.StudentIDs(ctx, pin)
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = store.ParticipantKey(pin, id)
	}
	raws, err := m.store.MultiGet(ctx, keys)
	if err != nil {
		return nil, err
	}

	out := make([]*Participant, 0, len(raws))
	for i, raw := range raws {
		if raw == nil {
			continue
		}
		p, err := decodeParticipant(raw)
		if err != nil {
			m.logger.Warn().Err(err).Str("pin", pin).Str("student_id", ids[i]).Msg("skip unreadable participant")
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// ClaimCharacter adds idx to the claimed set and reports whether this call
// claimed it.
func (m *StateManager) ClaimCharacter(ctx context.Context, pin string, idx int) (bool, error) {
	return m.store.AddToSet(ctx, store.TakenCharactersKey(pin), strconv.Itoa(idx), m.ttl)
}

// ReleaseCharacter frees idx.
func (m *StateManager) ReleaseCharacter(ctx context.Context, pin string, idx int) error {
	return m.store.RemoveFromSet(ctx, store.TakenCharactersKey(pin), strconv.Itoa(idx))
}

// TakenCharacters lists the claimed character indices in ascending order.
func (m *StateManager) TakenCharacters(ctx context.Context, pin string) ([]int, error) {
	members, err := m.store.Members(ctx, store.TakenCharactersKey(pin))
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, len(members))
	for _, s := range members {
		n, err := strconv.Atoi(s)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	sort.Ints(out)
	return out, nil
}

// Touch refreshes the TTL of every key of pin.
func (m *StateManager) Touch(ctx context.Context, pin string) error {
	ids, err := m.StudentIDs(ctx, pin)
	if err != nil {
		return err
	}
	return m.store.Expire(ctx, m.ttl, store.SessionKeys(pin, ids)...)
}

// Teardown deletes every key of pin.
func (m *StateManager) Teardown(ctx context.Context, pin string) error {
	ids, err := m.StudentIDs(ctx, pin)
	if err != nil {
		return fmt.Errorf("list students: %w", err)
	}
	return m.store.Delete(ctx, store.SessionKeys(pin, ids)...)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrSessionNotFound)
}
