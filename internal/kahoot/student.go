package kahoot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gokatarajesh/live-quiz/internal/kahoot/scoring"
	"github.com/gokatarajesh/live-quiz/internal/lock"
	"github.com/gokatarajesh/live-quiz/internal/logging"
	"github.com/gokatarajesh/live-quiz/internal/store"
	ws "github.com/gokatarajesh/live-quiz/pkg/http/ws"
)

// joinStatus is the status a student gets on (re)joining: waiting while a
// presented question is open and they have not answered it.
func joinStatus(sess *Session, p *Participant) string {
	if sess.IsQuestionActive && sess.Presented() {
		if p == nil || !p.HasSubmitted {
			return StatusWaiting
		}
	}
	return StatusParticipating
}

// ConnectStudent validates the session and sends the character pool. A
// returning student gets their record back with a fresh status.
func (s *Service) ConnectStudent(ctx context.Context, c *Client) error {
	sess, _, err := s.loadLive(ctx, c.PIN)
	if err != nil {
		return err
	}

	existing, err := s.state.GetParticipant(ctx, c.PIN, c.UserID)
	if err != nil {
		return err
	}
	var rejoined *Participant
	if existing != nil {
		fresh, guard := freshSession(c.PIN)
		rejoined, err = s.state.UpdateParticipant(ctx, c.PIN, c.UserID, func(cur *Participant) (*Participant, error) {
			if cur == nil {
				return nil, errStale
			}
			cur.Status = joinStatus(*fresh, cur)
			return cur, nil
		}, guard)
		if err != nil && !errors.Is(err, errStale) {
			return err
		}
	}
	if rejoined != nil {
		s.toTeacher(ctx, c.PIN, ws.TypeStudentJoined, ws.StudentEventPayload{
			StudentID: rejoined.StudentID,
			Name:      rejoined.Name,
			Character: rejoined.Character,
			Status:    rejoined.Status,
		})
		logging.ForSession(s.logger, c.PIN).Info().Str("student_id", c.UserID).Str("status", rejoined.Status).Msg("student rejoined")
	}

	data, err := s.characterData(ctx, sess)
	if err != nil {
		return err
	}
	if err := c.reply(ws.TypeCharacterData, data); err != nil {
		return err
	}
	if rejoined != nil && rejoined.Character != nil {
		return c.reply(ws.TypeCharacterAcknowledged, ws.CharacterAcknowledgedPayload{
			Character: *rejoined.Character,
			Status:    rejoined.Status,
		})
	}
	return nil
}

// SelectCharacter claims a character for the student, creating their
// participant record on first use.
func (s *Service) SelectCharacter(ctx context.Context, c *Client, character int) error {
	sess, _, err := s.loadLive(ctx, c.PIN)
	if err != nil {
		return err
	}
	if !sess.HasCharacter(character) {
		return errInvalidCharacter
	}

	studentLock := lock.Key(c.PIN, "character", "student", c.UserID)
	charLock := lock.Key(c.PIN, "character", strconv.Itoa(character))
	return s.withLock(ctx, studentLock, "character", s.opts.Locks.CharacterTTL, func() error {
		return s.withLock(ctx, charLock, "character", s.opts.Locks.CharacterTTL, func() error {
			return s.claimCharacter(ctx, c, sess, character)
		})
	})
}

func (s *Service) claimCharacter(ctx context.Context, c *Client, sess *Session, character int) error {
	current, err := s.state.GetParticipant(ctx, c.PIN, c.UserID)
	if err != nil {
		return err
	}
	if current != nil && current.Character != nil && *current.Character == character {
		return c.reply(ws.TypeCharacterAcknowledged, ws.CharacterAcknowledgedPayload{Character: character, Status: current.Status})
	}

	claimed, err := s.state.ClaimCharacter(ctx, c.PIN, character)
	if err != nil {
		return err
	}
	if !claimed {
		return errCharacterTaken
	}

	// The id goes into the set before the record exists so a finalizer that
	// commits after this write always sees the student for promotion.
	if err := s.state.AddStudent(ctx, c.PIN, c.UserID); err != nil {
		s.releaseCharacter(ctx, c.PIN, character)
		return err
	}

	var previous *int
	fresh, guard := freshSession(c.PIN)
	p, err := s.state.UpdateParticipant(ctx, c.PIN, c.UserID, func(cur *Participant) (*Participant, error) {
		if cur == nil {
			cur = &Participant{
				StudentID: c.UserID,
				Name:      c.Name,
				Responses: []Response{},
				Status:    joinStatus(*fresh, nil),
				JoinedAt:  s.now().UnixMilli(),
			}
		}
		previous = cur.Character
		if cur.Status == StatusDisconnected {
			cur.Status = joinStatus(*fresh, cur)
		}
		ch := character
		cur.Character = &ch
		return cur, nil
	}, guard)
	if err != nil {
		s.releaseCharacter(ctx, c.PIN, character)
		return err
	}
	if previous != nil && *previous != character {
		s.releaseCharacter(ctx, c.PIN, *previous)
	}

	logging.ForSession(s.logger, c.PIN).Debug().
		Str("student_id", c.UserID).
		Int("character", character).
		Msg("character claimed")

	if err := c.reply(ws.TypeCharacterAcknowledged, ws.CharacterAcknowledgedPayload{Character: character, Status: p.Status}); err != nil {
		return err
	}
	s.toTeacher(ctx, c.PIN, ws.TypeStudentJoined, ws.StudentEventPayload{
		StudentID: p.StudentID,
		Name:      p.Name,
		Character: p.Character,
		Status:    p.Status,
	})
	return s.broadcastCharacters(ctx, sess)
}

// freshSession returns a guard that captures the session read inside the
// participant transaction. A write to the session restarts the transaction,
// so the captured value is current when the update commits.
func freshSession(pin string) (**Session, store.Guard) {
	fresh := new(*Session)
	return fresh, SessionGuard(pin, func(cur *Session) error {
		*fresh = cur
		return nil
	})
}

func (s *Service) releaseCharacter(ctx context.Context, pin string, character int) {
	if err := s.state.ReleaseCharacter(ctx, pin, character); err != nil {
		s.logger.Warn().Err(err).Str("pin", pin).Int("character", character).Msg("release character")
	}
}

func (s *Service) broadcastCharacters(ctx context.Context, sess *Session) error {
	data, err := s.characterData(ctx, sess)
	if err != nil {
		return err
	}
	s.toStudents(ctx, sess.PIN, ws.TypeCharacterData, data)
	return nil
}

// Ready tells the teacher the student is ready.
func (s *Service) Ready(ctx context.Context, c *Client) error {
	if _, err := s.state.GetSession(ctx, c.PIN); err != nil {
		return err
	}
	s.toTeacher(ctx, c.PIN, ws.TypeStudentReady, ws.StudentEventPayload{StudentID: c.UserID, Name: c.Name})
	return nil
}

// GetTakenCharacters replies with the character pool.
func (s *Service) GetTakenCharacters(ctx context.Context, c *Client) error {
	sess, err := s.state.GetSession(ctx, c.PIN)
	if err != nil {
		return err
	}
	data, err := s.characterData(ctx, sess)
	if err != nil {
		return err
	}
	return c.reply(ws.TypeCharacterData, data)
}

// SubmitAnswer records one answer for the current question and runs the
// finalization check.
func (s *Service) SubmitAnswer(ctx context.Context, c *Client, req ws.SubmitAnswerPayload) error {
	sess, questions, err := s.loadLive(ctx, c.PIN)
	if err != nil {
		return err
	}
	if !sess.IsQuestionActive || !sess.Presented() {
		return errQuestionNotActive
	}
	if req.QuestionID != sess.CurrentQuestionID {
		return errInvalidQuestion
	}
	if sess.CurrentQuestionIndex >= len(questions) {
		return ErrQuestionsNotFound
	}
	q := questions[sess.CurrentQuestionIndex]
	if req.AnswerIndex == nil || *req.AnswerIndex < 0 || *req.AnswerIndex >= len(q.Options) {
		return errInvalidAnswer
	}

	limit := time.Duration(q.TimeLimit) * time.Second
	var elapsed time.Duration
	if req.ResponseTime != nil {
		elapsed = time.Duration(*req.ResponseTime) * time.Millisecond
	} else {
		elapsed = s.now().Sub(time.UnixMilli(sess.QuestionStartTime))
	}
	elapsed = scoring.ClampResponseTime(elapsed, limit)

	answer := *req.AnswerIndex
	correct := answer == q.CorrectIndex
	points := s.scorer.CalculateScore(correct, elapsed, limit)

	submitLock := lock.Key(c.PIN, "submit", c.UserID, q.ID)
	var p *Participant
	err = s.withLock(ctx, submitLock, "submit", s.opts.Locks.SubmitTTL, func() error {
		guard := SessionGuard(c.PIN, func(cur *Session) error {
			if !cur.IsQuestionActive || cur.QuizEndedByTeacher || cur.CurrentQuestionID != q.ID {
				return errQuestionNotActive
			}
			return nil
		})
		updated, err := s.state.UpdateParticipant(ctx, c.PIN, c.UserID, func(cur *Participant) (*Participant, error) {
			if cur == nil || !cur.Active() {
				return nil, errNotParticipating
			}
			if cur.HasSubmitted {
				return nil, errAlreadySubmitted
			}
			if _, ok := cur.ResponseFor(q.ID); ok {
				return nil, errAlreadySubmitted
			}
			cur.Responses = append(cur.Responses, Response{
				QuestionID:     q.ID,
				AnswerIndex:    &answer,
				Correct:        correct,
				ResponseTimeMs: elapsed.Milliseconds(),
				Points:         points,
			})
			cur.Score += points
			cur.HasSubmitted = true
			return cur, nil
		}, guard)
		p = updated
		return err
	})
	if err != nil {
		return err
	}

	logging.ForSession(s.logger, c.PIN).Debug().
		Str("student_id", c.UserID).
		Int("question_index", sess.CurrentQuestionIndex).
		Bool("correct", correct).
		Int("points", points).
		Msg("answer recorded")

	if err := c.reply(ws.TypeAnswerSubmitted, ws.AnswerSubmittedPayload{QuestionID: q.ID}); err != nil {
		s.logger.Debug().Err(err).Str("pin", c.PIN).Msg("ack answer")
	}
	if err := s.notifySubmitted(ctx, c.PIN, p); err != nil {
		s.logger.Warn().Err(err).Str("pin", c.PIN).Msg("notify teacher of submission")
	}
	return s.checkFinalization(ctx, c.PIN, false)
}

func (s *Service) notifySubmitted(ctx context.Context, pin string, p *Participant) error {
	participants, err := s.state.Participants(ctx, pin)
	if err != nil {
		return err
	}
	active, submitted := 0, 0
	for _, other := range participants {
		if !other.Active() {
			continue
		}
		active++
		if other.HasSubmitted {
			submitted++
		}
	}
	s.toTeacher(ctx, pin, ws.TypeStudentSubmitted, ws.StudentSubmittedPayload{
		StudentID:      p.StudentID,
		Name:           p.Name,
		SubmittedCount: submitted,
		ActiveCount:    active,
	})
	return nil
}

// DisconnectStudent marks the participant disconnected and re-runs the
// finalization check, since their missing answer may have been the last one
// outstanding. Lobby disconnects also free the character.
func (s *Service) DisconnectStudent(ctx context.Context, c *Client) error {
	sess, err := s.state.GetSession(ctx, c.PIN)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}

	var released *int
	fresh, guard := freshSession(c.PIN)
	p, err := s.state.UpdateParticipant(ctx, c.PIN, c.UserID, func(cur *Participant) (*Participant, error) {
		if cur == nil {
			return nil, errStale
		}
		cur.Status = StatusDisconnected
		released = nil
		if !(*fresh).QuizStarted && cur.Character != nil {
			released = cur.Character
			cur.Character = nil
		}
		return cur, nil
	}, guard)
	if isNotFound(err) {
		return nil
	}
	if errors.Is(err, errStale) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark disconnected: %w", err)
	}

	if released != nil {
		s.releaseCharacter(ctx, c.PIN, *released)
		if err := s.broadcastCharacters(ctx, sess); err != nil {
			s.logger.Warn().Err(err).Str("pin", c.PIN).Msg("broadcast characters")
		}
	}

	s.toTeacher(ctx, c.PIN, ws.TypeStudentDisconnected, ws.StudentEventPayload{
		StudentID: p.StudentID,
		Name:      p.Name,
		Status:    p.Status,
	})
	logging.ForSession(s.logger, c.PIN).Info().Str("student_id", c.UserID).Msg("student disconnected")

	return s.checkFinalization(ctx, c.PIN, false)
}
