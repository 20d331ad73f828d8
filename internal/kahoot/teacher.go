package kahoot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gokatarajesh/live-quiz/internal/lock"
	"github.com/gokatarajesh/live-quiz/internal/logging"
	"github.com/gokatarajesh/live-quiz/internal/quiz"
	"github.com/gokatarajesh/live-quiz/internal/results"
	ws "github.com/gokatarajesh/live-quiz/pkg/http/ws"
)

// ConnectTeacher checks ownership and replies with the current session state.
func (s *Service) ConnectTeacher(ctx context.Context, c *Client) error {
	sess, _, err := s.loadLive(ctx, c.PIN)
	if err != nil {
		return err
	}
	if sess.TeacherID != c.UserID {
		return ErrWrongTeacher
	}
	c.SessionID = sess.SessionID
	if c.ConnID == "" {
		c.ConnID = uuid.NewString()
	}

	sess, err = s.state.UpdateSession(ctx, c.PIN, func(cur *Session) error {
		cur.TeacherConnID = c.ConnID
		return nil
	})
	if err != nil {
		return err
	}
	if err := s.state.Touch(ctx, c.PIN); err != nil {
		return err
	}
	return s.sendSessionState(ctx, c, sess)
}

func (s *Service) sendSessionState(ctx context.Context, c *Client, sess *Session) error {
	participants, err := s.state.Participants(ctx, sess.PIN)
	if err != nil {
		return err
	}
	students := make([]ws.StudentView, 0, len(participants))
	for _, p := range participants {
		students = append(students, p.view())
	}
	return c.reply(ws.TypeSessionState, ws.SessionStatePayload{
		PIN:                  sess.PIN,
		SessionID:            sess.SessionID,
		Phase:                sess.Phase(),
		QuizStarted:          sess.QuizStarted,
		IsQuestionActive:     sess.IsQuestionActive,
		CurrentQuestionIndex: sess.CurrentQuestionIndex,
		TotalQuestions:       sess.TotalQuestions,
		IsTeamMode:           sess.IsTeamMode,
		Teams:                sess.TeamScores(),
		Students:             students,
	})
}

// StartQuiz opens the first question and emits it after the lead-in delay.
func (s *Service) StartQuiz(ctx context.Context, c *Client) error {
	return s.withLock(ctx, lock.Key(c.PIN, "startQuiz"), "startQuiz", s.opts.Locks.StartQuizTTL, func() error {
		_, questions, err := s.loadLive(ctx, c.PIN)
		if err != nil {
			return err
		}

		sess, err := s.state.UpdateSession(ctx, c.PIN, func(cur *Session) error {
			if cur.QuizStarted {
				return errQuizAlreadyStarted
			}
			cur.QuizStarted = true
			cur.CurrentQuestionIndex = 0
			cur.CurrentQuestionID = questions[0].ID
			cur.IsQuestionActive = true
			cur.QuestionStartTime = 0
			cur.TotalQuestions = len(questions)
			return nil
		})
		if err != nil {
			return err
		}
		if err := s.state.Touch(ctx, c.PIN); err != nil {
			return err
		}

		logging.ForSession(s.logger, c.PIN).Info().Int("questions", sess.TotalQuestions).Msg("quiz started")

		soon := ws.QuizStartingSoonPayload{
			DelayMs:        s.opts.LeadInDelay.Milliseconds(),
			TotalQuestions: sess.TotalQuestions,
		}
		s.toStudents(ctx, c.PIN, ws.TypeQuizStartingSoon, soon)
		s.toTeacher(ctx, c.PIN, ws.TypeQuizStartingSoon, soon)

		s.afterLeadIn(ctx, c.PIN, 0)
		return nil
	})
}

// NextQuestion advances past a finalized question.
func (s *Service) NextQuestion(ctx context.Context, c *Client) error {
	return s.withLock(ctx, lock.Key(c.PIN, "nextQuestion"), "nextQuestion", s.opts.Locks.NextQuestionTTL, func() error {
		sess, questions, err := s.loadLive(ctx, c.PIN)
		if err != nil {
			return err
		}
		switch {
		case !sess.QuizStarted:
			return errQuizNotStarted
		case sess.IsQuestionActive:
			return errQuestionActive
		case sess.CurrentQuestionIndex+1 >= len(questions):
			return errNoMoreQuestions
		}

		ids, err := s.state.StudentIDs(ctx, c.PIN)
		if err != nil {
			return err
		}
		for _, id := range ids {
			_, err := s.state.UpdateParticipant(ctx, c.PIN, id, func(p *Participant) (*Participant, error) {
				if p == nil {
					return nil, errStale
				}
				p.HasSubmitted = false
				return p, nil
			})
			if err != nil && !errors.Is(err, errStale) {
				return fmt.Errorf("reset %s: %w", id, err)
			}
		}

		from := sess.CurrentQuestionIndex
		next, err := s.state.UpdateSession(ctx, c.PIN, func(cur *Session) error {
			if cur.IsQuestionActive || cur.CurrentQuestionIndex != from {
				return errQuestionActive
			}
			cur.CurrentQuestionIndex = from + 1
			cur.CurrentQuestionID = questions[from+1].ID
			cur.IsQuestionActive = true
			cur.QuestionStartTime = 0
			return nil
		})
		if err != nil {
			return err
		}
		s.timers.CancelAll(c.PIN)
		if err := s.state.Touch(ctx, c.PIN); err != nil {
			return err
		}

		prep := ws.PreparingNextQuestionPayload{
			QuestionNumber: next.CurrentQuestionIndex + 1,
			IsLastQuestion: next.IsLastQuestion(),
			DelayMs:        s.opts.LeadInDelay.Milliseconds(),
		}
		s.toStudents(ctx, c.PIN, ws.TypePreparingNextQuestion, prep)
		s.toTeacher(ctx, c.PIN, ws.TypePreparingNextQuestion, prep)

		s.afterLeadIn(ctx, c.PIN, next.CurrentQuestionIndex)
		return nil
	})
}

// TimeUp closes the current question with whatever answers arrived.
func (s *Service) TimeUp(ctx context.Context, c *Client) error {
	return s.withLock(ctx, lock.Key(c.PIN, "timeUp"), "timeUp", s.opts.Locks.TimeUpTTL, func() error {
		sess, _, err := s.loadLive(ctx, c.PIN)
		if err != nil {
			return err
		}
		if !sess.QuizStarted {
			return errQuizNotStarted
		}
		if !sess.IsQuestionActive {
			return nil
		}
		if !sess.Presented() {
			// Still in the lead-in; nobody has seen the question.
			return errQuestionNotActive
		}
		return s.checkFinalization(ctx, c.PIN, true)
	})
}

// EndQuiz persists final results, notifies both sides and tears the live
// session down. A second call finds nothing to end and does nothing.
func (s *Service) EndQuiz(ctx context.Context, c *Client) error {
	return s.withLock(ctx, lock.Key(c.PIN, "endQuiz"), "endQuiz", s.opts.Locks.EndQuizTTL, func() error {
		sess, err := s.state.UpdateSession(ctx, c.PIN, func(cur *Session) error {
			if cur.QuizEndedByTeacher {
				return errStale
			}
			cur.QuizEndedByTeacher = true
			cur.IsQuestionActive = false
			return nil
		})
		if errors.Is(err, errStale) || isNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		s.timers.CancelAll(c.PIN)
		logger := logging.ForSession(s.logger, c.PIN)

		participants, err := s.state.Participants(ctx, c.PIN)
		if err != nil {
			return err
		}

		s.persistResults(ctx, sess, participants)

		completed := ws.QuizCompletedPayload{
			Results: rankParticipants(participants),
			Teams:   sess.TeamScores(),
		}
		s.toStudents(ctx, c.PIN, ws.TypeQuizCompleted, completed)
		s.toTeacher(ctx, c.PIN, ws.TypeQuizCompleted, completed)

		s.release(ctx, sess)
		logger.Info().Int("participants", len(participants)).Msg("quiz ended by teacher")
		return nil
	})
}

// ViewDetailedResults replies with persisted results and evicts students.
func (s *Service) ViewDetailedResults(ctx context.Context, c *Client) error {
	sess, err := s.state.GetSession(ctx, c.PIN)
	switch {
	case err == nil && !sess.QuizEndedByTeacher:
		return errResultsUnavailable
	case err != nil && !isNotFound(err):
		return err
	}

	sessionID, err := uuid.Parse(c.SessionID)
	if err != nil {
		return errResultsUnavailable
	}

	row, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session definition: %w", err)
	}
	var questions []quiz.Question
	if len(row.Questions) > 0 {
		if err := json.Unmarshal(row.Questions, &questions); err != nil {
			return fmt.Errorf("decode session questions: %w", err)
		}
	}
	records, err := s.results.Detailed(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load results: %w", err)
	}

	payload := ws.DetailedResultsPayload{
		SessionID: c.SessionID,
		QuizID:    row.QuizID,
		Questions: make([]ws.DetailedQuestion, 0, len(questions)),
		Students:  make([]ws.DetailedStudent, 0, len(records)),
	}
	for _, q := range questions {
		payload.Questions = append(payload.Questions, ws.DetailedQuestion{
			ID:           q.ID,
			Text:         q.Text,
			Options:      q.Options,
			CorrectIndex: q.CorrectIndex,
			TimeLimit:    q.TimeLimit,
		})
	}
	for _, r := range records {
		st := ws.DetailedStudent{
			StudentID:      r.StudentID,
			Name:           r.Name,
			Character:      r.Character,
			Score:          r.Score,
			CorrectCount:   r.CorrectCount,
			TotalQuestions: r.TotalQuestions,
			Responses:      make([]ws.DetailedResponse, 0, len(r.Responses)),
		}
		for _, resp := range r.Responses {
			st.Responses = append(st.Responses, ws.DetailedResponse(resp))
		}
		payload.Students = append(payload.Students, st)
	}

	if err := c.reply(ws.TypeDetailedResults, payload); err != nil {
		return err
	}
	s.bus.ForceCloseStudents(ctx, c.PIN)
	return nil
}

// DisconnectTeacher releases the session after the teacher socket went away.
// A quiz whose last question was already presented is saved first.
func (s *Service) DisconnectTeacher(ctx context.Context, c *Client) error {
	err := s.withLock(ctx, lock.Key(c.PIN, "endQuiz"), "endQuiz", s.opts.Locks.EndQuizTTL, func() error {
		sess, err := s.state.GetSession(ctx, c.PIN)
		if err != nil {
			if isNotFound(err) {
				return nil
			}
			return err
		}
		if sess.TeacherID != c.UserID || sess.QuizEndedByTeacher {
			return nil
		}
		if sess.TeacherConnID != "" && sess.TeacherConnID != c.ConnID {
			// The teacher reconnected, possibly on another instance.
			logging.ForSession(s.logger, c.PIN).Info().Msg("stale teacher socket closed")
			return nil
		}
		s.timers.CancelAll(c.PIN)
		logger := logging.ForSession(s.logger, c.PIN)

		if sess.IsLastQuestion() && sess.Presented() {
			participants, err := s.state.Participants(ctx, c.PIN)
			if err != nil {
				logger.Error().Err(err).Msg("auto-save: load participants")
			} else {
				logger.Info().Int("participants", len(participants)).Msg("teacher left after last question, auto-saving results")
				s.persistResults(ctx, sess, participants)
			}
		}

		s.toStudents(ctx, c.PIN, ws.TypeSessionEnded, ws.SessionEndedPayload{Reason: "teacher_disconnected"})
		s.release(ctx, sess)
		logger.Info().Msg("session released after teacher disconnect")
		return nil
	})
	if errors.Is(err, ErrLockBusy) {
		// endQuiz is running and will tear the session down.
		return nil
	}
	return err
}

// persistResults saves every participant with at least one response.
// Failures are logged; session progress is never rolled back.
func (s *Service) persistResults(ctx context.Context, sess *Session, participants []*Participant) {
	logger := logging.ForSession(s.logger, sess.PIN)
	sessionID, err := uuid.Parse(sess.SessionID)
	if err != nil {
		logger.Error().Err(err).Msg("persist results: bad session id")
		return
	}

	req := results.SaveRequest{
		SessionID:      sessionID,
		QuizID:         sess.QuizID,
		TotalQuestions: sess.TotalQuestions,
		Students:       make([]results.StudentResult, 0, len(participants)),
	}
	for _, p := range participants {
		st := results.StudentResult{
			StudentID: p.StudentID,
			Name:      p.Name,
			Character: p.Character,
			Responses: make([]results.Response, 0, len(p.Responses)),
		}
		for _, r := range p.Responses {
			st.Responses = append(st.Responses, results.Response(r))
		}
		req.Students = append(req.Students, st)
	}

	saveCtx, cancel := s.detached(ctx, s.opts.ResultSaveTimeout)
	defer cancel()
	saved, err := s.results.Save(saveCtx, req)
	if err != nil {
		logger.Error().Err(err).Int("saved", saved).Msg("persist results")
		return
	}
	logger.Info().Int("saved", saved).Msg("results persisted")
}

// release deletes the live keys and stamps the durable row as ended.
func (s *Service) release(ctx context.Context, sess *Session) {
	logger := logging.ForSession(s.logger, sess.PIN)
	relCtx, cancel := s.detached(ctx, 5*time.Second)
	defer cancel()

	s.timers.CancelAll(sess.PIN)
	if err := s.state.Teardown(relCtx, sess.PIN); err != nil {
		logger.Error().Err(err).Msg("teardown session keys")
	}
	if id, err := uuid.Parse(sess.SessionID); err == nil {
		if err := s.sessions.MarkEnded(relCtx, id); err != nil {
			logger.Warn().Err(err).Msg("mark session ended")
		}
	}
}
