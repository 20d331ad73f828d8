package kahoot

import (
	"context"
	"errors"
	"time"

	"github.com/gokatarajesh/live-quiz/internal/logging"
	ws "github.com/gokatarajesh/live-quiz/pkg/http/ws"
)

const callbackTimeout = 10 * time.Second

// afterLeadIn emits question index once the lead-in delay elapses. Without a
// delay the question is emitted inline.
func (s *Service) afterLeadIn(ctx context.Context, pin string, index int) {
	if s.opts.LeadInDelay <= 0 {
		if err := s.emitQuestion(ctx, pin, index); err != nil {
			logging.ForSession(s.logger, pin).Error().Err(err).Int("question_index", index).Msg("emit question")
		}
		return
	}
	s.timers.Schedule(pin, timerLeadIn, s.opts.LeadInDelay, func() {
		cbCtx, cancel := s.detached(ctx, callbackTimeout)
		defer cancel()
		if err := s.emitQuestion(cbCtx, pin, index); err != nil {
			logging.ForSession(s.logger, pin).Error().Err(err).Int("question_index", index).Msg("emit question")
		}
	})
}

// emitQuestion stamps the start time and sends the question to active
// students. It does nothing when the session moved on in the meantime.
func (s *Service) emitQuestion(ctx context.Context, pin string, index int) error {
	questions, err := s.state.GetQuestions(ctx, pin)
	if err != nil {
		return err
	}
	if index >= len(questions) {
		return ErrQuestionsNotFound
	}
	q := questions[index]

	now := s.now()
	sess, err := s.state.UpdateSession(ctx, pin, func(cur *Session) error {
		if !cur.IsQuestionActive || cur.QuizEndedByTeacher || cur.CurrentQuestionIndex != index || cur.QuestionStartTime != 0 {
			return errStale
		}
		cur.QuestionStartTime = now.UnixMilli()
		return nil
	})
	if errors.Is(err, errStale) || isNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}

	recipients, err := s.activeRecipients(ctx, pin)
	if err != nil {
		return err
	}

	msgType := ws.TypeNewQuestion
	if index == 0 {
		msgType = ws.TypeQuizStarted
	}
	limit := time.Duration(q.TimeLimit) * time.Second
	question := ws.NewQuestionPayload{
		Question: ws.QuestionView{
			ID:       q.ID,
			Text:     q.Text,
			ImageURL: q.ImageURL,
			MediaURL: q.MediaURL,
		},
		QuestionNumber: index + 1,
		TotalQuestions: sess.TotalQuestions,
		EndTime:        now.Add(limit).UnixMilli(),
	}
	options := ws.NewQuestionOptionsPayload{
		QuestionID: q.ID,
		Options:    q.Options,
		TimeLimit:  q.TimeLimit,
	}

	s.toActive(ctx, pin, recipients, msgType, question)
	s.toActive(ctx, pin, recipients, ws.TypeNewQuestionOptions, options)
	s.toTeacher(ctx, pin, msgType, question)
	s.toTeacher(ctx, pin, ws.TypeNewQuestionOptions, options)

	logging.ForSession(s.logger, pin).Debug().
		Int("question_index", index).
		Int("recipients", len(recipients)).
		Msg("question emitted")

	warn := time.Duration(s.opts.TimeWarningSeconds) * time.Second
	if warn > 0 && limit > warn {
		s.timers.Schedule(pin, timerWarning, limit-warn, func() {
			cbCtx, cancel := s.detached(ctx, callbackTimeout)
			defer cancel()
			s.sendTimeWarning(cbCtx, pin, index)
		})
	}
	return nil
}

// sendTimeWarning re-reads the session so a superseded warning never fires
// against a later question.
func (s *Service) sendTimeWarning(ctx context.Context, pin string, index int) {
	sess, err := s.state.GetSession(ctx, pin)
	if err != nil {
		return
	}
	if !sess.IsQuestionActive || sess.CurrentQuestionIndex != index || !sess.Presented() {
		return
	}
	recipients, err := s.activeRecipients(ctx, pin)
	if err != nil {
		logging.ForSession(s.logger, pin).Warn().Err(err).Msg("time warning recipients")
		return
	}
	s.toActive(ctx, pin, recipients, ws.TypeTimeLeft, ws.TimeLeftPayload{Seconds: s.opts.TimeWarningSeconds})
}
