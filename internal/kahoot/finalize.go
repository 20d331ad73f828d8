package kahoot

import (
	"context"
	"errors"
	"sort"

	"github.com/gokatarajesh/live-quiz/internal/logging"
	"github.com/gokatarajesh/live-quiz/internal/quiz"
	ws "github.com/gokatarajesh/live-quiz/pkg/http/ws"
)

// checkFinalization closes the current presented question when every active
// participant has submitted, or unconditionally when force is set. It is
// safe to call redundantly from any trigger: only the caller that flips
// isQuestionActive goes on to publish results.
func (s *Service) checkFinalization(ctx context.Context, pin string, force bool) error {
	sess, err := s.state.GetSession(ctx, pin)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}
	if !sess.IsQuestionActive || sess.QuizEndedByTeacher {
		return nil
	}
	if !sess.Presented() {
		return nil
	}

	if !force {
		participants, err := s.state.Participants(ctx, pin)
		if err != nil {
			return err
		}
		for _, p := range participants {
			if p.Active() && !p.HasSubmitted {
				return nil
			}
		}
	}

	index, qid := sess.CurrentQuestionIndex, sess.CurrentQuestionID
	closed, err := s.state.UpdateSession(ctx, pin, func(cur *Session) error {
		if !cur.IsQuestionActive || cur.CurrentQuestionIndex != index || cur.CurrentQuestionID != qid {
			return errStale
		}
		cur.IsQuestionActive = false
		return nil
	})
	if errors.Is(err, errStale) || isNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}

	s.metrics.Finalizations.Inc()
	s.timers.CancelAll(pin)
	logging.ForSession(s.logger, pin).Info().
		Int("question_index", index).
		Bool("forced", force).
		Msg("question finalized")

	return s.publishQuestionResults(ctx, closed, force)
}

// publishQuestionResults runs after the barrier flipped. Submissions are
// guarded on isQuestionActive, so the participant records read here are final
// for this question.
func (s *Service) publishQuestionResults(ctx context.Context, sess *Session, force bool) error {
	pin := sess.PIN
	questions, err := s.state.GetQuestions(ctx, pin)
	if err != nil {
		return err
	}
	if sess.CurrentQuestionIndex >= len(questions) {
		return ErrQuestionsNotFound
	}
	q := questions[sess.CurrentQuestionIndex]

	participants, err := s.state.Participants(ctx, pin)
	if err != nil {
		return err
	}

	answering := make(map[string]bool, len(participants))
	for i, p := range participants {
		if !p.Active() {
			continue
		}
		answering[p.StudentID] = true
		if _, ok := p.ResponseFor(q.ID); ok || !force {
			continue
		}
		updated, err := s.state.UpdateParticipant(ctx, pin, p.StudentID, func(cur *Participant) (*Participant, error) {
			if cur == nil {
				return nil, errStale
			}
			if _, ok := cur.ResponseFor(q.ID); !ok {
				cur.Responses = append(cur.Responses, Response{QuestionID: q.ID})
			}
			return cur, nil
		})
		if err != nil && !errors.Is(err, errStale) {
			s.logger.Warn().Err(err).Str("pin", pin).Str("student_id", p.StudentID).Msg("record unanswered")
			continue
		}
		if updated != nil {
			participants[i] = updated
		}
	}

	promoted := 0
	for i, p := range participants {
		if p.Status != StatusWaiting {
			continue
		}
		updated, err := s.state.UpdateParticipant(ctx, pin, p.StudentID, func(cur *Participant) (*Participant, error) {
			if cur == nil || cur.Status != StatusWaiting {
				return nil, errStale
			}
			cur.Status = StatusParticipating
			return cur, nil
		})
		if err != nil {
			if !errors.Is(err, errStale) {
				s.logger.Warn().Err(err).Str("pin", pin).Str("student_id", p.StudentID).Msg("promote waiting participant")
			}
			continue
		}
		participants[i] = updated
		promoted++
	}

	if sess.IsTeamMode {
		updated, err := s.applyTeamDeltas(ctx, sess, participants, q.ID)
		if err != nil {
			s.logger.Warn().Err(err).Str("pin", pin).Msg("update team scores")
		} else {
			sess = updated
		}
	}

	feedback := make(map[string]ws.Message, len(answering))
	for _, p := range participants {
		if !answering[p.StudentID] {
			continue
		}
		if msg, ok := s.message(ws.TypeFeedback, s.feedbackFor(sess, q, p)); ok {
			feedback[p.StudentID] = msg
		}
	}
	if len(feedback) > 0 {
		s.bus.ToEach(ctx, pin, feedback)
	}

	s.toTeacher(ctx, pin, ws.TypeAllStudentsSubmitted, ws.AllStudentsSubmittedPayload{
		QuestionID:     q.ID,
		QuestionNumber: sess.CurrentQuestionIndex + 1,
		IsLastQuestion: sess.IsLastQuestion(),
		CorrectIndex:   q.CorrectIndex,
		Results:        rankForQuestion(participants, q.ID),
		Teams:          sess.TeamScores(),
	})

	if promoted > 0 {
		s.toTeacher(ctx, pin, ws.TypeActiveStudentCountUpdated, ws.ActiveStudentCountPayload{
			Count: len(activeIDs(participants)),
		})
	}
	return nil
}

// applyTeamDeltas adds this question's points to each team aggregate. Only
// the finalizer calls it, so each question is counted once.
func (s *Service) applyTeamDeltas(ctx context.Context, sess *Session, participants []*Participant, questionID string) (*Session, error) {
	deltas := make(map[int]int)
	for _, p := range participants {
		t := sess.TeamOf(p.StudentID)
		if t < 0 {
			continue
		}
		if resp, ok := p.ResponseFor(questionID); ok && resp.Points > 0 {
			deltas[t] += resp.Points
		}
	}
	if len(deltas) == 0 {
		return sess, nil
	}
	return s.state.UpdateSession(ctx, sess.PIN, func(cur *Session) error {
		for t, d := range deltas {
			if t < len(cur.Teams) {
				cur.Teams[t].Score += d
			}
		}
		return nil
	})
}

func (s *Service) feedbackFor(sess *Session, q quiz.Question, p *Participant) ws.FeedbackPayload {
	resp, answered := p.ResponseFor(q.ID)
	fb := ws.FeedbackPayload{
		QuestionID:   q.ID,
		Correct:      resp.Correct,
		Answered:     answered && resp.AnswerIndex != nil,
		Points:       resp.Points,
		Score:        p.Score,
		CorrectIndex: q.CorrectIndex,
	}
	if t := sess.TeamOf(p.StudentID); t >= 0 {
		score := sess.Teams[t].Score
		fb.Team = sess.Teams[t].Name
		fb.TeamScore = &score
	}
	return fb
}

// rankForQuestion orders participants by cumulative score, then name.
func rankForQuestion(participants []*Participant, questionID string) []ws.RankedResult {
	ranked := rankParticipants(participants)
	for i := range ranked {
		p := findParticipant(participants, ranked[i].StudentID)
		if resp, ok := p.ResponseFor(questionID); ok {
			ranked[i].Points = resp.Points
			ranked[i].Correct = resp.Correct
			ranked[i].Answered = resp.AnswerIndex != nil
		}
	}
	return ranked
}

func rankParticipants(participants []*Participant) []ws.RankedResult {
	sorted := make([]*Participant, len(participants))
	copy(sorted, participants)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].Name < sorted[j].Name
	})

	out := make([]ws.RankedResult, 0, len(sorted))
	for i, p := range sorted {
		rank := i + 1
		if i > 0 && sorted[i-1].Score == p.Score {
			rank = out[i-1].Rank
		}
		out = append(out, ws.RankedResult{
			Rank:      rank,
			StudentID: p.StudentID,
			Name:      p.Name,
			Character: p.Character,
			Score:     p.Score,
		})
	}
	return out
}

func findParticipant(participants []*Participant, studentID string) *Participant {
	for _, p := range participants {
		if p.StudentID == studentID {
			return p
		}
	}
	return &Participant{}
}
