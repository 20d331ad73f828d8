package kahoot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ws "github.com/gokatarajesh/live-quiz/pkg/http/ws"
)

func TestCharacterExclusive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.create(t, "quiz-3")

	clients := make([]*Client, 5)
	for i := range clients {
		clients[i] = &Client{Role: ws.RoleStudent, UserID: string(rune('a' + i)), Name: "n", PIN: res.PIN, Peer: &fakePeer{}}
		require.NoError(t, h.svc.ConnectStudent(ctx, clients[i]))
	}

	errs := make([]error, len(clients))
	var wg sync.WaitGroup
	for i, c := range clients {
		wg.Add(1)
		go func(i int, c *Client) {
			defer wg.Done()
			errs[i] = h.svc.SelectCharacter(ctx, c, 3)
		}(i, c)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, errCharacterTaken), errors.Is(err, ErrLockBusy):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, winners)

	taken, err := h.state.TakenCharacters(ctx, res.PIN)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, taken)
}

func TestCharacterSwitchReleasesPrevious(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.create(t, "quiz-3")
	c, peer := h.student(t, res.PIN, "s1", 2)

	require.NoError(t, h.svc.SelectCharacter(ctx, c, 5))
	taken, err := h.state.TakenCharacters(ctx, res.PIN)
	require.NoError(t, err)
	assert.Equal(t, []int{5}, taken)

	// reselecting the held character just re-acknowledges
	require.NoError(t, h.svc.SelectCharacter(ctx, c, 5))
	msg, ok := peer.last(ws.TypeCharacterAcknowledged)
	require.True(t, ok)
	assert.Equal(t, 5, decode[ws.CharacterAcknowledgedPayload](t, msg).Character)

	assert.ErrorIs(t, h.svc.SelectCharacter(ctx, c, 10), errInvalidCharacter)
	assert.ErrorIs(t, h.svc.SelectCharacter(ctx, c, -1), errInvalidCharacter)

	data := decode[ws.CharacterDataPayload](t, h.bus.studentsOfType(ws.TypeCharacterData)[1])
	assert.Equal(t, []int{5}, data.Taken)
	assert.Len(t, data.Available, 9)
	assert.NotContains(t, data.Available, 5)
}

func TestLobbyDisconnectFreesCharacter(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.create(t, "quiz-3")
	c, _ := h.student(t, res.PIN, "s1", 4)

	require.NoError(t, h.svc.DisconnectStudent(ctx, c))
	taken, err := h.state.TakenCharacters(ctx, res.PIN)
	require.NoError(t, err)
	assert.Empty(t, taken)

	p, err := h.state.GetParticipant(ctx, res.PIN, "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusDisconnected, p.Status)
	assert.Nil(t, p.Character)
	assert.Len(t, h.bus.teacherOfType(ws.TypeStudentDisconnected), 1)

	// someone else can take it now
	h.student(t, res.PIN, "s2", 4)
}

func TestDisconnectAfterStartKeepsCharacter(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.create(t, "quiz-3")
	teacher, _ := h.teacher(t, res.PIN)
	c, _ := h.student(t, res.PIN, "s1", 4)
	require.NoError(t, h.svc.StartQuiz(ctx, teacher))

	require.NoError(t, h.svc.DisconnectStudent(ctx, c))
	taken, err := h.state.TakenCharacters(ctx, res.PIN)
	require.NoError(t, err)
	assert.Equal(t, []int{4}, taken)

	// the only active student left, so the question closes
	assert.Len(t, h.bus.teacherOfType(ws.TypeAllStudentsSubmitted), 1)
}

func TestSubmitScoring(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.create(t, "quiz-3")
	teacher, _ := h.teacher(t, res.PIN)
	fast, _ := h.student(t, res.PIN, "fast", 0)
	slow, _ := h.student(t, res.PIN, "slow", 1)
	wrong, _ := h.student(t, res.PIN, "wrong", 2)

	require.NoError(t, h.svc.StartQuiz(ctx, teacher))
	qid := h.session(t, res.PIN).CurrentQuestionID

	require.NoError(t, h.submit(ctx, fast, qid, 1, 0))
	require.NoError(t, h.submit(ctx, slow, qid, 1, 20000))
	require.NoError(t, h.submit(ctx, wrong, qid, 3, 0))

	for id, want := range map[string]int{"fast": 1000, "slow": 500, "wrong": 0} {
		p, err := h.state.GetParticipant(ctx, res.PIN, id)
		require.NoError(t, err)
		assert.Equal(t, want, p.Score, id)
	}

	summary := decode[ws.AllStudentsSubmittedPayload](t, h.bus.teacherOfType(ws.TypeAllStudentsSubmitted)[0])
	require.Len(t, summary.Results, 3)
	assert.Equal(t, "fast", summary.Results[0].StudentID)
	assert.Equal(t, "slow", summary.Results[1].StudentID)
	assert.Equal(t, 3, summary.Results[2].Rank)
	assert.False(t, summary.Results[2].Correct)
}

func TestSubmitServerClockFallback(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	start := time.UnixMilli(1_700_000_000_000)
	h.svc.now = func() time.Time { return start }

	res := h.create(t, "quiz-3")
	teacher, _ := h.teacher(t, res.PIN)
	c, _ := h.student(t, res.PIN, "s1", 0)
	h.student(t, res.PIN, "s2", 1)
	require.NoError(t, h.svc.StartQuiz(ctx, teacher))

	h.svc.now = func() time.Time { return start.Add(10 * time.Second) }
	answer := 1
	require.NoError(t, h.svc.SubmitAnswer(ctx, c, ws.SubmitAnswerPayload{
		QuestionID:  h.session(t, res.PIN).CurrentQuestionID,
		AnswerIndex: &answer,
	}))

	p, err := h.state.GetParticipant(ctx, res.PIN, "s1")
	require.NoError(t, err)
	require.Len(t, p.Responses, 1)
	assert.Equal(t, int64(10000), p.Responses[0].ResponseTimeMs)
	assert.Equal(t, 750, p.Score)
}

func TestSubmitRejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.create(t, "quiz-3")
	teacher, _ := h.teacher(t, res.PIN)
	c, peer := h.student(t, res.PIN, "s1", 0)
	h.student(t, res.PIN, "s2", 1)

	assert.ErrorIs(t, h.submit(ctx, c, "quiz-3-q1", 1, 0), errQuestionNotActive)

	require.NoError(t, h.svc.StartQuiz(ctx, teacher))
	qid := h.session(t, res.PIN).CurrentQuestionID

	assert.ErrorIs(t, h.submit(ctx, c, "quiz-3-q2", 1, 0), errInvalidQuestion)
	assert.ErrorIs(t, h.submit(ctx, c, qid, 4, 0), errInvalidAnswer)
	assert.ErrorIs(t, h.svc.SubmitAnswer(ctx, c, ws.SubmitAnswerPayload{QuestionID: qid}), errInvalidAnswer)

	stranger := &Client{Role: ws.RoleStudent, UserID: "nobody", PIN: res.PIN, Peer: &fakePeer{}}
	assert.ErrorIs(t, h.submit(ctx, stranger, qid, 1, 0), errNotParticipating)

	require.NoError(t, h.submit(ctx, c, qid, 1, 0))
	_, ok := peer.last(ws.TypeAnswerSubmitted)
	assert.True(t, ok)
	assert.ErrorIs(t, h.submit(ctx, c, qid, 2, 0), errAlreadySubmitted)

	p, err := h.state.GetParticipant(ctx, res.PIN, "s1")
	require.NoError(t, err)
	assert.Len(t, p.Responses, 1)
	assert.Equal(t, 1000, p.Score)

	progress := h.bus.teacherOfType(ws.TypeStudentSubmitted)
	require.Len(t, progress, 1)
	payload := decode[ws.StudentSubmittedPayload](t, progress[0])
	assert.Equal(t, 1, payload.SubmittedCount)
	assert.Equal(t, 2, payload.ActiveCount)
}

func TestLateJoinerWaitsThenIsPromoted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.create(t, "quiz-3")
	teacher, _ := h.teacher(t, res.PIN)
	s1, _ := h.student(t, res.PIN, "s1", 0)
	s2, _ := h.student(t, res.PIN, "s2", 1)
	require.NoError(t, h.svc.StartQuiz(ctx, teacher))
	qid := h.session(t, res.PIN).CurrentQuestionID

	late, latePeer := h.student(t, res.PIN, "late", 2)
	ack, ok := latePeer.last(ws.TypeCharacterAcknowledged)
	require.True(t, ok)
	assert.Equal(t, StatusWaiting, decode[ws.CharacterAcknowledgedPayload](t, ack).Status)
	assert.ErrorIs(t, h.submit(ctx, late, qid, 1, 0), errNotParticipating)

	require.NoError(t, h.submit(ctx, s1, qid, 1, 0))
	require.NoError(t, h.submit(ctx, s2, qid, 1, 0))

	rounds := h.bus.feedbackRounds()
	require.Len(t, rounds, 1)
	assert.NotContains(t, rounds[0], "late")

	p, err := h.state.GetParticipant(ctx, res.PIN, "late")
	require.NoError(t, err)
	assert.Equal(t, StatusParticipating, p.Status)

	counts := h.bus.teacherOfType(ws.TypeActiveStudentCountUpdated)
	require.Len(t, counts, 1)
	assert.Equal(t, 3, decode[ws.ActiveStudentCountPayload](t, counts[0]).Count)

	require.NoError(t, h.svc.NextQuestion(ctx, teacher))
	next := h.bus.activeOfType(ws.TypeNewQuestion)
	require.Len(t, next, 1)
	assert.ElementsMatch(t, []string{"late", "s1", "s2"}, next[0].recipients)
}

func TestLateJoinerAfterFinalizationIsParticipating(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.create(t, "quiz-3")
	teacher, _ := h.teacher(t, res.PIN)
	s1, _ := h.student(t, res.PIN, "s1", 0)
	require.NoError(t, h.svc.StartQuiz(ctx, teacher))

	// Read while Q1 is still open, then let Q1 close before the claim runs.
	before := h.session(t, res.PIN)
	require.True(t, before.IsQuestionActive)
	require.NoError(t, h.submit(ctx, s1, before.CurrentQuestionID, 1, 0))
	require.False(t, h.session(t, res.PIN).IsQuestionActive)

	latePeer := &fakePeer{}
	late := &Client{Role: ws.RoleStudent, UserID: "late", Name: "Student late", PIN: res.PIN, Peer: latePeer}
	require.NoError(t, h.svc.claimCharacter(ctx, late, before, 2))

	ack, ok := latePeer.last(ws.TypeCharacterAcknowledged)
	require.True(t, ok)
	assert.Equal(t, StatusParticipating, decode[ws.CharacterAcknowledgedPayload](t, ack).Status)

	ids, err := h.state.StudentIDs(ctx, res.PIN)
	require.NoError(t, err)
	assert.Contains(t, ids, "late")

	require.NoError(t, h.svc.NextQuestion(ctx, teacher))
	q2 := h.session(t, res.PIN).CurrentQuestionID
	require.NotEqual(t, before.CurrentQuestionID, q2)
	next := h.bus.activeOfType(ws.TypeNewQuestion)
	require.Len(t, next, 1)
	assert.ElementsMatch(t, []string{"late", "s1"}, next[0].recipients)
	assert.NoError(t, h.submit(ctx, late, q2, 1, 0))
}

func TestRejoinAfterFinalizationIsParticipating(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.create(t, "quiz-3")
	teacher, _ := h.teacher(t, res.PIN)
	s1, _ := h.student(t, res.PIN, "s1", 0)
	s2, _ := h.student(t, res.PIN, "s2", 1)
	require.NoError(t, h.svc.StartQuiz(ctx, teacher))
	q1 := h.session(t, res.PIN).CurrentQuestionID

	require.NoError(t, h.svc.DisconnectStudent(ctx, s2))
	require.NoError(t, h.submit(ctx, s1, q1, 1, 0))
	require.False(t, h.session(t, res.PIN).IsQuestionActive)

	peer := &fakePeer{}
	again := &Client{Role: ws.RoleStudent, UserID: s2.UserID, Name: s2.Name, PIN: res.PIN, Peer: peer}
	require.NoError(t, h.svc.ConnectStudent(ctx, again))
	ack, ok := peer.last(ws.TypeCharacterAcknowledged)
	require.True(t, ok)
	assert.Equal(t, StatusParticipating, decode[ws.CharacterAcknowledgedPayload](t, ack).Status)

	require.NoError(t, h.svc.NextQuestion(ctx, teacher))
	assert.NoError(t, h.submit(ctx, again, h.session(t, res.PIN).CurrentQuestionID, 1, 0))
}

func TestRejoinKeepsRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.create(t, "quiz-3")
	teacher, _ := h.teacher(t, res.PIN)
	s1, _ := h.student(t, res.PIN, "s1", 0)
	h.student(t, res.PIN, "s2", 1)
	require.NoError(t, h.svc.StartQuiz(ctx, teacher))
	qid := h.session(t, res.PIN).CurrentQuestionID

	require.NoError(t, h.submit(ctx, s1, qid, 1, 0))
	require.NoError(t, h.svc.DisconnectStudent(ctx, s1))

	peer := &fakePeer{}
	again := &Client{Role: ws.RoleStudent, UserID: "s1", Name: "Student s1", PIN: res.PIN, Peer: peer}
	require.NoError(t, h.svc.ConnectStudent(ctx, again))

	ack, ok := peer.last(ws.TypeCharacterAcknowledged)
	require.True(t, ok)
	payload := decode[ws.CharacterAcknowledgedPayload](t, ack)
	assert.Equal(t, 0, payload.Character)
	assert.Equal(t, StatusParticipating, payload.Status, "already answered, so not parked as waiting")

	p, err := h.state.GetParticipant(ctx, res.PIN, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1000, p.Score)
}

func TestJoinStatus(t *testing.T) {
	lobby := &Session{}
	live := &Session{QuizStarted: true, IsQuestionActive: true, QuestionStartTime: 1}
	leadIn := &Session{QuizStarted: true, IsQuestionActive: true}
	closed := &Session{QuizStarted: true, QuestionStartTime: 1}

	assert.Equal(t, StatusParticipating, joinStatus(lobby, nil))
	assert.Equal(t, StatusWaiting, joinStatus(live, nil))
	assert.Equal(t, StatusWaiting, joinStatus(live, &Participant{}))
	assert.Equal(t, StatusParticipating, joinStatus(live, &Participant{HasSubmitted: true}))
	assert.Equal(t, StatusParticipating, joinStatus(leadIn, nil))
	assert.Equal(t, StatusParticipating, joinStatus(closed, nil))
}
