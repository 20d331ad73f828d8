package ws

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePeer struct {
	mu     sync.Mutex
	msgs   []Message
	closed bool
}

func (p *fakePeer) Send(msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrConnectionClosed
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *fakePeer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *fakePeer) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.msgs))
	for _, m := range p.msgs {
		out = append(out, m.Type)
	}
	return out
}

type fakeSubscriber struct {
	mu    sync.Mutex
	calls []string
	fail  bool
}

func (s *fakeSubscriber) Subscribe(_ context.Context, pin string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("redis down")
	}
	s.calls = append(s.calls, "sub:"+pin)
	return nil
}

func (s *fakeSubscriber) Unsubscribe(_ context.Context, pin string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "unsub:"+pin)
	return nil
}

func TestRegistrySubscribesOncePerPin(t *testing.T) {
	subs := &fakeSubscriber{}
	r := NewRegistry(subs, nil, zerolog.Nop())
	ctx := context.Background()

	teacher := &fakePeer{}
	s1, s2 := &fakePeer{}, &fakePeer{}
	require.NoError(t, r.RegisterTeacher(ctx, "111111", "t1", teacher))
	require.NoError(t, r.RegisterStudent(ctx, "111111", "s1", s1))
	require.NoError(t, r.RegisterStudent(ctx, "111111", "s2", s2))
	assert.Equal(t, []string{"sub:111111"}, subs.calls)
	assert.Equal(t, 3, r.LocalCount("111111"))

	assert.True(t, r.UnregisterStudent(ctx, "111111", "s1", s1))
	assert.True(t, r.UnregisterTeacher(ctx, "111111", teacher))
	assert.True(t, r.Subscribed("111111"), "one student still held")

	assert.True(t, r.UnregisterStudent(ctx, "111111", "s2", s2))
	assert.False(t, r.Subscribed("111111"))
	assert.Equal(t, []string{"sub:111111", "unsub:111111"}, subs.calls)
}

func TestRegistryReplacedSocketDoesNotUnregister(t *testing.T) {
	r := NewRegistry(&fakeSubscriber{}, nil, zerolog.Nop())
	ctx := context.Background()

	old, fresh := &fakePeer{}, &fakePeer{}
	require.NoError(t, r.RegisterStudent(ctx, "222222", "s1", old))
	require.NoError(t, r.RegisterStudent(ctx, "222222", "s1", fresh))
	assert.True(t, old.closed)

	assert.False(t, r.UnregisterStudent(ctx, "222222", "s1", old))
	assert.Equal(t, 1, r.LocalCount("222222"))

	r.DeliverStudents("222222", nil, Message{Type: TypeTimeLeft})
	assert.Equal(t, []string{TypeTimeLeft}, fresh.types())
}

func TestRegistrySubscribeFailureRejectsSocket(t *testing.T) {
	r := NewRegistry(&fakeSubscriber{fail: true}, nil, zerolog.Nop())

	err := r.RegisterStudent(context.Background(), "333333", "s1", &fakePeer{})
	assert.Error(t, err)
	assert.Zero(t, r.LocalCount("333333"))
}

func TestRegistryDelivery(t *testing.T) {
	r := NewRegistry(&fakeSubscriber{}, nil, zerolog.Nop())
	ctx := context.Background()

	teacher, s1, s2 := &fakePeer{}, &fakePeer{}, &fakePeer{}
	require.NoError(t, r.RegisterTeacher(ctx, "444444", "t1", teacher))
	require.NoError(t, r.RegisterStudent(ctx, "444444", "s1", s1))
	require.NoError(t, r.RegisterStudent(ctx, "444444", "s2", s2))

	assert.Equal(t, 1, r.DeliverStudents("444444", []string{"s2", "remote"}, Message{Type: TypeNewQuestion}))
	assert.Equal(t, 1, r.DeliverTeacher("444444", Message{Type: TypeStudentJoined}))
	assert.Equal(t, 2, r.DeliverEach("444444", map[string]Message{
		"s1": {Type: TypeFeedback},
		"s2": {Type: TypeFeedback},
		"s9": {Type: TypeFeedback},
	}))

	assert.Equal(t, []string{TypeFeedback}, s1.types())
	assert.Equal(t, []string{TypeNewQuestion, TypeFeedback}, s2.types())
	assert.Equal(t, []string{TypeStudentJoined}, teacher.types())

	assert.Equal(t, 2, r.ForceCloseStudents("444444"))
	assert.True(t, s1.closed)
	assert.True(t, s2.closed)
	assert.False(t, teacher.closed)
}

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage(TypeTimeLeft, TimeLeftPayload{Seconds: 7})
	require.NoError(t, err)
	assert.JSONEq(t, `{"seconds":7}`, string(msg.Payload))

	msg, err = NewMessage(TypeQuizCompleted, nil)
	require.NoError(t, err)
	assert.Nil(t, msg.Payload)
}
