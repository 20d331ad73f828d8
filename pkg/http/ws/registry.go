package ws

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const (
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// Subscriber attaches this instance to a session's broadcast channels.
type Subscriber interface {
	Subscribe(ctx context.Context, pin string) error
	Unsubscribe(ctx context.Context, pin string) error
}

type localSession struct {
	teacherID  string
	teacher    Peer
	students   map[string]Peer
	subscribed bool
}

func (s *localSession) empty() bool {
	return s.teacher == nil && len(s.students) == 0
}

// Registry tracks the sockets this instance holds, keyed by session PIN. The
// first socket for a PIN subscribes the instance to the PIN's channels and
// the last one to leave unsubscribes it.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*localSession
	subs     Subscriber
	gauge    *prometheus.GaugeVec
	logger   zerolog.Logger
}

// NewRegistry creates a registry. gauge may be nil.
func NewRegistry(subs Subscriber, gauge *prometheus.GaugeVec, logger zerolog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*localSession),
		subs:     subs,
		gauge:    gauge,
		logger:   logger.With().Str("component", "connection_registry").Logger(),
	}
}

// SetSubscriber wires the broadcast fabric after construction.
func (r *Registry) SetSubscriber(subs Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = subs
}

// ensure returns the PIN entry, subscribing on first use. Caller holds r.mu.
func (r *Registry) ensure(ctx context.Context, pin string) (*localSession, error) {
	sess, ok := r.sessions[pin]
	if !ok {
		sess = &localSession{students: make(map[string]Peer)}
		r.sessions[pin] = sess
	}
	if !sess.subscribed && r.subs != nil {
		if err := r.subs.Subscribe(ctx, pin); err != nil {
			if sess.empty() {
				delete(r.sessions, pin)
			}
			return nil, fmt.Errorf("subscribe %s: %w", pin, err)
		}
		sess.subscribed = true
	}
	return sess, nil
}

// release drops the PIN entry once it holds no sockets. Caller holds r.mu.
func (r *Registry) release(ctx context.Context, pin string, sess *localSession) {
	if !sess.empty() {
		return
	}
	delete(r.sessions, pin)
	if sess.subscribed && r.subs != nil {
		if err := r.subs.Unsubscribe(ctx, pin); err != nil {
			r.logger.Warn().Err(err).Str("pin", pin).Msg("unsubscribe failed")
		}
	}
}

// RegisterTeacher attaches the teacher socket for pin, replacing any previous one.
func (r *Registry) RegisterTeacher(ctx context.Context, pin, teacherID string, peer Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, err := r.ensure(ctx, pin)
	if err != nil {
		return err
	}
	if sess.teacher != nil && sess.teacher != peer {
		sess.teacher.Close()
	} else if sess.teacher == nil {
		r.track(RoleTeacher, 1)
	}
	sess.teacher = peer
	sess.teacherID = teacherID
	return nil
}

// RegisterStudent attaches a student socket, replacing a previous socket for the same student.
func (r *Registry) RegisterStudent(ctx context.Context, pin, studentID string, peer Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, err := r.ensure(ctx, pin)
	if err != nil {
		return err
	}
	if old, ok := sess.students[studentID]; ok && old != peer {
		old.Close()
	} else if !ok {
		r.track(RoleStudent, 1)
	}
	sess.students[studentID] = peer
	return nil
}

// UnregisterTeacher detaches the teacher socket. It reports false when peer
// was already replaced, in which case nothing changes.
func (r *Registry) UnregisterTeacher(ctx context.Context, pin string, peer Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[pin]
	if !ok || sess.teacher != peer {
		return false
	}
	sess.teacher = nil
	sess.teacherID = ""
	r.track(RoleTeacher, -1)
	r.release(ctx, pin, sess)
	return true
}

// UnregisterStudent detaches a student socket. It reports false when peer
// was already replaced by a newer socket for the same student.
func (r *Registry) UnregisterStudent(ctx context.Context, pin, studentID string, peer Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[pin]
	if !ok {
		return false
	}
	if current, ok := sess.students[studentID]; !ok || current != peer {
		return false
	}
	delete(sess.students, studentID)
	r.track(RoleStudent, -1)
	r.release(ctx, pin, sess)
	return true
}

// Subscribed reports whether this instance listens on pin's channels.
func (r *Registry) Subscribed(pin string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[pin]
	return ok && sess.subscribed
}

// LocalCount returns the number of sockets held for pin.
func (r *Registry) LocalCount(pin string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[pin]
	if !ok {
		return 0
	}
	n := len(sess.students)
	if sess.teacher != nil {
		n++
	}
	return n
}

// DeliverStudents sends msg to local students of pin. A nil recipients list
// means every student; otherwise only the listed ids.
func (r *Registry) DeliverStudents(pin string, recipients []string, msg Message) int {
	r.mu.Lock()
	sess, ok := r.sessions[pin]
	var peers []Peer
	if ok {
		if recipients == nil {
			for _, p := range sess.students {
				peers = append(peers, p)
			}
		} else {
			for _, id := range recipients {
				if p, ok := sess.students[id]; ok {
					peers = append(peers, p)
				}
			}
		}
	}
	r.mu.Unlock()

	return r.sendAll(pin, peers, msg)
}

// DeliverTeacher sends msg to the teacher of pin if held locally.
func (r *Registry) DeliverTeacher(pin string, msg Message) int {
	r.mu.Lock()
	var peer Peer
	if sess, ok := r.sessions[pin]; ok {
		peer = sess.teacher
	}
	r.mu.Unlock()

	if peer == nil {
		return 0
	}
	return r.sendAll(pin, []Peer{peer}, msg)
}

// DeliverEach sends every local student their own message.
func (r *Registry) DeliverEach(pin string, perStudent map[string]Message) int {
	type target struct {
		peer Peer
		msg  Message
	}
	r.mu.Lock()
	var targets []target
	if sess, ok := r.sessions[pin]; ok {
		for id, msg := range perStudent {
			if p, ok := sess.students[id]; ok {
				targets = append(targets, target{peer: p, msg: msg})
			}
		}
	}
	r.mu.Unlock()

	delivered := 0
	for _, t := range targets {
		delivered += r.sendAll(pin, []Peer{t.peer}, t.msg)
	}
	return delivered
}

// ForceCloseStudents closes every local student socket of pin. The sockets
// unregister themselves as their read loops exit.
func (r *Registry) ForceCloseStudents(pin string) int {
	r.mu.Lock()
	var peers []Peer
	if sess, ok := r.sessions[pin]; ok {
		for _, p := range sess.students {
			peers = append(peers, p)
		}
	}
	r.mu.Unlock()

	for _, p := range peers {
		p.Close()
	}
	return len(peers)
}

func (r *Registry) sendAll(pin string, peers []Peer, msg Message) int {
	sent := 0
	for _, p := range peers {
		if err := p.Send(msg); err != nil {
			r.logger.Debug().Err(err).Str("pin", pin).Str("type", msg.Type).Msg("deliver failed")
			continue
		}
		sent++
	}
	return sent
}

func (r *Registry) track(role string, delta float64) {
	if r.gauge == nil {
		return
	}
	r.gauge.WithLabelValues(role).Add(delta)
}
