// Package authtest provides fakes for exercising the auth flows in tests.
package authtest

import (
	"context"
	"sync"
	"time"

	"github.com/hongminglow/tours-be/internal/mail"
)

// Clock is a manually advanced clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a Clock frozen at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Mailer records sent messages and fails with Err when it is set.
type Mailer struct {
	mu        sync.Mutex
	Err       error
	sent      []mail.Message
	attempted []mail.Message
}

// Send records msg or returns the configured error.
func (m *Mailer) Send(ctx context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempted = append(m.attempted, msg)
	if m.Err != nil {
		return m.Err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.sent = append(m.sent, msg)
	return nil
}

// FailWith makes subsequent sends return err; nil restores delivery.
func (m *Mailer) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = err
}

// Sent returns a copy of the delivered messages.
func (m *Mailer) Sent() []mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mail.Message(nil), m.sent...)
}

// Attempted returns every message passed to Send, delivered or not.
func (m *Mailer) Attempted() []mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mail.Message(nil), m.attempted...)
}

// Last returns the most recent delivered message.
func (m *Mailer) Last() (mail.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return mail.Message{}, false
	}
	return m.sent[len(m.sent)-1], true
}

// Observer counts flow outcomes and guard rejections.
type Observer struct {
	mu         sync.Mutex
	Flows      map[string]int
	Rejections map[string]int
}

// NewObserver creates an empty Observer.
func NewObserver() *Observer {
	return &Observer{Flows: map[string]int{}, Rejections: map[string]int{}}
}

// FlowCompleted counts flow/outcome pairs as "flow:outcome".
func (o *Observer) FlowCompleted(flow, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Flows[flow+":"+outcome]++
}

// GuardRejected counts rejections by reason.
func (o *Observer) GuardRejected(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Rejections[reason]++
}

// FlowCount returns how often flow ended with outcome.
func (o *Observer) FlowCount(flow, outcome string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.Flows[flow+":"+outcome]
}

// RejectionCount returns how often the guard rejected for reason.
func (o *Observer) RejectionCount(reason string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.Rejections[reason]
}
