package watcher

import (
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gregdel/pushover"
	"github.com/pkg/errors"
)

type FeedbackType string

const (
	FeedbackSuccess FeedbackType = "success"
	FeedbackError   FeedbackType = "error"
)

// Feedback is a user-facing notice about the outcome of a dispatch.
type Feedback struct {
	Ident   string       `json:"ident"`
	Message string       `json:"message"`
	Type    FeedbackType `json:"type"`
	At      time.Time    `json:"at"`
}

type Notifier interface {
	Notify(f Feedback) error
}

// PushoverFacade is a wrapper on a Pushover client and a recipient. It simplifies function signatures that depend on both.
type PushoverFacade struct {
	push      *pushover.Pushover
	recipient *pushover.Recipient
}

func NewPushoverFacade(token, recipient string) *PushoverFacade {
	return &PushoverFacade{
		push:      pushover.New(token),
		recipient: pushover.NewRecipient(recipient),
	}
}

func (p *PushoverFacade) SendMessageWithTitle(message, title string) (*pushover.Response, error) {
	return p.push.SendMessage(pushover.NewMessageWithTitle(message, title), p.recipient)
}

func (p *PushoverFacade) Notify(f Feedback) error {
	title := "Doorguard"
	if f.Type == FeedbackError {
		title = "Doorguard error"
	}
	_, err := p.SendMessageWithTitle(f.Message, title)
	return errors.Wrap(err, "cannot send pushover notification")
}

// LogNotifier writes feedback to the log.
type LogNotifier struct{}

func (LogNotifier) Notify(f Feedback) error {
	if f.Type == FeedbackError {
		glog.Warningf("[%s] %s", f.Ident, f.Message)
	} else {
		glog.Infof("[%s] %s", f.Ident, f.Message)
	}
	return nil
}

// MultiNotifier delivers feedback to every notifier, even if some fail.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(f Feedback) error {
	var first error
	for _, n := range m {
		if err := n.Notify(f); err != nil {
			glog.Errorf("Cannot deliver feedback for %s: %s", f.Ident, err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// FeedbackLog keeps the most recent feedback in memory.
type FeedbackLog struct {
	mu    sync.Mutex
	items []Feedback
	next  int
	full  bool
}

func NewFeedbackLog(size int) *FeedbackLog {
	if size <= 0 {
		size = 1
	}
	return &FeedbackLog{items: make([]Feedback, size)}
}

func (l *FeedbackLog) Notify(f Feedback) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items[l.next] = f
	l.next = (l.next + 1) % len(l.items)
	if l.next == 0 {
		l.full = true
	}
	return nil
}

// Recent returns stored feedback, newest first.
func (l *FeedbackLog) Recent() []Feedback {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.next
	if l.full {
		n = len(l.items)
	}
	out := make([]Feedback, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, l.items[(l.next-i+len(l.items))%len(l.items)])
	}
	return out
}
