package workflow

import (
	"context"
	"sync"
	"time"

	"casewizard/internal/credits"
)

// NoticeKind identifies a user-visible notice.
type NoticeKind string

const (
	NoticeReconnecting        NoticeKind = "reconnecting"
	NoticeLowBalance          NoticeKind = "low_balance"
	NoticeInsufficientCredits NoticeKind = "insufficient_credits"
	NoticeSoftTissueAdded     NoticeKind = "soft_tissue_added"
	NoticeAgePlaceholder      NoticeKind = "age_placeholder"
	NoticeSubmissionSuccess   NoticeKind = "submission_success"
	NoticePartialSuccess      NoticeKind = "partial_success"
	NoticeSubmissionFailed    NoticeKind = "submission_failed"
)

// NoticeLevel grades a notice for display.
type NoticeLevel string

const (
	LevelInfo    NoticeLevel = "info"
	LevelWarning NoticeLevel = "warning"
	LevelError   NoticeLevel = "error"
)

// Notice is a toast-style message. ActionPath, when set, is where
// FollowNotice navigates.
type Notice struct {
	Kind       NoticeKind       `json:"kind"`
	Level      NoticeLevel      `json:"level"`
	Message    string           `json:"message"`
	ActionPath string           `json:"action_path,omitempty"`
	Attempt    int              `json:"attempt,omitempty"`
	Delay      time.Duration    `json:"delay,omitempty"`
	ItemIDs    []string         `json:"item_ids,omitempty"`
	Credits    *credits.Warning `json:"credits,omitempty"`
}

// Notifier receives notices.
type Notifier interface {
	Notify(n Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

// Notify implements Notifier.
func (f NotifierFunc) Notify(n Notice) { f(n) }

type noopNotifier struct{}

func (noopNotifier) Notify(Notice) {}

// NoticeLog records notices in memory.
type NoticeLog struct {
	mu      sync.Mutex
	notices []Notice
}

// Notify implements Notifier.
func (l *NoticeLog) Notify(n Notice) {
	l.mu.Lock()
	l.notices = append(l.notices, n)
	l.mu.Unlock()
}

// Notices returns a copy of every recorded notice.
func (l *NoticeLog) Notices() []Notice {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Notice(nil), l.notices...)
}

// Count returns how many notices of kind were recorded.
func (l *NoticeLog) Count(kind NoticeKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, notice := range l.notices {
		if notice.Kind == kind {
			n++
		}
	}
	return n
}

// Last returns the most recent notice of kind.
func (l *NoticeLog) Last(kind NoticeKind) (Notice, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.notices) - 1; i >= 0; i-- {
		if l.notices[i].Kind == kind {
			return l.notices[i], true
		}
	}
	return Notice{}, false
}

func creditNotice(kind NoticeKind, w credits.Warning) Notice {
	level := LevelWarning
	msg := "Your credit balance is running low."
	if w.Level == credits.WarningHard {
		level = LevelError
		msg = "You have no credits left. Top up to continue."
	}
	if kind == NoticeInsufficientCredits && w.Level != credits.WarningHard {
		msg = "Not enough credits for this operation."
	}
	wc := w
	return Notice{Kind: kind, Level: level, Message: msg, ActionPath: w.ActionPath, Credits: &wc}
}

// FollowNotice performs a notice's action, if it has one.
func (e *Engine) FollowNotice(ctx context.Context, n Notice) error {
	if n.ActionPath == "" || e.navigation == nil {
		return nil
	}
	return e.navigation.NavigateTo(ctx, n.ActionPath)
}
