package plugin

import (
	"html"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
)

const (
	maxNoticeLength = 200
	noticeRateLimit = 5 // per plugin per minute
	maxQueuedNotice = 50
)

// Notice is a message a plugin shows on the next admin page.
type Notice struct {
	Class   string    `json:"class"`
	Message string    `json:"message"`
	Type    string    `json:"type"`
	Time    time.Time `json:"time"`
}

// Notices queues admin notices until they are drained.
type Notices struct {
	mu    sync.Mutex
	queue []Notice
}

func (n *Notices) push(notice Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.queue) >= maxQueuedNotice {
		n.queue = n.queue[1:]
	}
	n.queue = append(n.queue, notice)
}

// Drain returns the queued notices and empties the queue.
func (n *Notices) Drain() []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.queue
	n.queue = nil
	return out
}

// NoticeAPI provides the notice module.
type NoticeAPI struct {
	class   string
	notices *Notices

	mu        sync.Mutex
	callTimes []time.Time
}

// NewNoticeAPI creates the notice module for a plugin.
func NewNoticeAPI(class string, notices *Notices) *NoticeAPI {
	return &NoticeAPI{class: class, notices: notices}
}

// Register adds the notice module to the Lua state
func (a *NoticeAPI) Register(L *lua.LState) {
	mod := L.NewTable()
	mod.RawSetString("add", L.NewFunction(a.add))
	L.SetGlobal("notice", mod)
}

// notice.add(message[, type]) returns false when rate limited.
func (a *NoticeAPI) add(L *lua.LState) int {
	message := L.CheckString(1)
	kind := L.OptString(2, "info")

	switch kind {
	case "info", "success", "warning", "error":
	default:
		kind = "info"
	}
	if r := []rune(message); len(r) > maxNoticeLength {
		message = string(r[:maxNoticeLength-3]) + "..."
	}

	now := time.Now()
	a.mu.Lock()
	recent := a.callTimes[:0]
	for _, t := range a.callTimes {
		if now.Sub(t) < time.Minute {
			recent = append(recent, t)
		}
	}
	a.callTimes = recent
	if len(a.callTimes) >= noticeRateLimit {
		a.mu.Unlock()
		L.Push(lua.LFalse)
		return 1
	}
	a.callTimes = append(a.callTimes, now)
	a.mu.Unlock()

	a.notices.push(Notice{
		Class:   a.class,
		Message: html.EscapeString(message),
		Type:    kind,
		Time:    now,
	})

	L.Push(lua.LTrue)
	return 1
}
