// Package notify delivers task event emails through a buffered queue.
// Handlers enqueue and move on; a worker goroutine sends in the
// background with one retry, and Stop drains whatever is queued.
package notify

import (
	"context"
	"fmt"
	"html"
	"log"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"taskdesk/internal/models"
)

// Event names the task lifecycle moments that trigger an email.
type Event string

const (
	EventCreated     Event = "task-created"
	EventReturned    Event = "task-returned"
	EventCompleted   Event = "task-completed"
	EventResubmitted Event = "task-resubmitted"
)

// Message is one queued notification.
type Message struct {
	Event Event
	Task  *models.Task
	// Extra carries event context, e.g. the return reason.
	Extra string
}

// Sender delivers a rendered email.
type Sender interface {
	Send(to, subject, htmlBody string) error
}

// Queue buffers messages and delivers them from a single worker.
type Queue struct {
	sender Sender
	ch     chan Message
	wg     sync.WaitGroup
	once   sync.Once

	mu      sync.Mutex
	pending int
}

// NewQueue creates a queue with the given buffer size and starts the
// worker.
func NewQueue(sender Sender, buffer int) *Queue {
	if buffer <= 0 {
		buffer = 64
	}
	q := &Queue{sender: sender, ch: make(chan Message, buffer)}
	q.wg.Add(1)
	go q.worker()
	return q
}

// Enqueue queues a notification. A full queue drops the message with a
// log line; email is best-effort and must never block a mutation.
func (q *Queue) Enqueue(event Event, task *models.Task, extra string) {
	if task == nil || task.AssignedEmail == "" {
		return
	}
	msg := Message{Event: event, Task: task, Extra: extra}
	select {
	case q.ch <- msg:
		q.mu.Lock()
		q.pending++
		q.mu.Unlock()
	default:
		log.Printf("notify: queue full, dropping %s for %s", event, task.TaskID)
	}
}

// Pending returns the number of queued, undelivered messages.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// Stop closes the queue and waits for the worker to drain it.
func (q *Queue) Stop() {
	q.once.Do(func() { close(q.ch) })
	q.wg.Wait()
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for msg := range q.ch {
		q.deliver(msg)
		q.mu.Lock()
		q.pending--
		q.mu.Unlock()
	}
}

func (q *Queue) deliver(msg Message) {
	subject, body := Render(msg)
	err := q.sender.Send(msg.Task.AssignedEmail, subject, body)
	if err == nil {
		return
	}
	log.Printf("notify: send %s for %s: %v, retrying", msg.Event, msg.Task.TaskID, err)
	time.Sleep(time.Second)
	if err := q.sender.Send(msg.Task.AssignedEmail, subject, body); err != nil {
		log.Printf("notify: send %s for %s failed after retry: %v", msg.Event, msg.Task.TaskID, err)
	}
}

// Render builds the subject and HTML body for a message.
func Render(msg Message) (subject, body string) {
	t := msg.Task
	switch msg.Event {
	case EventCreated:
		subject = fmt.Sprintf("New task: %s", t.Title)
	case EventReturned:
		subject = fmt.Sprintf("Task returned for completion: %s", t.Title)
	case EventCompleted:
		subject = fmt.Sprintf("Task completed: %s", t.Title)
	case EventResubmitted:
		subject = fmt.Sprintf("Task resubmitted: %s", t.Title)
	default:
		subject = fmt.Sprintf("Task update: %s", t.Title)
	}

	var b strings.Builder
	b.WriteString("<html><body>")
	b.WriteString(fmt.Sprintf("<h2>%s</h2>", html.EscapeString(subject)))
	b.WriteString("<table>")
	row := func(label, value string) {
		if value == "" {
			return
		}
		b.WriteString(fmt.Sprintf("<tr><td><b>%s</b></td><td>%s</td></tr>",
			html.EscapeString(label), html.EscapeString(value)))
	}
	row("Task", t.TaskID)
	row("Title", t.Title)
	row("Category", string(t.Category))
	row("Priority", string(t.Priority))
	row("Status", string(t.Status))
	row("Assigned to", t.AssignedTo)
	row("Created by", t.CreatedBy)
	if t.DueDate != nil {
		row("Due", t.DueDate.Format("2006-01-02"))
	}
	switch msg.Event {
	case EventReturned:
		row("Reason", msg.Extra)
	case EventCompleted:
		row("Details", t.CompletionDetails)
	case EventResubmitted:
		row("Response", msg.Extra)
	}
	b.WriteString("</table></body></html>")
	return subject, b.String()
}

// SMTPSender delivers mail over SMTP with PLAIN auth.
type SMTPSender struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Send delivers one HTML email.
func (s *SMTPSender) Send(to, subject, htmlBody string) error {
	addr := fmt.Sprintf("%s:%d", s.Host, s.Port)
	var auth smtp.Auth
	if s.Username != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, s.Host)
	}
	msg := strings.Join([]string{
		"From: " + s.From,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		`Content-Type: text/html; charset="UTF-8"`,
		"",
		htmlBody,
	}, "\r\n")
	if err := smtp.SendMail(addr, auth, s.From, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}

// NopSender discards mail, for deployments without SMTP configured.
type NopSender struct{}

func (NopSender) Send(string, string, string) error { return nil }

// Drain is a convenience for shutdown paths that hold a context: it
// stops the queue but gives up when ctx expires first.
func (q *Queue) Drain(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		q.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Printf("notify: drain cancelled with %d pending", q.Pending())
	}
}
