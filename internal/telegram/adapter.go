// Package telegram delivers job reports to Telegram chats and lets a chat
// list and trigger jobs.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/expmirror/internal/jobs"
)

const maxTelegramMessage = 4096

// TargetPrefix is the delivery prefix for Telegram chats.
const TargetPrefix = "telegram:"

// JobLister is the read side of the job store.
type JobLister interface {
	List() ([]*jobs.Job, error)
	Get(name string) (*jobs.Job, error)
}

// TriggerFunc queues a run of job and returns its run ID.
type TriggerFunc func(job *jobs.Job, trigger, notify string) (string, error)

// Adapter bridges a Telegram bot to the job runner.
type Adapter struct {
	bot     *tgbotapi.BotAPI
	jobs    JobLister
	trigger TriggerFunc
}

// New creates a Telegram adapter. jobs and trigger may be nil for a
// send-only adapter.
func New(token string, jobs JobLister, trigger TriggerFunc) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return &Adapter{bot: bot, jobs: jobs, trigger: trigger}, nil
}

// Start long-polls for Telegram updates until ctx is done.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			chatID := update.Message.Chat.ID
			reply := a.handleCommand(chatID, update.Message.Command(), update.Message.CommandArguments())
			a.sendResponse(chatID, reply)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

func (a *Adapter) handleCommand(chatID int64, command, args string) string {
	switch command {
	case "start":
		return fmt.Sprintf("expmirror is connected. Use %s as a job's notify target to receive reports here.", Target(chatID))

	case "jobs":
		if a.jobs == nil {
			return "Jobs are not available."
		}
		list, err := a.jobs.List()
		if err != nil {
			slog.Error("list jobs", "error", err)
			return "Error listing jobs."
		}
		if len(list) == 0 {
			return "No jobs configured."
		}
		var b strings.Builder
		for _, job := range list {
			state := "enabled"
			if !job.Enabled {
				state = "disabled"
			}
			fmt.Fprintf(&b, "%s (%s, %s)", job.Name, job.Kind, state)
			if job.LastRun != nil {
				fmt.Fprintf(&b, " last: %s", job.LastRun.Status)
			}
			b.WriteString("\n")
		}
		return strings.TrimRight(b.String(), "\n")

	case "run":
		name := strings.TrimSpace(args)
		if name == "" {
			return "Usage: /run <job>"
		}
		if a.jobs == nil || a.trigger == nil {
			return "Jobs are not available."
		}
		job, err := a.jobs.Get(name)
		if err != nil {
			return fmt.Sprintf("Unknown job: %s", name)
		}
		if !job.Enabled {
			return fmt.Sprintf("Job %s is disabled.", name)
		}
		id, err := a.trigger(job, "telegram", Target(chatID))
		if err != nil {
			return fmt.Sprintf("Could not start %s: %v", name, err)
		}
		return fmt.Sprintf("Started %s (run %s).", name, id)

	default:
		return "Unknown command. Available: /start, /jobs, /run <job>"
	}
}

// SendTo delivers message to a "telegram:<chat id>" target.
func (a *Adapter) SendTo(target, message string) error {
	chatID, err := ParseTarget(target)
	if err != nil {
		return err
	}
	a.sendResponse(chatID, message)
	return nil
}

func (a *Adapter) sendResponse(chatID int64, text string) {
	parts := splitMessage(text)
	for _, part := range parts {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = "Markdown"
		if _, err := a.bot.Send(msg); err != nil {
			// Summary tables and job names rarely survive Markdown parsing.
			msg.ParseMode = ""
			if _, err := a.bot.Send(msg); err != nil {
				slog.Error("send message", "chat_id", chatID, "error", err)
			}
		}
	}
}

// splitMessage cuts text into Telegram-sized parts, preferring to break
// after a newline.
func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end >= len(text) {
			parts = append(parts, text)
			break
		}
		if nl := strings.LastIndexByte(text[:end], '\n'); nl > 0 {
			end = nl + 1
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}

// Target returns the delivery target for a chat.
func Target(chatID int64) string {
	return TargetPrefix + strconv.FormatInt(chatID, 10)
}

// ParseTarget extracts the chat ID from a "telegram:<chat id>" target.
func ParseTarget(target string) (int64, error) {
	rest, ok := strings.CutPrefix(target, TargetPrefix)
	if !ok {
		return 0, fmt.Errorf("not a telegram target: %s", target)
	}
	chatID, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram chat id %q: %w", rest, err)
	}
	return chatID, nil
}
