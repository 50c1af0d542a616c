package router

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"childebot/internal/dispatch"
)

func (r *Router) registerAll() {
	r.register(&Command{
		Name:        "addquestion",
		Aliases:     []string{"addq"},
		Description: "Queue a new question of the day",
		Usage:       "/addquestion <text>",
		Handle:      r.cmdAddQuestion,
	})
	r.register(&Command{
		Name:        "removequestion",
		Aliases:     []string{"removeq"},
		Description: "Remove the first queued question matching the text",
		Usage:       "/removequestion <text>",
		Access:      AccessAdminOnly,
		Handle:      r.cmdRemoveQuestion,
	})
	r.register(&Command{
		Name:        "clearquestions",
		Description: "Drop every queued question",
		Access:      AccessAdminOnly,
		Handle:      r.cmdClearQuestions,
	})
	r.register(&Command{
		Name:        "listquestions",
		Aliases:     []string{"listq"},
		Description: "Show queued questions, 25 per page",
		Usage:       "/listquestions [page]",
		Handle:      r.cmdListQuestions,
	})
	r.register(&Command{
		Name:        "setchannel",
		Description: "Deliver questions to this chat (or a given chat ID)",
		Usage:       "/setchannel [chat id]",
		Access:      AccessAdminOnly,
		Handle:      r.cmdSetChannel,
	})
	r.register(&Command{
		Name:        "setping",
		Description: "Text prepended to every delivery, e.g. a mention",
		Usage:       "/setping <text> | /setping off",
		Access:      AccessAdminOnly,
		Handle:      r.cmdSetPing,
	})
	r.register(&Command{
		Name:        "setfallback",
		Description: "Message sent when the queue runs dry",
		Usage:       "/setfallback <text> | /setfallback off",
		Access:      AccessAdminOnly,
		Handle:      r.cmdSetFallback,
	})
	r.register(&Command{
		Name:        "qotdon",
		Description: "Resume scheduled deliveries",
		Access:      AccessAdminOnly,
		Handle: func(ctx context.Context, req *Request) (string, error) {
			if err := r.engine.SetEnabled(ctx, req.Tenant, true); err != nil {
				return "", err
			}
			return "Scheduled deliveries are ON.", nil
		},
	})
	r.register(&Command{
		Name:        "qotdoff",
		Description: "Pause scheduled deliveries (queue is kept)",
		Access:      AccessAdminOnly,
		Handle: func(ctx context.Context, req *Request) (string, error) {
			if err := r.engine.SetEnabled(ctx, req.Tenant, false); err != nil {
				return "", err
			}
			return "Scheduled deliveries are OFF. The queue is kept.", nil
		},
	})
	r.register(&Command{
		Name:        "setdaily",
		Description: "Deliver once a day at the given time",
		Usage:       "/setdaily HH:MM [timezone]",
		Access:      AccessAdminOnly,
		Handle:      r.cmdSetDaily,
	})
	r.register(&Command{
		Name:        "setevery",
		Description: "Deliver every N hours, on the hour",
		Usage:       "/setevery <hours>",
		Access:      AccessAdminOnly,
		Handle:      r.cmdSetEvery,
	})
	r.register(&Command{
		Name:        "sendqotd",
		Aliases:     []string{"qotd"},
		Description: "Deliver the next question right now",
		Access:      AccessAdminOnly,
		Handle: func(ctx context.Context, req *Request) (string, error) {
			if err := r.engine.SendNow(ctx, req.Tenant); err != nil {
				return "", err
			}
			return "", nil // the delivery itself is the reply
		},
	})
	r.register(&Command{
		Name:        "status",
		Description: "Show schedule, queue size and last delivery window",
		Handle:      r.cmdStatus,
	})
	r.register(&Command{
		Name:        "reset",
		Description: "Forget this chat entirely (config and queue)",
		Access:      AccessAdminOnly,
		Handle: func(ctx context.Context, req *Request) (string, error) {
			if err := r.engine.RemoveTenant(ctx, req.Tenant); err != nil {
				return "", err
			}
			return "All settings and queued questions for this chat were removed.", nil
		},
	})
	r.register(&Command{
		Name:        "help",
		Aliases:     []string{"start"},
		Description: "Show this help",
		Handle:      r.cmdHelp,
	})
}

func (r *Router) cmdAddQuestion(ctx context.Context, req *Request) (string, error) {
	it, err := r.engine.AddItem(ctx, req.Tenant, req.ArgText)
	if err != nil {
		return "", err
	}
	page, err := r.engine.ListPage(ctx, req.Tenant, 1)
	if err != nil {
		return fmt.Sprintf("Added: %s", it.Text), nil
	}
	return fmt.Sprintf("Added question #%d: %s", page.Count, it.Text), nil
}

func (r *Router) cmdRemoveQuestion(ctx context.Context, req *Request) (string, error) {
	if err := r.engine.RemoveItem(ctx, req.Tenant, req.ArgText); err != nil {
		return "", err
	}
	return "Removed (if it was queued).", nil
}

func (r *Router) cmdClearQuestions(ctx context.Context, req *Request) (string, error) {
	if err := r.engine.ClearQueue(ctx, req.Tenant); err != nil {
		return "", err
	}
	return "Queue cleared.", nil
}

func (r *Router) cmdListQuestions(ctx context.Context, req *Request) (string, error) {
	num := 1
	if len(req.Args) > 0 {
		n, err := strconv.Atoi(req.Args[0])
		if err != nil {
			return "", &dispatch.ValidationError{Field: "page", Msg: "page must be a number"}
		}
		num = n
	}
	page, err := r.engine.ListPage(ctx, req.Tenant, num)
	if err != nil {
		return "", err
	}
	if page.Count == 0 {
		return "No questions queued. Add one with /addquestion.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Queued questions (page %d/%d, %d total):\n", page.Num, page.Total, page.Count)
	base := (page.Num - 1) * dispatch.PageSize
	for i, it := range page.Items {
		fmt.Fprintf(&b, "%d. %s\n", base+i+1, it.Text)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (r *Router) cmdSetChannel(ctx context.Context, req *Request) (string, error) {
	dest := strconv.FormatInt(req.Msg.ChatID, 10)
	if len(req.Args) > 0 {
		if _, err := strconv.ParseInt(req.Args[0], 10, 64); err != nil {
			return "", &dispatch.ValidationError{Field: "chat id", Msg: "must be a numeric chat ID"}
		}
		dest = req.Args[0]
	}
	if err := r.engine.SetDestination(ctx, req.Tenant, dest); err != nil {
		return "", err
	}
	return "Questions will be delivered to chat " + dest + ".", nil
}

func (r *Router) cmdSetPing(ctx context.Context, req *Request) (string, error) {
	text := req.ArgText
	if strings.EqualFold(text, "off") {
		text = ""
	}
	if err := r.engine.SetTagText(ctx, req.Tenant, text); err != nil {
		return "", err
	}
	if text == "" {
		return "Ping cleared.", nil
	}
	return "Deliveries will start with: " + text, nil
}

func (r *Router) cmdSetFallback(ctx context.Context, req *Request) (string, error) {
	text := req.ArgText
	if strings.EqualFold(text, "off") {
		text = ""
	}
	if err := r.engine.SetFallbackText(ctx, req.Tenant, text); err != nil {
		return "", err
	}
	if text == "" {
		return "Fallback cleared. Empty windows deliver nothing.", nil
	}
	return "When the queue is empty I will send: " + text, nil
}

func (r *Router) cmdSetDaily(ctx context.Context, req *Request) (string, error) {
	if len(req.Args) == 0 {
		return "", &dispatch.ValidationError{Field: "time", Msg: "usage: /setdaily HH:MM [timezone]"}
	}
	hour, minute, err := parseClock(req.Args[0])
	if err != nil {
		return "", &dispatch.ValidationError{Field: "time", Msg: err.Error()}
	}
	tz := ""
	if len(req.Args) > 1 {
		tz = req.Args[1]
	}
	if err := r.engine.SetDaily(ctx, req.Tenant, hour, minute, tz); err != nil {
		return "", err
	}
	return fmt.Sprintf("Scheduled daily at %02d:%02d.", hour, minute), nil
}

func (r *Router) cmdSetEvery(ctx context.Context, req *Request) (string, error) {
	if len(req.Args) == 0 {
		return "", &dispatch.ValidationError{Field: "hours", Msg: "usage: /setevery <hours>"}
	}
	hours, err := strconv.Atoi(req.Args[0])
	if err != nil {
		return "", &dispatch.ValidationError{Field: "hours", Msg: "hours must be a number"}
	}
	if err := r.engine.SetEvery(ctx, req.Tenant, hours); err != nil {
		return "", err
	}
	if hours == 1 {
		return "Scheduled every hour, on the hour.", nil
	}
	return fmt.Sprintf("Scheduled every %d hours, on the hour.", hours), nil
}

func (r *Router) cmdStatus(ctx context.Context, req *Request) (string, error) {
	st, err := r.engine.Status(ctx, req.Tenant)
	if err != nil {
		return "", err
	}
	if !st.Configured {
		return "This chat is not set up yet. Start with /setchannel.", nil
	}

	var b strings.Builder
	b.WriteString("Delivery: ")
	if st.Enabled {
		b.WriteString("on")
	} else {
		b.WriteString("off")
	}
	fmt.Fprintf(&b, "\nSchedule: %s", st.PolicyText)
	fmt.Fprintf(&b, "\nChannel: %s", st.Destination)
	if st.TagText != "" {
		fmt.Fprintf(&b, "\nPing: %s", st.TagText)
	}
	if st.Fallback != "" {
		fmt.Fprintf(&b, "\nFallback: %s", st.Fallback)
	}
	fmt.Fprintf(&b, "\nQueued: %d", st.QueueLen)
	if st.LastWindow != "" {
		fmt.Fprintf(&b, "\nLast delivered window: %s", st.LastWindow)
	}
	return b.String(), nil
}

func (r *Router) cmdHelp(_ context.Context, _ *Request) (string, error) {
	var b strings.Builder
	b.WriteString("Question-of-the-day bot. Commands:\n")
	for _, name := range r.order {
		c := r.cmds[name]
		usage := c.Usage
		if usage == "" {
			usage = "/" + c.Name
		}
		fmt.Fprintf(&b, "%s - %s\n", usage, c.Description)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// parseClock parses "HH:MM" in 24-hour form.
func parseClock(s string) (hour, minute int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("time must look like HH:MM")
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad hour %q", parts[0])
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("bad minute %q", parts[1])
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time out of range")
	}
	return hour, minute, nil
}
