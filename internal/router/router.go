package router

import (
	"context"
	"errors"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"childebot/internal/dispatch"
	"childebot/internal/store"
	kit "childebot/internal/transport"
	logx "childebot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessAdminOnly
)

// Command is one slash command. Name is matched without the leading slash.
type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Handle      HandlerFunc
}

// HandlerFunc returns the reply text. Returned errors are translated into
// user-facing messages by the loop.
type HandlerFunc func(ctx context.Context, req *Request) (string, error)

// Request carries one parsed command invocation.
type Request struct {
	Msg     kit.Message
	Tenant  store.TenantID
	Command string
	Args    []string
	ArgText string // everything after the command, trimmed
}

// Config controls the command loop.
type Config struct {
	AdminUserIDs   []int64
	HandlerTimeout time.Duration // per-command deadline; default 30s
}

// Router consumes transport updates and drives the dispatch engine.
type Router struct {
	cfg     Config
	engine  *dispatch.Service
	adapter kit.Adapter
	log     logx.Logger

	admins map[int64]struct{}
	cmds   map[string]*Command
	order  []string // registration order, for help output

	mu      sync.Mutex
	stopCh  chan struct{}
	done    chan struct{}
	updates chan kit.Update
}

func New(cfg Config, engine *dispatch.Service, adapter kit.Adapter, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 30 * time.Second
	}
	admins := make(map[int64]struct{}, len(cfg.AdminUserIDs))
	for _, id := range cfg.AdminUserIDs {
		admins[id] = struct{}{}
	}
	r := &Router{
		cfg:     cfg,
		engine:  engine,
		adapter: adapter,
		log:     log,
		admins:  admins,
		cmds:    map[string]*Command{},
		updates: make(chan kit.Update, 128),
	}
	r.registerAll()
	return r
}

// Updates is the channel the transport adapter writes into.
func (r *Router) Updates() chan<- kit.Update { return r.updates }

func (r *Router) register(c *Command) {
	r.cmds[c.Name] = c
	for _, a := range c.Aliases {
		r.cmds[a] = c
	}
	r.order = append(r.order, c.Name)
}

func (r *Router) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopCh != nil {
		return
	}
	r.stopCh = make(chan struct{})
	r.done = make(chan struct{})
	go r.loop(ctx, r.stopCh, r.done)
	r.log.Info("command router started", logx.Int("commands", len(r.order)))
}

func (r *Router) Stop(ctx context.Context) {
	r.mu.Lock()
	stopCh := r.stopCh
	done := r.done
	r.stopCh = nil
	r.done = nil
	r.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (r *Router) loop(ctx context.Context, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case up := <-r.updates:
			if up.Message == nil {
				continue
			}
			r.handleMessage(ctx, *up.Message)
		}
	}
}

func (r *Router) handleMessage(ctx context.Context, msg kit.Message) {
	name, argText, ok := parseCommand(msg.Text)
	if !ok {
		return
	}
	cmd, ok := r.cmds[name]
	if !ok {
		return
	}

	log := r.log.With(
		logx.String("cmd", cmd.Name),
		logx.Int64("chat", msg.ChatID),
		logx.Int64("from", msg.FromID))

	if cmd.Access == AccessAdminOnly && !r.isAdmin(msg.FromID) {
		log.Debug("command refused: not an admin")
		r.reply(ctx, msg, "You are not allowed to do that.")
		return
	}

	req := &Request{
		Msg:     msg,
		Tenant:  store.TenantID(strconv.FormatInt(msg.ChatID, 10)),
		Command: cmd.Name,
		Args:    strings.Fields(argText),
		ArgText: strings.TrimSpace(argText),
	}

	hctx, cancel := context.WithTimeout(ctx, r.cfg.HandlerTimeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("panic in command handler",
				logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
			r.reply(ctx, msg, "Something went wrong.")
		}
	}()

	reply, err := cmd.Handle(hctx, req)
	if err != nil {
		log.Warn("command failed", logx.Err(err))
		r.reply(ctx, msg, friendlyError(err))
		return
	}
	if reply != "" {
		r.reply(ctx, msg, reply)
	}
}

func (r *Router) isAdmin(userID int64) bool {
	if len(r.admins) == 0 {
		// No admin list configured means the bot is private; allow everyone.
		return true
	}
	_, ok := r.admins[userID]
	return ok
}

func (r *Router) reply(ctx context.Context, msg kit.Message, text string) {
	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := r.adapter.SendText(sctx, kit.ChatTarget{ChatID: msg.ChatID}, text, nil); err != nil {
		r.log.Warn("reply failed", logx.Int64("chat", msg.ChatID), logx.Err(err))
	}
}

// parseCommand extracts "name" and trailing args from "/name@bot args".
func parseCommand(text string) (name, argText string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head := text[1:]
	rest := ""
	if i := strings.IndexAny(head, " \t\n"); i >= 0 {
		rest = head[i+1:]
		head = head[:i]
	}
	// Group chats address commands as /name@botname.
	if i := strings.IndexByte(head, '@'); i >= 0 {
		head = head[:i]
	}
	head = strings.ToLower(head)
	if head == "" {
		return "", "", false
	}
	return head, rest, true
}

func friendlyError(err error) string {
	var verr *dispatch.ValidationError
	switch {
	case errors.As(err, &verr):
		return "Invalid input: " + verr.Msg
	case errors.Is(err, dispatch.ErrEmptyQueue):
		return "The question queue is empty. Add one with /addquestion."
	case errors.Is(err, dispatch.ErrNoDestination):
		return "No channel configured yet. Use /setchannel first."
	case errors.Is(err, dispatch.ErrTenantDisabled):
		return "Deliveries are switched off here. Use /qotdon first."
	case errors.Is(err, dispatch.ErrDeliveryFailed):
		return "Could not deliver the message. It stays queued."
	case errors.Is(err, context.DeadlineExceeded):
		return "That took too long, try again."
	default:
		return "Something went wrong."
	}
}
