package daemon

import (
	"context"
	"errors"
	"strings"

	"raysession/internal/config"
	"raysession/internal/logging"
	"raysession/internal/protocol"
	"raysession/internal/session"
)

// listChunkSize bounds the items carried by one listing reply.
const listChunkSize = 32

type arity struct {
	min, max int
	usage    string
}

var operationArity = map[string]arity{
	"quit":                          {0, 0, ""},
	"change_root":                   {1, 1, "<path>"},
	"list_session_templates":        {0, 0, ""},
	"list_user_client_templates":    {0, 0, ""},
	"list_factory_client_templates": {0, 0, ""},
	"remove_client_template":        {1, 1, "<template>"},
	"list_sessions":                 {0, 0, ""},
	"new_session":                   {1, 2, "<name> [template]"},
	"open_session":                  {1, 1, "<name>"},
	"save":                          {0, 0, ""},
	"save_as_template":              {1, 1, "<template>"},
	"take_snapshot":                 {0, 1, "[label]"},
	"close":                         {0, 0, ""},
	"abort":                         {0, 0, ""},
	"duplicate":                     {1, 1, "<new_name>"},
	"open_snapshot":                 {1, 1, "<snapshot>"},
	"rename":                        {1, 1, "<new_name>"},
	"add_executable":                {1, 1, "<executable>"},
	"add_proxy":                     {0, 1, "[executable]"},
	"add_client_template":           {1, 1, "<template>"},
	"list_snapshots":                {0, 0, ""},
}

func (d *Daemon) handle(ctx context.Context, msg protocol.Message) {
	if msg.Path == protocol.PathRunStep {
		d.handleRunStep(msg)
		return
	}

	op, scope := protocol.Operation(msg.Path)
	if scope == protocol.ScopeUnknown {
		d.fail(msg, protocol.ErrUnknownMessage, "unknown message "+msg.Path)
		return
	}
	args := argStrings(msg.Args)
	d.logger.Debug("request",
		logging.String(logging.FieldPath, msg.Path),
		logging.Int("args", len(args)),
	)

	if scope == protocol.ScopeSession {
		if _, ok := d.sessions.Current(); !ok {
			d.fail(msg, protocol.ErrNoSessionOpen, "no session loaded")
			return
		}
	}
	if d.busy != "" && op != "quit" && !protocol.IsList(msg.Path) {
		d.fail(msg, protocol.ErrOperationPending, ErrBusy.Error())
		return
	}
	if a := operationArity[op]; len(args) < a.min || len(args) > a.max {
		d.fail(msg, protocol.ErrBadArguments, strings.TrimSpace("usage: "+op+" "+a.usage))
		return
	}

	switch op {
	case "quit":
		d.reply(msg)
		d.logger.Info("quit requested", logging.String(logging.FieldEventType, "quit_requested"))
		close(d.stop)
	case "change_root":
		d.handleChangeRoot(msg, args[0])
	case "list_sessions":
		items, err := d.sessions.ListSessions()
		d.stream(msg, items, err)
	case "list_session_templates":
		items, err := d.sessions.ListSessionTemplates()
		d.stream(msg, items, err)
	case "list_user_client_templates":
		items, err := d.sessions.ListUserClientTemplates()
		d.stream(msg, items, err)
	case "list_factory_client_templates":
		items, err := d.sessions.ListFactoryClientTemplates()
		d.stream(msg, items, err)
	case "list_snapshots":
		items, err := d.sessions.ListSnapshots()
		d.stream(msg, items, err)
	case "remove_client_template":
		d.respond(msg, "client template "+args[0]+" removed", d.sessions.RemoveClientTemplate(args[0]))
	case "save_as_template":
		d.respond(msg, "session saved as template "+args[0], d.sessions.SaveAsTemplate(args[0]))
	case "take_snapshot":
		label := ""
		if len(args) > 0 {
			label = args[0]
		}
		ref, err := d.sessions.TakeSnapshot(label)
		d.respond(msg, ref, err)
	case "rename":
		err := d.sessions.Rename(args[0])
		if err == nil {
			d.syncRegistry(ctx)
		}
		d.respond(msg, "session renamed to "+args[0], err)
	case "add_executable":
		id, err := d.sessions.AddExecutable(args[0])
		d.respond(msg, id, err)
	case "add_proxy":
		exe := ""
		if len(args) > 0 {
			exe = args[0]
		}
		id, err := d.sessions.AddProxy(exe)
		d.respond(msg, id, err)
	case "add_client_template":
		id, err := d.sessions.AddClientTemplate(args[0])
		d.respond(msg, id, err)
	default:
		d.handleTransition(ctx, msg, op, args)
	}
}

func (d *Daemon) handleChangeRoot(msg protocol.Message, root string) {
	expanded, err := config.ExpandPath(root)
	if err == nil {
		err = d.sessions.ChangeRoot(expanded)
	}
	if err != nil {
		d.fail(msg, codeFor(err), err.Error())
		return
	}
	d.logger.Info("session root changed",
		logging.String(logging.FieldEventType, "root_changed"),
		logging.String("session_root", expanded),
	)
	d.reply(msg, "root changed to "+expanded)
}

// handleRunStep acknowledges a stepper. Its reply is deferred until the
// synchronized action has run.
func (d *Daemon) handleRunStep(msg protocol.Message) {
	token := ""
	if len(msg.Args) > 0 {
		token = msg.Args[0].String()
	}
	if _, ok := d.sup.Acknowledge(token, func() { d.reply(msg) }); !ok {
		d.fail(msg, protocol.ErrNotFound, "unknown stepper token")
	}
}

func (d *Daemon) stream(msg protocol.Message, items []string, err error) {
	if err != nil {
		d.fail(msg, codeFor(err), err.Error())
		return
	}
	for start := 0; start < len(items); start += listChunkSize {
		end := min(start+listChunkSize, len(items))
		d.reply(msg, items[start:end]...)
	}
	d.reply(msg)
}

func (d *Daemon) respond(msg protocol.Message, status string, err error) {
	if err != nil {
		d.fail(msg, codeFor(err), err.Error())
		return
	}
	d.reply(msg, status)
}

func (d *Daemon) syncRegistry(ctx context.Context) {
	name := ""
	if cur, ok := d.sessions.Current(); ok {
		name = cur.Name
	}
	if err := d.reg.UpdateSession(ctx, d.pid, name); err != nil {
		d.logger.Warn("registry update failed", logging.Error(err))
	}
}

func codeFor(err error) protocol.Code {
	switch {
	case errors.Is(err, session.ErrNoSession):
		return protocol.ErrNoSessionOpen
	case errors.Is(err, session.ErrNotFound):
		return protocol.ErrNotFound
	case errors.Is(err, session.ErrExists):
		return protocol.ErrAlreadyExists
	case errors.Is(err, session.ErrInvalidName):
		return protocol.ErrBadArguments
	default:
		return protocol.ErrGeneric
	}
}

func argStrings(args []protocol.Arg) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = a.String()
	}
	return out
}
