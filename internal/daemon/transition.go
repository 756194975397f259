package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"raysession/internal/logging"
	"raysession/internal/protocol"
	"raysession/internal/supervisor"
)

// handleTransition starts a session-changing sequence. The request is
// answered when the sequence ends.
func (d *Daemon) handleTransition(ctx context.Context, msg protocol.Message, op string, args []string) {
	cur, loaded := d.sessions.Current()
	var stages []supervisor.Stage
	var status string

	switch op {
	case "new_session", "open_session":
		name := args[0]
		target, err := d.sessions.SessionPath(name)
		if err != nil {
			d.fail(msg, codeFor(err), err.Error())
			return
		}
		_, statErr := os.Stat(target)
		if op == "new_session" && statErr == nil {
			d.fail(msg, protocol.ErrAlreadyExists, "session "+name+" already exists")
			return
		}
		if op == "open_session" && statErr != nil {
			d.fail(msg, protocol.ErrNotFound, "session "+name+" not found")
			return
		}
		if loaded {
			stages = append(stages, d.stage("close", cur.Path, nil, d.sessions.Close))
		}
		if op == "new_session" {
			template := ""
			if len(args) > 1 {
				template = args[1]
			}
			stages = append(stages, d.stage(op, target, args, func() error {
				return d.sessions.New(name, template)
			}))
			status = "created session " + name
		} else {
			stages = append(stages, d.stage(op, target, args, func() error {
				return d.sessions.Open(name)
			}))
			status = "opened session " + name
		}
	case "save":
		stages = append(stages, d.stage(op, cur.Path, nil, d.sessions.Save))
		status = "saved session " + cur.Name
	case "close":
		stages = append(stages, d.stage(op, cur.Path, nil, d.sessions.Close))
		status = "closed session " + cur.Name
	case "abort":
		stages = append(stages, d.stage(op, cur.Path, nil, d.sessions.Abort))
		status = "aborted session " + cur.Name
	case "duplicate":
		newName := args[0]
		stages = append(stages, d.stage(op, cur.Path, args, func() error {
			return d.sessions.Duplicate(newName)
		}))
		status = "duplicated session as " + newName
	case "open_snapshot":
		ref := args[0]
		stages = append(stages, d.stage(op, cur.Path, args, func() error {
			return d.sessions.OpenSnapshot(ref)
		}))
		status = "opened snapshot " + ref
	default:
		d.fail(msg, protocol.ErrUnknownMessage, "unknown message "+msg.Path)
		return
	}

	d.busy = op
	d.seqWG.Add(1)
	go func() {
		defer d.seqWG.Done()
		seq := supervisor.Sequence{
			Supervisor:  d.sup,
			Stages:      stages,
			RequireSync: d.cfg.Scripts.RequireSync,
			StepTimeout: d.cfg.StepReleaseTimeout(),
			Logger:      d.logger.With(logging.String(logging.FieldPhase, op)),
		}
		results, err := seq.Run(ctx)
		d.post(ctx, func() {
			d.busy = ""
			d.syncRegistry(ctx)
			if err != nil {
				d.fail(msg, sequenceCode(results, err), err.Error())
				return
			}
			d.logger.Info("session transition finished",
				logging.String(logging.FieldEventType, "transition_finished"),
				logging.String(logging.FieldPhase, op),
			)
			d.reply(msg, status)
		})
	}()
}

// stage wraps action, pausing a stepper script around it when the session
// folder or the shared scripts folder provides one for op.
func (d *Daemon) stage(op, sessionDir string, args []string, action func() error) supervisor.Stage {
	st := supervisor.Stage{
		Name:   op,
		Action: func(context.Context) error { return action() },
	}
	script := d.findScript(sessionDir, op)
	if script == "" {
		return st
	}
	dir := ""
	if info, err := os.Stat(sessionDir); err == nil && info.IsDir() {
		dir = sessionDir
	}
	st.Child = &supervisor.Spec{
		Executable: script,
		Args:       args,
		Dir:        dir,
		Stepper:    true,
		Phase:      op,
	}
	return st
}

func (d *Daemon) findScript(sessionDir, op string) string {
	var dirs []string
	if sessionDir != "" && d.cfg.Scripts.DirName != "" {
		dirs = append(dirs, filepath.Join(sessionDir, d.cfg.Scripts.DirName))
	}
	if d.cfg.Paths.ScriptsDir != "" {
		dirs = append(dirs, d.cfg.Paths.ScriptsDir)
	}
	for _, dir := range dirs {
		path := filepath.Join(dir, op+".sh")
		info, err := os.Stat(path)
		if err == nil && info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0 {
			return path
		}
	}
	return ""
}

func sequenceCode(results []supervisor.StageResult, err error) protocol.Code {
	if n := len(results); n > 0 {
		if out := results[n-1].Outcome; out != nil && out.State == supervisor.StateLaunchError {
			return protocol.ErrLaunchFailed
		}
	}
	switch {
	case errors.Is(err, supervisor.ErrChildFailed),
		errors.Is(err, supervisor.ErrNoCall),
		errors.Is(err, supervisor.ErrStepTimeout):
		return protocol.ErrScriptFailed
	default:
		return codeFor(err)
	}
}

