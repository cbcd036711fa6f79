// Package shell provides the interactive REPL for asking questions about a
// loaded spreadsheet.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/chzyer/readline"

	"github.com/CDdanieldeng/excel-accelerator/pkg/dataset"
	werrors "github.com/CDdanieldeng/excel-accelerator/pkg/errors"
	"github.com/CDdanieldeng/excel-accelerator/pkg/export"
	"github.com/CDdanieldeng/excel-accelerator/pkg/help"
	"github.com/CDdanieldeng/excel-accelerator/pkg/orchestrator"
	"github.com/CDdanieldeng/excel-accelerator/pkg/session"
	"github.com/CDdanieldeng/excel-accelerator/pkg/spinner"
)

// Engine runs turns. *orchestrator.Orchestrator implements it.
type Engine interface {
	Init(ctx context.Context, datasetRef, userID string) (*orchestrator.InitResult, error)
	Message(ctx context.Context, req orchestrator.MessageRequest) (*orchestrator.Response, error)
	Sessions() session.Store
}

// Config holds shell configuration.
type Config struct {
	HistoryFile string
	// ExportDir is where /export writes when no directory is given.
	ExportDir string
	// Export sets the manifest fields written by /export.
	Export export.Options
	// Debug starts with the state trace shown after every answer.
	Debug bool
	// LoadOptions apply to files opened with /load.
	LoadOptions dataset.LoadOptions
}

// Shell is the interactive command-line interface.
type Shell struct {
	engine   Engine
	registry *dataset.Registry
	cfg      Config
	out      io.Writer
	status   io.Writer
	styles   styles

	rl        *readline.Instance
	completer *ShellCompleter
	prompter  Prompter

	sessionID string
	schema    orchestrator.Schema
	debug     bool

	// spinMu guards spin, which OnEvent updates from the turn goroutine.
	spinMu sync.Mutex
	spin   *spinner.Spinner
}

// New creates a shell over the session opened by init. registry receives
// files opened with /load.
func New(engine Engine, registry *dataset.Registry, init *orchestrator.InitResult, cfg Config) (*Shell, error) {
	s := newShell(engine, registry, init, cfg, os.Stdout)
	s.status = os.Stderr

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          s.styles.prompt.Render("excel>") + " ",
		HistoryFile:     cfg.HistoryFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    s.completer,
	})
	if err != nil {
		return nil, err
	}
	s.rl = rl
	s.prompter = &ReadlinePrompter{rl: rl}
	return s, nil
}

func newShell(engine Engine, registry *dataset.Registry, init *orchestrator.InitResult, cfg Config, out io.Writer) *Shell {
	return &Shell{
		engine:    engine,
		registry:  registry,
		cfg:       cfg,
		out:       out,
		status:    out,
		styles:    newStyles(),
		completer: NewShellCompleter(schemaColumns(init.Schema)),
		sessionID: init.SessionID,
		schema:    init.Schema,
		debug:     cfg.Debug,
	}
}

func schemaColumns(schema orchestrator.Schema) []string {
	names := make([]string, len(schema.Columns))
	for i, c := range schema.Columns {
		names[i] = c.Name
	}
	return names
}

// SessionID returns the active session.
func (s *Shell) SessionID() string {
	return s.sessionID
}

// OnEvent shows turn progress on the spinner. Register it with
// orchestrator.Observe.
func (s *Shell) OnEvent(ev orchestrator.Event) {
	label, ok := stageLabels[ev.State]
	if !ok || ev.SessionID != s.sessionID {
		return
	}
	s.spinMu.Lock()
	defer s.spinMu.Unlock()
	if s.spin != nil {
		s.spin.Update(label)
	}
}

var stageLabels = map[orchestrator.State]string{
	orchestrator.StateIntentClassified: "Reading the question",
	orchestrator.StatePlanning:         "Planning",
	orchestrator.StateSchemaResolved:   "Matching columns",
	orchestrator.StateCodeGenerated:    "Writing the calculation",
	orchestrator.StateExecuted:         "Running it on your table",
	orchestrator.StateExplained:        "Explaining",
}

// Run starts the interactive loop.
func (s *Shell) Run(ctx context.Context) error {
	defer s.rl.Close()

	fmt.Fprintln(s.out, renderSchema(s.schema, s.styles))
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, "Ask a question about the table, e.g. \"What is the total of "+exampleColumn(s.schema)+"?\"")
	fmt.Fprintln(s.out, "Type /help for commands. Tab completes commands and column names.")
	fmt.Fprintln(s.out)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			if err == io.EOF {
				return nil
			}
			return err
		}

		if err := s.handleLine(ctx, line); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			fmt.Fprintf(s.out, "%s\n", s.styles.failure.Render("Error: "+werrors.Detail(err)))
		}
	}
}

var errQuit = errors.New("quit")

func (s *Shell) handleLine(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if strings.HasPrefix(line, "/") {
		return s.handleCommand(ctx, line)
	}
	return s.handleMessage(ctx, line)
}

func (s *Shell) handleCommand(ctx context.Context, line string) error {
	parts := strings.Fields(line)
	args := parts[1:]

	switch parts[0] {
	case "/quit", "/exit", "/q":
		return errQuit
	case "/help", "/h":
		r := help.NewRenderer(s.out)
		if len(args) > 0 {
			r.RenderCommand(args[0])
		} else {
			r.RenderFull()
		}
	case "/schema":
		fmt.Fprintln(s.out, renderSchema(s.schema, s.styles))
	case "/history":
		return s.printHistory(ctx, args)
	case "/code":
		return s.printLastCode(ctx)
	case "/debug":
		s.debug = !s.debug
		fmt.Fprintf(s.out, "Debug output %s.\n", onOff(s.debug))
	case "/export":
		return s.export(ctx, args)
	case "/new":
		return s.newSession(ctx, s.schema.DatasetRef)
	case "/load":
		return s.load(ctx, args)
	case "/sessions":
		fmt.Fprintln(s.out, renderSessions(s.engine.Sessions().List(ctx), s.sessionID, s.styles))
	default:
		fmt.Fprintf(s.out, "Unknown command: %s (try /help)\n", parts[0])
	}
	return nil
}

func (s *Shell) handleMessage(ctx context.Context, line string) error {
	cfg := spinner.DefaultConfig()
	cfg.Message = "Reading the question"
	cfg.Writer = s.status
	spin := spinner.NewWithConfig(cfg)
	s.spinMu.Lock()
	s.spin = spin
	s.spinMu.Unlock()
	spin.Start()

	resp, err := s.engine.Message(ctx, orchestrator.MessageRequest{
		SessionID: s.sessionID,
		Utterance: line,
		// Lets the engine recreate a session evicted while idle.
		DatasetRef: s.schema.DatasetRef,
	})

	s.spinMu.Lock()
	s.spin = nil
	s.spinMu.Unlock()

	if resp == nil {
		spin.Fail("Could not answer")
		return err
	}
	switch {
	case resp.State == orchestrator.StateDoneClarify:
		spin.Notice("Need a little more detail")
	case resp.State == orchestrator.StateDoneError || resp.Code != "":
		spin.Fail("Could not answer")
	default:
		spin.Success("Answered")
	}

	fmt.Fprintln(s.out, renderResponse(resp, s.debug, s.styles))
	if err != nil && s.debug {
		fmt.Fprintln(s.out, s.styles.faint.Render(werrors.Detail(err)))
	}
	fmt.Fprintln(s.out)
	return nil
}

func (s *Shell) current(ctx context.Context) (*session.Session, error) {
	sess, err := s.engine.Sessions().Get(ctx, s.sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return nil, werrors.SessionNotFound(s.sessionID)
	}
	return sess, err
}

func (s *Shell) printHistory(ctx context.Context, args []string) error {
	n := 10
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v <= 0 {
			return fmt.Errorf("usage: /history [n]")
		}
		n = v
	}
	sess, err := s.current(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, renderHistory(sess.Recent(n), s.styles))
	return nil
}

func (s *Shell) printLastCode(ctx context.Context) error {
	sess, err := s.current(ctx)
	if err != nil {
		return err
	}
	for i := len(sess.Turns) - 1; i >= 0; i-- {
		t := sess.Turns[i]
		if t.Code == "" {
			continue
		}
		fmt.Fprintln(s.out, s.styles.title.Render(t.Utterance))
		fmt.Fprintln(s.out, s.styles.code.Render(t.Code))
		if t.Result != nil {
			fmt.Fprintln(s.out, s.styles.faint.Render("  => "+t.Result.Summary()))
		}
		return nil
	}
	fmt.Fprintln(s.out, "No calculation has run in this session yet.")
	return nil
}

func (s *Shell) export(ctx context.Context, args []string) error {
	dir := s.cfg.ExportDir
	if len(args) > 0 {
		dir = args[0]
	}
	if dir == "" {
		dir = "."
	}
	sess, err := s.current(ctx)
	if err != nil {
		return err
	}
	path, err := export.Session(sess, dir, s.cfg.Export)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Exported %d turns to %s (open %s in Excel)\n", len(sess.Turns), path, export.TranscriptFile)
	return nil
}

// newSession switches to a fresh session over datasetRef, asking first
// when the current one has questions in it.
func (s *Shell) newSession(ctx context.Context, datasetRef string) error {
	if sess, err := s.current(ctx); err == nil && len(sess.Turns) > 0 && s.prompter != nil {
		ok, err := s.prompter.Confirm(fmt.Sprintf("Leave this conversation (%d questions)?", len(sess.Turns)))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(s.out, "Cancelled.")
			return nil
		}
	}

	res, err := s.engine.Init(ctx, datasetRef, "")
	if err != nil {
		return err
	}
	s.sessionID = res.SessionID
	s.schema = res.Schema
	s.completer.SetColumns(schemaColumns(res.Schema))
	fmt.Fprintln(s.out, renderSchema(res.Schema, s.styles))
	return nil
}

func (s *Shell) load(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: /load <file> [sheet]")
	}
	opts := s.cfg.LoadOptions
	if len(args) > 1 {
		opts.Sheet = strings.Join(args[1:], " ")
	}
	table, err := dataset.LoadFile(args[0], opts)
	if err != nil {
		return werrors.DatasetLoadFailed(err, args[0])
	}
	b, err := s.registry.Add(table)
	if err != nil {
		return err
	}
	return s.newSession(ctx, b.Ref)
}

func exampleColumn(schema orchestrator.Schema) string {
	for _, c := range schema.Columns {
		if c.Type == dataset.TypeNumber {
			return c.Name
		}
	}
	if len(schema.Columns) > 0 {
		return schema.Columns[0].Name
	}
	return "a column"
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
