package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/units"
	"github.com/fatih/color"
	flags "github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	"github.com/jabolina/go-gcs/pkg/gcs"
	"github.com/jabolina/go-gcs/pkg/gcs/hash"
)

// Config carries the flags shared by every subcommand, grouped the way
// a multi-command go-flags parser expects.
var Config = new(struct {
	Backend string `long:"backend" description:"Backend URL, e.g. dummy://demo or relt://127.0.0.1:9000" default:"dummy://demo"`
	Channel string `long:"channel" description:"Channel name to join" default:"gcsctl"`
	Debug   bool   `long:"debug" description:"Enable debug-level logging"`
})

func dial() (*gcs.Conn, error) {
	logger := newLogger()
	logger.ToggleDebug(Config.Debug)

	conn, err := gcs.Create(Config.Backend, gcs.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("create: %w", err)
	}
	if err := conn.Open(Config.Channel); err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	return conn, nil
}

type cmdSend struct {
	PktSize string `long:"pkt-size" description:"Fragmentation target, e.g. 1400 or 4KiB" default:"0"`
	Repl    bool   `long:"repl" description:"Block until this node's own copy is delivered back"`
	Args    struct {
		Payload string `positional-arg-name:"payload" required:"true"`
	} `positional-args:"yes"`
}

func (cmd *cmdSend) Execute([]string) error {
	conn, err := dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	if cmd.PktSize != "0" {
		size, err := units.ParseBase2Bytes(cmd.PktSize)
		if err != nil {
			return fmt.Errorf("pkt-size: %w", err)
		}
		if err := conn.SetPktSize(int(size)); err != nil {
			return fmt.Errorf("pkt-size: %w", err)
		}
	}

	data := []byte(cmd.Args.Payload)
	if cmd.Repl {
		global, local, err := conn.Repl(gcs.TORDERED, data)
		if err != nil {
			return err
		}
		log.WithFields(log.Fields{"global": global, "local": local}).Info("delivered")
		return nil
	}
	return conn.Send(gcs.TORDERED, data)
}

type cmdRecv struct {
	Count int `long:"count" description:"Number of actions to print before exiting, 0 for unbounded" default:"0"`
}

func (cmd *cmdRecv) Execute([]string) error {
	conn, err := dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	for i := 0; cmd.Count == 0 || i < cmd.Count; i++ {
		action, ok := conn.Recv()
		if !ok {
			return nil
		}
		printAction(action)
	}
	return nil
}

func printAction(action gcs.Action) {
	paint := actionColor(action.Type)
	paint.Printf("[%s] global=%d local=%d sender=%d size=%d fnv32=%08x\n",
		action.Type, action.GlobalSeqNo, action.LocalSeqNo, action.Sender, len(action.Data),
		hash.Sum32(action.Data))
}

func actionColor(t gcs.ActionType) *color.Color {
	switch t {
	case gcs.CONF:
		return color.New(color.FgYellow)
	case gcs.JOIN, gcs.SYNC:
		return color.New(color.FgCyan)
	case gcs.STATEREQ:
		return color.New(color.FgMagenta)
	default:
		return color.New(color.FgGreen)
	}
}

type cmdSnapshot struct{}

func (cmd *cmdSnapshot) Execute([]string) error {
	conn, err := dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	snap := conn.Snapshot()
	fmt.Printf("state=%s confID=%d uuid=%s members=%v myIdx=%d historySeqno=%d\n",
		snap.State, snap.ConfID, snap.UUID, snap.Members, snap.MyIdx, snap.HistorySeqno)
	return nil
}

func newLogger() *logrusLogger {
	l := log.New()
	l.SetOutput(os.Stderr)
	return &logrusLogger{entry: log.NewEntry(l)}
}

// logrusLogger adapts the standalone logrus logger gcsctl builds for
// itself (writing to stderr) to the library's Logger interface.
type logrusLogger struct {
	entry *log.Entry
}

func (l *logrusLogger) Info(v ...interface{})                  { l.entry.Info(v...) }
func (l *logrusLogger) Infof(f string, v ...interface{})       { l.entry.Infof(f, v...) }
func (l *logrusLogger) Warn(v ...interface{})                  { l.entry.Warn(v...) }
func (l *logrusLogger) Warnf(f string, v ...interface{})       { l.entry.Warnf(f, v...) }
func (l *logrusLogger) Error(v ...interface{})                 { l.entry.Error(v...) }
func (l *logrusLogger) Errorf(f string, v ...interface{})      { l.entry.Errorf(f, v...) }
func (l *logrusLogger) Debug(v ...interface{})                 { l.entry.Debug(v...) }
func (l *logrusLogger) Debugf(f string, v ...interface{})      { l.entry.Debugf(f, v...) }
func (l *logrusLogger) ToggleDebug(value bool) bool {
	if value {
		l.entry.Logger.SetLevel(log.DebugLevel)
	} else {
		l.entry.Logger.SetLevel(log.InfoLevel)
	}
	return value
}

func main() {
	parser := flags.NewParser(Config, flags.Default)

	if _, err := parser.AddCommand("send", "Submit an action",
		"Submit a TORDERED action, either fire-and-forget or blocking for delivery with --repl", &cmdSend{}); err != nil {
		log.Fatalf("failed to add send command: %v", err)
	}
	if _, err := parser.AddCommand("recv", "Print delivered actions",
		"Block on recv and print every delivered action", &cmdRecv{}); err != nil {
		log.Fatalf("failed to add recv command: %v", err)
	}
	if _, err := parser.AddCommand("snapshot", "Print connection state",
		"Open the connection and print its lifecycle snapshot", &cmdSnapshot{}); err != nil {
		log.Fatalf("failed to add snapshot command: %v", err)
	}

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
