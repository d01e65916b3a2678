// Command jsdebug-console is a terminal harness for the adapter,
// grounded on the teacher's own examples/debugger/goja-debug console: a
// flag-driven entry point, a log file opened up front, and a read-eval
// loop printing colored status lines. Unlike the teacher's console it
// does not own a JS runtime directly; it drives the adapter purely
// through its wire protocol, backed by an in-memory fake RuntimeProtocol
// transport (see transport.go) instead of a real browser or Node
// connection, which this core never owns (spec.md §1).
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/peterh/liner"
	"golang.org/x/term"

	"jsdebugcore/internal/config"
	"jsdebugcore/internal/logging"
	"jsdebugcore/internal/predictor"
	"jsdebugcore/internal/rp"
	"jsdebugcore/internal/session"
)

// terminalWidth mirrors the teacher's own updateTerminalSize, falling
// back to 80 columns when stdout isn't a real terminal (piped output,
// CI logs).
func terminalWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

func truncate(s string, width int) string {
	if len(s) <= width {
		return s
	}
	if width <= 1 {
		return s[:width]
	}
	return s[:width-1] + "…"
}

const demoScript = "function main() {\n  var count = 3;\n  var name = \"demo\";\n  return count + name.length;\n}\nmain();\n"

type emptyRepo struct{}

func (emptyRepo) Scan(ctx context.Context, globs []string) (<-chan predictor.FileMetadata, error) {
	ch := make(chan predictor.FileMetadata)
	close(ch)
	return ch, nil
}

func main() {
	scriptPath := flag.String("script", "", "path to a JS file to present as the attached target's source (defaults to a small built-in demo script)")
	url := flag.String("url", "http://localhost/app.js", "URL the fake target reports for its script")
	logDir := flag.String("logdir", ".", "directory for jsdebugcore.log")
	flag.Parse()

	logging.SetDir(*logDir)
	logger := logging.New("console")

	scriptSource := demoScript
	if *scriptPath != "" {
		content, err := os.ReadFile(*scriptPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading file: %v\n", err)
			os.Exit(1)
		}
		scriptSource = string(content)
	}

	dpInRead, dpInWrite := io.Pipe()
	dpOutRead, dpOutWrite := io.Pipe()
	frames := make(chan map[string]any, 64)

	root := newFakeSession("root")
	leaf := newFakeSession("session-1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess := session.New(config.Launch{URL: *url}, dpOutWrite, session.Transport{
		Root: root,
		SessionFactory: func(sessionID string) rp.Session {
			return leaf
		},
		SourceMapLoader:     func(ctx context.Context, url string) ([]byte, error) { return nil, nil },
		PredictionMapLoader: func(ctx context.Context, compiledPath, url string) ([]byte, error) { return nil, nil },
		Scanner:             emptyRepo{},
		Navigate: func(ctx context.Context, url string) error {
			logger.Printf("navigate: %s", url)
			return nil
		},
	})

	go sess.Run(ctx, scenario(root, leaf, *url, scriptSource))
	go sess.Adapter.Serve(ctx, dpInRead)
	go pollOutput(dpOutRead, frames)

	color.New(color.FgCyan, color.Bold).Println("jsdebug-console — in-memory adapter harness")
	fmt.Println("type `help` for commands, `quit` to exit")

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	seq := 0
	nextSeq := func() int { seq++; return seq }

	for {
		drainFrames(frames)

		input, err := ln.Prompt("jsdebug> ")
		if err != nil {
			break
		}
		ln.AppendHistory(input)
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		fields := strings.Fields(input)
		cmd := fields[0]
		args := fields[1:]

		switch cmd {
		case "quit", "exit":
			return
		case "help":
			printHelp()
		case "threads":
			send(dpInWrite, nextSeq(), "threads", nil)
		case "stackTrace", "stack":
			tid := intArg(args, 0)
			send(dpInWrite, nextSeq(), "stackTrace", map[string]any{"threadId": tid})
		case "scopes":
			fid := intArg(args, 0)
			send(dpInWrite, nextSeq(), "scopes", map[string]any{"frameId": fid})
		case "variables", "vars":
			ref := intArg(args, 0)
			send(dpInWrite, nextSeq(), "variables", map[string]any{"variablesReference": ref})
		case "continue", "cont":
			tid := intArg(args, 0)
			send(dpInWrite, nextSeq(), "continue", map[string]any{"threadId": tid})
		case "next", "stepIn", "stepOut":
			tid := intArg(args, 0)
			send(dpInWrite, nextSeq(), cmd, map[string]any{"threadId": tid})
		case "evaluate", "eval":
			if len(args) < 1 {
				fmt.Println("usage: evaluate <expression> [frameId]")
				continue
			}
			fid := intArg(args, 1)
			send(dpInWrite, nextSeq(), "evaluate", map[string]any{"expression": args[0], "frameId": fid, "context": "repl"})
		case "setBreakpoints", "break":
			if len(args) < 2 {
				fmt.Println("usage: setBreakpoints <path> <line>")
				continue
			}
			bpLine, _ := strconv.Atoi(args[1])
			send(dpInWrite, nextSeq(), "setBreakpoints", map[string]any{
				"source":      map[string]any{"path": args[0]},
				"breakpoints": []map[string]any{{"line": bpLine}},
			})
		default:
			fmt.Printf("unknown command %q, try `help`\n", cmd)
		}
	}
}

func printHelp() {
	fmt.Println(`commands:
  threads
  stackTrace <threadId>
  scopes <frameId>
  variables <variablesReference>
  continue|next|stepIn|stepOut <threadId>
  evaluate <expression> [frameId]
  setBreakpoints <path> <line>
  quit`)
}

func intArg(args []string, i int) int {
	if i >= len(args) {
		return 0
	}
	n, _ := strconv.Atoi(args[i])
	return n
}

// send frames one DP request onto w, in the Content-Length wire format
// Adapter.Serve reads.
func send(w io.Writer, seq int, command string, arguments any) {
	body := map[string]any{"seq": seq, "type": "request", "command": command}
	if arguments != nil {
		body["arguments"] = arguments
	}
	raw, err := json.Marshal(body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode request: %v\n", err)
		return
	}
	fmt.Fprintf(w, "Content-Length: %d\r\n\r\n%s", len(raw), raw)
}

// pollOutput continuously decodes Content-Length frames off the
// adapter's output pipe and hands each one, as a generic map, to frames
// for the REPL loop to print between prompts.
func pollOutput(r io.Reader, frames chan<- map[string]any) {
	br := bufio.NewReader(r)
	for {
		raw, err := readDAPFrame(br)
		if err != nil {
			return
		}
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err == nil {
			frames <- m
		}
	}
}

// readDAPFrame mirrors internal/adapter's own unexported readFrame: a
// "Content-Length: N\r\n\r\n" header followed by N bytes of JSON.
func readDAPFrame(br *bufio.Reader) ([]byte, error) {
	var length int
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if strings.HasPrefix(line, "Content-Length:") {
			n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "Content-Length:")))
			if err != nil {
				return nil, fmt.Errorf("bad Content-Length %q: %w", line, err)
			}
			length = n
		}
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(br, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func drainFrames(frames <-chan map[string]any) {
	for {
		select {
		case m := <-frames:
			printFrame(m)
		default:
			return
		}
	}
}

func printFrame(m map[string]any) {
	width := terminalWidth()
	switch m["type"] {
	case "response":
		c := color.New(color.FgGreen)
		if m["success"] == false {
			c = color.New(color.FgRed)
		}
		body, _ := json.Marshal(m["body"])
		c.Println(truncate(fmt.Sprintf("<- response %v %v: %s", m["command"], m["success"], body), width))
	case "event":
		body, _ := json.Marshal(m["body"])
		color.New(color.FgCyan).Println(truncate(fmt.Sprintf("<- event %v: %s", m["event"], body), width))
	default:
		raw, _ := json.Marshal(m)
		fmt.Println(truncate(fmt.Sprintf("<- %s", raw), width))
	}
}
