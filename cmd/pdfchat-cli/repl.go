package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"

	"pdfchat/rag"
)

var (
	promptColor = color.New(color.FgCyan, color.Bold)
	answerColor = color.New(color.FgGreen)
	infoColor   = color.New(color.FgYellow)
	errorColor  = color.New(color.FgRed)
	sourceColor = color.New(color.FgHiBlack)
)

const helpText = `Commands:
  :load <path>   index a PDF or text file
  :status        show the loaded document
  :history       print the conversation
  :clear         forget the conversation
  :sources       toggle printing retrieved chunks
  :quit          exit
Anything else is asked as a question.`

type repl struct {
	engine      *rag.ChatEngine
	in          *bufio.Scanner
	out         io.Writer
	showSources bool
}

func newREPL(engine *rag.ChatEngine, in io.Reader, out io.Writer) *repl {
	return &repl{engine: engine, in: bufio.NewScanner(in), out: out}
}

func (r *repl) load(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		errorColor.Fprintf(r.out, "could not read %s: %v\n", path, err)
		return
	}
	res, err := r.engine.Load(ctx, filepath.Base(path), data)
	if err != nil {
		errorColor.Fprintf(r.out, "could not load %s: %v\n", path, err)
		return
	}
	source := "indexed"
	if res.FromCache {
		source = "reused saved index"
	}
	infoColor.Fprintf(r.out, "%s: %d pages, %d chunks (%s)\n", res.Document, res.Pages, res.Chunks, source)
	if res.FailedPages > 0 {
		infoColor.Fprintf(r.out, "%d pages could not be read and were skipped\n", res.FailedPages)
	}
}

// run reads lines until EOF or :quit.
func (r *repl) run(ctx context.Context) error {
	fmt.Fprintln(r.out, helpText)
	for {
		promptColor.Fprint(r.out, "\nyou> ")
		if !r.in.Scan() {
			if err := r.in.Err(); err != nil {
				return err
			}
			fmt.Fprintln(r.out)
			return nil
		}
		line := strings.TrimSpace(r.in.Text())
		if line == "" {
			continue
		}
		if r.command(ctx, line) {
			return nil
		}
	}
}

// command handles one line and reports whether the loop should stop.
func (r *repl) command(ctx context.Context, line string) bool {
	switch {
	case line == ":quit" || line == ":q":
		return true
	case line == ":help":
		fmt.Fprintln(r.out, helpText)
	case strings.HasPrefix(line, ":load "):
		r.load(ctx, strings.TrimSpace(strings.TrimPrefix(line, ":load ")))
	case line == ":status":
		st := r.engine.Status()
		infoColor.Fprintf(r.out, "state=%s document=%q chunks=%d dimension=%d turns=%d\n",
			st.State, st.Document, st.Chunks, st.Dimension, st.Turns)
	case line == ":history":
		for _, t := range r.engine.History() {
			fmt.Fprintf(r.out, "%s: %s\n", t.Role, t.Content)
		}
	case line == ":clear":
		r.engine.ClearHistory(ctx)
		infoColor.Fprintln(r.out, "history cleared")
	case line == ":sources":
		r.showSources = !r.showSources
		infoColor.Fprintf(r.out, "sources %v\n", r.showSources)
	case strings.HasPrefix(line, ":"):
		errorColor.Fprintf(r.out, "unknown command %s\n", line)
	default:
		r.ask(ctx, line)
	}
	return false
}

func (r *repl) ask(ctx context.Context, question string) {
	ans := r.engine.Ask(ctx, question)
	switch ans.Status {
	case rag.StatusAnswered:
		answerColor.Fprintf(r.out, "bot> %s\n", ans.Text)
	default:
		errorColor.Fprintf(r.out, "bot> %s\n", ans.Text)
	}
	if r.showSources {
		for _, s := range ans.Sources {
			sourceColor.Fprintf(r.out, "  [%d] d=%.4f %s\n", s.Chunk.Index, s.Distance, preview(s.Chunk.Text, 80))
		}
	}
}

func preview(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}
