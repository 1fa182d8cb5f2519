package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"

	session "github.com/koscakluka/ema-session/core"
	"github.com/spf13/cobra"
)

func newTailCmd(opts *rootOptions) *cobra.Command {
	var (
		message string
		width   int
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print the conversation as it is reconciled",
		Long:  "Connects to the agent server and prints every transcript entry, processing stage and connection change as a line. Use --message to send a text input once connected.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTail(cmd, opts, message, width)
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "text input to send once connected")
	cmd.Flags().IntVar(&width, "width", 80, "wrap width")
	return cmd
}

func runTail(cmd *cobra.Command, opts *rootOptions, message string, width int) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	printer := newLinePrinter(cmd.OutOrStdout(), width)
	s := session.NewSession(append(cfg.SessionOptions(),
		session.WithBaseContext(ctx),
		session.WithTranscriptCallback(printer.printMessages),
		session.WithProcessingCallback(printer.printProcessing),
		session.WithConnectionCallback(printer.printConnection),
	)...)
	defer s.Close()

	if err := s.Connect(ctx); err != nil {
		return err
	}

	if message != "" {
		select {
		case <-ctx.Done():
			return nil
		case <-printer.connected:
		}
		if err := s.SendTextInput(ctx, message, ""); err != nil {
			return err
		}
	}

	<-ctx.Done()
	return nil
}

// linePrinter renders session notifications as plain styled lines.
type linePrinter struct {
	out   io.Writer
	width int
	theme theme

	mu            sync.Mutex
	lastStatus    string
	connected     chan struct{}
	connectedOnce sync.Once
}

func newLinePrinter(out io.Writer, width int) *linePrinter {
	return &linePrinter{
		out:       out,
		width:     width,
		theme:     newTheme(),
		connected: make(chan struct{}),
	}
}

func (p *linePrinter) printMessages(delta []session.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, message := range delta {
		fmt.Fprintln(p.out, renderMessage(p.theme, message, p.width))
	}
}

func (p *linePrinter) printProcessing(state session.ProcessingState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if state.Status == "" || state.Status == p.lastStatus {
		p.lastStatus = state.Status
		return
	}
	p.lastStatus = state.Status
	fmt.Fprintln(p.out, processingLabel(p.theme, state))
}

func (p *linePrinter) printConnection(state session.ConnectionState) {
	p.mu.Lock()
	defer p.mu.Unlock()

	line := connectionLabel(p.theme, state)
	if state.Error != "" {
		line += " " + p.theme.errorStatus.Render(state.Error)
	}
	fmt.Fprintln(p.out, line)

	if state.Status == session.ConnectionConnected {
		p.connectedOnce.Do(func() { close(p.connected) })
	}
}
