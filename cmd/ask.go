package cmd

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bnema/arena-relay/internal/adapters/httpapi"
	"github.com/bnema/arena-relay/internal/domain"
	"github.com/spf13/cobra"
)

type askOptions struct {
	server         string
	modelA         string
	modelB         string
	system         string
	conversationID string
	requestID      string
	historyPath    string
	priority       bool
	noPrompt       bool
	asJSON         bool
}

func newAskCmd(app *app) *cobra.Command {
	opts := askOptions{}

	cmd := &cobra.Command{
		Use:   "ask <prompt>",
		Short: "Send a prompt to two models through a running relay",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := httpapi.InteractionBody{
				RequestID:      opts.requestID,
				Prompt:         strings.Join(args, " "),
				SystemPrompt:   opts.system,
				ModelA:         opts.modelA,
				ModelB:         opts.modelB,
				ConversationID: opts.conversationID,
				Priority:       opts.priority,
			}
			if opts.historyPath != "" {
				history, err := readHistory(opts.historyPath)
				if err != nil {
					return err
				}
				body.History = history
			}

			client := app.client(opts.server)
			printer := newStreamPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr(), opts.asJSON)
			input := bufio.NewReader(cmd.InOrStdin())

			_, err := client.Stream(cmd.Context(), body, func(event domain.StreamEvent) {
				printer.print(event)

				action, ok := event.(domain.UserActionRequiredEvent)
				if !ok {
					return
				}
				if opts.noPrompt {
					fmt.Fprintf(cmd.ErrOrStderr(), "resume with: arena resume %s\n", action.RequestID)
					return
				}
				fmt.Fprint(cmd.ErrOrStderr(), "press Enter once verification is done to resume... ")
				if _, err := input.ReadString('\n'); err != nil && !errors.Is(err, io.EOF) {
					fmt.Fprintf(cmd.ErrOrStderr(), "read input: %v\n", err)
					return
				}
				if err := client.Resume(cmd.Context(), action.RequestID); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "resume failed: %v\n", err)
				}
			})
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			return printer.finish()
		},
	}

	cmd.Flags().StringVar(&opts.server, "server", "", "relay base URL (defaults to http://<server.listen>)")
	cmd.Flags().StringVar(&opts.modelA, "model-a", "", "first target model id")
	cmd.Flags().StringVar(&opts.modelB, "model-b", "", "second target model id")
	cmd.Flags().StringVar(&opts.system, "system", "", "system prompt")
	cmd.Flags().StringVar(&opts.conversationID, "conversation", "", "conversation id to continue")
	cmd.Flags().StringVar(&opts.requestID, "request-id", "", "request id (generated when empty)")
	cmd.Flags().StringVar(&opts.historyPath, "history", "", "JSON file holding prior messages")
	cmd.Flags().BoolVar(&opts.priority, "priority", false, "jump ahead of queued requests")
	cmd.Flags().BoolVar(&opts.noPrompt, "no-prompt", false, "do not wait for Enter when verification is required")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print events as JSON lines")
	_ = cmd.MarkFlagRequired("model-a")
	_ = cmd.MarkFlagRequired("model-b")

	return cmd
}

func readHistory(path string) ([]httpapi.MessageBody, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read history file: %w", err)
	}
	var history []httpapi.MessageBody
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("decode history file: %w", err)
	}
	return history, nil
}

// streamPrinter writes model text to out as it arrives, with a header whenever the slot changes.
type streamPrinter struct {
	out      io.Writer
	errOut   io.Writer
	asJSON   bool
	lastSlot domain.Slot
	failure  string
}

func newStreamPrinter(out, errOut io.Writer, asJSON bool) *streamPrinter {
	return &streamPrinter{out: out, errOut: errOut, asJSON: asJSON}
}

func (p *streamPrinter) print(event domain.StreamEvent) {
	if err, ok := event.(domain.ErrorEvent); ok {
		p.failure = err.Message
	}

	if p.asJSON {
		data, err := json.Marshal(httpapi.EncodeEvent(event))
		if err == nil {
			fmt.Fprintln(p.out, string(data))
		}
		return
	}

	switch ev := event.(type) {
	case domain.StatusEvent:
		fmt.Fprintf(p.errOut, "· %s\n", ev.Message)
	case domain.ModelChunkEvent:
		if ev.Slot != p.lastSlot {
			if p.lastSlot != "" {
				fmt.Fprintln(p.out)
			}
			fmt.Fprintf(p.out, "[%s %s] ", strings.ToUpper(string(ev.Slot)), ev.ModelID)
			p.lastSlot = ev.Slot
		}
		fmt.Fprint(p.out, ev.Content)
		if ev.FinishReason != "" {
			fmt.Fprintf(p.out, " (%s)", ev.FinishReason)
		}
	case domain.UserActionRequiredEvent:
		fmt.Fprintf(p.errOut, "! %s (request %s)\n", ev.Message, ev.RequestID)
	case domain.ErrorEvent:
		fmt.Fprintf(p.errOut, "error: %s\n", ev.Message)
	case domain.StreamEndEvent:
		if p.lastSlot != "" {
			fmt.Fprintln(p.out)
		}
	}
}

func (p *streamPrinter) finish() error {
	if p.failure != "" {
		return errors.New(p.failure)
	}
	return nil
}
