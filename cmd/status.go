package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/bnema/arena-relay/internal/adapters/httpapi"
	statusadapter "github.com/bnema/arena-relay/internal/adapters/render/status"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"
)

func newStatusCmd(app *app) *cobra.Command {
	var (
		server string
		asJSON bool
		wait   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show pool, session and host state of a running relay",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := app.client(server)

			fetch := func(ctx context.Context) (httpapi.StatusBody, error) {
				return client.Status(ctx)
			}

			ctx := cmd.Context()
			var ready func(httpapi.StatusBody) bool
			if wait > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, wait)
				defer cancel()
				ready = hostReady
			}

			progress := cmd.ErrOrStderr()
			if asJSON {
				progress = io.Discard
			}
			body, err := pollStatus(ctx, progress, fetch, ready, defaultPollInterval)
			if errors.Is(err, context.DeadlineExceeded) && cmd.Context().Err() == nil {
				return fmt.Errorf("relay not ready after %s", wait)
			}
			if err != nil {
				return fmt.Errorf("fetch status: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(body)
			}

			rendered, err := app.statusRenderer(body.Snapshot(), statusadapter.RenderOptions{
				Now:           app.now(),
				IdleWarnAfter: app.cfg.Host.MaxIdle,
				Width:         terminalWidth(cmd.OutOrStdout()),
			})
			if err != nil {
				return fmt.Errorf("render status: %w", err)
			}
			if _, err := fmt.Fprintln(cmd.OutOrStdout(), rendered); err != nil {
				return err
			}
			for _, id := range body.Pending {
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "awaiting resume: %s\n", id); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "relay base URL (defaults to http://<server.listen>)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw status document")
	cmd.Flags().DurationVar(&wait, "wait", 0, "poll until the relay has a browser host ready, up to this long")
	return cmd
}

// terminalWidth returns the column count of w, or 0 when w is not a terminal.
func terminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(f.Fd()) {
		return 0
	}
	width, _, err := term.GetSize(f.Fd())
	if err != nil {
		return 0
	}
	return width
}
