package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/triggersync/internal/bridge"
	"github.com/MrWong99/triggersync/internal/config"
	"github.com/MrWong99/triggersync/pkg/marker"
)

type sendOptions struct {
	url     string
	code    int
	name    string
	timeout time.Duration
}

// NewSendCommand creates the send command, which forwards one marker
// through a running bridge. It is meant for checking the device wiring
// before a session.
func NewSendCommand() *cobra.Command {
	opts := &sendOptions{}

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one marker through a running bridge",
		Long: `Send one marker through a running bridge.

Either --code or a --name from the code table is required. When only the
name is given the code is looked up; when only the code is given the marker
is labelled MANUAL.`,
		Example: `  triggersync send --code 10
  triggersync send --name BASELINE_1_EYES_OPEN`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			code, name, err := opts.resolve()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			client := bridge.NewClient(opts.url, opts.timeout)
			if err := client.Dispatch(ctx, code, name, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "marker %d (%s) delivered\n", code, name)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.url, "url", config.DefaultBridgeURL, "base URL of the bridge")
	cmd.Flags().IntVar(&opts.code, "code", 0, "trigger code to send")
	cmd.Flags().StringVar(&opts.name, "name", "", "event name (looked up in the code table when --code is omitted)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", config.DefaultRequestTimeout, "request timeout")

	return cmd
}

func (o *sendOptions) resolve() (marker.Code, string, error) {
	switch {
	case o.code < 0:
		return 0, "", fmt.Errorf("--code %d must be positive", o.code)
	case o.code > 0 && o.name != "":
		return marker.Code(o.code), o.name, nil
	case o.code > 0:
		return marker.Code(o.code), "MANUAL", nil
	case o.name != "":
		e, ok := marker.Lookup(o.name)
		if !ok || e.Parameter {
			return 0, "", fmt.Errorf("unknown marker name %q; run 'triggersync codes' for the table", o.name)
		}
		return e.Code, e.Name, nil
	}
	return 0, "", errors.New("one of --code or --name is required")
}
