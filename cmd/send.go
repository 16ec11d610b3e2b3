package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/wfunc/racebot/client"
	"github.com/wfunc/racebot/models"
	"github.com/wfunc/racebot/network"
)

func newSendCmd() *cobra.Command {
	var (
		url     string
		userID  string
		click   bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "send <command> [name=value ...] | send --click <custom-id>",
		Short: "Send one command or button click over the bridge protocol and print the reply",
		Long: `Options are name=value pairs. Values "true"/"false" become booleans,
integers become ints, and "@id" becomes a user option; anything else is a string.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			c, err := client.Dial(ctx, url)
			if err != nil {
				return fmt.Errorf("dial %s: %w", url, err)
			}
			defer c.Close()

			user := models.Player{ID: userID, Username: userID}
			var reply network.ReplyMessage
			if click {
				reply, err = c.Click(ctx, network.Interaction{User: user, CustomID: args[0]})
			} else {
				var opts []network.Option
				opts, err = parseOptions(args[1:])
				if err != nil {
					return err
				}
				reply, err = c.Command(ctx, network.Command{Name: args[0], User: user, Options: opts})
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(reply)
		},
	}
	cmd.Flags().StringVar(&url, "url", "ws://localhost:8080/ws", "bridge endpoint")
	cmd.Flags().StringVar(&userID, "user", "cli", "user id the request is sent as")
	cmd.Flags().BoolVar(&click, "click", false, "treat the argument as a button custom id")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "how long to wait for the reply")
	return cmd
}

func parseOptions(args []string) ([]network.Option, error) {
	opts := make([]network.Option, 0, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("option %q is not name=value", arg)
		}
		opt := network.Option{Name: name}
		if b, err := strconv.ParseBool(value); err == nil && (value == "true" || value == "false") {
			opt.Bool = &b
		} else if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			opt.Int = &n
		} else if id, isUser := strings.CutPrefix(value, "@"); isUser && id != "" {
			opt.User = &models.Player{ID: id, Username: id}
		} else {
			opt.String = &value
		}
		opts = append(opts, opt)
	}
	return opts, nil
}
