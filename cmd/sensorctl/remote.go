package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/xtxerr/sensorlog/internal/client"
	"github.com/xtxerr/sensorlog/internal/command"
	"github.com/xtxerr/sensorlog/internal/wire"
)

var logCmd = &cobra.Command{
	Use:   "log <sensor> <value> [flags]",
	Short: "Store one reading",
	Long: `Store one reading on the server. The timestamp defaults to now.

Examples:
  sensorctl log boiler.temp 61.5
  sensorctl log boiler.temp 61.5 --at 2024-03-01T12:00:00`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("value %q: %w", args[1], err)
		}

		at := time.Now()
		if s, _ := cmd.Flags().GetString("at"); s != "" {
			format, err := wireFormat()
			if err != nil {
				return err
			}
			sec, err := format.ParseTimestamp(s)
			if err != nil {
				return err
			}
			at = time.Unix(sec, 0)
		}

		c, err := dial(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		return c.Log(cmd.Context(), args[0], at, value)
	},
}

var getCmd = &cobra.Command{
	Use:   "get <sensor> <count>",
	Short: "Fetch the earliest readings of a sensor",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		count, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("count %q: %w", args[1], err)
		}

		c, err := dial(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		readings, err := c.Get(cmd.Context(), args[0], count)
		if err != nil {
			return err
		}

		format, _ := wireFormat()
		return outputReadings(os.Stdout, format, readings)
	},
}

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Send raw protocol lines interactively",
	Long: `Open a session and send raw request lines, printing each reply.
Reads lines from stdin when it is not a terminal.

Examples:
  sensorctl shell
  printf 'GET|boiler.temp|3\n' | sensorctl shell`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return runScript(cmd.Context(), c, os.Stdin, os.Stdout)
		}
		runPrompt(cmd.Context(), c)
		return nil
	},
}

func init() {
	logCmd.Flags().String("at", "", "timestamp YYYY-MM-DDTHH:MM:SS (default now)")
}

// =============================================================================
// Shell
// =============================================================================

// shellExec sends one line and writes the reply. It returns false when the
// session can no longer be used.
func shellExec(ctx context.Context, c *client.Client, line string, out io.Writer) bool {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return true
	}

	reply, err := c.Raw(ctx, line)
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return c.State() == client.StateConnected
	}
	if reply == "" {
		reply = "OK"
	}
	fmt.Fprintln(out, reply)
	return true
}

// runScript executes one request per input line.
func runScript(ctx context.Context, c *client.Client, in io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if !shellExec(ctx, c, sc.Text(), out) {
			return fmt.Errorf("connection lost")
		}
	}
	return sc.Err()
}

func runPrompt(ctx context.Context, c *client.Client) {
	fmt.Println("Connected to", cfg.Addr, "- type exit or press Ctrl-D to quit.")

	alive := true
	p := prompt.New(
		func(in string) {
			in = strings.TrimSpace(in)
			if in == "exit" || in == "quit" {
				alive = false
				return
			}
			alive = shellExec(ctx, c, in, os.Stdout)
		},
		shellCompleter,
		prompt.OptionPrefix("sensorlog> "),
		prompt.OptionTitle("sensorctl"),
		prompt.OptionSetExitCheckerOnInput(func(in string, breakline bool) bool {
			return breakline && !alive
		}),
	)
	p.Run()
}

func shellCompleter(d prompt.Document) []prompt.Suggest {
	before := d.TextBeforeCursor()
	if strings.Contains(before, "|") {
		return nil
	}
	suggestions := []prompt.Suggest{
		{Text: command.VerbLog + "|", Description: "LOG|sensor|" + wire.TimestampLayout + "|value"},
		{Text: command.VerbGet + "|", Description: "GET|sensor|count"},
		{Text: "exit", Description: "close the session"},
	}
	return prompt.FilterHasPrefix(suggestions, before, false)
}
