// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/kazwalker/dccstation/pkg/dccpkt"
	"github.com/kazwalker/dccstation/pkg/opauth"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive line console for throttle and CV commands",
	Long: `console opens a line-editing REPL for driving the command station
without the HTTP API: create/delete throttles, set speed and functions,
and run Service Mode CV reads/writes, all against an in-process station.`,
	RunE: runConsole,
}

func init() {
	rootCmd.AddCommand(consoleCmd)
}

const consoleHistoryFile = ".dccstation_history"

// promptOperatorPassword reads a password from the terminal without
// echoing it and checks it against the configured operator token hash.
func promptOperatorPassword(hash string) error {
	fmt.Fprint(os.Stderr, "Operator password: ")
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("console: read password: %w", err)
	}
	if !opauth.CheckPassword(string(pw), hash) {
		return fmt.Errorf("console: wrong operator password")
	}
	return nil
}

func runConsole(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.TokenHash != "" {
		if err := promptOperatorPassword(cfg.Auth.TokenHash); err != nil {
			return err
		}
	}

	st := NewStation(cfg, log)
	go st.Run()
	defer st.Stop()

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	if f, err := os.Open(consoleHistoryFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(consoleHistoryFile); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	fmt.Println("dccstation console. Type 'help' for commands, 'quit' to exit.")
	for {
		text, err := line.Prompt("dcc> ")
		if err != nil {
			return nil
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		line.AppendHistory(text)

		if text == "quit" || text == "exit" {
			return nil
		}
		if err := st.consoleDispatch(text); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

func (s *Station) consoleDispatch(line string) error {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "help":
		fmt.Print(consoleHelp)
		return nil

	case "mode":
		return s.consoleMode(args)

	case "throttle":
		return s.consoleThrottle(args)

	case "speed":
		return s.consoleSpeed(args)

	case "func":
		return s.consoleFunc(args)

	case "svc":
		return s.consoleSvc(args)

	case "status":
		fmt.Printf("mode=%s throttles=%d ack-armed=%v\n",
			s.Scheduler.Mode(), len(s.Scheduler.Throttles()), s.ADC.Armed())
		return nil

	default:
		return fmt.Errorf("unknown command %q (try 'help')", cmd)
	}
}

const consoleHelp = `commands:
  mode off|ops                       switch top-level mode
  throttle add <addr>                create a throttle
  throttle del <addr>                remove a throttle
  throttle list                      list active throttles
  speed <addr> <value>                set speed (-127..127)
  func <addr> <num> on|off            set a function
  svc write <cv> <val>                 service-mode CV byte write
  svc writebit <cv> <bit> 0|1          service-mode CV bit write
  svc read <cv>                        service-mode CV read
  svc log on|off                       toggle the ADC capture-log
  status                               print scheduler status
  quit                                 exit
`

func (s *Station) consoleMode(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: mode off|ops")
	}
	switch args[0] {
	case "off":
		s.Scheduler.SetModeOff()
	case "ops":
		s.Scheduler.SetModeOps()
	default:
		return fmt.Errorf("unknown mode %q", args[0])
	}
	return nil
}

func (s *Station) consoleThrottle(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: throttle add|del|list [addr]")
	}
	switch args[0] {
	case "add":
		addr, err := parseAddr(args)
		if err != nil {
			return err
		}
		_, err = s.Scheduler.CreateThrottle(addr)
		return err
	case "del":
		addr, err := parseAddr(args)
		if err != nil {
			return err
		}
		s.Scheduler.DeleteThrottle(addr)
		return nil
	case "list":
		for _, t := range s.Scheduler.Throttles() {
			fmt.Printf("  %d: speed=%d\n", t.Address(), t.Speed())
		}
		return nil
	default:
		return fmt.Errorf("unknown throttle subcommand %q", args[0])
	}
}

func parseAddr(args []string) (int, error) {
	if len(args) < 2 {
		return 0, fmt.Errorf("missing address")
	}
	return strconv.Atoi(args[1])
}

func (s *Station) consoleSpeed(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: speed <addr> <value>")
	}
	addr, err := strconv.Atoi(args[0])
	if err != nil {
		return err
	}
	speed, err := strconv.Atoi(args[1])
	if err != nil {
		return err
	}
	t, err := s.Scheduler.CreateThrottle(addr)
	if err != nil {
		return err
	}
	return t.SetSpeed(speed)
}

func (s *Station) consoleFunc(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: func <addr> <num> on|off")
	}
	addr, err := strconv.Atoi(args[0])
	if err != nil {
		return err
	}
	num, err := strconv.Atoi(args[1])
	if err != nil {
		return err
	}
	on := args[2] == "on"
	t, err := s.Scheduler.CreateThrottle(addr)
	if err != nil {
		return err
	}
	return t.SetFunction(num, on)
}

func (s *Station) consoleSvc(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: svc write|writebit|read ...")
	}
	switch args[0] {
	case "write":
		if len(args) != 3 {
			return fmt.Errorf("usage: svc write <cv> <val>")
		}
		cv, err := strconv.Atoi(args[1])
		if err != nil {
			return err
		}
		val, err := strconv.Atoi(args[2])
		if err != nil {
			return err
		}
		return s.Scheduler.SvcWriteCV(cv, byte(val))
	case "writebit":
		if len(args) != 4 {
			return fmt.Errorf("usage: svc writebit <cv> <bit> 0|1")
		}
		cv, err := strconv.Atoi(args[1])
		if err != nil {
			return err
		}
		bit, err := strconv.Atoi(args[2])
		if err != nil {
			return err
		}
		return s.Scheduler.SvcWriteBit(cv, bit, args[3] == "1")
	case "read":
		if len(args) != 2 {
			return fmt.Errorf("usage: svc read <cv>")
		}
		cv, err := strconv.Atoi(args[1])
		if err != nil {
			return err
		}
		return s.Scheduler.SvcReadCV(cv)
	case "log":
		if len(args) != 2 {
			return fmt.Errorf("usage: svc log on|off")
		}
		switch args[1] {
		case "on":
			s.Scheduler.SetSvcLogging(true)
		case "off":
			s.Scheduler.SetSvcLogging(false)
		default:
			return fmt.Errorf("usage: svc log on|off")
		}
		return nil
	default:
		return fmt.Errorf("unknown svc subcommand %q", args[0])
	}
}

// kindName is a small helper shared with other cmd files that print
// decoded packet kinds.
func kindName(k dccpkt.Kind) string {
	return k.String()
}
