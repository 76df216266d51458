package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cordon-ai/cordon/internal/session"
)

func chatCmd() *cobra.Command {
	var demo bool
	var sessionID string
	cmd := &cobra.Command{
		Use:          "chat [message]",
		Short:        "Talk to the agent, one message or interactively",
		Long:         "Send one message and exit, or start an interactive session when no message is given. Messages starting with / run a tool directly, bypassing the reasoner but not the gate.",
		SilenceUsage: true,
		Args:         cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client, err := buildClient(cfg, demo)
			if err != nil {
				return err
			}
			sc, err := sessionConfig(cfg, client)
			if err != nil {
				return err
			}
			dir, err := stateDir(cfg)
			if err != nil {
				return err
			}
			sc.SessionID = sessionID
			if sc.SessionID == "" {
				sc.SessionID = uuid.NewString()[:8]
			}
			sc.LedgerPath = filepath.Join(dir, "session_"+sc.SessionID+".jsonl")

			sess, err := session.New(sc)
			if err != nil {
				return err
			}
			defer sess.Close()

			if len(args) == 1 {
				return runOnce(cmd, sess, args[0])
			}
			return runInteractive(cmd, sess)
		},
	}
	cmd.Flags().BoolVar(&demo, "demo", false, "use the canned demo reasoner instead of a live one")
	cmd.Flags().StringVar(&sessionID, "session", "", "resume or pin a session id")
	return cmd
}

func runOnce(cmd *cobra.Command, sess *session.Session, message string) error {
	res := sess.Step(cmd.Context(), message)
	fmt.Fprintln(cmd.OutOrStdout(), res.Reply)
	if res.ActionsDenied > 0 && res.ActionsAllowed == 0 {
		return errGateDenied
	}
	return nil
}

func runInteractive(cmd *cobra.Command, sess *session.Session) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "session %s (/quit to exit, /tools to list capabilities)\n", sess.ID)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/tools":
			for _, ti := range sess.ListTools() {
				marker := " "
				if ti.Granted {
					marker = "*"
				}
				fmt.Fprintf(out, "%s %-18s risk=%s grant=%v\n", marker, ti.Name, ti.Risk, ti.RequiresGrant)
			}
			continue
		case strings.HasPrefix(line, "/grant "):
			tool := strings.TrimSpace(strings.TrimPrefix(line, "/grant "))
			sess.GrantTool(tool)
			fmt.Fprintf(out, "granted %s\n", tool)
			continue
		case strings.HasPrefix(line, "/revoke "):
			tool := strings.TrimSpace(strings.TrimPrefix(line, "/revoke "))
			sess.RevokeTool(tool)
			fmt.Fprintf(out, "revoked %s\n", tool)
			continue
		}

		res := sess.Step(cmd.Context(), line)
		fmt.Fprintln(out, res.Reply)
		if res.ActionsDenied > 0 {
			fmt.Fprintf(out, "(%d action(s) denied by the gate)\n", res.ActionsDenied)
		}
	}
	if err := scanner.Err(); err != nil {
		fatal(err)
	}
	return nil
}
