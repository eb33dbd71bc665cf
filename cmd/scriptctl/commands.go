package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/avvvet/taxline-intent/internal/dialogue"
	"github.com/avvvet/taxline-intent/internal/nlu"
	"github.com/avvvet/taxline-intent/internal/prompts"
	"github.com/avvvet/taxline-intent/internal/script"
	"github.com/avvvet/taxline-intent/internal/session"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file...]",
		Short: "Validate script files, or every bundled variant when none are given",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			failed := 0

			check := func(label string, load func() (*script.Script, error)) {
				s, err := load()
				if err != nil {
					failed++
					fmt.Fprintf(out, "FAIL %s\n%v\n", label, err)
					return
				}
				fmt.Fprintf(out, "ok   %s (%d states, %d intents, %d transitions)\n",
					label, len(s.States), len(s.Intents), len(s.Rules))
			}

			if len(args) == 0 {
				for _, name := range script.Variants() {
					check(name, func() (*script.Script, error) { return script.Bundled(name) })
				}
			}
			for _, file := range args {
				check(file, func() (*script.Script, error) { return script.Load(file) })
			}

			if failed > 0 {
				return fmt.Errorf("%d script(s) failed validation", failed)
			}
			return nil
		},
	}
}

func newClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <utterance>",
		Short: "Show which intent an utterance maps to and why",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadScript()
			if err != nil {
				return err
			}
			c := nlu.NewClassifier(s)

			u := c.Normalize(strings.Join(args, " "))
			m := c.Explain(u)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "normalized: %q\n", u.Text)
			fmt.Fprintf(out, "intent:     %s\n", m.Intent)
			fmt.Fprintf(out, "stage:      %s\n", m.Stage)
			if m.Phrase != "" {
				fmt.Fprintf(out, "phrase:     %q\n", m.Phrase)
			}
			if c.IsGoodbye(u) {
				fmt.Fprintln(out, "goodbye:    yes")
			}
			return nil
		},
	}
}

func newChatCmd() *cobra.Command {
	var verbose bool
	var callerID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk through a call on stdin; an empty line is silence",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadScript()
			if err != nil {
				return err
			}
			resolver, err := prompts.NewResolver(s)
			if err != nil {
				return err
			}
			agent := dialogue.NewAgent(s, session.NewMemoryStore(1, 0, zap.NewNop()), zap.NewNop())

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			const sessionID = "scriptctl"

			opened, err := agent.Open(ctx, sessionID, callerID)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "agent: %s\n", resolver.Render(opened.ResponseKey, opened.Contact.Slots()))

			in := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(out, "> ")
				if !in.Scan() {
					break
				}
				res, err := agent.ProcessTurn(ctx, sessionID, in.Text(), callerID)
				if err != nil {
					return err
				}
				if verbose {
					fmt.Fprintf(out, "  [%s -> %s intent=%s stage=%s reason=%s]\n",
						res.PrevState, res.State, res.Intent, res.Stage, res.Reason)
				}
				fmt.Fprintf(out, "agent: %s\n", resolver.Render(res.ResponseKey, res.Contact.Slots()))
				if res.Transfer {
					fmt.Fprintln(out, "  [transfer to live agent]")
				}
				if res.End {
					fmt.Fprintf(out, "  [call ended: %s]\n", res.Reason)
					return nil
				}
			}
			fmt.Fprintln(out)
			return in.Err()
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print state, intent and stage for each turn")
	cmd.Flags().StringVar(&callerID, "caller-id", "", "caller phone number, pre-fills the phone slot")
	return cmd
}
