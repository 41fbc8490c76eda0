package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"

	"github.com/entrhq/operator/pkg/agent"
	"github.com/entrhq/operator/pkg/types"
)

// RunCmd runs one goal and prints its steps.
type RunCmd struct {
	Goal      string `arg:"" help:"What the agent should accomplish."`
	SessionID string `help:"Session id to use. Generated when empty." name:"session"`
	Timezone  string `help:"Timezone used to pick the provisioning region, e.g. Europe/Berlin."`
	ContextID string `help:"Persisted browser context to reuse." name:"context"`
	Verbose   bool   `help:"Mirror logs to the console." short:"v"`
}

var (
	stepColor    = color.New(color.FgCyan, color.Bold)
	toolColor    = color.New(color.FgBlue)
	resultColor  = color.New(color.FgWhite)
	waitingColor = color.New(color.FgYellow, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	doneColor    = color.New(color.FgGreen, color.Bold)
)

func (r *RunCmd) Run(ctx context.Context, cli *CLI) error {
	a, err := newApp(cli.Config, r.Verbose)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = a.close(closeCtx)
	}()

	timezone := r.Timezone
	if timezone == "" {
		timezone = a.cfg.Provisioning.Timezone
	}

	awaiting := make(chan string, 1)
	runner := a.runner(agent.WithEventHandler(func(e *types.RunEvent) {
		printEvent(e)
		if e.Type == types.EventTypeAwaitingUserInput {
			awaiting <- e.Message
		}
	}))

	run, err := runner.Launch(ctx, agent.LaunchRequest{
		Goal:      r.Goal,
		SessionID: r.SessionID,
		StartOptions: agent.StartOptions{
			Timezone:  timezone,
			ContextID: r.ContextID,
		},
	})
	if err != nil {
		return err
	}

	stdin := bufio.NewReader(os.Stdin)
	for {
		select {
		case <-run.Done():
			return report(run)

		case <-awaiting:
			waitingColor.Print("Press Enter to resume... ")
			go func() {
				_, _ = stdin.ReadString('\n')
				if err := runner.Resume(run.ID); err != nil {
					a.logger.Warn().Err(err).Msg("Resume failed")
				}
			}()

		case <-ctx.Done():
			fmt.Println()
			cancelCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := runner.Cancel(cancelCtx, run.ID)
			cancel()
			if err != nil {
				return err
			}
			return report(run)
		}
	}
}

func printEvent(e *types.RunEvent) {
	switch e.Type {
	case types.EventTypeStepRecorded:
		s := e.Step
		fmt.Printf("%s %s %s\n", stepColor.Sprintf("[%d]", s.StepNumber), toolColor.Sprint(s.Tool), s.Text)
		if s.Instruction != "" && s.Tool != types.ToolUserInput {
			resultColor.Printf("    %s\n", s.Instruction)
		}
	case types.EventTypeStepResult:
		if e.Step.Tool == types.ToolExtract && e.Result != "" {
			resultColor.Printf("    => %s\n", e.Result)
		}
	case types.EventTypeAwaitingUserInput:
		waitingColor.Printf("\n%s\n", e.Message)
	}
}

func report(run *agent.Run) error {
	snap := run.Snapshot()
	if snap.Error != nil {
		errorColor.Printf("Run failed (%s): %s\n", snap.Error.Kind, snap.Error.Detail)
		return run.Err()
	}
	doneColor.Printf("Done in %d steps: %s\n", len(snap.History), snap.Output)
	return nil
}
