package command

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/rowcache/internal/cli/connection"
	"github.com/yndnr/rowcache/internal/cli/output"
	"github.com/yndnr/rowcache/internal/core/domain"
	"github.com/yndnr/rowcache/internal/server/httpserver/handler"
)

// Refresh wait defaults.
const (
	DefaultPollInterval = time.Second
	DefaultWaitTimeout  = 5 * time.Minute
)

// RefreshCommand requests a refresh and optionally waits for it.
func RefreshCommand() *cli.Command {
	return &cli.Command{
		Name:  "refresh",
		Usage: "Start a refresh of the snapshot",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "wait",
				Aliases: []string{"w"},
				Usage:   "Wait until the refresh task finishes",
			},
			&cli.DurationFlag{
				Name:  "poll",
				Usage: "Task polling interval while waiting",
				Value: DefaultPollInterval,
			},
			&cli.DurationFlag{
				Name:  "wait-timeout",
				Usage: "Give up waiting after this long",
				Value: DefaultWaitTimeout,
			},
		},
		Action: startRefresh,
	}
}

// TaskCommand inspects refresh tasks.
func TaskCommand() *cli.Command {
	return &cli.Command{
		Name:  "task",
		Usage: "Inspect refresh tasks",
		Subcommands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "Show one refresh task",
				ArgsUsage: "TASK_ID",
				Action:    getTask,
			},
		},
	}
}

func startRefresh(c *cli.Context) error {
	s, client, err := setup(c)
	if err != nil {
		return err
	}

	var rr handler.RefreshResponse
	if _, err := client.Post(c.Context, "/refresh", &rr); err != nil {
		return err
	}

	if !c.Bool("wait") || rr.TaskID == "" {
		if s.Output != output.FormatTable {
			return s.Print(c.App.Writer, rr, nil)
		}
		if rr.Status == handler.RefreshInProgress {
			fmt.Fprintf(c.App.Writer, "Refresh already in progress (task %s)\n", rr.TaskID)
		} else {
			fmt.Fprintf(c.App.Writer, "Refresh started (task %s)\n", rr.TaskID)
		}
		return nil
	}

	var spin *output.Spinner
	if output.IsTerminal(c.App.ErrWriter) {
		spin = output.NewSpinner(c.App.ErrWriter, "Refreshing (task "+rr.TaskID+")")
		spin.Start()
	}

	ctx, cancel := context.WithTimeout(c.Context, c.Duration("wait-timeout"))
	defer cancel()

	task, err := waitTask(ctx, client, rr.TaskID, c.Duration("poll"))
	if err != nil {
		if spin != nil {
			spin.Fail(err.Error())
		}
		return err
	}

	if spin != nil {
		if task.State == domain.TaskFailed {
			spin.Fail("Refresh failed")
		} else {
			spin.Success("Refresh completed")
		}
	}
	if err := s.Print(c.App.Writer, task, nil); err != nil {
		return err
	}
	if task.State == domain.TaskFailed {
		return fmt.Errorf("refresh task %s failed: %s", task.ID, task.Error)
	}
	return nil
}

// waitTask polls a task until it reaches a terminal state.
func waitTask(ctx context.Context, client *connection.HTTPClient, id string, poll time.Duration) (*domain.RefreshTask, error) {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		task, err := fetchTask(ctx, client, id)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("timed out waiting for task %s", id)
			}
			return nil, err
		}
		if task.State.IsTerminal() {
			return task, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timed out waiting for task %s (state %s)", id, task.State)
		case <-ticker.C:
		}
	}
}

func fetchTask(ctx context.Context, client *connection.HTTPClient, id string) (*domain.RefreshTask, error) {
	var task domain.RefreshTask
	if _, err := client.Get(ctx, "/task/"+url.PathEscape(id), &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func getTask(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("task id required")
	}

	s, client, err := setup(c)
	if err != nil {
		return err
	}
	task, err := fetchTask(c.Context, client, id)
	if err != nil {
		return err
	}
	return s.Print(c.App.Writer, task, nil)
}
