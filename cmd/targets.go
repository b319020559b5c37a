package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"replybot/pkg/channel"
	"replybot/pkg/channel/telegram"
	"replybot/pkg/membership"
	"replybot/pkg/targets"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

var targetsResolve bool

type resolver interface {
	Resolve(ctx context.Context, target string) (channel.ResolvedChannel, error)
}

type targetRow struct {
	Target string
	ID     int64
	Title  string
	Err    error
}

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List the channels from the targets CSV",
	Long:  "Parses the targets CSV the same way the service does and optionally resolves every entry through Telegram.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, err := loadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}

		log, closer, err := setupLogger(cfg, "cmd.targets")
		if err != nil {
			fmt.Printf("%v\n", err)
			return
		}
		defer closer.Close()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		list, err := targets.NewFileSource(cfg.Targets.CSVPath).Load(ctx)
		if err != nil {
			fmt.Printf("failed to load targets: %v\n", err)
			return
		}

		var client resolver
		if targetsResolve {
			tg, err := telegram.NewClient(cfg.Telegram, log)
			if err != nil {
				fmt.Printf("failed to initialize Telegram client: %v\n", err)
				return
			}
			client = tg
		}

		rows := collectTargets(ctx, client, list)
		renderTargets(os.Stdout, rows, targetsResolve)
	},
}

func init() {
	rootCmd.AddCommand(targetsCmd)
	targetsCmd.Flags().BoolVar(&targetsResolve, "resolve", false, "resolve every target to a chat id through Telegram")
}

// collectTargets normalizes each entry and resolves it when client is set.
func collectTargets(ctx context.Context, client resolver, list []string) []targetRow {
	rows := make([]targetRow, 0, len(list))
	for _, raw := range list {
		row := targetRow{Target: membership.CleanTarget(raw)}
		if client != nil {
			if _, invite := membership.InviteHash(row.Target); invite {
				row.Err = channel.ErrUnsupported
			} else {
				resolved, err := client.Resolve(ctx, row.Target)
				row.ID = resolved.ID
				row.Title = resolved.DisplayName()
				row.Err = err
			}
		}
		rows = append(rows, row)
	}

	return rows
}

func renderTargets(w io.Writer, rows []targetRow, resolved bool) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "no targets configured")
		return
	}

	headers := []string{"#", "TARGET"}
	if resolved {
		headers = append(headers, "CHAT ID", "TITLE", "ERROR")
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...)
	for i, row := range rows {
		cells := []string{strconv.Itoa(i + 1), row.Target}
		if resolved {
			id := ""
			title := ""
			if row.Err == nil {
				id = strconv.FormatInt(row.ID, 10)
				title = row.Title
			}
			cells = append(cells, id, title, errorString(row.Err))
		}
		t.Row(cells...)
	}

	fmt.Fprintln(w, t.Render())
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
