// Package preview renders generated replies in the terminal without touching
// any chat.
package preview

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"replybot/pkg/reply"
)

// ReplyFunc produces the reply that would be sent for a post text.
type ReplyFunc func(ctx context.Context, text string) (reply.Result, error)

// Info is shown in the header.
type Info struct {
	Backend  string
	Model    string
	HasImage bool
}

// RunInteractive reads post texts from an input box until the user quits.
func RunInteractive(ctx context.Context, fn ReplyFunc, info Info) error {
	program := tea.NewProgram(newModel(ctx, fn, modeInteractive, "", info), tea.WithMouseCellMotion())
	_, err := program.Run()
	return err
}

// RunOneShot previews a single post and exits.
func RunOneShot(ctx context.Context, fn ReplyFunc, text string, info Info) error {
	program := tea.NewProgram(newModel(ctx, fn, modeOneShot, text, info))
	_, err := program.Run()
	return err
}
