/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"replybot/pkg/config"
	"replybot/pkg/provider"
	providertypes "replybot/pkg/provider/types"
	"replybot/pkg/reply"
	"replybot/pkg/ui/preview"

	"github.com/spf13/cobra"
)

var (
	previewText  string
	previewImage string
	previewPlain bool
)

// previewCmd represents the preview command
var previewCmd = &cobra.Command{
	Use:   "preview [post text]",
	Short: "Show the reply that would be sent for a post",
	Long:  "Runs the reply pipeline on a post text and optional image without contacting Telegram. Without text it starts an interactive preview.",
	Run: func(cmd *cobra.Command, args []string) {
		text := resolvePostText(args)

		cfg, err := loadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}

		log, closer, err := setupLogger(cfg, "cmd.preview")
		if err != nil {
			fmt.Printf("%v\n", err)
			return
		}
		defer closer.Close()

		image, err := loadImage(previewImage)
		if err != nil {
			fmt.Printf("failed to read image: %v\n", err)
			return
		}

		generator, err := provider.New(cfg.Provider)
		if err != nil {
			fmt.Printf("failed to initialize provider: %v\n", err)
			return
		}

		ctx := context.Background()
		if err := generator.Health(ctx); err != nil {
			log.Warn("Reply generator health check failed", "error", err)
		}

		pipeline := reply.New(generator, cfg.Reply, reply.WithLogger(log))
		replyFn := func(ctx context.Context, text string) (reply.Result, error) {
			return pipeline.Generate(ctx, reply.Input{Text: text, Image: image})
		}

		info := preview.Info{Backend: cfg.Provider.Backend, Model: cfg.Provider.Model, HasImage: image != nil}
		switch {
		case previewPlain:
			runPlainPreview(ctx, replyFn, text)
		case text != "" || image != nil:
			if err := preview.RunOneShot(ctx, replyFn, text, info); err != nil {
				fmt.Printf("preview failed: %v\n", err)
			}
		default:
			if err := preview.RunInteractive(ctx, replyFn, info); err != nil {
				fmt.Printf("preview failed: %v\n", err)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(previewCmd)
	previewCmd.Flags().StringVarP(&previewText, "text", "t", "", "post text")
	previewCmd.Flags().StringVarP(&previewImage, "image", "i", "", "path to an image attached to the post")
	previewCmd.Flags().BoolVar(&previewPlain, "plain", false, "print the reply without the terminal UI")
}

func resolvePostText(args []string) string {
	if value := strings.TrimSpace(previewText); value != "" {
		return value
	}

	return strings.TrimSpace(strings.Join(args, " "))
}

func loadImage(path string) (*providertypes.Image, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > config.DefaultMaxImageBytes {
		return nil, fmt.Errorf("image is larger than %d bytes", config.DefaultMaxImageBytes)
	}

	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return nil, fmt.Errorf("%s is not an image (%s)", path, mime)
	}

	return &providertypes.Image{Data: data, MIME: mime}, nil
}

func runPlainPreview(ctx context.Context, fn preview.ReplyFunc, text string) {
	result, err := fn(ctx, text)
	if err != nil {
		fmt.Printf("preview failed: %v\n", err)
		return
	}

	printReply(result)
}

func printReply(result reply.Result) {
	prefix := "💬"
	if result.IsFallback {
		prefix = "↩"
	}

	for _, line := range replyLines(result.Text) {
		fmt.Printf("%s %s\n", prefix, line)
	}
	if result.IsFallback && result.Cause != nil {
		fmt.Printf("(fallback: %v)\n", result.Cause)
	}
}

func replyLines(message string) []string {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return nil
	}

	return strings.Split(trimmed, "\n")
}
