package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	agent "github.com/Protocol-Lattice/promo-agent"
	"github.com/Protocol-Lattice/promo-agent/src/models"
)

func newChatCmd(flags *rootFlags) *cobra.Command {
	var (
		photoPath string
		products  []string
		stream    bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the agent on the terminal (one message per line, /quit to leave)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			photo := ""
			if photoPath != "" {
				var err error
				if photo, err = photoDataURL(photoPath); err != nil {
					return err
				}
			}

			a, err := flags.start(cmd)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			if len(products) > 0 {
				if _, err := a.ingest(cmd.Context(), products, 0, 0); err != nil {
					return err
				}
			}
			return chatLoop(cmd.Context(), a.agent, cmd.InOrStdin(), cmd.OutOrStdout(), photo, stream)
		},
	}
	cmd.Flags().StringVar(&photoPath, "photo", "", "your photo (jpeg/png/webp) for image generation")
	cmd.Flags().StringSliceVar(&products, "products", nil, "scraper JSON files to ingest first (in-memory index)")
	cmd.Flags().BoolVar(&stream, "stream", false, "print model text as it arrives")
	return cmd
}

// chatLoop keeps the conversation across lines and prints one reply per line.
func chatLoop(ctx context.Context, orch *agent.Orchestrator, in io.Reader, out io.Writer, photo string, stream bool) error {
	var conv []agent.ConversationMessage
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			fmt.Fprint(out, "> ")
			continue
		case "/quit", "/exit":
			return nil
		}
		conv = append(conv, agent.ConversationMessage{Role: models.RoleUser, Content: line})

		var (
			res agent.OrchestrationResult
			err error
		)
		if stream {
			res, err = streamReply(ctx, orch, conv, photo, out)
		} else {
			res, err = orch.Handle(ctx, conv, photo)
		}
		if err != nil {
			return err
		}

		fmt.Fprintln(out, res.Text)
		if res.ImageURL != "" {
			fmt.Fprintln(out, "image:", describeImage(res.ImageURL))
		}
		conv = append(conv, agent.ConversationMessage{Role: models.RoleAssistant, Content: res.Text})
		fmt.Fprint(out, "> ")
	}
	return scanner.Err()
}

// streamReply prints text deltas and tool notes as they arrive. The
// formatted reply follows once the run is done.
func streamReply(ctx context.Context, orch *agent.Orchestrator, conv []agent.ConversationMessage, photo string, out io.Writer) (agent.OrchestrationResult, error) {
	events := make(chan agent.Event)
	done := make(chan struct{})
	var (
		res agent.OrchestrationResult
		err error
	)
	go func() {
		defer close(done)
		_, res, err = agent.Collect(events)
	}()

	for ev := range orch.HandleStream(ctx, conv, photo) {
		switch ev.Kind {
		case agent.EventTextDelta:
			fmt.Fprint(out, ev.Text)
		case agent.EventToolResult, agent.EventRepair:
			fmt.Fprintf(out, "\n  [%s", ev.Invocation.ToolName)
			if ev.Invocation.Failed() {
				fmt.Fprintf(out, " failed: %s", ev.Invocation.Error)
			}
			fmt.Fprintln(out, "]")
		}
		events <- ev
	}
	close(events)
	<-done
	fmt.Fprintln(out)
	return res, err
}

// describeImage keeps inline images off the terminal.
func describeImage(url string) string {
	if !strings.HasPrefix(url, "data:") {
		return url
	}
	head, _, _ := strings.Cut(url, ",")
	return fmt.Sprintf("%s (%d bytes inline)", head, len(url))
}

// photoDataURL reads a local image into a base64 data URL.
func photoDataURL(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read photo: %w", err)
	}
	ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	if !strings.HasPrefix(ct, "image/") {
		return "", fmt.Errorf("photo %s is %s, not an image", path, ct)
	}
	ct, _, _ = strings.Cut(ct, ";")
	return "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
