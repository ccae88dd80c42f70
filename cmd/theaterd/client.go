package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"theaterd/internal/chat"
	"theaterd/internal/httpapi"
	"theaterd/internal/theater"
)

// apiError is a non-2xx reply from the daemon.
type apiError struct {
	Status int
	Msg    string
}

func (e *apiError) Error() string { return fmt.Sprintf("%s (HTTP %d)", e.Msg, e.Status) }

func doJSON(ctx context.Context, client *http.Client, method, url string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e httpapi.ErrorResponse
		if json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&e) != nil || e.Error == "" {
			e.Error = resp.Status
		}
		return &apiError{Status: resp.StatusCode, Msg: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("invalid response: %w", err)
	}
	return nil
}

func newGenerateCmd() *cobra.Command {
	var index int
	cmd := &cobra.Command{
		Use:     "generate",
		Short:   "Generate theater for a message on a running daemon",
		Example: "  theaterd generate\n  theaterd generate --index 4",
		RunE: func(cmd *cobra.Command, args []string) error {
			var req httpapi.GenerateRequest
			if cmd.Flags().Changed("index") {
				req.Index = &index
			}
			spinner, _ := pterm.DefaultSpinner.Start("Generating theater...")
			var res theater.Result
			err := doJSON(cmd.Context(), &http.Client{}, http.MethodPost, serverURL(cmd)+"/generate", req, &res)
			var ae *apiError
			switch {
			case err == nil:
				spinner.Success(fmt.Sprintf("Theater appended to message #%d after %d attempt(s)", res.Index, res.Attempts))
				pterm.Println(res.Text)
				return nil
			case errors.As(err, &ae) && ae.Status == http.StatusTooManyRequests:
				spinner.Warning("Generation in progress, please wait")
				return nil
			default:
				spinner.Fail("Generation failed")
				return err
			}
		},
	}
	cmd.Flags().IntVar(&index, "index", 0, "Target message index (defaults to the newest message)")
	return cmd
}

func newMessagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "messages",
		Short: "List the chat transcript",
		RunE: func(cmd *cobra.Command, args []string) error {
			var body struct {
				Messages []chat.Message `json:"messages"`
			}
			client := &http.Client{Timeout: 10 * time.Second}
			if err := doJSON(cmd.Context(), client, http.MethodGet, serverURL(cmd)+"/messages", nil, &body); err != nil {
				return err
			}
			if len(body.Messages) == 0 {
				pterm.Info.Println("No messages yet")
				return nil
			}
			table := pterm.TableData{{"#", "Name", "Role", "Text"}}
			for _, m := range body.Messages {
				role := "assistant"
				if m.IsUser {
					role = "user"
				}
				table = append(table, []string{strconv.Itoa(m.Index), m.Name, role, preview(m.Text, 60)})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(table).Render()
		},
	}
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream generation notices from a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, serverURL(cmd)+"/events", nil)
			if err != nil {
				return err
			}
			req.Header.Set("Accept", "text/event-stream")
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("request failed: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return &apiError{Status: resp.StatusCode, Msg: resp.Status}
			}
			pterm.Info.Println("Watching for theater notices (Ctrl+C to stop)")
			return readNotices(resp.Body, renderNotice)
		},
	}
}

// readNotices parses an SSE stream and calls fn for every notice event.
func readNotices(r io.Reader, fn func(theater.Notice)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var data strings.Builder
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				var n theater.Notice
				if err := json.Unmarshal([]byte(data.String()), &n); err == nil {
					fn(n)
				}
				data.Reset()
			}
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func renderNotice(n theater.Notice) {
	switch n.Level {
	case theater.LevelSuccess:
		pterm.Success.Println(n.Message)
	case theater.LevelWarning:
		pterm.Warning.Println(n.Message)
	case theater.LevelError:
		pterm.Error.Println(n.Message)
	default:
		pterm.Info.Println(n.Message)
	}
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
