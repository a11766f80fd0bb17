package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DiscordMessenger publishes views as Discord channel messages through
// the REST API. Handles are stored as "channelID/messageID" so edits can
// address the message without extra lookups.
type DiscordMessenger struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewDiscordMessenger(baseURL, botToken string) *DiscordMessenger {
	return &DiscordMessenger{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   botToken,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type discordMessage struct {
	ID      string `json:"id,omitempty"`
	Content string `json:"content"`
}

func (d *DiscordMessenger) CreateMessage(ctx context.Context, channelID, content string) (string, error) {
	url := fmt.Sprintf("%s/channels/%s/messages", d.baseURL, channelID)

	var created discordMessage
	if err := d.do(ctx, http.MethodPost, url, discordMessage{Content: content}, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", fmt.Errorf("create message: response missing id")
	}
	return channelID + "/" + created.ID, nil
}

func (d *DiscordMessenger) EditMessage(ctx context.Context, handle, content string) error {
	channelID, messageID, err := splitHandle(handle)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/channels/%s/messages/%s", d.baseURL, channelID, messageID)
	return d.do(ctx, http.MethodPatch, url, discordMessage{Content: content}, nil)
}

func (d *DiscordMessenger) do(ctx context.Context, method, url string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bot "+d.token)

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrMessageNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("discord api %s %s: status %d: %s", method, url, resp.StatusCode, snippet)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func splitHandle(handle string) (channelID, messageID string, err error) {
	parts := strings.SplitN(handle, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed message handle %q", handle)
	}
	return parts[0], parts[1], nil
}
