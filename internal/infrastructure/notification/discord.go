package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Messages are composed in Telegram HTML; Discord wants Markdown.
var htmlToMarkdown = strings.NewReplacer(
	"<b>", "**", "</b>", "**",
	"<i>", "*", "</i>", "*",
	"<code>", "`", "</code>", "`",
	"<pre>", "```", "</pre>", "```",
)

func sendDiscord(ctx context.Context, webhookURL, text string) error {
	payload, err := json.Marshal(map[string]string{"content": htmlToMarkdown.Replace(text)})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := notifyHTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("discord webhook: status %d", resp.StatusCode)
	}
	return nil
}
