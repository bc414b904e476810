package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
)

// PrintNavigator asks the user to open the page themselves.
type PrintNavigator struct {
	Out io.Writer
}

func (n PrintNavigator) Navigate(_ context.Context, url string) error {
	_, err := fmt.Fprintf(n.Out, "Complete your payment at:\n  %s\n", url)
	return err
}

// BrowserNavigator launches Command (for example "xdg-open" or "open")
// with the page URL.
type BrowserNavigator struct {
	Command string
}

func (n BrowserNavigator) Navigate(ctx context.Context, url string) error {
	if n.Command == "" {
		return fmt.Errorf("no browser command configured")
	}
	return exec.CommandContext(ctx, n.Command, url).Start()
}

// AutoPayNavigator completes the mock hosted page without a browser,
// paying or failing as configured. The page's return URL is handed to
// OnReturn, mirroring the provider redirecting the payer back.
type AutoPayNavigator struct {
	Client   *http.Client
	Fail     bool
	OnReturn func(returnURL string)
}

func (n AutoPayNavigator) Navigate(ctx context.Context, pageURL string) error {
	action := "/pay"
	if n.Fail {
		action = "/fail"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(pageURL, "/")+action, bytes.NewReader(nil))
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("hosted page returned %d", resp.StatusCode)
	}

	var out struct {
		ReturnURL string `json:"returnUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode hosted page response: %w", err)
	}
	if n.OnReturn != nil && out.ReturnURL != "" {
		n.OnReturn(out.ReturnURL)
	}
	return nil
}
