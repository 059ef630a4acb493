// ABOUTME: health and clients subcommands that query a running gateway
// ABOUTME: Uses the token saved by bootstrap when operator auth is enabled

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/2389/dispatch-gateway/internal/agent"
)

func runHealth(ctx context.Context) error {
	cfg, err := loadConfig(getConfigPath())
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL(cfg.Server.HTTPAddr)+"/health", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	color.Green("healthy")
	return nil
}

func runClients(ctx context.Context) error {
	configPath := getConfigPath()
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL(cfg.Server.HTTPAddr)+"/connections", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if token, err := os.ReadFile(tokenFilePath(configPath)); err == nil {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(string(token)))
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("listing clients failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("listing clients: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var conns []agent.ConnectionInfo
	if err := json.NewDecoder(resp.Body).Decode(&conns); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	printClients(os.Stdout, conns)
	return nil
}

func printClients(w io.Writer, conns []agent.ConnectionInfo) {
	if len(conns) == 0 {
		fmt.Fprintln(w, color.YellowString("no agents waiting"))
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "HOSTNAME\tCLASS\tTRANSPORT\tIP\tWAITING\tID")
	for _, c := range conns {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			color.CyanString(c.Hostname), c.ClassID, c.Transport, c.IP, c.Duration, c.ID)
	}
	_ = tw.Flush()
}
