package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// restClient talks to the server's JSON API.
type restClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func newRESTClient(cfg settings) *restClient {
	return &restClient{
		BaseURL:    cfg.server(),
		Token:      cfg.token(),
		HTTPClient: &http.Client{Timeout: cfg.timeout()},
	}
}

// get performs a GET and decodes JSON into v.
func (c *restClient) get(ctx context.Context, path string, v any) error {
	return c.do(ctx, http.MethodGet, path, nil, v)
}

// post sends body as JSON and decodes the response into v (may be nil).
func (c *restClient) post(ctx context.Context, path string, body, v any) error {
	return c.do(ctx, http.MethodPost, path, body, v)
}

func (c *restClient) do(ctx context.Context, method, path string, body, v any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if v != nil && resp.ContentLength != 0 {
		return json.NewDecoder(resp.Body).Decode(v)
	}
	return nil
}

func newStatusCmd(cfg settings) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var result struct {
				Status        string `json:"status"`
				Version       string `json:"version"`
				UptimeSeconds int64  `json:"uptime_seconds"`
			}
			if err := newRESTClient(cfg).get(cmd.Context(), "/api/status", &result); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if cfg.jsonOutput() {
				return printJSON(out, result)
			}
			status := okColor.Sprint(result.Status)
			if result.Status != "ok" {
				status = errorColor.Sprint(result.Status)
			}
			fmt.Fprintf(out, "status:  %s\n", status)
			fmt.Fprintf(out, "version: %s\n", result.Version)
			if result.UptimeSeconds > 0 {
				fmt.Fprintf(out, "uptime:  %s\n", time.Duration(result.UptimeSeconds)*time.Second)
			}
			return nil
		},
	}
}

func newLoginCmd(cfg settings) *cobra.Command {
	var user, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Exchange admin credentials for a token",
		Long:  "Prints a bearer token. Export it as TEAMBOARD_TOKEN for later commands.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body := map[string]string{"username": user, "password": password}
			var resp struct {
				Token string `json:"token"`
			}
			if err := newRESTClient(cfg).post(cmd.Context(), "/api/auth/login", body, &resp); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Token)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "admin", "admin user name")
	cmd.Flags().StringVar(&password, "password", "", "admin password")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
