package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/opscoredev/core/internal/config"
)

// apiClient is a thin JSON/HTTP client for a running opscore instance's
// control surface, used by every subcommand except "run" and "config".
type apiClient struct {
	baseURL string
	http    *http.Client
}

// resolveAddr returns the --addr flag if set, else derives the control
// plane address from the config file's server section.
func resolveAddr(cmd *cobra.Command) (string, error) {
	addr, _ := cmd.Flags().GetString("addr")
	addr = strings.TrimSpace(addr)
	if addr != "" {
		return addr, nil
	}
	path := resolveConfigPath(cmd)
	cfg, err := config.Load(path)
	if err != nil {
		return "", fmt.Errorf("resolving control-plane address: %w", err)
	}
	return fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.HTTPPort), nil
}

func newAPIClient(cmd *cobra.Command) (*apiClient, error) {
	addr, err := resolveAddr(cmd)
	if err != nil {
		return nil, err
	}
	return &apiClient{baseURL: addr, http: &http.Client{Timeout: 15 * time.Second}}, nil
}

func (c *apiClient) post(path string, body, out any) error {
	return c.do(http.MethodPost, path, body, out)
}

func (c *apiClient) get(path string, out any) error {
	return c.do(http.MethodGet, path, nil, out)
}

func (c *apiClient) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("contacting %s: %w (is \"opscore run\" running?)", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.Error != "" {
			return fmt.Errorf("%s", errBody.Error)
		}
		return fmt.Errorf("request failed: %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
