package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/moltworks/colony/pkg/models"
)

// adminClient talks to the admin API of a running colony instance. The
// non-serve commands are thin wrappers over it.
type adminClient struct {
	base  string
	token string
	http  *http.Client
}

func newAdminClient(addr, token string) *adminClient {
	if token == "" {
		token = getEnv("ADMIN_TOKEN", "")
	}
	return &adminClient{
		base:  strings.TrimRight(addr, "/"),
		token: token,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *adminClient) do(method, path string, out any) error {
	req, err := http.NewRequest(method, c.base+path, nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) || strings.Contains(err.Error(), "connection refused") {
			return exitWith(exitStoreDown, fmt.Errorf("colony not reachable at %s: %w", c.base, err))
		}
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (HTTP %d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: HTTP %d", method, path, resp.StatusCode)
	}
	if out != nil {
		return json.Unmarshal(body, out)
	}
	return nil
}

func addClientFlags(cmd *cobra.Command, addr, token *string) {
	cmd.Flags().StringVar(addr, "addr",
		getEnv("COLONY_ADDR", "http://localhost:8080"), "base URL of the running instance")
	cmd.Flags().StringVar(token, "token", "", "admin token (default $ADMIN_TOKEN)")
}

func reloadConfigCmd() *cobra.Command {
	var addr, token string
	cmd := &cobra.Command{
		Use:   "reload-config",
		Short: "Re-read the YAML catalog of a running instance",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Status  string `json:"status"`
				Catalog struct {
					Agents    int `json:"Agents"`
					Models    int `json:"Models"`
					Providers int `json:"Providers"`
					Crons     int `json:"Crons"`
				} `json:"catalog"`
			}
			if err := newAdminClient(addr, token).do(http.MethodPost, "/api/v1/config/reload", &resp); err != nil {
				return err
			}
			fmt.Printf("reloaded: %d agents, %d models, %d providers, %d crons\n",
				resp.Catalog.Agents, resp.Catalog.Models, resp.Catalog.Providers, resp.Catalog.Crons)
			return nil
		},
	}
	addClientFlags(cmd, &addr, &token)
	return cmd
}

func listCronsCmd() *cobra.Command {
	var addr, token string
	cmd := &cobra.Command{
		Use:   "list-crons",
		Short: "List cron entries of a running instance",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Entries []models.CronEntry `json:"entries"`
			}
			if err := newAdminClient(addr, token).do(http.MethodGet, "/api/v1/cron", &resp); err != nil {
				return err
			}
			if len(resp.Entries) == 0 {
				fmt.Println("no cron entries")
				return nil
			}
			fmt.Printf("%-36s  %-20s  %-16s  %-8s  %s\n", "ID", "NAME", "SCHEDULE", "ENABLED", "NEXT RUN")
			for _, e := range resp.Entries {
				next := "-"
				if e.NextRunAt != nil {
					next = e.NextRunAt.UTC().Format(time.RFC3339)
				}
				fmt.Printf("%-36s  %-20s  %-16s  %-8t  %s\n", e.ID, e.Name, e.Schedule, e.Enabled, next)
			}
			return nil
		},
	}
	addClientFlags(cmd, &addr, &token)
	return cmd
}

func triggerCronCmd() *cobra.Command {
	var addr, token string
	cmd := &cobra.Command{
		Use:   "trigger-cron <id>",
		Short: "Fire a cron entry immediately, out of schedule",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/cron/" + args[0] + "/trigger"
			if err := newAdminClient(addr, token).do(http.MethodPost, path, nil); err != nil {
				return err
			}
			fmt.Printf("triggered %s\n", args[0])
			return nil
		},
	}
	addClientFlags(cmd, &addr, &token)
	return cmd
}

func endSessionCmd() *cobra.Command {
	var addr, token string
	cmd := &cobra.Command{
		Use:   "end-session <id>",
		Short: "End a chat session and cancel its in-flight work",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/chat/sessions/" + args[0]
			if err := newAdminClient(addr, token).do(http.MethodDelete, path, nil); err != nil {
				return err
			}
			fmt.Printf("ended %s\n", args[0])
			return nil
		},
	}
	addClientFlags(cmd, &addr, &token)
	return cmd
}
