package main

import (
	"fmt"
	"net/http"
	"time"

	"mentionrelay/internal/config"
	"mentionrelay/internal/control"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"
)

const adminTimeout = 10 * time.Second

type adminFlags struct {
	addr   string
	secret string
}

func (f *adminFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.addr, "addr", "", "control server base URL (default: http://127.0.0.1:$PORT)")
	cmd.Flags().StringVar(&f.secret, "secret", "", "admin secret (default: $ADMIN_SECRET)")
}

// client builds a REST client for a running instance. Config errors are
// tolerated so that status works without WEBHOOK_URL in the shell.
func (f *adminFlags) client() *resty.Client {
	cfg, err := loadConfig()
	if err != nil {
		logger.Debug("config not loaded, using defaults", "err", err)
		cfg = config.Defaults()
	}
	base := f.addr
	if base == "" {
		base = fmt.Sprintf("http://127.0.0.1:%d", cfg.Control.Port)
	}
	secret := f.secret
	if secret == "" {
		secret = cfg.Control.AdminSecret
	}

	c := resty.New().
		SetBaseURL(base).
		SetTimeout(adminTimeout).
		SetHeader("User-Agent", "mentionrelay-cli/"+version)
	if secret != "" {
		c.SetHeader(control.HeaderAdminSecret, secret)
	}
	return c
}

func statusCmd() *cobra.Command {
	var flags adminFlags
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the connection status of a running instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			var st struct {
				Status   string `json:"status"`
				HasQR    bool   `json:"hasQR"`
				LastCode int    `json:"lastCode"`
				Owner    struct {
					Phone  string `json:"phone"`
					Opaque string `json:"opaque"`
				} `json:"owner"`
			}
			resp, err := flags.client().R().SetResult(&st).Get("/instance/status")
			if err != nil {
				return fmt.Errorf("control server unreachable: %w", err)
			}
			if resp.StatusCode() != http.StatusOK {
				return fmt.Errorf("status request failed: %s", resp.Status())
			}
			fmt.Printf("status:      %s\n", st.Status)
			fmt.Printf("pairing QR:  %t\n", st.HasQR)
			if st.LastCode != 0 {
				fmt.Printf("last code:   %d\n", st.LastCode)
			}
			fmt.Printf("owner phone: %s\n", orDash(st.Owner.Phone))
			fmt.Printf("owner lid:   %s\n", orDash(st.Owner.Opaque))
			return nil
		},
	}
	flags.bind(cmd)
	return cmd
}

func resetCmd() *cobra.Command {
	var flags adminFlags
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Log out, wipe stored credentials and stop a running instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return postAdmin(flags.client(), "/instance/reset")
		},
	}
	flags.bind(cmd)
	return cmd
}

func restartCmd() *cobra.Command {
	var flags adminFlags
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Stop a running instance so its supervisor restarts it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return postAdmin(flags.client(), "/instance/restart")
		},
	}
	flags.bind(cmd)
	return cmd
}

func postAdmin(c *resty.Client, path string) error {
	var ack struct {
		OK     bool   `json:"ok"`
		Action string `json:"action"`
		Error  string `json:"error"`
	}
	resp, err := c.R().SetResult(&ack).SetError(&ack).Post(path)
	if err != nil {
		return fmt.Errorf("control server unreachable: %w", err)
	}
	if resp.StatusCode() != http.StatusAccepted {
		return fmt.Errorf("%s rejected: %s %s", path, resp.Status(), ack.Error)
	}
	logger.Info("request accepted", "action", ack.Action)
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
