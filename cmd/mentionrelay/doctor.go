package main

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"mentionrelay/internal/identity"
	"mentionrelay/internal/whatsapp"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the relay setup",
		Long: `Verifies configuration, the credential store, the alias table, the
control port and that the webhook host accepts connections. Reports
pass/warn/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("mentionrelay doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed, failed, warned := 0, 0, 0

			// 1. Config loads and validates
			cfg, err := loadConfig()
			if err != nil {
				printFail("Config", err.Error())
				fmt.Printf("\nRun 'mentionrelay init' to write a starter .env file.\n")
				return fmt.Errorf("configuration invalid")
			}
			printPass("Config", "valid")
			passed++

			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			// 2. Credential store opens and reports pairing state
			paired := false
			if store, err := whatsapp.OpenStore(ctx, cfg.Session.AuthDir, logger); err != nil {
				printFail("Credential store", err.Error())
				failed++
			} else {
				device, err := store.Device(ctx)
				switch {
				case err != nil:
					printFail("Credential store", err.Error())
					failed++
				case device.ID == nil:
					printWarn("Credential store", "not paired yet; 'serve' will show a QR code")
					warned++
				default:
					paired = true
					printPass("Credential store", fmt.Sprintf("paired as %s", device.ID.User))
					passed++
				}
				store.Close()
			}

			// 3. Owner identity
			switch {
			case cfg.Owner.Phone != "" || cfg.Owner.Opaque != "":
				printPass("Owner", fmt.Sprintf("phone=%s lid=%s",
					orDash(identity.CanonicalPhone(cfg.Owner.Phone)), orDash(identity.CanonicalOpaque(cfg.Owner.Opaque))))
				passed++
			case paired:
				printPass("Owner", "learned from the paired session")
				passed++
			default:
				printWarn("Owner", "unknown until pairing; set MY_PHONE to match earlier")
				warned++
			}

			// 4. Alias table
			if cfg.Owner.AliasFile != "" {
				if aliases, err := identity.LoadAliases(cfg.Owner.AliasFile); err != nil {
					printFail("Alias table", err.Error())
					failed++
				} else {
					printPass("Alias table", fmt.Sprintf("%d entries", len(aliases)))
					passed++
				}
			}

			// 5. Control port
			if err := checkPort(cfg.Control.Port); err != nil {
				printWarn("Control port", fmt.Sprintf("port %d may be in use (a running instance?): %v", cfg.Control.Port, err))
				warned++
			} else {
				printPass("Control port", fmt.Sprintf(":%d available", cfg.Control.Port))
				passed++
			}

			// 6. Webhook host reachable
			if err := checkWebhookHost(cfg.Webhook.URL); err != nil {
				printWarn("Webhook host", err.Error())
				warned++
			} else {
				printPass("Webhook host", cfg.Webhook.URL)
				passed++
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running the relay.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nThe relay should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed.\n")
			}
			return nil
		},
	}
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

// checkWebhookHost dials the webhook host without sending a request.
func checkWebhookHost(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	host := u.Host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}
	conn, err := net.DialTimeout("tcp", host, 5*time.Second)
	if err != nil {
		return fmt.Errorf("cannot reach %s: %w", host, err)
	}
	conn.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
