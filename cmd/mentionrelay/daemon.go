package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
)

func installDaemonCmd() *cobra.Command {
	var workDir string
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install mentionrelay as a user service (launchd/systemd)",
		Long: `Generates a service file that runs 'mentionrelay serve' at login and
restarts it whenever it exits. The supervisor is what brings the relay back
after reset, restart, or AUTORESTART_MODE=exit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			if workDir == "" {
				if workDir, err = os.Getwd(); err != nil {
					return err
				}
			}
			workDir, _ = filepath.Abs(workDir)

			switch runtime.GOOS {
			case "darwin":
				return installLaunchd(execPath, workDir)
			case "linux":
				return installSystemd(execPath, workDir)
			default:
				return fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", runtime.GOOS)
			}
		},
	}
	cmd.Flags().StringVar(&workDir, "workdir", "", "directory holding .env and the auth dir (default: current directory)")
	return cmd
}

func uninstallDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the mentionrelay user service",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch runtime.GOOS {
			case "darwin":
				return uninstallLaunchd()
			case "linux":
				return uninstallSystemd()
			default:
				return fmt.Errorf("unsupported OS: %s", runtime.GOOS)
			}
		},
	}
}

const (
	launchdLabel = "com.mentionrelay.serve"
	systemdUnit  = "mentionrelay.service"
)

// serveArgs repeats --config when one was given to install.
func serveArgs() []string {
	args := []string{"serve"}
	if configPath != "" {
		abs, err := filepath.Abs(configPath)
		if err == nil {
			args = append(args, "--config", abs)
		}
	}
	return args
}

func installLaunchd(execPath, workDir string) error {
	home, _ := os.UserHomeDir()
	plistDir := filepath.Join(home, "Library", "LaunchAgents")
	plistPath := filepath.Join(plistDir, launchdLabel+".plist")
	logPath := filepath.Join(workDir, "mentionrelay.log")

	var argXML strings.Builder
	for _, a := range append([]string{execPath}, serveArgs()...) {
		argXML.WriteString("        <string>" + a + "</string>\n")
	}

	plist := strings.ReplaceAll(launchdTemplate, "{{ARGS}}", strings.TrimRight(argXML.String(), "\n"))
	plist = strings.ReplaceAll(plist, "{{LABEL}}", launchdLabel)
	plist = strings.ReplaceAll(plist, "{{WORKDIR}}", workDir)
	plist = strings.ReplaceAll(plist, "{{LOG}}", logPath)

	if err := os.MkdirAll(plistDir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(plistPath, []byte(plist), 0o644); err != nil {
		return err
	}

	fmt.Printf("Service installed: %s\n", plistPath)
	fmt.Printf("To start: launchctl load %s\n", plistPath)
	fmt.Printf("To stop:  launchctl unload %s\n", plistPath)
	return nil
}

func uninstallLaunchd() error {
	home, _ := os.UserHomeDir()
	plistPath := filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist")
	if err := os.Remove(plistPath); err != nil {
		return fmt.Errorf("remove plist: %w", err)
	}
	fmt.Printf("Service uninstalled: %s\n", plistPath)
	return nil
}

func installSystemd(execPath, workDir string) error {
	home, _ := os.UserHomeDir()
	unitDir := filepath.Join(home, ".config", "systemd", "user")
	unitPath := filepath.Join(unitDir, systemdUnit)

	unit := strings.ReplaceAll(systemdTemplate, "{{EXEC}}", strings.Join(append([]string{execPath}, serveArgs()...), " "))
	unit = strings.ReplaceAll(unit, "{{WORKDIR}}", workDir)

	if err := os.MkdirAll(unitDir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(unitPath, []byte(unit), 0o644); err != nil {
		return err
	}

	fmt.Printf("Service installed: %s\n", unitPath)
	fmt.Printf("To start:  systemctl --user start mentionrelay\n")
	fmt.Printf("To enable: systemctl --user enable mentionrelay\n")
	fmt.Printf("To stop:   systemctl --user stop mentionrelay\n")
	return nil
}

func uninstallSystemd() error {
	home, _ := os.UserHomeDir()
	unitPath := filepath.Join(home, ".config", "systemd", "user", systemdUnit)
	if err := os.Remove(unitPath); err != nil {
		return fmt.Errorf("remove unit: %w", err)
	}
	fmt.Printf("Service uninstalled: %s\n", unitPath)
	return nil
}

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{LABEL}}</string>
    <key>ProgramArguments</key>
    <array>
{{ARGS}}
    </array>
    <key>WorkingDirectory</key>
    <string>{{WORKDIR}}</string>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{{LOG}}</string>
    <key>StandardErrorPath</key>
    <string>{{LOG}}</string>
</dict>
</plist>`

// Restart=always: reset and restart exit with status 0 and still need a restart.
const systemdTemplate = `[Unit]
Description=mentionrelay WhatsApp mention webhook relay
After=network-online.target

[Service]
Type=simple
WorkingDirectory={{WORKDIR}}
ExecStart={{EXEC}}
Restart=always
RestartSec=2

[Install]
WantedBy=default.target`
