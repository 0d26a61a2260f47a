package main

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"mentionrelay/internal/config"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const envFile = ".env"

// wizardStep is one prompted key of the generated .env.
type wizardStep struct {
	Key      string
	Label    string
	Default  string
	Required bool
	Check    func(string) error
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactive setup: webhook → owner → control server → write .env",
		Long:  "Asks for the webhook URL and secret, the owner's phone number, the control port and admin secret, then writes them to ./.env for 'serve' to pick up.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWizard(force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing .env")
	return cmd
}

func wizardSteps() []wizardStep {
	defaults := config.Defaults()
	return []wizardStep{
		{Key: config.KeyWebhookURL, Label: "Webhook URL (receives one POST per relevant message)", Required: true, Check: checkURL},
		{Key: config.KeyWebhookSecret, Label: "Webhook secret (sent as x-webhook-secret, blank for none)"},
		{Key: config.KeyMyPhone, Label: "Your phone number in international form, digits only (blank: learn at pairing)"},
		{Key: config.KeyOwnerDisplay, Label: "Your display name, for plain-text @mentions (blank to skip)"},
		{Key: config.KeyPort, Label: "Control server port", Default: strconv.Itoa(defaults.Control.Port), Check: checkPortValue},
		{Key: config.KeyAdminSecret, Label: "Admin secret for reset/restart (blank leaves them open)"},
		{Key: config.KeyAuthDir, Label: "Credential directory", Default: defaults.Session.AuthDir},
	}
}

func runWizard(force bool) error {
	if _, err := os.Stat(envFile); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", envFile)
	}

	reader := bufio.NewReader(os.Stdin)
	prompt := func(def string) (string, error) {
		if def != "" {
			fmt.Fprintf(os.Stdout, " [%s]: ", def)
		} else {
			fmt.Fprint(os.Stdout, ": ")
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		s := strings.TrimSpace(line)
		if s == "" && def != "" {
			return def, nil
		}
		return s, nil
	}

	env := map[string]string{}
	for _, step := range wizardSteps() {
		for {
			fmt.Fprint(os.Stdout, step.Label)
			value, err := prompt(step.Default)
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			if value == "" && step.Required {
				fmt.Println("  a value is required")
				continue
			}
			if value != "" && step.Check != nil {
				if err := step.Check(value); err != nil {
					fmt.Printf("  %v\n", err)
					continue
				}
			}
			if value != "" {
				env[step.Key] = value
			}
			break
		}
	}

	if err := godotenv.Write(env, envFile); err != nil {
		return fmt.Errorf("write %s: %w", envFile, err)
	}
	if err := os.Chmod(envFile, 0o600); err != nil {
		logger.Warn("could not restrict .env permissions", "err", err)
	}

	fmt.Printf("\nWrote %s with %d settings.\n", envFile, len(env))
	fmt.Println("Next: run 'mentionrelay doctor', then 'mentionrelay serve' and scan the QR code.")
	return nil
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("must be an http(s) URL with a host")
	}
	return nil
}

func checkPortValue(raw string) error {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 || n > 65535 {
		return errors.New("must be a number between 0 and 65535")
	}
	return nil
}
