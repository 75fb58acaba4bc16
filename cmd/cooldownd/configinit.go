package main

import (
	"fmt"
	"os"
	"text/template"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

// initAnswers collects the wizard's answers.
type initAnswers struct {
	Token           string
	ApplicationID   string
	RestrictedRole  string
	DefaultDuration string
	AnnounceChannel string
	AdminAPI        bool
	BearerToken     string
	Path            string
}

const configTemplate = `version: "1"

modules:
  store.sqlite: {}

  channel.discord:
    token: {{.Token}}
    application_id: "{{.ApplicationID}}"
{{- if .AnnounceChannel}}
    announce_channel: "{{.AnnounceChannel}}"
{{- end}}

  engine.cooldown:
    restricted_entitlement: "{{.RestrictedRole}}"
    default_duration: {{.DefaultDuration}}
{{- if .AdminAPI}}

  gateway.http:
    bind: 127.0.0.1:8080
    auth:
      bearer_token: {{.BearerToken}}
{{- end}}

  cron.jobs: {}
`

func configInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Interactively generate a configuration file",
		RunE: func(_ *cobra.Command, _ []string) error {
			answers := initAnswers{
				DefaultDuration: "1h",
				Path:            "cooldownd.yaml",
			}

			form := huh.NewForm(
				huh.NewGroup(
					huh.NewInput().
						Title("Discord bot token").
						Description("From the Discord developer portal, Bot tab.").
						EchoMode(huh.EchoModePassword).
						Value(&answers.Token).
						Validate(required("token")),
					huh.NewInput().
						Title("Application ID").
						Description("The bot's application ID, used to register slash commands.").
						Value(&answers.ApplicationID).
						Validate(required("application ID")),
				),
				huh.NewGroup(
					huh.NewInput().
						Title("Timeout role ID").
						Description("The role applied to members in timeout.").
						Value(&answers.RestrictedRole).
						Validate(required("role ID")),
					huh.NewInput().
						Title("Default timeout duration").
						Description("Used when /timeout is invoked without a duration, like 30m or 2h.").
						Value(&answers.DefaultDuration),
					huh.NewInput().
						Title("Announcement channel ID (optional)").
						Description("Releases are announced here. Leave empty to disable.").
						Value(&answers.AnnounceChannel),
				),
				huh.NewGroup(
					huh.NewConfirm().
						Title("Enable the admin HTTP API?").
						Value(&answers.AdminAPI),
				),
				huh.NewGroup(
					huh.NewInput().
						Title("Admin API bearer token").
						EchoMode(huh.EchoModePassword).
						Value(&answers.BearerToken).
						Validate(required("bearer token")),
				).WithHideFunc(func() bool { return !answers.AdminAPI }),
				huh.NewGroup(
					huh.NewInput().
						Title("Write configuration to").
						Value(&answers.Path),
				),
			)

			if err := form.Run(); err != nil {
				return err
			}

			return writeConfig(answers)
		},
	}
}

func required(name string) func(string) error {
	return func(s string) error {
		if s == "" {
			return fmt.Errorf("%s is required", name)
		}
		return nil
	}
}

func writeConfig(answers initAnswers) error {
	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(answers.Path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%s already exists, refusing to overwrite", answers.Path)
		}
		return err
	}
	defer f.Close()

	if err := tmpl.Execute(f, answers); err != nil {
		return err
	}

	fmt.Printf("Wrote %s\n", answers.Path)
	fmt.Println("Start the daemon with: cooldownd start -c " + answers.Path)
	return nil
}
