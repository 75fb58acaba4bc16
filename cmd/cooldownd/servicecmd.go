package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/flemzord/cooldownd/pkg/app"
)

// program adapts the application loop to the system service manager.
type program struct {
	configPath string
	errCh      chan error
}

func (p *program) Start(_ service.Service) error {
	p.errCh = make(chan error, 1)
	go func() {
		p.errCh <- app.Run(app.RunParams{
			ConfigPath: p.configPath,
			Version:    version,
			Commit:     commit,
			Date:       date,
			LogLevel:   slog.LevelInfo,
		})
	}()
	return nil
}

func (p *program) Stop(_ service.Service) error {
	// app.Run exits on SIGTERM, which the service manager sends on stop.
	return nil
}

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "service [install|uninstall|start|stop|run]",
		Short:     "Manage cooldownd as a system service",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"install", "uninstall", "start", "stop", "run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")

			svcArgs := []string{"service", "run"}
			if cfgPath != "" {
				svcArgs = append(svcArgs, "--config", cfgPath)
			}

			svcConfig := &service.Config{
				Name:        "cooldownd",
				DisplayName: "cooldownd",
				Description: "Timed role-timeout daemon for Discord servers",
				Arguments:   svcArgs,
			}

			prg := &program{configPath: cfgPath}
			svc, err := service.New(prg, svcConfig)
			if err != nil {
				return fmt.Errorf("create service: %w", err)
			}

			switch args[0] {
			case "install":
				if err := svc.Install(); err != nil {
					return fmt.Errorf("install service: %w", err)
				}
				fmt.Println("Service installed.")
			case "uninstall":
				if err := svc.Uninstall(); err != nil {
					return fmt.Errorf("uninstall service: %w", err)
				}
				fmt.Println("Service uninstalled.")
			case "start":
				if err := svc.Start(); err != nil {
					return fmt.Errorf("start service: %w", err)
				}
				fmt.Println("Service started.")
			case "stop":
				if err := svc.Stop(); err != nil {
					return fmt.Errorf("stop service: %w", err)
				}
				fmt.Println("Service stopped.")
			case "run":
				// Invoked by the service manager itself.
				if err := svc.Run(); err != nil {
					fmt.Fprintln(os.Stderr, "service run:", err)
					os.Exit(1)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringP("config", "c", "", "Path to configuration file")
	return cmd
}
