package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/mgr"

	"querydeck/internal/logger"
)

const serviceName = "QueryDeck"
const serviceDisplayName = "QueryDeck Worksheet Server"
const serviceDescription = "QueryDeck - HTTP API for running SQL worksheets asynchronously"

// queryDeckService implements the svc.Handler interface
type queryDeckService struct{}

// Execute is called by the Windows Service Control Manager
func (s *queryDeckService) Execute(args []string, changeReq <-chan svc.ChangeRequest, status chan<- svc.Status) (bool, uint32) {
	const cmdsAccepted = svc.AcceptStop | svc.AcceptShutdown

	status <- svc.Status{State: svc.StartPending}

	// Change to executable directory so querydeck.yaml and .env are found
	exePath, err := os.Executable()
	if err == nil {
		os.Chdir(filepath.Dir(exePath))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runServe(ctx, &globalOptions{envFile: ".env"}, 0)
	}()

	status <- svc.Status{State: svc.Running, Accepts: cmdsAccepted}

	// Wait for stop/shutdown signal
	for {
		select {
		case err := <-done:
			cancel()
			if err != nil {
				logger.Log.WithError(err).Error("server exited")
				return false, 1
			}
			return false, 0
		case c := <-changeReq:
			switch c.Cmd {
			case svc.Interrogate:
				status <- c.CurrentStatus
			case svc.Stop, svc.Shutdown:
				status <- svc.Status{State: svc.StopPending}
				cancel()
				select {
				case <-done:
				case <-time.After(10 * time.Second):
				}
				return false, 0
			}
		}
	}
}

// isRunningAsService checks if the process is running as a Windows Service
func isRunningAsService() bool {
	isService, err := svc.IsWindowsService()
	if err != nil {
		return false
	}
	return isService
}

// runAsService starts the application as a Windows Service
func runAsService() {
	err := svc.Run(serviceName, &queryDeckService{})
	if err != nil {
		fmt.Printf("Failed to run as service: %v\n", err)
		os.Exit(1)
	}
}

func serviceCmds() []*cobra.Command {
	svcCmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the QueryDeck Windows service",
	}
	svcCmd.AddCommand(
		&cobra.Command{Use: "install", Short: "Register the Windows service", RunE: func(*cobra.Command, []string) error { return installService() }},
		&cobra.Command{Use: "uninstall", Short: "Remove the Windows service", RunE: func(*cobra.Command, []string) error { return uninstallService() }},
		&cobra.Command{Use: "start", Short: "Start the Windows service", RunE: func(*cobra.Command, []string) error { return startService() }},
		&cobra.Command{Use: "stop", Short: "Stop the Windows service", RunE: func(*cobra.Command, []string) error { return stopService() }},
	)
	return []*cobra.Command{svcCmd}
}

func connectManager() (*mgr.Mgr, error) {
	m, err := mgr.Connect()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to service manager (run as Administrator): %w", err)
	}
	return m, nil
}

// installService registers QueryDeck as a Windows Service
func installService() error {
	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	m, err := connectManager()
	if err != nil {
		return err
	}
	defer m.Disconnect()

	// Check if service already exists
	s, err := m.OpenService(serviceName)
	if err == nil {
		s.Close()
		fmt.Printf("Service '%s' is already installed.\n", serviceName)
		return nil
	}

	s, err = m.CreateService(serviceName, exePath, mgr.Config{
		DisplayName: serviceDisplayName,
		Description: serviceDescription,
		StartType:   mgr.StartAutomatic,
	})
	if err != nil {
		return fmt.Errorf("failed to install service: %w", err)
	}
	defer s.Close()

	fmt.Printf("Service '%s' installed successfully.\n", serviceName)
	fmt.Println("Start with: querydeck service start")
	return nil
}

// uninstallService removes QueryDeck from Windows Services
func uninstallService() error {
	m, err := connectManager()
	if err != nil {
		return err
	}
	defer m.Disconnect()

	s, err := m.OpenService(serviceName)
	if err != nil {
		fmt.Printf("Service '%s' is not installed.\n", serviceName)
		return nil
	}
	defer s.Close()

	if err := s.Delete(); err != nil {
		return fmt.Errorf("failed to uninstall service: %w", err)
	}
	fmt.Printf("Service '%s' uninstalled successfully.\n", serviceName)
	return nil
}

// startService starts the QueryDeck Windows Service
func startService() error {
	m, err := connectManager()
	if err != nil {
		return err
	}
	defer m.Disconnect()

	s, err := m.OpenService(serviceName)
	if err != nil {
		return fmt.Errorf("service '%s' is not installed, run 'querydeck service install' first", serviceName)
	}
	defer s.Close()

	if err := s.Start(); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	fmt.Printf("Service '%s' started.\n", serviceName)
	return nil
}

// stopService asks the QueryDeck Windows Service to stop and waits for it
func stopService() error {
	m, err := connectManager()
	if err != nil {
		return err
	}
	defer m.Disconnect()

	s, err := m.OpenService(serviceName)
	if err != nil {
		return fmt.Errorf("service '%s' is not installed", serviceName)
	}
	defer s.Close()

	st, err := s.Control(svc.Stop)
	if err != nil {
		return fmt.Errorf("failed to stop service: %w", err)
	}
	deadline := time.Now().Add(15 * time.Second)
	for st.State != svc.Stopped {
		if time.Now().After(deadline) {
			return fmt.Errorf("service '%s' did not stop in time", serviceName)
		}
		time.Sleep(300 * time.Millisecond)
		if st, err = s.Query(); err != nil {
			return fmt.Errorf("failed to query service: %w", err)
		}
	}
	fmt.Printf("Service '%s' stopped.\n", serviceName)
	return nil
}
