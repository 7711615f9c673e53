package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"ironbeam_auto_go/config"
	"ironbeam_auto_go/logs"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "Path to the config.yaml file")
	flag.Parse()

	// Load .env file (credentials); system environment works as well.
	if err := godotenv.Load(); err != nil {
		fmt.Println("Note: .env file not found, will continue using system environment variables.")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Fatal error: Unable to load config file '%s': %v\n", *configPath, err)
		return
	}

	envCfg := config.LoadEnvConfig()

	account := cfg.AccountID
	if account == "" {
		account = "sim"
	}
	logFilename := fmt.Sprintf("%s/%s_manager.log", cfg.Normal.LogDirectory, strings.ToUpper(account))

	if err := logs.Init(cfg.Logs, logFilename); err != nil {
		fmt.Printf("Fatal error: Failed to initialize logging system: %v\n", err)
		return
	}
	defer logs.Close()

	logs.Infof("Configuration loaded, logs will be written to: %s", logFilename)

	orchestrator, err := NewOrchestrator(cfg, envCfg)
	if err != nil {
		logs.Fatalf("Failed to initialize orchestrator: %v", err)
	}
	if err := orchestrator.Start(); err != nil {
		logs.Fatalf("Failed to start orchestrator: %v", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	orchestrator.Stop()
}
