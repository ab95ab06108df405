package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"proxyfinder/internal/app"
	"proxyfinder/internal/shared/config"
	"proxyfinder/internal/shared/logger"
	"proxyfinder/internal/shared/types"
)

func main() {
	configDir := flag.String("configdir", "configs", "Path to config directory")
	once := flag.Bool("once", false, "Run the workflow once in CLI mode instead of starting the web UI")
	noAutostart := flag.Bool("no-autostart", false, "Disable automatic scan on server start")
	host := flag.String("host", "", "Web UI host (overrides [web] host)")
	port := flag.Int("port", 0, "Web UI port (overrides [web] port)")
	flag.Parse()

	iniPath := filepath.Join(*configDir, "proxyfinder.ini")

	// 1. 加载 .ini 行为配置
	cfg := types.NewDefaultConfig()
	if err := config.LoadIni(cfg, iniPath); err != nil {
		// Use standard fmt before logger is initialized.
		fmt.Fprintf(os.Stderr, "Fatal: Failed to load config file '%s': %v\n", iniPath, err)
		os.Exit(1)
	}
	if *host != "" {
		cfg.Host = *host
	}
	if *port > 0 {
		cfg.Port = *port
	}
	if *noAutostart {
		cfg.Autostart = false
	}

	// 1.1 初始化日志系统
	if err := logger.Init(cfg.LogConf); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	// 2. 单次运行模式
	if *once {
		appServer, err := app.NewForCLI(cfg, iniPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize")
		}
		records, err := appServer.RunOnce()
		if err != nil {
			logger.Fatal().Err(err).Msg("Validation pass failed")
		}
		logger.Info().Int("working", len(records)).Msg("Validation pass finished.")
		return
	}

	// 3. 创建并运行服务器
	appServer, err := app.NewForWeb(cfg, iniPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize")
	}
	if err := appServer.Run(); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}
