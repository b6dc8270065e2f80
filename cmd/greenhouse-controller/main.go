// Greenhouse Node Controller
// Main entry point for the on-device greenhouse controller firmware.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/agsys/greenhouse-controller/internal/engine"
)

// Config represents the configuration file structure.
type Config struct {
	Node struct {
		FirmwareVersion string `yaml:"firmware_version"`
	} `yaml:"node"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Spool struct {
		Dir string `yaml:"dir"`
	} `yaml:"spool"`

	MQTT struct {
		BrokerURL  string `yaml:"broker_url"`
		Username   string `yaml:"username"`
		Password   string `yaml:"password"`
		CACertPath string `yaml:"ca_cert_path"`
	} `yaml:"mqtt"`

	NTP struct {
		Servers []string `yaml:"servers"`
	} `yaml:"ntp"`

	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`
}

var (
	configFile string
	simulate   bool

	rootCmd = &cobra.Command{
		Use:   "greenhouse-controller",
		Short: "Greenhouse Node Controller",
		Long:  "On-device controller for a single greenhouse node. Manages sensing, hysteresis control, the local interface, and cloud connectivity.",
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the controller service",
		RunE:  runController,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Greenhouse Node Controller v0.1.0")
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/greenhouse/controller.yaml", "Configuration file path")
	runCmd.Flags().BoolVar(&simulate, "simulate", false, "Back every sensor and actuator with the in-memory simulator instead of real hardware")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}

func runController(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		if !simulate {
			return fmt.Errorf("failed to load config: %w", err)
		}
		log.Printf("no config file at %s, continuing with defaults under --simulate", configFile)
		cfg = &Config{}
	}

	engineCfg := engine.DefaultConfig()
	engineCfg.Simulate = simulate

	if cfg.Node.FirmwareVersion != "" {
		engineCfg.FirmwareVersion = cfg.Node.FirmwareVersion
	}
	if cfg.Storage.Path != "" {
		engineCfg.ConfigPath = cfg.Storage.Path
	}
	if cfg.Spool.Dir != "" {
		engineCfg.SpoolDir = cfg.Spool.Dir
	}
	if cfg.MQTT.BrokerURL != "" {
		engineCfg.MQTT.BrokerURL = cfg.MQTT.BrokerURL
	}
	engineCfg.MQTT.Username = cfg.MQTT.Username
	engineCfg.MQTT.Password = cfg.MQTT.Password
	engineCfg.MQTT.CACertPath = cfg.MQTT.CACertPath
	if len(cfg.NTP.Servers) > 0 {
		engineCfg.NTPServers = cfg.NTP.Servers
	}

	eng, err := engine.New(engineCfg)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	metricsAddr := cfg.Metrics.Addr
	if metricsAddr == "" {
		metricsAddr = ":9090"
	}
	go serveMetrics(metricsAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	runErr := make(chan error, 1)
	go func() { runErr <- eng.Run(ctx) }()

	log.Println("starting greenhouse node controller")

	select {
	case sig := <-sigChan:
		log.Printf("received signal %v, shutting down...", sig)
		cancel()
		<-runErr
	case err := <-runErr:
		if err != nil {
			log.Printf("engine exited with error: %v", err)
		}
	}

	if err := eng.Stop(); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
	log.Println("shutdown complete")
	return nil
}

func serveMetrics(addr string) {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("metrics server stopped: %v", err)
	}
}
