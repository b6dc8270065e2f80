// Greenhouse Store CLI Tool
// Provides read-only command-line access to a node's persisted
// settings, boot-health record, and offline telemetry spool.
package main

import (
	"bufio"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/agsys/greenhouse-controller/internal/config"
)

var (
	storePath string
	spoolDir  string

	rootCmd = &cobra.Command{
		Use:   "greenhouse-store",
		Short: "Greenhouse Store CLI",
		Long:  "Command-line tool for inspecting a greenhouse node's settings store and offline telemetry spool.",
	}

	settingsCmd = &cobra.Command{
		Use:   "settings",
		Short: "Show the persisted control settings",
		RunE:  showSettings,
	}

	bootHealthCmd = &cobra.Command{
		Use:   "boot-health",
		Short: "Show the boot-verification record",
		RunE:  showBootHealth,
	}

	spoolCmd = &cobra.Command{
		Use:   "spool",
		Short: "Show the offline telemetry spool's depth and tail",
		RunE:  showSpool,
	}

	tail int
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&storePath, "store", "s", "/var/lib/greenhouse/node.db", "Settings store path")
	rootCmd.PersistentFlags().StringVar(&spoolDir, "spool-dir", "/var/lib/greenhouse/spool", "Offline telemetry spool directory")
	spoolCmd.Flags().IntVarP(&tail, "tail", "n", 10, "Number of trailing records to print")

	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(bootHealthCmd)
	rootCmd.AddCommand(spoolCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openStore() (*config.Store, error) {
	return config.Open(storePath)
}

func showSettings(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	s := store.LoadSettings()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FIELD\tVALUE")
	fmt.Fprintf(w, "temp_min\t%.1f\n", s.TempMin)
	fmt.Fprintf(w, "temp_max\t%.1f\n", s.TempMax)
	fmt.Fprintf(w, "hum_max\t%.1f\n", s.HumMax)
	fmt.Fprintf(w, "soil_dry\t%.1f\n", s.SoilDry)
	fmt.Fprintf(w, "soil_wet\t%.1f\n", s.SoilWet)
	fmt.Fprintf(w, "tank_empty_dist\t%.1f\n", s.TankEmptyDist)
	fmt.Fprintf(w, "tank_full_dist\t%.1f\n", s.TankFullDist)
	fmt.Fprintf(w, "cal_air_raw\t%d\n", s.CalAirRaw)
	fmt.Fprintf(w, "cal_water_raw\t%d\n", s.CalWaterRaw)
	return w.Flush()
}

func showBootHealth(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	h := store.LoadBootHealth()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FIELD\tVALUE")
	fmt.Fprintf(w, "crash_count\t%d\n", h.CrashCount)
	fmt.Fprintf(w, "rollback_happened\t%t\n", h.RollbackHappened)
	return w.Flush()
}

func showSpool(cmd *cobra.Command, args []string) error {
	spoolPath := spoolDir + "/offline_log.txt"
	procPath := spoolDir + "/processing.txt"

	spoolLines := countLines(spoolPath)
	procLines := countLines(procPath)

	fmt.Printf("spool file:      %s (%d records, %s)\n", spoolPath, spoolLines, humanize.Bytes(fileSize(spoolPath)))
	fmt.Printf("processing file: %s (%d records, %s)\n", procPath, procLines, humanize.Bytes(fileSize(procPath)))

	if spoolLines > 0 {
		fmt.Printf("\nlast %d records in spool:\n", tail)
		printTail(spoolPath, tail)
	} else if procLines > 0 {
		fmt.Printf("\nlast %d records in processing file:\n", tail)
		printTail(procPath, tail)
	}
	return nil
}

func fileSize(path string) uint64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return uint64(info.Size())
}

func countLines(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		n++
	}
	return n
}

func printTail(path string, n int) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	for _, l := range lines {
		fmt.Println(l)
	}
}
