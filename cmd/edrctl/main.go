package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/forensicedr/forensicedr/internal/encryption"
	"github.com/forensicedr/forensicedr/pkg/client"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL string
	cfgFile   string
	deviceID  string
	apiKey    string
	token     string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "edrctl",
	Short: "ForensicEDR command-line interface",
	Long: `edrctl is the command-line interface for the ForensicEDR evidence service.

It seals crash evidence into encrypted envelopes, uploads them to the
cloud backend, and inspects crash records and custody chains.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.edrctl")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8000"
		}
		if deviceID == "" {
			deviceID = viper.GetString("device_id")
		}
		if apiKey == "" {
			apiKey = viper.GetString("api_key")
		}
		if token == "" {
			token = viper.GetString("token")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.edrctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "ForensicEDR API base URL (default http://localhost:8000)")
	rootCmd.PersistentFlags().StringVar(&deviceID, "device", "", "Device ID for token exchange")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Device API key for token exchange")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "Bearer token (skips device token exchange)")

	rootCmd.AddCommand(sealCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(crashesCmd)
	rootCmd.AddCommand(custodyCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(appendCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}

func newClient() (*client.Client, error) {
	opts := []client.Option{}
	if token != "" {
		opts = append(opts, client.WithBearerToken(token))
	} else if deviceID != "" {
		opts = append(opts, client.WithDeviceCredential(deviceID, apiKey))
	}
	return client.New(serverURL, opts...)
}

// ── seal ─────────────────────────────────────────────────────────────────────

var (
	sealKeyHex string
	sealOutput string
)

var sealCmd = &cobra.Command{
	Use:   "seal <event.json>",
	Short: "Encrypt a crash event JSON file into an evidence envelope",
	Args:  cobra.ExactArgs(1),
	RunE:  runSeal,
}

func init() {
	sealCmd.Flags().StringVar(&sealKeyHex, "key", "", "AES-256 key as 64 hex chars (or EVIDENCE_ENCRYPTION_KEY)")
	sealCmd.Flags().StringVarP(&sealOutput, "output", "o", "", "Output file (default <input>.bin)")
}

func runSeal(cmd *cobra.Command, args []string) error {
	keyHex := sealKeyHex
	if keyHex == "" {
		keyHex = os.Getenv("EVIDENCE_ENCRYPTION_KEY")
	}
	key, err := encryption.ParseKey(keyHex)
	if err != nil {
		return fmt.Errorf("evidence key: %w", err)
	}

	plaintext, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}
	if !json.Valid(plaintext) {
		return fmt.Errorf("%s is not valid JSON", args[0])
	}

	envelope, err := encryption.Seal(key, plaintext)
	if err != nil {
		return fmt.Errorf("seal: %w", err)
	}

	out := sealOutput
	if out == "" {
		out = strings.TrimSuffix(args[0], ".json") + ".bin"
	}
	if err := os.WriteFile(out, envelope, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}

	fmt.Printf("sealed %d bytes -> %s (%d bytes)\n", len(plaintext), out, len(envelope))
	return nil
}

// ── upload ───────────────────────────────────────────────────────────────────

var uploadCustodyLog string

var uploadCmd = &cobra.Command{
	Use:   "upload <envelope.bin>",
	Short: "Upload an encrypted evidence envelope",
	Args:  cobra.ExactArgs(1),
	RunE:  runUpload,
}

func init() {
	uploadCmd.Flags().StringVar(&uploadCustodyLog, "custody-log", "", "Edge custody log JSON file to ship with the envelope")
}

func runUpload(cmd *cobra.Command, args []string) error {
	envelope, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}

	var edgeLog []byte
	if uploadCustodyLog != "" {
		edgeLog, err = os.ReadFile(uploadCustodyLog)
		if err != nil {
			return fmt.Errorf("read custody log: %w", err)
		}
	}

	c, err := newClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	receipt, err := c.UploadEvidence(ctx, args[0], envelope, edgeLog)
	if err != nil {
		return err
	}

	fmt.Printf("stored event %s (severity %s)\n", receipt.EventID, receipt.Severity)
	return nil
}

// ── crashes ──────────────────────────────────────────────────────────────────

var (
	crashesSeverity string
	crashesStart    string
	crashesEnd      string
	crashesLimit    int
	crashesFormat   string
)

var crashesCmd = &cobra.Command{
	Use:   "crashes",
	Short: "List crash events",
	RunE:  runCrashes,
}

func init() {
	crashesCmd.Flags().StringVar(&crashesSeverity, "severity", "", "Filter by severity (minor, moderate, severe)")
	crashesCmd.Flags().StringVar(&crashesStart, "start", "", "Start date (YYYY-MM-DD)")
	crashesCmd.Flags().StringVar(&crashesEnd, "end", "", "End date (YYYY-MM-DD)")
	crashesCmd.Flags().IntVar(&crashesLimit, "limit", 50, "Maximum events to return")
	crashesCmd.Flags().StringVar(&crashesFormat, "format", "text", "Output format: text or json")
}

func runCrashes(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	crashes, err := c.ListCrashes(ctx, client.ListOptions{
		Severity:  crashesSeverity,
		StartDate: crashesStart,
		EndDate:   crashesEnd,
		Limit:     crashesLimit,
	})
	if err != nil {
		return err
	}

	if crashesFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(crashes)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EVENT ID\tTIMESTAMP\tTYPE\tSEVERITY\tLAT\tLON")
	for _, ev := range crashes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.4f\t%.4f\n",
			ev.EventID,
			ev.Timestamp.Format(time.RFC3339),
			ev.CrashType,
			ev.Severity,
			ev.Location.Latitude,
			ev.Location.Longitude,
		)
	}
	return w.Flush()
}

// ── custody ──────────────────────────────────────────────────────────────────

var custodyFormat string

var custodyCmd = &cobra.Command{
	Use:   "custody <event_id>",
	Short: "Show an event's custody chain and its verification result",
	Args:  cobra.ExactArgs(1),
	RunE:  runCustody,
}

func init() {
	custodyCmd.Flags().StringVar(&custodyFormat, "format", "text", "Output format: text or json")
}

func runCustody(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	chain, err := c.GetCustodyChain(ctx, args[0])
	if err != nil {
		return err
	}

	if custodyFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(chain)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tTIMESTAMP\tACTION\tACTOR\tHASH")
	for i, e := range chain.Chain {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			i,
			e.Timestamp.Format(time.RFC3339),
			e.Action,
			e.Actor,
			shortHash(e.EntryHash),
		)
	}
	w.Flush()

	if chain.Verification.Valid {
		fmt.Printf("\nchain intact (%d entries)\n", chain.Verification.ChainLength)
	} else {
		fmt.Printf("\nCHAIN BROKEN: %s at entry %d (%s)\n",
			chain.Verification.Reason,
			chain.Verification.AtIndex,
			chain.Verification.EntryID,
		)
	}
	return nil
}

func shortHash(h string) string {
	if len(h) > 16 {
		return h[:16] + "..."
	}
	return h
}

// ── verify ───────────────────────────────────────────────────────────────────

var verifyCmd = &cobra.Command{
	Use:   "verify <event_id>",
	Short: "Re-verify an event's custody chain on the server",
	Args:  cobra.ExactArgs(1),
	RunE:  runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	v, err := c.VerifyChain(ctx, args[0])
	if err != nil {
		return err
	}

	if v.Valid {
		fmt.Printf("chain intact (%d entries)\n", v.ChainLength)
		return nil
	}

	fmt.Printf("CHAIN BROKEN: %s at entry %d\n", v.Reason, v.AtIndex)
	if v.Expected != "" {
		fmt.Printf("  expected: %s\n  found:    %s\n", v.Expected, v.Found)
	}
	os.Exit(1)
	return nil
}

// ── append ───────────────────────────────────────────────────────────────────

var (
	appendAction   string
	appendActor    string
	appendLocation string
	appendDetails  string
)

var appendCmd = &cobra.Command{
	Use:   "append <event_id>",
	Short: "Record a manual custody entry for an event",
	Args:  cobra.ExactArgs(1),
	RunE:  runAppend,
}

func init() {
	appendCmd.Flags().StringVar(&appendAction, "action", "", "Custody action (TRANSFER, ACCESS, EXPORT, DELETION, ...)")
	appendCmd.Flags().StringVar(&appendActor, "actor", "", "Acting operator (e.g. analyst@lab.example)")
	appendCmd.Flags().StringVar(&appendLocation, "location", "", "Where the action took place")
	appendCmd.Flags().StringVar(&appendDetails, "details", "", "Extra details as a JSON object")
	appendCmd.MarkFlagRequired("action") //nolint:errcheck
	appendCmd.MarkFlagRequired("actor")  //nolint:errcheck
}

func runAppend(cmd *cobra.Command, args []string) error {
	var details map[string]any
	if appendDetails != "" {
		if err := json.Unmarshal([]byte(appendDetails), &details); err != nil {
			return fmt.Errorf("--details must be a JSON object: %w", err)
		}
	}

	c, err := newClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entry, err := c.AppendCustody(ctx, args[0], client.AppendEntryRequest{
		Action:   appendAction,
		Actor:    appendActor,
		Location: appendLocation,
		Details:  details,
	})
	if err != nil {
		return err
	}

	fmt.Printf("recorded %s entry %s (hash %s)\n", entry.Action, entry.EntryID, shortHash(entry.EntryHash))
	return nil
}

// ── token ────────────────────────────────────────────────────────────────────

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Exchange the device credential for a bearer token and print it",
	Args:  cobra.NoArgs,
	RunE:  runToken,
}

func runToken(cmd *cobra.Command, args []string) error {
	if deviceID == "" || apiKey == "" {
		return fmt.Errorf("token exchange requires --device and --api-key")
	}

	c, err := newClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tok, err := c.FetchToken(ctx)
	if err != nil {
		return err
	}

	fmt.Println(tok)
	return nil
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the edrctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("edrctl %s\n", version)
	},
}
