// schedulrctl runs conflict checks against local ICS files and mints
// development tokens for the schedule API.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/schedulr/project/internal/app/calsync"
	appLog "github.com/schedulr/project/internal/log"
	platformauth "github.com/schedulr/project/internal/platform/auth"
	"github.com/schedulr/project/internal/platform/config"
	"github.com/schedulr/project/internal/scheduling"
)

var (
	configPath string
	verbose    bool

	checkStart    string
	checkDuration int
	checkTimezone string
	checkNow      string
	checkJSON     bool

	tokenUsername string
	tokenTTL      time.Duration
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "schedulrctl",
	Short:         "Schedulr developer tools",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		if verbose {
			appLog.SetLevel(appLog.LevelDebug)
		} else {
			appLog.SetLevel(appLog.LevelWarn)
		}
	},
}

var checkCmd = &cobra.Command{
	Use:   "check [calendar.ics]",
	Short: "Check a proposed time against the events of an ICS file",
	Long: `Check expands the events of an ICS file around the proposed time and
reports conflicts and up to three nearby free slots.

A local start such as 2026-03-02T14:30 is read in --timezone.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		loc, err := time.LoadLocation(checkTimezone)
		if err != nil {
			return fmt.Errorf("unknown timezone %q: %w", checkTimezone, err)
		}
		start, err := parseCLITime(checkStart, loc)
		if err != nil {
			return fmt.Errorf("--start: %w", err)
		}
		if cmd.Flags().Changed("duration") && checkDuration <= 0 {
			return fmt.Errorf("--duration must be positive, got %d", checkDuration)
		}
		var now time.Time
		if checkNow != "" {
			if now, err = parseCLITime(checkNow, loc); err != nil {
				return fmt.Errorf("--now: %w", err)
			}
		}

		result, err := checkICS(body, scheduling.DefaultResolver(), start, checkDuration, now)
		if err != nil {
			return err
		}
		if checkJSON {
			return writeJSON(cmd.OutOrStdout(), result)
		}
		return writeResult(cmd.OutOrStdout(), result, loc)
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token [user-id]",
	Short: "Sign a bearer token with the configured secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		ttl := cfg.Auth.TokenTTL
		if tokenTTL > 0 {
			ttl = tokenTTL
		}
		username := tokenUsername
		if username == "" {
			username = args[0]
		}
		token, err := platformauth.NewManager(cfg.Auth.JWTSecret, ttl).Sign(args[0], username)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("SCHEDULR_CONFIG"), "path to the YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log parser and expansion details")

	checkCmd.Flags().StringVarP(&checkStart, "start", "s", "", "proposed start (RFC 3339 or YYYY-MM-DDTHH:MM)")
	checkCmd.Flags().IntVarP(&checkDuration, "duration", "d", 0, "proposed duration in minutes (default 60)")
	checkCmd.Flags().StringVarP(&checkTimezone, "timezone", "z", "Local", "IANA timezone for local times and labels")
	checkCmd.Flags().StringVar(&checkNow, "now", "", "hide alternatives starting before this time")
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "print the result as JSON")
	_ = checkCmd.MarkFlagRequired("start")

	tokenCmd.Flags().StringVarP(&tokenUsername, "username", "u", "", "username claim (defaults to the user id)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (defaults to auth.token_ttl)")

	rootCmd.AddCommand(checkCmd, tokenCmd)
}

// checkICS expands the feed in a window wide enough for the alternative
// search and runs the resolver against it.
func checkICS(body []byte, resolver scheduling.Resolver, start time.Time, durationMinutes int, now time.Time) (scheduling.ConflictResult, error) {
	if err := scheduling.ValidateDuration("duration", durationMinutes); err != nil {
		return scheduling.ConflictResult{}, err
	}
	parsed, err := calsync.ParseICS("cli", body)
	if err != nil {
		return scheduling.ConflictResult{}, err
	}

	window := resolver.SearchWindow(start, durationMinutes)
	expanded, err := calsync.ExpandOccurrences(parsed, calsync.ExpandConfig{
		RangeStart: window.Start,
		RangeEnd:   window.End,
	})
	if err != nil {
		return scheduling.ConflictResult{}, err
	}

	return resolver.DetectConflicts(scheduling.ConflictQuery{
		ProposedStart:           start,
		ProposedDurationMinutes: durationMinutes,
		CandidateEvents:         calsync.ToEvents(expanded.Occurrences),
		Now:                     now,
	})
}

func parseCLITime(value string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.In(loc), nil
	}
	return time.ParseInLocation("2006-01-02T15:04", value, loc)
}

func writeJSON(w io.Writer, result scheduling.ConflictResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func writeResult(w io.Writer, result scheduling.ConflictResult, loc *time.Location) error {
	if !result.HasConflict {
		_, err := fmt.Fprintln(w, "no conflicts")
		return err
	}

	fmt.Fprintf(w, "conflicts with %d event(s):\n", len(result.ConflictingEvents))
	for _, ev := range result.ConflictingEvents {
		fmt.Fprintf(w, "  %s  %s - %s\n", ev.Title, ev.StartTime.In(loc).Format(time.Kitchen), ev.EndTime.In(loc).Format(time.Kitchen))
	}
	if advice := result.Advice(); advice != "" {
		_, err := fmt.Fprintln(w, advice)
		return err
	}
	fmt.Fprintln(w, "alternatives:")
	for _, slot := range result.AlternativeSlots {
		fmt.Fprintf(w, "  %s (%s)\n", slot.Label, slot.RelativeLabel)
	}
	return nil
}
