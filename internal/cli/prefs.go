package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/colthorp/tempo-cli-go/internal/core"
	"github.com/colthorp/tempo-cli-go/internal/output"
	"github.com/colthorp/tempo-cli-go/internal/settings"
)

func init() {
	rootCmd.AddCommand(prefsCmd)
	prefsCmd.AddCommand(prefsShowCmd)
	prefsCmd.AddCommand(prefsSetCmd)
	prefsCmd.AddCommand(prefsPullCmd)

	prefsSetCmd.Flags().Bool("notifications", true, "Master notification switch")
	prefsSetCmd.Flags().Bool("daily-briefing", true, "Daily briefing notification")
	prefsSetCmd.Flags().String("briefing-time", "", "Daily briefing time (HH:MM)")
	prefsSetCmd.Flags().Bool("weekly-review", true, "Weekly review notification")
	prefsSetCmd.Flags().Bool("health-reminders", false, "Health reminder notifications")
}

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Notification preferences",
}

var prefsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the local notification preferences",
	RunE:  handlePrefsShow,
}

var prefsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change notification preferences and sync them",
	RunE:  handlePrefsSet,
}

var prefsPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Replace local preferences with the server copy",
	RunE:  handlePrefsPull,
}

func handlePrefsShow(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	output.PrintJSON(os.Stdout, a.Preferences.Current())
	return nil
}

func handlePrefsSet(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	briefingTime, _ := flags.GetString("briefing-time")
	if briefingTime != "" {
		if _, _, err := core.ParseClock(briefingTime); err != nil {
			return err
		}
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	// Only flags given on the command line change.
	err = a.Preferences.Update(cmd.Context(), func(s *settings.Settings) {
		if flags.Changed("notifications") {
			s.NotificationsEnabled, _ = flags.GetBool("notifications")
		}
		if flags.Changed("daily-briefing") {
			s.DailyBriefingEnabled, _ = flags.GetBool("daily-briefing")
		}
		if flags.Changed("weekly-review") {
			s.WeeklyReviewEnabled, _ = flags.GetBool("weekly-review")
		}
		if flags.Changed("health-reminders") {
			s.HealthRemindersEnabled, _ = flags.GetBool("health-reminders")
		}
		if briefingTime != "" {
			s.DailyBriefingTime = briefingTime
		}
	})
	if err != nil {
		return err
	}

	if a.Auth.IsSignedIn() && !forceCache {
		a.Preferences.Flush()
		if err := a.Preferences.LastError(); err != nil {
			progress(fmt.Sprintf("Saved locally; sync failed: %v", err))
			return nil
		}
		progress("Saved and synced.")
	} else {
		a.Preferences.Stop()
		progress("Saved locally.")
	}
	output.PrintJSON(os.Stdout, a.Preferences.Current())
	return nil
}

func handlePrefsPull(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	prefs, err := a.Preferences.Pull(cmd.Context())
	if err != nil {
		return err
	}
	output.PrintJSON(os.Stdout, prefs)
	return nil
}
