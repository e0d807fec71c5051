package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/jobradar/internal/model"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect analyzed job posts",
}

// -- jobs list --

var (
	jobsHoursBack     int
	jobsWorthOnly     bool
	jobsMinConfidence float64
	jobsRemoteOnly    bool
	jobsCompOnly      bool
	jobsExperience    string
	jobsType          string
	jobsSearch        string
	jobsLimit         int
	jobsOffset        int
	jobsJSON          bool
)

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List analyzed posts, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		f := model.Filters{
			HoursBack:         jobsHoursBack,
			WorthCheckingOnly: jobsWorthOnly,
			MinConfidence:     jobsMinConfidence,
			RemoteOnly:        jobsRemoteOnly,
			CompensationOnly:  jobsCompOnly,
			SearchTerms:       jobsSearch,
			Limit:             jobsLimit,
			Offset:            jobsOffset,
		}
		if jobsExperience != "" {
			lvl := model.ExperienceLevel(strings.ToLower(jobsExperience))
			if !model.ValidExperienceLevel(lvl) {
				return eris.Errorf("unknown experience level %q", jobsExperience)
			}
			f.ExperienceLevel = lvl
		}
		if jobsType != "" {
			jt := model.JobType(strings.ToLower(jobsType))
			if !model.ValidJobType(jt) {
				return eris.Errorf("unknown job type %q", jobsType)
			}
			f.JobType = jt
		}

		posts, err := st.Query(ctx, f)
		if err != nil {
			return eris.Wrap(err, "jobs list")
		}

		if jobsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(posts)
		}

		formatJobsList(os.Stdout, posts)
		return nil
	},
}

// -- jobs show --

var jobsShowCmd = &cobra.Command{
	Use:   "show <post-id>",
	Short: "Show full details of an analyzed post",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		post, err := st.Get(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "jobs show")
		}
		if post == nil {
			return eris.Errorf("post %s not found", args[0])
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(post)
	},
}

// -- jobs stats --

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate radar statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stats, err := st.Stats(ctx)
		if err != nil {
			return eris.Wrap(err, "jobs stats")
		}

		formatJobStats(os.Stdout, stats)
		return nil
	},
}

func init() {
	jobsListCmd.Flags().IntVar(&jobsHoursBack, "hours-back", 0, "window in hours (default 24, max 8760)")
	jobsListCmd.Flags().BoolVar(&jobsWorthOnly, "worth-checking", false, "only posts judged worth checking")
	jobsListCmd.Flags().Float64Var(&jobsMinConfidence, "min-confidence", 0, "minimum confidence score (0-100)")
	jobsListCmd.Flags().BoolVar(&jobsRemoteOnly, "remote", false, "only remote-friendly posts")
	jobsListCmd.Flags().BoolVar(&jobsCompOnly, "compensation", false, "only posts that mention compensation")
	jobsListCmd.Flags().StringVar(&jobsExperience, "experience", "", "filter by experience level (entry, mid, senior, lead)")
	jobsListCmd.Flags().StringVar(&jobsType, "job-type", "", "filter by job type (full_time, part_time, contract, freelance, internship)")
	jobsListCmd.Flags().StringVar(&jobsSearch, "search", "", "space-separated search terms")
	jobsListCmd.Flags().IntVar(&jobsLimit, "limit", 0, "max number of posts to display (default 50)")
	jobsListCmd.Flags().IntVar(&jobsOffset, "offset", 0, "number of posts to skip")
	jobsListCmd.Flags().BoolVar(&jobsJSON, "json", false, "print raw JSON instead of a table")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	jobsCmd.AddCommand(jobsStatsCmd)
	rootCmd.AddCommand(jobsCmd)
}

// formatJobsList writes a tabular list of analyzed posts to out.
func formatJobsList(out io.Writer, posts []model.AnalyzedPost) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSUB\tWORTH\tCONF\tTYPE\tLEVEL\tPOSTED\tTITLE")
	_, _ = fmt.Fprintln(w, "--\t---\t-----\t----\t----\t-----\t------\t-----")

	for _, p := range posts {
		worth, conf, jobType, level := "?", "-", "-", "-"
		if p.Verdict != nil {
			worth = "no"
			if p.Verdict.WorthChecking {
				worth = "yes"
			}
			conf = fmt.Sprintf("%.0f", p.Verdict.Confidence)
			jobType = string(p.Verdict.JobType)
			level = string(p.Verdict.ExperienceLevel)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(p.ID),
			p.Subreddit,
			worth,
			conf,
			jobType,
			level,
			p.DisplayTime,
			truncateTitle(p.Title, 60),
		)
	}
	_ = w.Flush()
}

// formatJobStats writes aggregate stats to out.
func formatJobStats(out io.Writer, s *model.Stats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total posts:\t%d\n", s.TotalPosts)
	_, _ = fmt.Fprintf(w, "Analyzed:\t%d\n", s.AnalyzedPosts)
	_, _ = fmt.Fprintf(w, "Worth checking:\t%d\n", s.WorthChecking)
	_, _ = fmt.Fprintf(w, "Last 24h:\t%d\n", s.PostsLast24h)
	_, _ = fmt.Fprintf(w, "Failed analysis:\t%d\n", s.FailedAnalysis)
	_, _ = fmt.Fprintf(w, "Analysis rate:\t%.1f%%\n", s.AnalysisRate)
	_, _ = fmt.Fprintf(w, "Worth rate:\t%.1f%%\n", s.WorthCheckingRate)
	_ = w.Flush()
}

// truncateID returns the first 8 characters of an ID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// truncateTitle shortens a title to max runes for table display.
func truncateTitle(title string, max int) string {
	runes := []rune(title)
	if len(runes) <= max {
		return title
	}
	return string(runes[:max-3]) + "..."
}
