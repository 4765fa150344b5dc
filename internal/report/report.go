// Package report renders text summaries of generated trial collections:
// stay-time histograms, reward stimulus frequencies and transition
// proportions, as terminal or Markdown tables.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/nvandessel/threestep/internal/trials"
)

// Mode selects the table rendering.
type Mode int

const (
	ASCII    Mode = iota // box-drawn terminal tables
	Markdown             // GitHub-flavoured Markdown tables
)

// ParseMode maps "ascii"/"text" and "markdown"/"md" to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "", "ascii", "text":
		return ASCII, nil
	case "markdown", "md":
		return Markdown, nil
	default:
		return ASCII, fmt.Errorf("unknown report format %q (valid: ascii, markdown)", s)
	}
}

// barWidth is the length of the longest histogram bar.
const barWidth = 30

// Summary holds the distributional statistics of one collection.
type Summary struct {
	Name             string                  `json:"name"`
	Trials           int                     `json:"trials"`
	Segments         int                     `json:"segments"`
	StayTimeMean     float64                 `json:"stay_time_mean"`
	StayTimeVariance float64                 `json:"stay_time_variance"`
	StayTimes        map[int]int             `json:"stay_times"`
	Rewards          map[trials.Stimulus]int `json:"rewards"`
	Transitions      map[string]int          `json:"transitions"`
	FinalHigh        trials.Stimulus         `json:"final_high_rewarding"`
}

// Summarize computes the statistics of c. Segments are rebuilt from the
// trials when c was loaded from a file.
func Summarize(c *trials.Collection) Summary {
	segments := c.Segments
	if len(segments) == 0 {
		segments = trials.SegmentsFromTrials(c.Trials)
	}
	stays := trials.StayTimes(segments)

	s := Summary{
		Name:             c.Name,
		Trials:           len(c.Trials),
		Segments:         len(segments),
		StayTimeMean:     trials.Mean(stays),
		StayTimeVariance: trials.SampleVariance(stays),
		StayTimes:        make(map[int]int),
		Rewards:          make(map[trials.Stimulus]int),
		Transitions:      make(map[string]int),
	}
	for _, v := range stays {
		s.StayTimes[v]++
	}
	for _, t := range c.Trials {
		s.Rewards[t.RewardStimulus]++
		s.Transitions[t.Transitions.String()]++
	}
	if n := len(c.Trials); n > 0 {
		s.FinalHigh = c.Trials[n-1].HighRewarding
	}
	return s
}

// StayTimeTable renders the stay-time histogram.
func StayTimeTable(s Summary, mode Mode) string {
	keys := make([]int, 0, len(s.StayTimes))
	maxCount := 0
	for k, n := range s.StayTimes {
		keys = append(keys, k)
		maxCount = max(maxCount, n)
	}
	sort.Ints(keys)

	w := newWriter(mode)
	w.SetTitle(fmt.Sprintf("Reward stay time %q (n = %d, mean = %.4f, var = %.4f)",
		s.Name, s.Trials, s.StayTimeMean, s.StayTimeVariance))
	w.AppendHeader(table.Row{"Stay time", "Frequency", ""})
	for _, k := range keys {
		w.AppendRow(table.Row{k, s.StayTimes[k], bar(s.StayTimes[k], maxCount)})
	}
	w.AppendFooter(table.Row{"Segments", s.Segments, ""})
	alignNumbers(w)
	return render(w, mode)
}

// RewardTable renders how often each terminal stimulus carried the reward.
func RewardTable(s Summary, mode Mode) string {
	maxCount := 0
	for _, n := range s.Rewards {
		maxCount = max(maxCount, n)
	}

	w := newWriter(mode)
	w.SetTitle(fmt.Sprintf("Reward stimulus frequencies %q", s.Name))
	w.AppendHeader(table.Row{"Stimulus", "Trials", ""})
	for _, stim := range trials.RewardStimuli {
		w.AppendRow(table.Row{int(stim), s.Rewards[stim], bar(s.Rewards[stim], maxCount)})
	}
	w.AppendFooter(table.Row{"High rewarding", int(s.FinalHigh), ""})
	alignNumbers(w)
	return render(w, mode)
}

// TransitionTable renders the proportion of each transition code.
func TransitionTable(s Summary, mode Mode) string {
	w := newWriter(mode)
	w.SetTitle(fmt.Sprintf("Trial transition types %q", s.Name))
	w.AppendHeader(table.Row{"Transitions", "Trials", "Share"})
	for _, code := range trials.TransitionCodes {
		n := s.Transitions[code]
		share := 0.0
		if s.Trials > 0 {
			share = float64(n) / float64(s.Trials)
		}
		w.AppendRow(table.Row{code, n, fmt.Sprintf("%.1f%%", share*100)})
	}
	alignNumbers(w)
	return render(w, mode)
}

// OverviewTable renders one row per collection.
func OverviewTable(summaries []Summary, mode Mode) string {
	w := newWriter(mode)
	w.AppendHeader(table.Row{"Trial type", "Trials", "Segments", "Mean stay", "Var stay", "High rewarding"})
	total := 0
	for _, s := range summaries {
		w.AppendRow(table.Row{s.Name, s.Trials, s.Segments,
			fmt.Sprintf("%.4f", s.StayTimeMean), fmt.Sprintf("%.4f", s.StayTimeVariance), int(s.FinalHigh)})
		total += s.Trials
	}
	w.AppendFooter(table.Row{"Total", total, "", "", "", ""})
	return render(w, mode)
}

// Write renders every table for c to out.
func Write(out io.Writer, c *trials.Collection, mode Mode) error {
	s := Summarize(c)
	for _, section := range []string{StayTimeTable(s, mode), RewardTable(s, mode), TransitionTable(s, mode)} {
		if _, err := fmt.Fprintln(out, section); err != nil {
			return err
		}
	}
	return nil
}

func newWriter(mode Mode) table.Writer {
	w := table.NewWriter()
	if mode == ASCII {
		w.SetStyle(table.StyleLight)
		w.Style().Format.Header = text.FormatDefault
		w.Style().Format.Footer = text.FormatDefault
	}
	return w
}

func render(w table.Writer, mode Mode) string {
	if mode == Markdown {
		return w.RenderMarkdown()
	}
	return w.Render()
}

func alignNumbers(w table.Writer) {
	w.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 2, Align: text.AlignRight},
	})
}

func bar(n, maxCount int) string {
	if maxCount == 0 || n == 0 {
		return ""
	}
	width := n * barWidth / maxCount
	if width == 0 {
		width = 1
	}
	return strings.Repeat("#", width)
}
