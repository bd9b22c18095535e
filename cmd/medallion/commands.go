package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/obsrvr-medallion/internal/citykey"
	"github.com/withObsrvr/obsrvr-medallion/internal/config"
	"github.com/withObsrvr/obsrvr-medallion/internal/report"
	"github.com/withObsrvr/obsrvr-medallion/internal/stages"
)

var (
	runFrom   string
	runTo     string
	runResume bool
	runID     string

	normalizers string
)

// runCmd executes a range of stages
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline stages",
	Long: `Run the stages ingest, clean, join and analyze in order.

--from and --to restrict the run to a contiguous range. --resume starts
after the last stage recorded in the namespace checkpoint.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStages(cmd.Context(), func(cfg *config.Config) {
			if runFrom != "" {
				cfg.Pipeline.From = runFrom
			}
			if runTo != "" {
				cfg.Pipeline.To = runTo
			}
			if runResume {
				cfg.Pipeline.Resume = true
			}
			if runID != "" {
				cfg.Pipeline.RunID = runID
			}
		})
	},
}

// stageCmd runs a single stage.
func stageCmd(name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStages(cmd.Context(), func(cfg *config.Config) {
				cfg.Pipeline.From = name
				cfg.Pipeline.To = name
				cfg.Pipeline.Resume = false
			})
		},
	}
}

// normalizeCmd prints the city key of each name
var normalizeCmd = &cobra.Command{
	Use:   "normalize NAME...",
	Short: "Print the city key of each name",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		chain := strings.Split(normalizers, ",")
		for i, name := range chain {
			chain[i] = strings.TrimSpace(name)
			if _, ok := citykey.Get(chain[i]); !ok {
				return fmt.Errorf("unknown normalizer %q", chain[i])
			}
		}

		rows := make([][]string, len(args))
		for i, name := range args {
			rows[i] = []string{name, citykey.ApplyChain(name, chain...)}
		}
		report.PrintTable(cmd.OutOrStdout(), []string{"NAME", "ID_CITY"}, rows)
		return nil
	},
}

// tablesCmd lists the current version of every table
var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "List the current version of every table in the namespace",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		p, closeAll, err := openPipeline(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer closeAll()

		status, err := p.Status(cmd.Context())
		if err != nil {
			return err
		}
		if len(status) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "no tables in namespace %s\n", p.Namespace())
			return nil
		}

		rows := make([][]string, len(status))
		for i, s := range status {
			rows[i] = []string{
				s.Table,
				s.Version,
				fmt.Sprintf("%d", s.RowCount),
				s.Checksum,
				fmt.Sprintf("%d", s.Versions),
			}
		}
		report.PrintTable(cmd.OutOrStdout(), []string{"TABLE", "VERSION", "ROWS", "CHECKSUM", "RETAINED"}, rows)
		return nil
	},
}

// describeCmd prints the gold table's columns
var describeCmd = &cobra.Command{
	Use:   "describe",
	Short: "Describe the columns of the gold table",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		p, closeAll, err := openPipeline(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer closeAll()

		cols, err := p.Describe(cmd.Context())
		if err != nil {
			return err
		}
		report.PrintColumns(cmd.OutOrStdout(), cols)
		return nil
	},
}

func init() {
	stageNames := strings.Join(stages.Default().Names(), ", ")
	runCmd.Flags().StringVar(&runFrom, "from", "", "first stage to run, one of: "+stageNames)
	runCmd.Flags().StringVar(&runTo, "to", "", "last stage to run, one of: "+stageNames)
	runCmd.Flags().BoolVar(&runResume, "resume", false, "resume after the last checkpointed stage")
	runCmd.Flags().StringVar(&runID, "run-id", "", "run identifier (default: random uuid)")

	normalizeCmd.Flags().StringVar(&normalizers, "normalizer", "city_key", "comma-separated normalizers: uppercase, unaccent, metro, city_key")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(stageCmd(stages.Ingest, "Load the CSV sources into bronze"))
	rootCmd.AddCommand(stageCmd(stages.Clean, "Clean bronze tables into silver"))
	rootCmd.AddCommand(stageCmd(stages.Join, "Join silver tables into gold"))
	rootCmd.AddCommand(stageCmd(stages.Analyze, "Report the most violent cities from gold"))
	rootCmd.AddCommand(normalizeCmd)
	rootCmd.AddCommand(tablesCmd)
	rootCmd.AddCommand(describeCmd)
}
