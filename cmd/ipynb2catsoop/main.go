package main

import (
	"errors"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/noah-isme/gema-nbif/internal/config"
	"github.com/noah-isme/gema-nbif/internal/converter"
)

func main() {
	if err := newRootCmd(os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(stderr io.Writer) *cobra.Command {
	v := config.New()

	cmd := &cobra.Command{
		Use:   "ipynb2catsoop [NOTEBOOK | --convert-all COURSE_DIR]",
		Short: "Convert Jupyter notebooks into courseware markup pages",
		Long: "Convert a notebook into <course_dir>/<unit>/content.md, copying referenced images\n" +
			"and image outputs into the unit's __STATIC__ directory. With --convert-all every\n" +
			"unit directory below COURSE_DIR (or -d) is converted.",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(stderr, v.GetBool("verbose"))
			err := run(v, args, logger)
			if err != nil {
				logger.Error().Err(err).Msg("conversion failed")
			}
			return err
		},
	}

	flags := cmd.Flags()
	flags.BoolP("verbose", "v", false, "increase output verbosity")
	flags.StringP("unit", "u", ".", "unit name (directory below the course directory)")
	flags.StringP("directory", "d", ".", "course directory")
	flags.Bool("convert-all", false, "convert every unit of the course directory")
	flags.Bool("force", false, "convert even when the markup output is newer")
	flags.Bool("plain-headings", false, "keep markdown headings instead of emitting section tags")
	_ = v.BindPFlags(flags)

	return cmd
}

func run(v *viper.Viper, args []string, logger zerolog.Logger) error {
	courseDir := v.GetString("directory")
	convertAll := v.GetBool("convert-all")
	if convertAll && len(args) == 1 {
		courseDir = args[0]
	}

	conv, err := converter.NewMarkupConverter(converter.MarkupOptions{
		CourseDir:     courseDir,
		UnitName:      v.GetString("unit"),
		Force:         v.GetBool("force"),
		PlainHeadings: v.GetBool("plain-headings"),
	}, logger)
	if err != nil {
		return err
	}

	if convertAll {
		results, err := conv.ConvertAll(courseDir)
		logger.Info().Int("converted", len(results)).Msg("course conversion finished")
		return err
	}

	if len(args) == 0 {
		return errors.New("a notebook file is required unless --convert-all is given")
	}
	result, err := conv.Convert(args[0], "")
	if err != nil {
		return err
	}
	logger.Info().
		Str("output", result.Output).
		Int("cells", result.Cells).
		Int("problems", result.Problems).
		Int("assets", len(result.Assets)).
		Msg("notebook converted")
	return nil
}

func newLogger(w io.Writer, verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, NoColor: true}).Level(level).With().Timestamp().Logger()
}

