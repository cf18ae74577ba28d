package main

import (
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

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
		Use:   "catsoop2nb PAGE_DIR",
		Short: "Convert a courseware markup page into a notebook",
		Long: "Read PAGE_DIR/content.md and write a notebook whose question cells display\n" +
			"each question of the page through the nbif bridge.",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			level := zerolog.InfoLevel
			if v.GetBool("verbose") {
				level = zerolog.DebugLevel
			}
			logger := zerolog.New(zerolog.ConsoleWriter{Out: stderr, NoColor: true}).Level(level).With().Timestamp().Logger()

			builder := converter.NewNotebookBuilder(converter.NotebookOptions{
				Host:   v.GetString("host"),
				Course: v.GetString("course"),
				Title:  v.GetString("title"),
				Output: v.GetString("output"),
			}, validator.New(), logger)

			out, err := builder.ConvertPage(args[0])
			if err != nil {
				logger.Error().Err(err).Msg("conversion failed")
				return err
			}
			logger.Info().Str("output", out).Msg("notebook written")
			return nil
		},
	}

	flags := cmd.Flags()
	flags.BoolP("verbose", "v", false, "increase output verbosity")
	flags.String("host", "", "courseware host name (defaults to the page front matter)")
	flags.String("course", "", "course name (defaults to the page front matter)")
	flags.String("title", "", "notebook title")
	flags.StringP("output", "o", "", "output notebook path (default PAGE_DIR/<page>.ipynb)")
	_ = v.BindPFlags(flags)

	return cmd
}
