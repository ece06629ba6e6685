package main

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/queryarc/queryarc-api/internal/presence"
)

// questionFile is the YAML input of `presence --file`.
type questionFile struct {
	Website     string   `yaml:"website"`
	ProjectName string   `yaml:"project_name"`
	Topics      string   `yaml:"topics"`
	Competitors []string `yaml:"competitors"`
	BrandTerms  []string `yaml:"brand_terms"`
	Questions   []string `yaml:"questions"`
}

var presenceCmd = &cobra.Command{
	Use:   "presence",
	Short: "Run an answer-presence batch and print its summary",
	Long: `Asks every question for the brand and each competitor, stores the answers
as run items and prints the run summary. Flags override values from --file.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		req, err := presenceRequest(cmd)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, cfg, "presence")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Engine.Execute(ctx, req)
		if err != nil {
			return err
		}

		return printJSON(os.Stdout, res)
	},
}

// presenceRequest merges --file with explicit flags.
func presenceRequest(cmd *cobra.Command) (presence.Request, error) {
	var req presence.Request
	f := cmd.Flags()

	if path, _ := f.GetString("file"); path != "" {
		qf, err := loadQuestionFile(path)
		if err != nil {
			return req, err
		}
		req = presence.Request{
			Website:     qf.Website,
			ProjectName: qf.ProjectName,
			Topics:      qf.Topics,
			Competitors: qf.Competitors,
			BrandTerms:  qf.BrandTerms,
			Questions:   qf.Questions,
		}
	}

	if f.Changed("website") {
		req.Website, _ = f.GetString("website")
	}
	if f.Changed("project") {
		req.ProjectName, _ = f.GetString("project")
	}
	if f.Changed("topics") {
		req.Topics, _ = f.GetString("topics")
	}
	if f.Changed("competitor") {
		req.Competitors, _ = f.GetStringSlice("competitor")
	}
	if f.Changed("question") {
		req.Questions, _ = f.GetStringArray("question")
	}
	req.MaxConcurrency, _ = f.GetInt("concurrency")
	req.MaxRetries, _ = f.GetInt("retries")

	if strings.TrimSpace(req.Website) == "" {
		return req, eris.New("presence: --website (or website in --file) is required")
	}
	return req, nil
}

func loadQuestionFile(path string) (*questionFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "presence: read %s", path)
	}
	var qf questionFile
	if err := yaml.Unmarshal(b, &qf); err != nil {
		return nil, eris.Wrapf(err, "presence: parse %s", path)
	}
	return &qf, nil
}

func init() {
	f := presenceCmd.Flags()
	f.String("file", "", "YAML file with website, topics, competitors and questions")
	f.String("website", "", "brand website")
	f.String("project", "", "project name (default: website host)")
	f.String("topics", "", "topics the questions are about")
	f.StringSlice("competitor", nil, "competitor name or domain (repeatable)")
	f.StringArray("question", nil, "question to ask (repeatable)")
	f.Int("concurrency", 0, "max concurrent LLM calls (default from config)")
	f.Int("retries", 0, "max attempts per cell (default from config)")
	rootCmd.AddCommand(presenceCmd)
}
