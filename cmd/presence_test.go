package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const questionYAML = `website: acme.com
project_name: Acme
topics: project management
competitors:
  - globex.com
  - Initech
brand_terms:
  - Acme Cloud
questions:
  - What is the best project management tool?
  - Which tools do agencies use?
`

// newPresenceCmd builds a fresh command with the presence flags so tests
// do not share flag state.
func newPresenceCmd() *cobra.Command {
	fresh := &cobra.Command{Use: "presence"}
	f := fresh.Flags()
	f.String("file", "", "")
	f.String("website", "", "")
	f.String("project", "", "")
	f.String("topics", "", "")
	f.StringSlice("competitor", nil, "")
	f.StringArray("question", nil, "")
	f.Int("concurrency", 0, "")
	f.Int("retries", 0, "")
	return fresh
}

func writeQuestionFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "questions.yaml")
	require.NoError(t, os.WriteFile(path, []byte(questionYAML), 0o600))
	return path
}

func TestLoadQuestionFile(t *testing.T) {
	qf, err := loadQuestionFile(writeQuestionFile(t))
	require.NoError(t, err)
	assert.Equal(t, "acme.com", qf.Website)
	assert.Equal(t, "Acme", qf.ProjectName)
	assert.Equal(t, []string{"globex.com", "Initech"}, qf.Competitors)
	assert.Equal(t, []string{"Acme Cloud"}, qf.BrandTerms)
	assert.Len(t, qf.Questions, 2)
}

func TestLoadQuestionFile_Errors(t *testing.T) {
	_, err := loadQuestionFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("questions: [unclosed"), 0o600))
	_, err = loadQuestionFile(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse")
}

func TestPresenceRequest_FlagsOverrideFile(t *testing.T) {
	c := newPresenceCmd()
	require.NoError(t, c.ParseFlags([]string{
		"--file", writeQuestionFile(t),
		"--website", "acme.io",
		"--question", "Who makes the best CRM, for agencies?",
		"--concurrency", "2",
	}))

	req, err := presenceRequest(c)
	require.NoError(t, err)
	assert.Equal(t, "acme.io", req.Website)
	assert.Equal(t, "Acme", req.ProjectName)
	assert.Equal(t, "project management", req.Topics)
	assert.Equal(t, []string{"globex.com", "Initech"}, req.Competitors)
	assert.Equal(t, []string{"Who makes the best CRM, for agencies?"}, req.Questions)
	assert.Equal(t, 2, req.MaxConcurrency)
	assert.Zero(t, req.MaxRetries)
}

func TestPresenceRequest_RequiresWebsite(t *testing.T) {
	c := newPresenceCmd()
	require.NoError(t, c.ParseFlags([]string{"--topics", "crm"}))

	_, err := presenceRequest(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--website")
}
