package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/menta2k/vision-qa/internal/utils"
	"github.com/menta2k/vision-qa/pkg/types"
)

// Summary counts answered and failed prompts
type Summary struct {
	Total  int `json:"total"`
	Failed int `json:"failed"`
}

// Summarize counts the outcomes in answers
func Summarize(answers []types.Answer) Summary {
	s := Summary{Total: len(answers)}
	for _, a := range answers {
		if a.Failed() {
			s.Failed++
		}
	}
	return s
}

type resultsFile struct {
	Summary Summary        `json:"summary"`
	Answers []types.Answer `json:"answers"`
}

// WriteResults saves answers as indented JSON
func WriteResults(path string, answers []types.Answer) error {
	if err := utils.EnsureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to create results directory: %w", err)
	}
	if answers == nil {
		answers = []types.Answer{}
	}
	js, err := json.MarshalIndent(resultsFile{Summary: Summarize(answers), Answers: answers}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	if err := os.WriteFile(path, js, 0o644); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}
	return nil
}
