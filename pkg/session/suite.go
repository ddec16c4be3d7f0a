package session

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/menta2k/vision-qa/internal/utils"
	"github.com/menta2k/vision-qa/pkg/types"
)

// suiteFile is the on-disk layout of a suite YAML file
type suiteFile struct {
	Suites []types.Suite `yaml:"suites"`
}

// LoadSuites reads question suites from a YAML file. Relative image paths
// are resolved against the file's directory.
func LoadSuites(path string) ([]types.Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read suite file: %w", err)
	}

	var file suiteFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse suite file: %w", err)
	}
	if len(file.Suites) == 0 {
		return nil, fmt.Errorf("suite file %s defines no suites", path)
	}

	base := filepath.Dir(path)
	for i := range file.Suites {
		s := &file.Suites[i]
		if err := ValidateSuite(*s); err != nil {
			return nil, err
		}
		for j := range s.Questions {
			img := s.Questions[j].Image
			if isLocalPath(img) && !filepath.IsAbs(img) {
				s.Questions[j].Image = filepath.Join(base, img)
			}
		}
	}
	return file.Suites, nil
}

// ValidateSuite checks every question has an image and at least one prompt
func ValidateSuite(s types.Suite) error {
	if s.Name == "" {
		return fmt.Errorf("suite without a name")
	}
	if len(s.Questions) == 0 {
		return fmt.Errorf("suite %q has no questions", s.Name)
	}
	for i, q := range s.Questions {
		if q.Image == "" {
			return fmt.Errorf("suite %q question %d: image is required", s.Name, i+1)
		}
		if len(q.Prompts) == 0 {
			return fmt.Errorf("suite %q question %d: at least one prompt is required", s.Name, i+1)
		}
	}
	return nil
}

// FilterSuites keeps only the named suites, in the order given by names
func FilterSuites(suites []types.Suite, names []string) ([]types.Suite, error) {
	if len(names) == 0 {
		return suites, nil
	}
	byName := make(map[string]types.Suite, len(suites))
	for _, s := range suites {
		byName[s.Name] = s
	}
	out := make([]types.Suite, 0, len(names))
	for _, n := range names {
		s, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("unknown suite %q", n)
		}
		out = append(out, s)
	}
	return out, nil
}

// SuiteFromDir asks the same prompts about every image under dir
func SuiteFromDir(dir string, prompts ...string) (types.Suite, error) {
	files, err := utils.ListImageFiles(dir)
	if err != nil {
		return types.Suite{}, fmt.Errorf("failed to list images: %w", err)
	}
	if len(files) == 0 {
		return types.Suite{}, fmt.Errorf("no images found in %s", dir)
	}
	s := types.Suite{Name: filepath.Base(dir)}
	for _, f := range files {
		s.Questions = append(s.Questions, types.Question{Image: f, Prompts: prompts})
	}
	return s, ValidateSuite(s)
}

// DefaultSuites are the built-in example question sets
func DefaultSuites() []types.Suite {
	return []types.Suite{
		{
			Name: "chartqa",
			Questions: []types.Question{
				{
					Image:   "hf://ibm-granite/granite-vision-3.2-2b/example.png",
					Prompts: []string{"What is the highest scoring model on ChartQA and what is its score?"},
				},
			},
		},
		{
			Name: "load-balancing",
			Questions: []types.Question{
				{
					Image:   "17-六种负载均衡算法.jpeg",
					Prompts: []string{"图中哪六种负载均衡算法？"},
				},
				{
					Image:   "17-六种负载均衡算法.jpeg",
					Prompts: []string{"请描述这张图里面的主要内容"},
				},
			},
		},
		{
			Name:      "health-table",
			Questions: healthTableQuestions("table_image.png"),
		},
	}
}

// healthTableQuestions asks each question in English, then in Chinese
func healthTableQuestions(image string) []types.Question {
	pairs := [][2]string{
		{"What is the weight on May 13, 2024?", "2024-05-13这一天的体重是多少？"},
		{"What is the average weight across all data entries in the dataset?", "数据集中所有体重数据的平均值是多少？"},
		{"Which day had the longest sleep duration? How many hours specifically?", "哪一天的睡眠时长最长？具体时长是多少小时？"},
		{"Among these data points, which day had the highest number of jump rope counts? How many times did they jump?", "在这些数据中，跳绳次数最多的那一天是哪一天？跳了多少次？"},
		{"What was the total exercise duration in minutes on May 18, 2024?", "2024-05-18这一天的运动总时长是多少分钟？"},
		{"During this period, which day had the highest sleep quality score? What was the score?", "在这段时间内，睡眠质量评分最高的一天是哪一天？评分为多少？"},
		{"In the dataset, which day had the lowest weight? How many kilograms was it?", "数据集中体重最轻的一天是哪一天？体重是多少千克？"},
		{"What were the sleep quality and sleep duration on May 21, 2024?", "2024-05-21这一天的睡眠质量和睡眠时长分别是多少？"},
		{"During this period, which day had no exercise at all (total exercise duration was 0)?", "在这段时间内，哪一天没有进行任何运动（运动总时长为0）？"},
		{"In the dataset, which day had the shortest sleep duration? How many hours specifically?", "数据集中睡眠时长最短的一天是哪一天？具体时长是多少小时？"},
	}
	questions := make([]types.Question, 0, len(pairs))
	for _, p := range pairs {
		questions = append(questions, types.Question{Image: image, Prompts: []string{p[0], p[1]}})
	}
	return questions
}
