// Package pipeline renders the files a grading repository needs to run Playwright
// scripts in CI: the workflow definition, the Playwright configuration, one spec file
// per enabled script and the reporter that posts results back to the grading webhook.
// Everything here is a pure function of its inputs.
package pipeline

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v2"
)

// File paths produced by Build.
const (
	WorkflowPath   = ".github/workflows/grading.yml"
	ConfigPath     = "playwright.config.ts"
	ReporterPath   = ".grading/report.mjs"
	ContextPath    = ".grading/context.json"
	PackagePath    = "package.json"
	SpecDir        = "tests/grading"
	ResultsFile    = "grading-results.json"
	defaultNode    = "20"
	defaultBranch  = "main"
	defaultStart   = "npm start"
	defaultBaseURL = "http://localhost:3000"
)

// Limits on screenshots the reporter inlines into a webhook body.
const (
	MaxScreenshots     = 3
	MaxScreenshotBytes = 768 << 10
)

// Script is an enabled grading script snapshotted from a test configuration.
type Script struct {
	ID     uint
	Name   string
	Source string
}

// Params are the environment knobs that shape the generated pipeline.
type Params struct {
	BaseURL               string
	Workers               int
	Retries               int
	Browsers              []string
	ArtifactRetentionDays int
	NodeVersion           string
	StartCommand          string
	WebhookURL            string
	Branch                string
	SubmissionID          uint
	AssignmentID          uint
	// SignatureToken is the per-submission key the reporter signs webhook bodies with.
	SignatureToken string
}

// File is a generated path/content pair.
type File struct {
	Path    string
	Content string
}

// Output bundles the generated files and the workflow definition text.
type Output struct {
	Files    []File
	Workflow string
}

var devices = map[string]string{
	"chromium":      "Desktop Chrome",
	"firefox":       "Desktop Firefox",
	"webkit":        "Desktop Safari",
	"mobile-chrome": "Pixel 5",
	"mobile-safari": "iPhone 12",
}

// Build renders every pipeline file for the given scripts. Scripts are emitted in ID
// order and passed through verbatim. includePackage adds a minimal package.json for
// snapshots that do not carry one.
func Build(scripts []Script, params Params, includePackage bool) (Output, error) {
	params = withDefaults(params)

	sorted := append([]Script(nil), scripts...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	workflow, err := renderWorkflow(params)
	if err != nil {
		return Output{}, err
	}

	config, err := renderConfig(params)
	if err != nil {
		return Output{}, err
	}

	files := []File{
		{Path: WorkflowPath, Content: workflow},
		{Path: ConfigPath, Content: config},
		{Path: ReporterPath, Content: reporterScript},
		{Path: ContextPath, Content: renderContext(params)},
	}
	for _, script := range sorted {
		files = append(files, File{Path: SpecPath(script), Content: script.Source})
	}
	if includePackage {
		files = append(files, File{Path: PackagePath, Content: renderPackage(params)})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	return Output{Files: files, Workflow: workflow}, nil
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// SpecPath returns the spec file path for a script.
func SpecPath(script Script) string {
	slug := strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(script.Name), "-"), "-")
	if slug == "" {
		slug = "script"
	}
	return fmt.Sprintf("%s/%s-%d.spec.ts", SpecDir, slug, script.ID)
}

func withDefaults(p Params) Params {
	if p.BaseURL == "" {
		p.BaseURL = defaultBaseURL
	}
	if p.Workers <= 0 {
		p.Workers = 1
	}
	if p.Retries < 0 {
		p.Retries = 0
	}
	if len(p.Browsers) == 0 {
		p.Browsers = []string{"chromium"}
	}
	if p.ArtifactRetentionDays <= 0 {
		p.ArtifactRetentionDays = 7
	}
	if p.NodeVersion == "" {
		p.NodeVersion = defaultNode
	}
	if p.StartCommand == "" {
		p.StartCommand = defaultStart
	}
	if p.Branch == "" {
		p.Branch = defaultBranch
	}
	return p
}

type workflowStep struct {
	ID              string            `yaml:"id,omitempty"`
	Name            string            `yaml:"name,omitempty"`
	Uses            string            `yaml:"uses,omitempty"`
	With            map[string]string `yaml:"with,omitempty"`
	Run             string            `yaml:"run,omitempty"`
	Env             map[string]string `yaml:"env,omitempty"`
	If              string            `yaml:"if,omitempty"`
	ContinueOnError bool              `yaml:"continue-on-error,omitempty"`
}

type workflowJob struct {
	RunsOn         string         `yaml:"runs-on"`
	TimeoutMinutes int            `yaml:"timeout-minutes"`
	Steps          []workflowStep `yaml:"steps"`
}

type workflowTrigger struct {
	Push             map[string][]string `yaml:"push"`
	WorkflowDispatch map[string]string   `yaml:"workflow_dispatch"`
}

type workflow struct {
	Name string                 `yaml:"name"`
	On   workflowTrigger        `yaml:"on"`
	Jobs map[string]workflowJob `yaml:"jobs"`
}

func renderWorkflow(p Params) (string, error) {
	def := workflow{
		Name: "grading",
		On: workflowTrigger{
			Push:             map[string][]string{"branches": {p.Branch}},
			WorkflowDispatch: map[string]string{},
		},
		Jobs: map[string]workflowJob{
			"playwright": {
				RunsOn:         "ubuntu-latest",
				TimeoutMinutes: 20,
				Steps: []workflowStep{
					{Uses: "actions/checkout@v4"},
					{Uses: "actions/setup-node@v4", With: map[string]string{"node-version": p.NodeVersion}},
					{Name: "Install dependencies", Run: "npm install --no-audit --no-fund"},
					{Name: "Install Playwright", Run: "npm install --no-save @playwright/test && npx playwright install --with-deps"},
					{
						Name:            "Run grading scripts",
						Run:             "npx playwright test",
						ContinueOnError: true,
						Env:             map[string]string{"CI": "true"},
					},
					{
						ID:   "artifacts",
						Name: "Upload artifacts",
						If:   "always()",
						Uses: "actions/upload-artifact@v4",
						With: map[string]string{
							"name":           "playwright-report",
							"path":           "test-results/\n" + ResultsFile,
							"retention-days": fmt.Sprintf("%d", p.ArtifactRetentionDays),
						},
					},
					{
						Name: "Report results",
						If:   "always()",
						Run:  "node " + ReporterPath,
						Env: map[string]string{
							"GRADING_WEBHOOK_URL":  p.WebhookURL,
							"GRADING_TOKEN":        p.SignatureToken,
							"GRADING_RUN_URL":      "${{ github.server_url }}/${{ github.repository }}/actions/runs/${{ github.run_id }}",
							"GRADING_ARTIFACT_URL": "${{ steps.artifacts.outputs.artifact-url }}",
						},
					},
				},
			},
		},
	}

	data, err := yaml.Marshal(def)
	if err != nil {
		return "", fmt.Errorf("render workflow: %w", err)
	}
	return string(data), nil
}

type project struct {
	Name   string
	Device string
}

var configTemplate = template.Must(template.New("playwright").Parse(`import { defineConfig, devices } from '@playwright/test';

export default defineConfig({
  testDir: './{{ .SpecDir }}',
  fullyParallel: true,
  retries: {{ .Retries }},
  workers: {{ .Workers }},
  reporter: [['json', { outputFile: '{{ .ResultsFile }}' }], ['list']],
  use: {
    baseURL: '{{ .BaseURL }}',
    screenshot: 'only-on-failure',
    trace: 'retain-on-failure',
  },
  webServer: {
    command: '{{ .StartCommand }}',
    url: '{{ .BaseURL }}',
    reuseExistingServer: !process.env.CI,
    timeout: 120000,
  },
  projects: [
{{- range .Projects }}
    { name: '{{ .Name }}', use: { ...devices['{{ .Device }}'] } },
{{- end }}
  ],
});
`))

func renderConfig(p Params) (string, error) {
	projects := make([]project, 0, len(p.Browsers))
	seen := map[string]struct{}{}
	for _, browser := range p.Browsers {
		name := strings.ToLower(strings.TrimSpace(browser))
		device, ok := devices[name]
		if !ok {
			return "", fmt.Errorf("unsupported browser %q", browser)
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		projects = append(projects, project{Name: name, Device: device})
	}

	var buf bytes.Buffer
	err := configTemplate.Execute(&buf, map[string]interface{}{
		"SpecDir":      SpecDir,
		"Retries":      p.Retries,
		"Workers":      p.Workers,
		"ResultsFile":  ResultsFile,
		"BaseURL":      jsString(p.BaseURL),
		"StartCommand": jsString(p.StartCommand),
		"Projects":     projects,
	})
	if err != nil {
		return "", fmt.Errorf("render playwright config: %w", err)
	}
	return buf.String(), nil
}

func renderContext(p Params) string {
	return fmt.Sprintf("{\n  \"submission_id\": %d,\n  \"assignment_id\": %d,\n  \"max_screenshots\": %d,\n  \"max_screenshot_bytes\": %d\n}\n",
		p.SubmissionID, p.AssignmentID, MaxScreenshots, MaxScreenshotBytes)
}

func renderPackage(p Params) string {
	return fmt.Sprintf(`{
  "name": "grading-a%d-s%d",
  "private": true,
  "scripts": {
    "start": "npx --yes serve -l 3000 ."
  }
}
`, p.AssignmentID, p.SubmissionID)
}

func jsString(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\n", `\n`)
	return replacer.Replace(value)
}
