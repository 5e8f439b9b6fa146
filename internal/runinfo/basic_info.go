package runinfo

import (
	"os"
	"regexp"
	"strings"
)

var githubPullRefPattern = regexp.MustCompile(`^refs/pull/([0-9]+)/`)

// envPrefix namespaces the explicit overrides, e.g. AQPEVAL_CI_COMMIT.
const envPrefix = "AQPEVAL_CI"

// BasicInfo captures CI/run metadata recorded in the run summary.
type BasicInfo struct {
	CI          bool   `json:"ci,omitempty"`
	Provider    string `json:"provider,omitempty"`
	Repository  string `json:"repository,omitempty"`
	Branch      string `json:"branch,omitempty"`
	Commit      string `json:"commit,omitempty"`
	Workflow    string `json:"workflow,omitempty"`
	Job         string `json:"job,omitempty"`
	RunID       string `json:"run_id,omitempty"`
	PullRequest string `json:"pull_request,omitempty"`
	BuildURL    string `json:"build_url,omitempty"`
	Host        string `json:"host,omitempty"`
}

// FromEnv builds run metadata from environment variables. Explicit
// AQPEVAL_CI_* values take precedence over provider defaults. It returns nil
// outside CI when nothing is set.
func FromEnv() *BasicInfo {
	info := detectProvider()
	explicit, explicitCI := applyOverrides(&info)
	normalize(&info, explicitCI)
	if !info.CI && !explicit && info.IsZero() {
		return nil
	}
	if host, err := os.Hostname(); err == nil {
		info.Host = host
	}
	return &info
}

// IsZero reports whether no metadata was detected.
func (b BasicInfo) IsZero() bool {
	return !b.CI && b.Provider == "" && b.Repository == "" && b.Branch == "" &&
		b.Commit == "" && b.Workflow == "" && b.Job == "" && b.RunID == "" &&
		b.PullRequest == "" && b.BuildURL == ""
}

func detectProvider() BasicInfo {
	info := BasicInfo{}
	switch {
	case isTruthy(env("GITHUB_ACTIONS")):
		info.CI = true
		info.Provider = "github_actions"
		info.Repository = env("GITHUB_REPOSITORY")
		info.Branch = envFirst("GITHUB_HEAD_REF", "GITHUB_REF_NAME")
		info.Commit = env("GITHUB_SHA")
		info.Workflow = env("GITHUB_WORKFLOW")
		info.Job = env("GITHUB_JOB")
		info.RunID = env("GITHUB_RUN_ID")
		info.PullRequest = githubPullRequestFromRef(env("GITHUB_REF"))
		serverURL := env("GITHUB_SERVER_URL")
		if serverURL == "" {
			serverURL = "https://github.com"
		}
		if info.Repository != "" && info.RunID != "" {
			info.BuildURL = strings.TrimRight(serverURL, "/") + "/" + info.Repository + "/actions/runs/" + info.RunID
		}
	case isTruthy(env("GITLAB_CI")):
		info.CI = true
		info.Provider = "gitlab_ci"
		info.Repository = env("CI_PROJECT_PATH")
		info.Branch = env("CI_COMMIT_REF_NAME")
		info.Commit = env("CI_COMMIT_SHA")
		info.Job = env("CI_JOB_NAME")
		info.RunID = env("CI_PIPELINE_ID")
		info.BuildURL = env("CI_JOB_URL")
	case env("JENKINS_URL") != "":
		info.CI = true
		info.Provider = "jenkins"
		info.Branch = envFirst("BRANCH_NAME", "GIT_BRANCH")
		info.Commit = env("GIT_COMMIT")
		info.Job = env("JOB_NAME")
		info.RunID = env("BUILD_ID")
		info.BuildURL = env("BUILD_URL")
	case isTruthy(env("CI")):
		info.CI = true
	}
	return info
}

func applyOverrides(info *BasicInfo) (explicit, explicitCI bool) {
	if v, ok := lookupTrimmed(envPrefix); ok && v != "" {
		info.CI = isTruthy(v)
		explicit, explicitCI = true, true
	}
	fields := map[string]*string{
		"PROVIDER":     &info.Provider,
		"REPOSITORY":   &info.Repository,
		"BRANCH":       &info.Branch,
		"COMMIT":       &info.Commit,
		"WORKFLOW":     &info.Workflow,
		"JOB":          &info.Job,
		"RUN_ID":       &info.RunID,
		"PULL_REQUEST": &info.PullRequest,
		"BUILD_URL":    &info.BuildURL,
	}
	for suffix, dst := range fields {
		if v, ok := lookupTrimmed(envPrefix + "_" + suffix); ok && v != "" {
			*dst = v
			explicit = true
		}
	}
	return explicit, explicitCI
}

func normalize(info *BasicInfo, explicitCI bool) {
	info.Provider = strings.ToLower(strings.TrimSpace(info.Provider))
	info.Branch = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(info.Branch), "refs/heads/"), "origin/")
	if !info.CI && !explicitCI && (info.Provider != "" || info.Repository != "" || info.RunID != "" || info.Commit != "") {
		info.CI = true
	}
	if info.CI && info.Provider == "" {
		info.Provider = "generic"
	}
}

func githubPullRequestFromRef(ref string) string {
	m := githubPullRefPattern.FindStringSubmatch(strings.TrimSpace(ref))
	if len(m) > 1 {
		return m[1]
	}
	return ""
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func envFirst(keys ...string) string {
	for _, key := range keys {
		if value := env(key); value != "" {
			return value
		}
	}
	return ""
}

func lookupTrimmed(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(value), true
}

func isTruthy(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
