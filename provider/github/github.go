// Package github discovers mirrors from the repositories of a GitHub organisation.
// See https://docs.github.com/en/rest/repos/repos#list-organization-repositories
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/utilitywarehouse/mirror-discovery/provider"
)

const (
	providerName    = "github"
	perPage         = 100
	defaultAPIURL   = "https://api.github.com"
	acceptHeader    = "application/vnd.github+json"
	apiVersion      = "2022-11-28"
	linkHeader      = "Link"
	defaultMaxPages = math.MaxInt32
)

// Config is the configuration of the GitHub provider
type Config struct {
	// URL of the GitHub API, default is 'https://api.github.com'
	URL string `yaml:"url"`

	// Organization to list repositories of
	Organization string `yaml:"organization"`

	// UseHTTP selects https clone url of the repository as mirror destination
	// instead of the ssh url
	UseHTTP bool `yaml:"use_http"`

	// Token is a personal access token, optional
	Token string `yaml:"-"`

	// Github APP Details, used if Token is not set
	// The application id or the client ID of the Github app
	AppID string `yaml:"app_id"`
	// The installation id of the app (in the organization).
	AppInstallationID string `yaml:"app_installation_id"`
	// path to the github app private key
	AppPrivateKeyPath string `yaml:"app_private_key_path"`

	// MaxPages is the maximum number of pages fetched before giving up
	MaxPages int `yaml:"max_pages"`

	// Transport config of the http client
	Transport provider.TransportConfig `yaml:"transport"`

	// HTTPClient if set is used instead of the client created from Transport
	HTTPClient *http.Client `yaml:"-"`
}

// GitHub implements provider.Provider for a GitHub organisation
type GitHub struct {
	conf Config
	log  *slog.Logger
}

type repository struct {
	Description string
	HTMLURL     string
	SSHURL      string
	CloneURL    string
}

type apiRepository struct {
	// description is null for repositories without one
	Description *string `json:"description"`
	HTMLURL     *string `json:"html_url"`
	SSHURL      *string `json:"ssh_url"`
	CloneURL    *string `json:"clone_url"`
}

// New creates GitHub provider for the given config
func New(conf Config, log *slog.Logger) (*GitHub, error) {
	conf.URL = strings.TrimRight(strings.TrimSpace(conf.URL), "/")
	if conf.URL == "" {
		conf.URL = defaultAPIURL
	}
	if _, err := url.Parse(conf.URL); err != nil {
		return nil, fmt.Errorf("invalid github api url: %w", err)
	}

	conf.Organization = strings.TrimSpace(conf.Organization)
	if conf.Organization == "" {
		return nil, fmt.Errorf("github organization is required")
	}

	appConfigured := conf.AppID != "" || conf.AppInstallationID != "" || conf.AppPrivateKeyPath != ""
	if appConfigured && (conf.AppID == "" || conf.AppInstallationID == "" || conf.AppPrivateKeyPath == "") {
		return nil, fmt.Errorf("github app id, installation id and private key path must all be set")
	}

	if conf.MaxPages < 0 {
		return nil, fmt.Errorf("max pages cannot be negative")
	}
	if conf.MaxPages == 0 {
		conf.MaxPages = defaultMaxPages
	}

	if log == nil {
		log = slog.Default()
	}

	return &GitHub{conf: conf, log: log}, nil
}

// GetMirrorRepos lists all repositories of the organisation and returns the
// mirrors defined in their descriptions.
func (g *GitHub) GetMirrorRepos() ([]provider.Mirror, error) {
	client := g.conf.HTTPClient
	if client == nil {
		var err error
		client, err = provider.NewHTTPClient(g.conf.Transport)
		if err != nil {
			return nil, err
		}
		defer client.CloseIdleConnections()
	}

	token, err := g.token(client)
	if err != nil {
		return nil, err
	}

	repos, err := g.fetchAllRepositories(client, token)
	if err != nil {
		return nil, err
	}

	mirrors := make([]provider.Mirror, 0, len(repos))
	for _, r := range repos {
		destination := r.SSHURL
		if g.conf.UseHTTP {
			destination = r.CloneURL
		}
		if m, ok := provider.MirrorFromDescription(g.log, providerName, r.HTMLURL, r.Description, destination); ok {
			mirrors = append(mirrors, m)
		}
	}

	provider.RecordDiscoverySuccess(providerName)
	g.log.Debug("mirror discovery completed", "organization", g.conf.Organization, "repositories", len(repos), "mirrors", len(mirrors))

	return mirrors, nil
}

func (g *GitHub) token(client *http.Client) (string, error) {
	switch {
	case g.conf.Token != "":
		return g.conf.Token, nil
	case g.conf.AppInstallationID != "":
		t, err := installationToken(client, g.conf.URL,
			g.conf.AppID, g.conf.AppInstallationID, g.conf.AppPrivateKeyPath)
		if err != nil {
			return "", fmt.Errorf("unable to get github app token: %w", err)
		}
		g.log.Debug("new github app access token created", "expires_at", t.ExpiresAt)
		return t.Token, nil
	default:
		g.log.Log(context.Background(), provider.LevelTrace, "GITHUB_TOKEN not set")
		return "", nil
	}
}

func (g *GitHub) pageURL(page int) string {
	return fmt.Sprintf("%s/orgs/%s/repos?per_page=%d&page=%d",
		g.conf.URL, url.PathEscape(g.conf.Organization), perPage, page)
}

func (g *GitHub) fetchAllRepositories(client *http.Client, token string) ([]repository, error) {
	var repos []repository

	for page := 1; ; page++ {
		pageRepos, hasNext, err := g.fetchPage(client, token, g.pageURL(page))
		if err != nil {
			return nil, err
		}

		repos = append(repos, pageRepos...)

		if !hasNext {
			return repos, nil
		}

		// page never exceeds MaxPages so the counter can't overflow
		if page >= g.conf.MaxPages {
			return nil, fmt.Errorf("%w: server announced more than %d pages for organization %s",
				provider.ErrPageLimit, g.conf.MaxPages, g.conf.Organization)
		}
	}
}

func (g *GitHub) fetchPage(client *http.Client, token, pageURL string) ([]repository, bool, error) {
	g.log.Log(context.Background(), provider.LevelTrace, "fetching repositories", "url", pageURL)

	req, err := http.NewRequest(http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("unable to create request for: %s (%w)", pageURL, err)
	}
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		provider.RecordPageRequest(providerName, 0, start)
		return nil, false, fmt.Errorf("%w to: %s (%w)", provider.ErrConnection, pageURL, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		provider.RecordPageRequest(providerName, resp.StatusCode, start)
		return nil, false, fmt.Errorf("%w (%s) for: %s. "+
			"Please make sure the `GITHUB_TOKEN` environment variable or github app is set",
			provider.ErrUnauthorized, resp.Status, pageURL)
	default:
		provider.RecordPageRequest(providerName, resp.StatusCode, start)
		return nil, false, fmt.Errorf("%w (%s) for: %s", provider.ErrUnexpectedStatus, resp.Status, pageURL)
	}

	link := resp.Header.Get(linkHeader)
	g.log.Log(context.Background(), provider.LevelTrace, "pagination links", "value", link)
	hasNext := hasNextLink(link)

	body, err := io.ReadAll(resp.Body)
	provider.RecordPageRequest(providerName, resp.StatusCode, start)
	if err != nil {
		return nil, false, fmt.Errorf("%w to: %s, unable to read body (%w)", provider.ErrConnection, pageURL, err)
	}

	repos, err := decodePage(body)
	if err != nil {
		return nil, false, fmt.Errorf("%w for: %s (%w)", provider.ErrMalformedPage, pageURL, err)
	}

	return repos, hasNext, nil
}

// hasNextLink reports whether Link header contains a rel="next" entry ie
// <https://api.github.com/organizations/1/repos?page=2>; rel="next", <...>; rel="last"
func hasNextLink(value string) bool {
	for _, link := range strings.Split(value, ",") {
		for _, param := range strings.Split(link, ";")[1:] {
			if strings.TrimSpace(param) == `rel="next"` {
				return true
			}
		}
	}
	return false
}

func decodePage(data []byte) ([]repository, error) {
	var page []apiRepository
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, err
	}

	repos := make([]repository, 0, len(page))
	for i, r := range page {
		switch {
		case r.HTMLURL == nil:
			return nil, fmt.Errorf("repository[%d]: missing field `html_url`", i)
		case r.SSHURL == nil:
			return nil, fmt.Errorf("repository[%d]: missing field `ssh_url`", i)
		case r.CloneURL == nil:
			return nil, fmt.Errorf("repository[%d]: missing field `clone_url`", i)
		}
		repo := repository{HTMLURL: *r.HTMLURL, SSHURL: *r.SSHURL, CloneURL: *r.CloneURL}
		if r.Description != nil {
			repo.Description = *r.Description
		}
		repos = append(repos, repo)
	}

	return repos, nil
}
