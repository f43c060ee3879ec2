// Package gitlab discovers mirrors from the projects of a GitLab group.
// See https://docs.gitlab.com/ee/api/groups.html#list-a-groups-projects
package gitlab

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/utilitywarehouse/mirror-discovery/provider"
)

const (
	providerName = "gitlab"
	perPage      = 100

	// https://docs.gitlab.com/ee/api/rest/#personalprojectgroup-access-tokens
	privateTokenHeader = "PRIVATE-TOKEN"
	nextPageHeader     = "X-Next-Page"

	defaultMaxPages = math.MaxInt32
)

// Config is the configuration of the GitLab provider
type Config struct {
	// URL of the GitLab instance ie 'https://gitlab.com'
	URL string `yaml:"url"`

	// Group is the id or the full path of the group to list projects of
	Group string `yaml:"group"`

	// UseHTTP selects http clone url of the project as mirror destination
	// instead of the ssh url
	UseHTTP bool `yaml:"use_http"`

	// PrivateToken is the access token used for the API calls, optional
	PrivateToken string `yaml:"-"`

	// MaxPages is the maximum number of pages fetched before giving up
	MaxPages int `yaml:"max_pages"`

	// Transport config of the http client
	Transport provider.TransportConfig `yaml:"transport"`

	// HTTPClient if set is used instead of the client created from Transport
	HTTPClient *http.Client `yaml:"-"`
}

// GitLab implements provider.Provider for a GitLab group
type GitLab struct {
	conf Config
	log  *slog.Logger
}

// New creates GitLab provider for the given config
func New(conf Config, log *slog.Logger) (*GitLab, error) {
	conf.URL = strings.TrimRight(strings.TrimSpace(conf.URL), "/")
	if conf.URL == "" {
		return nil, fmt.Errorf("gitlab url is required")
	}
	u, err := url.Parse(conf.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid gitlab url: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("invalid gitlab url %q: scheme must be https or http", conf.URL)
	}

	conf.Group = strings.Trim(strings.TrimSpace(conf.Group), "/")
	if conf.Group == "" {
		return nil, fmt.Errorf("gitlab group is required")
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

	return &GitLab{conf: conf, log: log}, nil
}

// GetMirrorRepos lists all projects of the group and returns the mirrors
// defined in their descriptions. Projects with invalid description or with
// skip flag are logged and left out.
func (g *GitLab) GetMirrorRepos() ([]provider.Mirror, error) {
	client := g.conf.HTTPClient
	if client == nil {
		var err error
		client, err = provider.NewHTTPClient(g.conf.Transport)
		if err != nil {
			return nil, err
		}
		defer client.CloseIdleConnections()
	}

	projects, err := g.fetchAllProjects(client)
	if err != nil {
		return nil, err
	}

	mirrors := make([]provider.Mirror, 0, len(projects))
	for _, p := range projects {
		if m, ok := g.interpret(p); ok {
			mirrors = append(mirrors, m)
		}
	}

	provider.RecordDiscoverySuccess(providerName)
	g.log.Debug("mirror discovery completed", "group", g.conf.Group, "projects", len(projects), "mirrors", len(mirrors))

	return mirrors, nil
}

func (g *GitLab) interpret(p project) (provider.Mirror, bool) {
	destination := p.SSHURL
	if g.conf.UseHTTP {
		destination = p.HTTPURL
	}
	return provider.MirrorFromDescription(g.log, providerName, p.WebURL, p.Description, destination)
}

func (g *GitLab) pageURL(page int) string {
	return fmt.Sprintf("%s/api/v4/groups/%s/projects?per_page=%d&page=%d",
		g.conf.URL, url.PathEscape(g.conf.Group), perPage, page)
}

// fetchAllProjects fetches pages one after another until the server stops
// announcing next page
func (g *GitLab) fetchAllProjects(client *http.Client) ([]project, error) {
	if g.conf.PrivateToken == "" {
		g.log.Log(context.Background(), provider.LevelTrace, "GITLAB_PRIVATE_TOKEN not set")
	}

	var projects []project

	for page := 1; ; page++ {
		pageProjects, hasNext, err := g.fetchPage(client, g.pageURL(page))
		if err != nil {
			return nil, err
		}

		projects = append(projects, pageProjects...)

		if !hasNext {
			return projects, nil
		}

		// page never exceeds MaxPages so the counter can't overflow
		if page >= g.conf.MaxPages {
			return nil, fmt.Errorf("%w: server announced more than %d pages for group %s",
				provider.ErrPageLimit, g.conf.MaxPages, g.conf.Group)
		}
	}
}

func (g *GitLab) fetchPage(client *http.Client, pageURL string) ([]project, bool, error) {
	g.log.Log(context.Background(), provider.LevelTrace, "fetching projects", "url", pageURL)

	req, err := http.NewRequest(http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("unable to create request for: %s (%w)", pageURL, err)
	}
	if g.conf.PrivateToken != "" {
		req.Header.Set(privateTokenHeader, g.conf.PrivateToken)
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
			"Please make sure the `GITLAB_PRIVATE_TOKEN` environment variable is set",
			provider.ErrUnauthorized, resp.Status, pageURL)
	default:
		provider.RecordPageRequest(providerName, resp.StatusCode, start)
		return nil, false, fmt.Errorf("%w (%s) for: %s", provider.ErrUnexpectedStatus, resp.Status, pageURL)
	}

	// header must be checked before the body is consumed
	nextPage := resp.Header.Get(nextPageHeader)
	g.log.Log(context.Background(), provider.LevelTrace, "next page", "value", nextPage)

	hasNext, err := hasNextPage(nextPage)
	if err != nil {
		provider.RecordPageRequest(providerName, resp.StatusCode, start)
		return nil, false, fmt.Errorf("%w for: %s", err, pageURL)
	}

	body, err := io.ReadAll(resp.Body)
	provider.RecordPageRequest(providerName, resp.StatusCode, start)
	if err != nil {
		return nil, false, fmt.Errorf("%w to: %s, unable to read body (%w)", provider.ErrConnection, pageURL, err)
	}

	projects, err := decodePage(body)
	if err != nil {
		return nil, false, fmt.Errorf("%w for: %s (%w)", provider.ErrMalformedPage, pageURL, err)
	}

	return projects, hasNext, nil
}

// hasNextPage interprets X-Next-Page header value. GitLab sends the header
// with an empty value on the last page, any other value must be a page number.
func hasNextPage(value string) (bool, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return false, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return false, fmt.Errorf("%w: %s=%q", provider.ErrInvalidNextPage, nextPageHeader, value)
	}
	return true, nil
}
