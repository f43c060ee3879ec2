package gitlab

import (
	"encoding/json"
	"fmt"
)

// project is a GitLab project as far as mirror discovery is concerned
type project struct {
	Description string
	// WebURL is only used to identify the project in logs
	WebURL  string
	SSHURL  string
	HTTPURL string
}

// apiProject uses pointers so that missing fields can be told apart from
// empty ones
type apiProject struct {
	Description   *string `json:"description"`
	WebURL        *string `json:"web_url"`
	SSHURLToRepo  *string `json:"ssh_url_to_repo"`
	HTTPURLToRepo *string `json:"http_url_to_repo"`
}

// decodePage decodes a JSON array of projects. All fields are required and
// a single invalid element fails the whole page. Unknown fields are ignored.
func decodePage(data []byte) ([]project, error) {
	var page []apiProject
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, err
	}

	projects := make([]project, 0, len(page))
	for i, p := range page {
		switch {
		case p.Description == nil:
			return nil, fmt.Errorf("project[%d]: missing field `description`", i)
		case p.WebURL == nil:
			return nil, fmt.Errorf("project[%d]: missing field `web_url`", i)
		case p.SSHURLToRepo == nil:
			return nil, fmt.Errorf("project[%d]: missing field `ssh_url_to_repo`", i)
		case p.HTTPURLToRepo == nil:
			return nil, fmt.Errorf("project[%d]: missing field `http_url_to_repo`", i)
		}
		projects = append(projects, project{
			Description: *p.Description,
			WebURL:      *p.WebURL,
			SSHURL:      *p.SSHURLToRepo,
			HTTPURL:     *p.HTTPURLToRepo,
		})
	}

	return projects, nil
}
