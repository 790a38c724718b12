package provider

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/routecodex/routecodex/internal/domain"
)

// oauthToken is the on-disk credential format shared by the oauth-backed
// provider families.
type oauthToken struct {
	AccessToken string `json:"access_token"`
	ProjectID   string `json:"project_id"`
}

// resolveAPIKey expands ${VAR} and $VAR references so config files never
// need to carry secrets inline.
func resolveAPIKey(ref string) string {
	if strings.HasPrefix(ref, "${") && strings.HasSuffix(ref, "}") {
		return os.Getenv(ref[2 : len(ref)-1])
	}
	if strings.HasPrefix(ref, "$") {
		return os.Getenv(ref[1:])
	}
	return ref
}

// bearerFor resolves the Authorization value for a target. OAuth targets
// re-read the token file on every request so an external refresher can
// rotate it without a restart.
func bearerFor(target *domain.Target) (token string, projectID string, err error) {
	switch target.AuthKind {
	case domain.AuthOAuth:
		raw, err := os.ReadFile(target.AuthRef)
		if err != nil {
			return "", "", domain.WrapError(domain.KindUpstreamAuth, err, "read oauth token file")
		}
		var tok oauthToken
		if err := json.Unmarshal(raw, &tok); err != nil {
			return "", "", domain.WrapError(domain.KindUpstreamAuth, err, "decode oauth token file")
		}
		if tok.AccessToken == "" {
			return "", "", domain.NewError(domain.KindUpstreamAuth, "oauth token file %s has no access_token", target.AuthRef)
		}
		project := target.ProjectID
		if project == "" {
			project = tok.ProjectID
		}
		return tok.AccessToken, project, nil
	default:
		key := resolveAPIKey(target.AuthRef)
		if key == "" {
			return "", "", domain.NewError(domain.KindUpstreamAuth, "no api key configured for %s", target.ProviderKey)
		}
		return key, target.ProjectID, nil
	}
}

func joinURL(endpoint, path string) string {
	return fmt.Sprintf("%s%s", strings.TrimRight(endpoint, "/"), path)
}
