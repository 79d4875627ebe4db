package release

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/bkpaas/apcp/pkg/domain"
)

// DeployAPIExecutor delegates a stage to an external deploy service.
// The stage stays PENDING until Poll observes a terminal state there.
type DeployAPIExecutor struct {
	BaseURL string
	Client  *http.Client
}

var _ StageExecutor = DeployAPIExecutor{}

func (e DeployAPIExecutor) httpClient() *http.Client {
	if e.Client == nil {
		return http.DefaultClient
	}
	return e.Client
}

func (e DeployAPIExecutor) Execute(ctx context.Context, dep domain.Deployment, stage domain.ReleaseStage, operator string) (domain.StageStatus, error) {
	body, err := json.Marshal(map[string]string{
		"deployment_id": dep.Id,
		"app_code":      dep.AppCode,
		"module":        dep.ModuleName,
		"environment":   string(dep.Environment),
		"operator":      operator,
	})
	if err != nil {
		return domain.StageFailed, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.BaseURL+"/deployments/", bytes.NewBuffer(body))
	if err != nil {
		return domain.StageFailed, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient().Do(req)
	if err != nil {
		return domain.StageFailed, fmt.Errorf("%w: deploy api: %s", ErrThirdPartyAPI, err)
	}
	defer resp.Body.Close()
	if 300 <= resp.StatusCode {
		return domain.StageFailed, fmt.Errorf("%w: deploy api: status %d", ErrThirdPartyAPI, resp.StatusCode)
	}
	return domain.StagePending, nil
}

func (e DeployAPIExecutor) Poll(ctx context.Context, dep domain.Deployment, stage domain.ReleaseStage) (domain.StageStatus, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.BaseURL+"/deployments/"+dep.Id+"/", nil)
	if err != nil {
		return stage.Status, "", err
	}
	resp, err := e.httpClient().Do(req)
	if err != nil {
		return stage.Status, "", fmt.Errorf("%w: deploy api: %s", ErrThirdPartyAPI, err)
	}
	defer resp.Body.Close()
	if 300 <= resp.StatusCode {
		return stage.Status, "", fmt.Errorf("%w: deploy api: status %d", ErrThirdPartyAPI, resp.StatusCode)
	}

	var body struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return stage.Status, "", fmt.Errorf("%w: deploy api: decoding response: %s", ErrThirdPartyAPI, err)
	}
	switch body.Status {
	case "successful":
		return domain.StageSuccessful, "", nil
	case "failed":
		return domain.StageFailed, body.Error, nil
	case "interrupted":
		return domain.StageInterrupted, body.Error, nil
	}
	return domain.StagePending, "", nil
}

func (e DeployAPIExecutor) Cancel(ctx context.Context, dep domain.Deployment, stage domain.ReleaseStage, operator string) error {
	return fmt.Errorf("%w: deploy api stage %s is still running", ErrCannotCancel, stage.Name)
}
