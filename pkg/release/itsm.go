package release

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/bkpaas/apcp/pkg/domain"
)

// ITSMClient talks to the external ticket system that backs approval
// stages.
type ITSMClient interface {
	SubmitTicket(ctx context.Context, req TicketRequest) (sn string, err error)
	WithdrawTicket(ctx context.Context, sn string, operator string) error
	TicketStatus(ctx context.Context, sn string) (TicketStatus, error)
}

type TicketRequest struct {
	Title    string            `json:"title"`
	Creator  string            `json:"creator"`
	Fields   map[string]string `json:"fields"`
	Callback string            `json:"callback_url"`
}

type TicketStatus struct {
	Sn            string `json:"sn"`
	CurrentStatus string `json:"current_status"`
	ApproveResult bool   `json:"approve_result"`
}

// MapTicketStatus folds the external ticket state into a stage status.
func MapTicketStatus(s TicketStatus) domain.StageStatus {
	switch s.CurrentStatus {
	case "FINISHED":
		if s.ApproveResult {
			return domain.StageSuccessful
		}
		return domain.StageFailed
	case "TERMINATED", "REVOKED":
		return domain.StageInterrupted
	}
	return domain.StagePending
}

type httpITSM struct {
	base   string
	client *http.Client
}

// NewITSMClient builds a client against the ticket system's HTTP API.
func NewITSMClient(baseURL string, client *http.Client) ITSMClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpITSM{base: baseURL, client: client}
}

func (c *httpITSM) SubmitTicket(ctx context.Context, req TicketRequest) (string, error) {
	var resp struct {
		Sn string `json:"sn"`
	}
	if err := c.call(ctx, http.MethodPost, "/tickets/", req, &resp); err != nil {
		return "", err
	}
	return resp.Sn, nil
}

func (c *httpITSM) WithdrawTicket(ctx context.Context, sn string, operator string) error {
	body := map[string]string{"operator": operator}
	return c.call(ctx, http.MethodPost, "/tickets/"+sn+"/withdraw/", body, nil)
}

func (c *httpITSM) TicketStatus(ctx context.Context, sn string) (TicketStatus, error) {
	status := TicketStatus{}
	err := c.call(ctx, http.MethodGet, "/tickets/"+sn+"/status/", nil, &status)
	return status, err
}

func (c *httpITSM) call(ctx context.Context, method string, path string, body any, out any) error {
	var buf *bytes.Buffer
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		buf = bytes.NewBuffer(b)
	} else {
		buf = &bytes.Buffer{}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: itsm: %s", ErrThirdPartyAPI, err)
	}
	defer resp.Body.Close()

	if 300 <= resp.StatusCode {
		return fmt.Errorf("%w: itsm %s %s: status %d", ErrThirdPartyAPI, method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: itsm: decoding response: %s", ErrThirdPartyAPI, err)
	}
	return nil
}

// ITSMExecutor backs a stage with an approval ticket. The stage stays
// PENDING until the ticket callback (or poller) resolves it. The user
// owns the ticket: cancel requires them to withdraw it externally.
type ITSMExecutor struct {
	Client ITSMClient

	// Ticket builds the request for a stage.
	Ticket func(dep domain.Deployment, stage domain.ReleaseStage, operator string) TicketRequest

	// SaveTicket stores the ticket serial on the stage row.
	SaveTicket func(ctx context.Context, stageId string, sn string) error
}

var _ StageExecutor = ITSMExecutor{}

func (e ITSMExecutor) Execute(ctx context.Context, dep domain.Deployment, stage domain.ReleaseStage, operator string) (domain.StageStatus, error) {
	sn, err := e.Client.SubmitTicket(ctx, e.Ticket(dep, stage, operator))
	if err != nil {
		return domain.StageFailed, err
	}
	if err := e.SaveTicket(ctx, stage.Id, sn); err != nil {
		return domain.StageFailed, err
	}
	return domain.StagePending, nil
}

func (e ITSMExecutor) Poll(ctx context.Context, dep domain.Deployment, stage domain.ReleaseStage) (domain.StageStatus, string, error) {
	if stage.TicketSn == "" {
		return stage.Status, "", nil
	}
	status, err := e.Client.TicketStatus(ctx, stage.TicketSn)
	if err != nil {
		return stage.Status, "", err
	}
	return MapTicketStatus(status), "", nil
}

func (e ITSMExecutor) Cancel(ctx context.Context, dep domain.Deployment, stage domain.ReleaseStage, operator string) error {
	return fmt.Errorf("%w: withdraw ticket %s in the ticket system first", ErrCannotCancel, stage.TicketSn)
}

// CanaryExecutor is the canary variant: same ticket flow, but cancel
// withdraws the ticket itself through the external API.
type CanaryExecutor struct {
	ITSMExecutor
}

var _ StageExecutor = CanaryExecutor{}

func (e CanaryExecutor) Cancel(ctx context.Context, dep domain.Deployment, stage domain.ReleaseStage, operator string) error {
	if stage.TicketSn == "" {
		return nil
	}
	return e.Client.WithdrawTicket(ctx, stage.TicketSn, operator)
}
