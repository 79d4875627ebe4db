package release_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bkpaas/apcp/pkg/domain"
	"github.com/bkpaas/apcp/pkg/release"
)

func TestDeployAPIExecutor(t *testing.T) {
	ctx := context.Background()
	dep := domain.Deployment{
		Id: "dep-1", AppCode: "demo", ModuleName: "default",
		Environment: domain.EnvProd, Status: domain.StatusPending,
	}
	stage := domain.ReleaseStage{
		Id: "stg-0", DeploymentId: "dep-1", Name: "deploy",
		InvokeMethod: domain.InvokeDeployAPI, Status: domain.StagePending,
	}

	t.Run("execute submits the deployment and parks the stage", func(t *testing.T) {
		var got map[string]string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.URL.Path != "/deployments/" {
				t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			}
			if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
				t.Error(err)
			}
			w.WriteHeader(http.StatusAccepted)
		}))
		defer server.Close()

		testee := release.DeployAPIExecutor{BaseURL: server.URL}
		status, err := testee.Execute(ctx, dep, stage, "alice")
		if err != nil {
			t.Fatalf("unexpected error: %+v", err)
		}
		if status != domain.StagePending {
			t.Errorf("unmatch: status: (actual, expected) = (%s, pending)", status)
		}
		if got["deployment_id"] != "dep-1" || got["operator"] != "alice" {
			t.Errorf("unexpected submission: %v", got)
		}
	})

	t.Run("a refusing service fails the stage", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		testee := release.DeployAPIExecutor{BaseURL: server.URL}
		status, err := testee.Execute(ctx, dep, stage, "alice")
		if !errors.Is(err, release.ErrThirdPartyAPI) {
			t.Errorf("unexpected error: %+v", err)
		}
		if status != domain.StageFailed {
			t.Errorf("unmatch: status: (actual, expected) = (%s, failed)", status)
		}
	})

	t.Run("poll maps the remote status", func(t *testing.T) {

		type When struct {
			Remote string
			Error  string
		}

		type Then struct {
			Status  domain.StageStatus
			Message string
		}

		theory := func(when When, then Then) func(t *testing.T) {
			return func(t *testing.T) {
				server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					if r.URL.Path != "/deployments/dep-1/" {
						t.Errorf("unexpected path: %s", r.URL.Path)
					}
					json.NewEncoder(w).Encode(map[string]string{
						"status": when.Remote, "error": when.Error,
					})
				}))
				defer server.Close()

				testee := release.DeployAPIExecutor{BaseURL: server.URL}
				status, message, err := testee.Poll(ctx, dep, stage)
				if err != nil {
					t.Fatalf("unexpected error: %+v", err)
				}
				if status != then.Status {
					t.Errorf("unmatch: status: (actual, expected) = (%s, %s)", status, then.Status)
				}
				if message != then.Message {
					t.Errorf("unmatch: message: (actual, expected) = (%s, %s)", message, then.Message)
				}
			}
		}

		t.Run("successful", theory(
			When{Remote: "successful"},
			Then{Status: domain.StageSuccessful},
		))
		t.Run("failed carries the remote error", theory(
			When{Remote: "failed", Error: "rollout timed out"},
			Then{Status: domain.StageFailed, Message: "rollout timed out"},
		))
		t.Run("interrupted", theory(
			When{Remote: "interrupted"},
			Then{Status: domain.StageInterrupted},
		))
		t.Run("anything else stays pending", theory(
			When{Remote: "rolling"},
			Then{Status: domain.StagePending},
		))
	})

	t.Run("a running stage cannot be cancelled here", func(t *testing.T) {
		testee := release.DeployAPIExecutor{BaseURL: "http://deploy.invalid"}
		if err := testee.Cancel(ctx, dep, stage, "alice"); !errors.Is(err, release.ErrCannotCancel) {
			t.Errorf("unexpected error: %+v", err)
		}
	})
}

func TestITSMClient(t *testing.T) {
	ctx := context.Background()

	t.Run("submit round-trips the ticket request", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.URL.Path != "/tickets/" {
				t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			}
			req := release.TicketRequest{}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Error(err)
			}
			if req.Title != "approve release" || req.Creator != "alice" {
				t.Errorf("unexpected ticket: %+v", req)
			}
			json.NewEncoder(w).Encode(map[string]string{"sn": "T-42"})
		}))
		defer server.Close()

		testee := release.NewITSMClient(server.URL, nil)
		sn, err := testee.SubmitTicket(ctx, release.TicketRequest{
			Title: "approve release", Creator: "alice",
		})
		if err != nil {
			t.Fatalf("unexpected error: %+v", err)
		}
		if sn != "T-42" {
			t.Errorf("unmatch: sn: (actual, expected) = (%s, T-42)", sn)
		}
	})

	t.Run("a failing ticket system surfaces as third party error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		testee := release.NewITSMClient(server.URL, nil)
		if _, err := testee.SubmitTicket(ctx, release.TicketRequest{}); !errors.Is(err, release.ErrThirdPartyAPI) {
			t.Errorf("unexpected error: %+v", err)
		}
	})
}

func TestMapTicketStatus(t *testing.T) {

	type When struct {
		Status release.TicketStatus
	}

	type Then struct {
		Status domain.StageStatus
	}

	theory := func(when When, then Then) func(t *testing.T) {
		return func(t *testing.T) {
			if got := release.MapTicketStatus(when.Status); got != then.Status {
				t.Errorf("unmatch: (actual, expected) = (%s, %s)", got, then.Status)
			}
		}
	}

	t.Run("approved", theory(
		When{Status: release.TicketStatus{CurrentStatus: "FINISHED", ApproveResult: true}},
		Then{Status: domain.StageSuccessful},
	))
	t.Run("rejected", theory(
		When{Status: release.TicketStatus{CurrentStatus: "FINISHED", ApproveResult: false}},
		Then{Status: domain.StageFailed},
	))
	t.Run("terminated", theory(
		When{Status: release.TicketStatus{CurrentStatus: "TERMINATED"}},
		Then{Status: domain.StageInterrupted},
	))
	t.Run("revoked", theory(
		When{Status: release.TicketStatus{CurrentStatus: "REVOKED"}},
		Then{Status: domain.StageInterrupted},
	))
	t.Run("still open", theory(
		When{Status: release.TicketStatus{CurrentStatus: "RUNNING"}},
		Then{Status: domain.StagePending},
	))
}
