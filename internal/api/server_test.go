package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bouncer/broker/internal/account"
	"github.com/bouncer/broker/internal/classifier"
	"github.com/bouncer/broker/internal/compliance"
	"github.com/bouncer/broker/internal/executor"
	"github.com/bouncer/broker/internal/grant"
	"github.com/bouncer/broker/internal/model"
	"github.com/bouncer/broker/internal/pipeline"
	"github.com/bouncer/broker/internal/risk"
	"github.com/bouncer/broker/internal/store"
	"github.com/bouncer/broker/internal/trust"
)

type fakeBackend struct{}

func (fakeBackend) Run(ctx context.Context, argv []string, env map[string]string, timeout time.Duration) (executor.Result, error) {
	return executor.Result{ExitCode: 0, Output: "ok"}, nil
}

func newTestServer(t *testing.T, sharedSecret string) (*Server, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	require.NoError(t, st.PutAccount(context.Background(), &model.Account{
		AccountID: "111111111111", Name: "default", Enabled: true, IsDefault: true,
	}))

	cl := classifier.New(nil, nil, nil, classifier.TrustExclusions{})
	co := compliance.New(nil)
	rs := risk.New(nil, nil)
	tr := trust.NewManager(st, cl, []byte("test-key"))
	gr := grant.NewManager(st, cl, co, rs)

	p := pipeline.New(st, cl, co, rs, tr, gr, fakeBackend{}, nil, nil, pipeline.Config{})
	acctMgr := account.New(st)

	srv := NewServer(Config{
		Store:        st,
		Pipeline:     p,
		Grant:        gr,
		Trust:        tr,
		Accounts:     acctMgr,
		Classifier:   cl,
		SharedSecret: sharedSecret,
	})
	return srv, st
}

func doRequest(srv *Server, method, path, secret string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if secret != "" {
		req.Header.Set(secretHeader, secret)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestUnauthorizedWithoutSharedSecretHeader(t *testing.T) {
	srv, _ := newTestServer(t, "top-secret")
	rec := doRequest(srv, http.MethodGet, "/v1/list_safelist", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthorizedWithCorrectSharedSecret(t *testing.T) {
	srv, _ := newTestServer(t, "top-secret")
	rec := doRequest(srv, http.MethodGet, "/v1/list_safelist", "top-secret", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNoAuthRequiredWhenSecretUnset(t *testing.T) {
	srv, _ := newTestServer(t, "")
	rec := doRequest(srv, http.MethodGet, "/v1/list_safelist", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleExecuteAutoApprovesSafeCommand(t *testing.T) {
	srv, _ := newTestServer(t, "")
	rec := doRequest(srv, http.MethodPost, "/v1/execute", "", map[string]interface{}{
		"command": "aws s3 ls",
		"source":  "agent-1",
		"reason":  "smoke test",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestHandleStatusReturnsNotFoundForUnknownRequest(t *testing.T) {
	srv, _ := newTestServer(t, "")
	rec := doRequest(srv, http.MethodGet, "/v1/status?request_id=does-not-exist", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleAddAccountStartsPendingApproval(t *testing.T) {
	srv, _ := newTestServer(t, "")
	rec := doRequest(srv, http.MethodPost, "/v1/add_account", "", map[string]interface{}{
		"account_id": "222222222222",
		"name":       "staging",
		"source":     "agent-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "pending_approval", resp["status"])
}

func TestHandleListAccountsReturnsSeededDefault(t *testing.T) {
	srv, _ := newTestServer(t, "")
	rec := doRequest(srv, http.MethodGet, "/v1/list_accounts", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Accounts []model.Account `json:"accounts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Accounts, 1)
	assert.Equal(t, "111111111111", resp.Accounts[0].AccountID)
}

func TestHandleRequestGrantRejectsOversizedTTL(t *testing.T) {
	srv, _ := newTestServer(t, "")
	rec := doRequest(srv, http.MethodPost, "/v1/request_grant", "", map[string]interface{}{
		"commands":    []string{"aws s3 ls"},
		"source":      "agent-1",
		"ttl_minutes": 120,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGrantStatusRejectsMismatchedSource(t *testing.T) {
	srv, st := newTestServer(t, "")
	_ = st
	createRec := doRequest(srv, http.MethodPost, "/v1/request_grant", "", map[string]interface{}{
		"commands": []string{"aws s3 ls"},
		"source":   "agent-1",
	})
	require.Equal(t, http.StatusOK, createRec.Code)
	var created map[string]interface{}
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))
	grantMap := created["grant"].(map[string]interface{})
	grantID := grantMap["grant_id"].(string)

	rec := doRequest(srv, http.MethodGet, "/v1/grant_status?grant_id="+grantID+"&source=agent-2", "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleHistoryReturnsDisabledNoteWithoutArchive(t *testing.T) {
	srv, _ := newTestServer(t, "")
	rec := doRequest(srv, http.MethodGet, "/v1/history", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp["note"], "disabled")
}
