package statusapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zextras/reposync/reposync"
)

type fakeManager struct {
	statuses map[string]reposync.RunStatus
	triggers []string
	failWith error
}

func (f *fakeManager) Status(repo string) (reposync.RunStatus, bool) {
	s, ok := f.statuses[repo]
	return s, ok
}

func (f *fakeManager) TriggerSync(repo string) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.triggers = append(f.triggers, repo)
	return nil
}

func (f *fakeManager) Names() []string {
	out := make([]string, 0, len(f.statuses))
	for n := range f.statuses {
		out = append(out, n)
	}
	return out
}

func TestHealth(t *testing.T) {
	h := NewHandler(&fakeManager{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHealthRejectsPost(t *testing.T) {
	h := NewHandler(&fakeManager{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestRepositoryStatus(t *testing.T) {
	m := &fakeManager{statuses: map[string]reposync.RunStatus{
		"debian": {Name: "debian", Phase: reposync.PhaseIdle, LastResult: reposync.ResultOK},
	}}
	h := NewHandler(m)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/repository/debian/", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var got reposync.RunStatus
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, "debian", got.Name)
	assert.Equal(t, reposync.ResultOK, got.LastResult)
}

func TestRepositoryStatusNotFound(t *testing.T) {
	h := NewHandler(&fakeManager{statuses: map[string]reposync.RunStatus{}})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/repository/nope/", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRepositorySyncTrigger(t *testing.T) {
	m := &fakeManager{statuses: map[string]reposync.RunStatus{
		"debian": {Name: "debian", Phase: reposync.PhaseSyncing},
	}}
	h := NewHandler(m)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/repository/debian/sync", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"debian"}, m.triggers)

	var got reposync.RunStatus
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, "debian", got.Name)
	assert.Equal(t, reposync.PhaseSyncing, got.Phase)
}

func TestRepositorySyncTriggerUnknown(t *testing.T) {
	m := &fakeManager{failWith: errors.New("unknown repository")}
	h := NewHandler(m)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/repository/nope/sync", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRepositoryAllStatus(t *testing.T) {
	m := &fakeManager{statuses: map[string]reposync.RunStatus{
		"debian": {Name: "debian"},
		"centos": {Name: "centos"},
	}}
	h := NewHandler(m)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/repository/all/", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var got []reposync.RunStatus
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Len(t, got, 2)
}
