package httpHandler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"qubix-server/auth"
	"qubix-server/cache"
	"qubix-server/logging"
	"qubix-server/qubic"
	"qubix-server/repositories"
	"qubix-server/services"
	"qubix-server/usecases"
	"qubix-server/ws"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeQueue struct{ ids []string }

func (q *fakeQueue) Enqueue(id string) { q.ids = append(q.ids, id) }
func (q *fakeQueue) Remove(id string) {
	for i, v := range q.ids {
		if v == id {
			q.ids = append(q.ids[:i], q.ids[i+1:]...)
			return
		}
	}
}
func (q *fakeQueue) Snapshot() []string { return append([]string(nil), q.ids...) }
func (q *fakeQueue) Len() int { return len(q.ids) }

type fakeHealth struct{}

func (fakeHealth) Last(context.Context) services.HealthReport {
	return services.HealthReport{Status: services.HealthDegraded}
}

type fixture struct {
	router *gin.Engine
	repos  *repositories.Set
	queue  *fakeQueue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logging.Discard()
	repos := repositories.NewMemorySet()
	manager := ws.NewManager(log)
	tokens := auth.NewTokenManager("test-secret", time.Hour)
	ledger := qubic.NewClient("http://127.0.0.1:1", 50*time.Millisecond)

	escrow := usecases.NewEscrowUseCase(repos, ledger, manager, "PLATFORM", 10, log)
	providers := usecases.NewProviderUseCase(repos, cache.NewMetricsCache(10, 5, 2), manager, log)
	jobs := usecases.NewJobUseCase(repos, providers, escrow, manager, log)
	queue := &fakeQueue{}
	jobs.AttachQueue(queue)
	authUC := usecases.NewAuthUseCase(repos.Users, tokens, 1000, log)
	stats := usecases.NewStatsUseCase(repos)

	authH := NewAuthHandler(authUC)
	jobH := NewJobHandler(jobs, queue)
	provH := NewProviderHandler(providers)
	sysH := NewSystemHandler(stats, fakeHealth{}, ledger, "test")

	r := gin.New()
	r.GET("/", sysH.Root)
	r.GET("/health", sysH.Health)
	r.GET("/health/details", sysH.HealthDetails)
	api := r.Group("/api")
	api.GET("/stats", sysH.Stats)
	api.GET("/qubic/status", sysH.QubicStatus)
	api.POST("/auth/register-email", authH.Register)
	api.POST("/auth/login", authH.Login)
	api.GET("/auth/me", auth.RequireAuth(tokens), authH.Me)
	api.GET("/jobs/queue", jobH.Queue)
	api.GET("/jobs/user/:userId", jobH.GetByUser)
	api.POST("/jobs/submit", auth.OptionalAuth(tokens), jobH.Submit)
	api.GET("/jobs/:id", jobH.Get)
	api.POST("/jobs/:id/progress", jobH.Progress)
	api.POST("/jobs/:id/complete", jobH.Complete)
	api.POST("/jobs/:id/fail", jobH.Fail)
	api.POST("/jobs/:id/cancel", auth.RequireAuth(tokens), jobH.Cancel)
	api.GET("/providers", provH.List)
	api.POST("/providers/quick-register", auth.OptionalAuth(tokens), provH.QuickRegister)
	api.GET("/providers/:id", provH.Get)
	api.POST("/providers/:id/heartbeat", provH.Heartbeat)
	api.PATCH("/providers/:id/active", provH.SetActive)
	api.GET("/providers/:id/earnings", provH.Earnings)
	api.GET("/providers/:id/metrics", provH.Metrics)

	return &fixture{router: r, repos: repos, queue: queue}
}

func (f *fixture) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (f *fixture) register(t *testing.T, email string) (token, userID string) {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/auth/register-email", "", gin.H{
		"email": email, "password": "password123", "name": "Test", "type": "CONSUMER",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	return body["token"].(string), body["user"].(map[string]interface{})["id"].(string)
}

func TestRegisterAndLogin(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/auth/register-email", "", gin.H{
		"email": "Alice@Example.com", "password": "password123", "type": "CONSUMER",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["token"])
	user := body["user"].(map[string]interface{})
	assert.Equal(t, "alice@example.com", user["email"])
	assert.Equal(t, "alice", user["name"])
	assert.Equal(t, float64(1000), user["balance"])
	assert.Equal(t, user["qubicAddress"], user["qubicIdentity"])
	wallet := body["wallet"].(map[string]interface{})
	assert.Len(t, wallet["identity"], 60)
	assert.Len(t, wallet["seed"], 55)

	w = f.do(t, http.MethodPost, "/api/auth/register-email", "", gin.H{
		"email": "alice@example.com", "password": "password123",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "User already exists", decode(t, w)["error"])

	w = f.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": "alice@example.com", "password": "nope-nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid credentials", decode(t, w)["error"])

	w = f.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": "alice@example.com", "password": "password123"})
	require.Equal(t, http.StatusOK, w.Code)
	token := decode(t, w)["token"].(string)

	w = f.do(t, http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice@example.com", decode(t, w)["user"].(map[string]interface{})["email"])
}

func TestRegister_Validation(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		body gin.H
		want string
	}{
		{gin.H{"password": "password123"}, "Email and password required"},
		{gin.H{"email": "not-an-email", "password": "password123"}, "Invalid email address"},
		{gin.H{"email": "a@b.co", "password": "short"}, "Password must be at least 8 characters"},
		{gin.H{"email": "a@b.co", "password": "password123", "type": "ADMIN"}, "Invalid account type"},
	}
	for _, tc := range cases {
		w := f.do(t, http.MethodPost, "/api/auth/register-email", "", tc.body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, tc.want, decode(t, w)["error"])
	}
}

func TestMe_RequiresToken(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = f.do(t, http.MethodGet, "/api/auth/me", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSubmitJob_TokenUserWins(t *testing.T) {
	f := newFixture(t)
	token, userID := f.register(t, "bob@example.com")

	w := f.do(t, http.MethodPost, "/api/jobs/submit", token, gin.H{
		"userId": "someone-else", "modelType": "stable-diffusion", "budget": 100,
		"input": gin.H{"prompt": "a cat"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	job := body["job"].(map[string]interface{})
	assert.Equal(t, userID, job["userId"])
	assert.Equal(t, "PENDING", job["status"])
	assert.Equal(t, job["id"], body["jobId"])
	assert.JSONEq(t, `{"prompt":"a cat"}`, job["input"].(string))
	assert.Equal(t, []string{job["id"].(string)}, f.queue.ids)

	u, err := f.repos.Users.GetByID(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, float64(900), u.Balance)

	w = f.do(t, http.MethodGet, "/api/jobs/user/"+userID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	w = f.do(t, http.MethodGet, "/api/jobs/queue", "", nil)
	assert.Equal(t, float64(1), decode(t, w)["length"])
}

func TestSubmitJob_Errors(t *testing.T) {
	f := newFixture(t)
	token, _ := f.register(t, "carol@example.com")

	w := f.do(t, http.MethodPost, "/api/jobs/submit", token, gin.H{"budget": 5000})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, "Insufficient balance", decode(t, w)["error"])

	w = f.do(t, http.MethodPost, "/api/jobs/submit", "", gin.H{"userId": "ghost", "budget": 10})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodPost, "/api/jobs/submit", "", gin.H{"budget": -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// anonymous submissions are accepted without escrow
	w = f.do(t, http.MethodPost, "/api/jobs/submit", "", gin.H{"modelType": "llm-inference"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "anonymous", decode(t, w)["job"].(map[string]interface{})["userId"])
}

func TestSubmitJob_BudgetWithoutTokenLeavesBalance(t *testing.T) {
	f := newFixture(t)
	_, victimID := f.register(t, "victim@example.com")

	w := f.do(t, http.MethodPost, "/api/jobs/submit", "", gin.H{"userId": victimID, "budget": 1000})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, f.queue.ids)

	u, err := f.repos.Users.GetByID(context.Background(), victimID)
	require.NoError(t, err)
	assert.Equal(t, float64(1000), u.Balance)

	// a zero budget job may still name its user
	w = f.do(t, http.MethodPost, "/api/jobs/submit", "", gin.H{"userId": victimID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, victimID, decode(t, w)["job"].(map[string]interface{})["userId"])

	u, err = f.repos.Users.GetByID(context.Background(), victimID)
	require.NoError(t, err)
	assert.Equal(t, float64(1000), u.Balance)
}

func TestJobLifecycle_ProgressAndComplete(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/api/jobs/submit", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	id := decode(t, w)["jobId"].(string)

	w = f.do(t, http.MethodPost, "/api/jobs/"+id+"/progress", "", gin.H{"progress": 40})
	require.Equal(t, http.StatusOK, w.Code)
	job := decode(t, w)["job"].(map[string]interface{})
	assert.Equal(t, "RUNNING", job["status"])
	assert.Equal(t, float64(40), job["progress"])
	assert.Empty(t, f.queue.ids)

	w = f.do(t, http.MethodPost, "/api/jobs/"+id+"/complete", "", gin.H{"result": gin.H{"text": "done"}})
	require.Equal(t, http.StatusOK, w.Code)
	job = decode(t, w)["job"].(map[string]interface{})
	assert.Equal(t, "COMPLETED", job["status"])
	assert.Equal(t, float64(100), job["progress"])

	w = f.do(t, http.MethodPost, "/api/jobs/"+id+"/fail", "", gin.H{"error": "late"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestJobFail(t *testing.T) {
	f := newFixture(t)
	id := decode(t, f.do(t, http.MethodPost, "/api/jobs/submit", "", nil))["jobId"].(string)

	w := f.do(t, http.MethodPost, "/api/jobs/"+id+"/fail", "", gin.H{"error": "out of memory"})
	require.Equal(t, http.StatusOK, w.Code)
	job := decode(t, w)["job"].(map[string]interface{})
	assert.Equal(t, "FAILED", job["status"])
	assert.Equal(t, "out of memory", job["error"])
}

func TestCancelJob(t *testing.T) {
	f := newFixture(t)
	owner, ownerID := f.register(t, "dave@example.com")
	other, _ := f.register(t, "erin@example.com")

	id := decode(t, f.do(t, http.MethodPost, "/api/jobs/submit", owner, gin.H{"budget": 50}))["jobId"].(string)

	w := f.do(t, http.MethodPost, "/api/jobs/"+id+"/cancel", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodPost, "/api/jobs/"+id+"/cancel", other, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodPost, "/api/jobs/"+id+"/cancel", owner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "CANCELLED", decode(t, w)["job"].(map[string]interface{})["status"])

	u, err := f.repos.Users.GetByID(context.Background(), ownerID)
	require.NoError(t, err)
	assert.Equal(t, float64(1000), u.Balance)

	w = f.do(t, http.MethodPost, "/api/jobs/"+id+"/cancel", owner, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGetJob_NotFound(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/jobs/does-not-exist", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, gin.H{"success": false, "error": "Job not found"}, gin.H(decode(t, w)))
}

func TestProviders_QuickRegisterHeartbeatAndEarnings(t *testing.T) {
	f := newFixture(t)
	reg := gin.H{
		"workerId": "rig-1", "qubicAddress": "ADDR",
		"gpu": gin.H{"model": "RTX 4090", "vram": 24}, "pricePerHour": 2.5,
	}

	w := f.do(t, http.MethodPost, "/api/providers/quick-register", "", reg)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, true, body["isNew"])
	provider := body["provider"].(map[string]interface{})
	id := provider["id"].(string)
	assert.Equal(t, "rig-1", provider["worker_id"])
	assert.Equal(t, gin.H{"gpu_model": "RTX 4090", "gpu_vram_gb": float64(24)}, gin.H(provider["specs"].(map[string]interface{})))

	w = f.do(t, http.MethodPost, "/api/providers/quick-register", "", reg)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, false, body["isNew"])
	assert.Equal(t, id, body["provider"].(map[string]interface{})["id"])

	w = f.do(t, http.MethodPost, "/api/providers/quick-register", "", gin.H{"qubicAddress": "ADDR"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// heartbeat accepts the worker id as well as the provider id
	w = f.do(t, http.MethodPost, "/api/providers/rig-1/heartbeat", "", gin.H{"utilization": 55, "temperature": 61, "memoryUsedGb": 8})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["provider"].(map[string]interface{})["isOnline"])

	w = f.do(t, http.MethodGet, "/api/providers", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)

	w = f.do(t, http.MethodGet, "/api/providers/"+id+"/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, decode(t, w)["providerId"])

	w = f.do(t, http.MethodGet, "/api/providers/"+id+"/earnings", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decode(t, w)["totalEarnings"])

	w = f.do(t, http.MethodPatch, "/api/providers/"+id+"/active", "", gin.H{"isActive": false})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["provider"].(map[string]interface{})["isActive"])

	w = f.do(t, http.MethodPatch, "/api/providers/"+id+"/active", "", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/providers/unknown", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Provider not found", decode(t, w)["error"])
}

func TestSystemEndpoints(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "QUBIX Backend API", body["message"])
	assert.Equal(t, "online", body["status"])
	assert.Equal(t, "1.0.0", body["version"])
	assert.Equal(t, "test", body["environment"])

	w = f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, "ok", decode(t, w)["status"])

	w = f.do(t, http.MethodGet, "/health/details", "", nil)
	assert.Equal(t, "degraded", decode(t, w)["status"])

	f.register(t, "frank@example.com")
	w = f.do(t, http.MethodGet, "/api/stats", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	network := decode(t, w)["network"].(map[string]interface{})
	assert.Equal(t, float64(1), network["users"])

	w = f.do(t, http.MethodGet, "/api/qubic/status", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decode(t, w)
	assert.Equal(t, false, status["connected"])
	assert.Equal(t, "simulated", status["network"].(map[string]interface{})["status"])
	assert.Equal(t, float64(4), status["integration"].(map[string]interface{})["totalFeatures"])
}
