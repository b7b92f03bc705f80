package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGPUs(t *testing.T) {
	out := "NVIDIA GeForce RTX 4090, 24564\nNVIDIA A100-SXM4-80GB, 81920 MiB\n\nweird line\n"
	gpus := parseGPUs(out)
	require.Len(t, gpus, 3)
	assert.Equal(t, gpu{Model: "NVIDIA GeForce RTX 4090", VramGB: 24}, gpus[0])
	assert.Equal(t, gpu{Model: "NVIDIA A100-SXM4-80GB", VramGB: 80}, gpus[1])
	assert.Equal(t, gpu{Model: "weird line"}, gpus[2])
}

func TestParseGPUs_Empty(t *testing.T) {
	assert.Empty(t, parseGPUs("\n  \n"))
}

func typeText(m tea.Model, s string) tea.Model {
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
	return m
}

func pressEnter(m tea.Model) (tea.Model, tea.Cmd) {
	return m.Update(tea.KeyMsg{Type: tea.KeyEnter})
}

func TestWizardFlow(t *testing.T) {
	var registered map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/auth/login":
			_, _ = w.Write([]byte(`{"success":true,"token":"tok","user":{"id":"u1","qubicAddress":"WALLET"}}`))
		case "/api/providers/quick-register":
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&registered))
			_, _ = w.Write([]byte(`{"success":true,"isNew":true,"provider":{"id":"p1","worker_id":"rig-1"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	var m tea.Model = initialModel(newAPIClient(srv.URL), "rig-1")
	m = typeText(m, "alice@example.com")
	m, _ = pressEnter(m)
	m = typeText(m, "password1")
	m, cmd := pressEnter(m)
	require.NotNil(t, cmd)
	assert.Equal(t, stepLoggingIn, m.(model).step)

	m, _ = m.Update(cmd())
	assert.Equal(t, stepDetectingGPUs, m.(model).step)
	assert.Equal(t, "WALLET", m.(model).userAddress)

	m, _ = m.Update(gpusDetectedMsg{{Model: "RTX 3090", VramGB: 24}, {Model: "RTX 3060", VramGB: 12}})
	assert.Equal(t, stepSelectingGPU, m.(model).step)
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m, _ = pressEnter(m)
	assert.Equal(t, "RTX 3060", m.(model).selected.Model)

	// empty input takes the hostname and the account wallet
	m, _ = pressEnter(m)
	assert.Equal(t, "rig-1", m.(model).workerID)
	m, cmd = pressEnter(m)
	require.NotNil(t, cmd)
	assert.Equal(t, "WALLET", m.(model).address)

	m, _ = m.Update(cmd())
	assert.Equal(t, stepComplete, m.(model).step)
	assert.Equal(t, "p1", m.(model).result.Provider.ID)
	assert.Equal(t, "rig-1", registered["workerId"])
	assert.Equal(t, "RTX 3060", registered["gpu"].(map[string]interface{})["model"])
}

func TestWizard_LoginError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"success":false,"error":"Invalid credentials"}`))
	}))
	defer srv.Close()

	var m tea.Model = initialModel(newAPIClient(srv.URL), "")
	m = typeText(m, "bob@example.com")
	m, _ = pressEnter(m)
	m = typeText(m, "wrongpass")
	m, cmd := pressEnter(m)
	m, _ = m.Update(cmd())

	assert.Equal(t, stepEnteringEmail, m.(model).step)
	assert.Contains(t, m.(model).message, "Invalid credentials")
}
