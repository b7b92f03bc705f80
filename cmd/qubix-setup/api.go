package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{baseURL: baseURL, http: &http.Client{Timeout: 10 * time.Second}}
}

type apiError struct {
	Error string `json:"error"`
}

type loginResult struct {
	Token string `json:"token"`
	User  struct {
		ID           string `json:"id"`
		Email        string `json:"email"`
		QubicAddress string `json:"qubicAddress"`
	} `json:"user"`
}

type registerResult struct {
	Provider struct {
		ID       string `json:"id"`
		WorkerID string `json:"worker_id"`
	} `json:"provider"`
	IsNew bool `json:"isNew"`
}

func (c *apiClient) post(path, token string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("server not reachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e apiError
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return errors.New(e.Error)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) login(email, password string) (*loginResult, error) {
	var res loginResult
	if err := c.post("/api/auth/login", "", map[string]string{"email": email, "password": password}, &res); err != nil {
		return nil, err
	}
	if res.Token == "" {
		return nil, errors.New("login returned no token")
	}
	return &res, nil
}

func (c *apiClient) quickRegister(token, workerID, address string, g gpu) (*registerResult, error) {
	payload := map[string]interface{}{
		"workerId":     workerID,
		"qubicAddress": address,
		"gpu":          map[string]interface{}{"model": g.Model, "vram": g.VramGB},
	}
	var res registerResult
	if err := c.post("/api/providers/quick-register", token, payload, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
