package diag

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
)

func TestStateEndpoint(t *testing.T) {
	s := NewServer(":0", nil)
	s.Update(func(st *State) {
		st.AppState = "conversing"
		st.Turns = 3
		st.Connected = true
	})

	req := httptest.NewRequest("GET", "/state", nil)
	resp, err := s.app.Test(req)
	if err != nil {
		t.Fatalf("Test request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	var st State
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if st.AppState != "conversing" || st.Turns != 3 || !st.Connected {
		t.Errorf("Unexpected snapshot: %+v", st)
	}
}

func TestHealthz(t *testing.T) {
	s := NewServer(":0", nil)

	req := httptest.NewRequest("GET", "/healthz", nil)
	resp, err := s.app.Test(req)
	if err != nil {
		t.Fatalf("Test request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
}
