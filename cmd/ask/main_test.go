package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/fatih/color"

	"github.com/WessleyAI/member-qa/engine/domain"
)

func init() { color.NoColor = true }

func answerServer(t *testing.T, ans domain.Answer) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.Write([]byte(`{"status":"healthy"}`))
		case "/ask":
			json.NewEncoder(w).Encode(ans)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return executeWithInput(t, "", args...)
}

func executeWithInput(t *testing.T, input string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(input))
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	return out.String(), err
}

func TestAskPrintsAnswer(t *testing.T) {
	srv := answerServer(t, domain.Answer{
		Answer:     "- Layla: I prefer window seats",
		Confidence: 0.82,
		Sources:    []string{"Layla: I prefer window seats", "Hans: aisle for me"},
	})

	out, err := execute(t, "Which", "seat", "does", "Layla", "prefer?", "--url", srv.URL)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	for _, want := range []string{"- Layla: I prefer window seats", "82.0%", "Sources (2)", "2. Hans: aisle for me"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "below the") {
		t.Errorf("unexpected low-confidence warning:\n%s", out)
	}
}

func TestAskLowConfidenceWarning(t *testing.T) {
	srv := answerServer(t, domain.Answer{Answer: "- Amira: call me", Confidence: 0.35, Sources: []string{"Amira: call me"}})

	out, err := execute(t, "who calls?", "--url", srv.URL, "--min-confidence", "0.5")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "below the 50% threshold") {
		t.Fatalf("expected warning:\n%s", out)
	}
}

func TestAskJSON(t *testing.T) {
	srv := answerServer(t, *domain.NotFound(""))

	out, err := execute(t, "capital of Mars?", "--url", srv.URL, "--json")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	var got domain.Answer
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if got.Answer != domain.NotFoundMessage || got.Confidence != 0 {
		t.Fatalf("unexpected answer %+v", got)
	}
}

func TestAskRequiresQuestion(t *testing.T) {
	if _, err := execute(t); err == nil {
		t.Fatal("expected error without a question")
	}
}

func TestHealthCommand(t *testing.T) {
	srv := answerServer(t, domain.Answer{})
	out, err := execute(t, "health", "--url", srv.URL)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if !strings.Contains(out, "connected to "+srv.URL) {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestHealthUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := execute(t, "health", "--url", url)
	if err == nil || !strings.Contains(err.Error(), "cannot connect") {
		t.Fatalf("expected connection error, got %v", err)
	}
}

func TestInteractiveSession(t *testing.T) {
	var (
		mu    sync.Mutex
		asked []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.Write([]byte(`{"status":"healthy"}`))
		case "/ask":
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			mu.Lock()
			asked = append(asked, body["question"])
			mu.Unlock()
			json.NewEncoder(w).Encode(domain.Answer{Answer: "- Layla: window", Confidence: 0.9, Sources: []string{"Layla: window"}})
		}
	}))
	defer srv.Close()

	input := "Which seat?\n\nWho flies to Tokyo?\nhistory\nquit\nnever asked\n"
	out, err := executeWithInput(t, input, "-i", "--url", srv.URL)
	if err != nil {
		t.Fatalf("interactive: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(asked) != 2 || asked[0] != "Which seat?" || asked[1] != "Who flies to Tokyo?" {
		t.Fatalf("unexpected questions sent: %v", asked)
	}
	for _, want := range []string{"connected to " + srv.URL, "- Layla: window", "1. Which seat?", "2. Who flies to Tokyo?"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestInteractiveChecksHealthFirst(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := executeWithInput(t, "Which seat?\n", "-i", "--url", url)
	if err == nil || !strings.Contains(err.Error(), "cannot connect") {
		t.Fatalf("expected connection error before any ask, got %v", err)
	}
}

func TestInteractiveEmptyHistory(t *testing.T) {
	srv := answerServer(t, domain.Answer{})
	out, err := executeWithInput(t, "history\n", "-i", "--url", srv.URL)
	if err != nil {
		t.Fatalf("interactive: %v", err)
	}
	if !strings.Contains(out, "no questions yet") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestBadge(t *testing.T) {
	tests := []struct {
		c    float64
		want string
	}{
		{0.9, "90.0%"},
		{0.5, "50.0%"},
		{0.1, "10.0%"},
	}
	for _, tt := range tests {
		if got := badge(tt.c); got != tt.want {
			t.Errorf("badge(%v) = %q, want %q", tt.c, got, tt.want)
		}
	}
}
