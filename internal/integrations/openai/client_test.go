package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"medical-interpreter/internal/domain"
)

// fakeGetter is a minimal paramstore.Getter stub for use within this package.
type fakeGetter struct {
	vals  []string
	errs  []error
	calls int
	name  string
}

func (f *fakeGetter) GetParameter(_ context.Context, name string) (string, error) {
	i := min(f.calls, max(len(f.vals), len(f.errs))-1)
	f.calls++
	f.name = name
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if err != nil {
		return "", err
	}
	return f.vals[i], nil
}

func tokenGetter() *fakeGetter {
	return &fakeGetter{vals: []string{`{"token":"sk-test"}`}}
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(
		tokenGetter(),
		"/medical-interpreter",
		WithBaseURL(srv.URL),
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
	)
	require.NoError(t, err)
	return c
}

func chatReply(content string) string {
	b, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"choices": []map[string]any{{"index": 0, "message": map[string]string{"role": "assistant", "content": content}}},
	})
	return string(b)
}

func TestEndpointURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://api.openai.com/v1", "https://api.openai.com/v1/chat/completions"},
		{"https://api.openai.com/v1/", "https://api.openai.com/v1/chat/completions"},
		{"http://localhost:8080", "http://localhost:8080/v1/chat/completions"},
		{"", "https://api.openai.com/v1/chat/completions"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, endpointURL(tc.base, "/chat/completions"), "base=%q", tc.base)
	}
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(nil, "/medical-interpreter")
	require.Error(t, err)
	_, err = NewClient(tokenGetter(), " ")
	require.Error(t, err)

	c, err := NewClient(nil, "", WithAPIKey("sk-local"))
	require.NoError(t, err)
	key, err := c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-local", key)
}

func TestResolveAPIKey_CachedAfterSuccess(t *testing.T) {
	g := tokenGetter()
	c, err := NewClient(g, "/medical-interpreter/")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		key, err := c.resolveAPIKey(context.Background())
		require.NoError(t, err)
		require.Equal(t, "sk-test", key)
	}
	require.Equal(t, 1, g.calls)
	require.Equal(t, "/medical-interpreter/open-ai-token", g.name)
}

func TestResolveAPIKey_RetriedAfterFailure(t *testing.T) {
	g := &fakeGetter{vals: []string{"", `{"token":"sk-second"}`}, errs: []error{errors.New("throttled"), nil}}
	c, err := NewClient(g, "/medical-interpreter")
	require.NoError(t, err)

	_, err = c.resolveAPIKey(context.Background())
	require.ErrorContains(t, err, "throttled")
	key, err := c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-second", key)
}

func TestFetchAPIKey(t *testing.T) {
	cases := []struct {
		name    string
		getter  Getter
		param   string
		wantErr string
	}{
		{name: "missing token", getter: &fakeGetter{vals: []string{`{"other":"v"}`}}, param: "/mi/open-ai-token", wantErr: "API token is empty"},
		{name: "malformed", getter: &fakeGetter{vals: []string{`{"broken`}}, param: "/mi/open-ai-token", wantErr: "unmarshal"},
		{name: "getter error", getter: &fakeGetter{errs: []error{errors.New("ssm unavailable")}}, param: "/mi/open-ai-token", wantErr: "ssm unavailable"},
		{name: "nil getter", getter: nil, param: "/mi/open-ai-token", wantErr: "nil"},
		{name: "empty name", getter: tokenGetter(), param: " ", wantErr: "empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := fetchAPIKeyFromParamStore(context.Background(), tc.getter, tc.param)
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestReason_Translation(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(chatReply("My name is [NAME_1_ab12cd], I have a severe headache")))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	resp, err := c.Reason(context.Background(), domain.ReasoningRequest{
		SystemInstructions: "Translate the patient message from Hindi into English.",
		UserContent:        "मेरा नाम [NAME_1_ab12cd] है, सिर फट रहा है",
		RetrievedContext:   []domain.Passage{{Text: "सिर फट रहा है means a severe headache", Tag: domain.TagCultural}},
		ReflectionFeedback: []string{"missing placeholder [NAME_1_ab12cd]"},
		Model:              "gpt-4o",
	})
	require.NoError(t, err)
	require.Equal(t, "My name is [NAME_1_ab12cd], I have a severe headache", resp.Text)
	require.Nil(t, resp.Critique)

	require.Equal(t, "gpt-4o", got.Model)
	require.Nil(t, got.ResponseFormat)
	require.Len(t, got.Messages, 4)
	require.Equal(t, "system", got.Messages[0].Role)
	require.Contains(t, got.Messages[1].Content, "[cultural] सिर फट रहा है")
	require.Contains(t, got.Messages[2].Content, "- missing placeholder [NAME_1_ab12cd]")
	require.Equal(t, domain.ChatMessage{Role: "user", Content: "मेरा नाम [NAME_1_ab12cd] है, सिर फट रहा है"}, got.Messages[3])
}

func TestReason_Critique(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.Contains(t, string(body), `"response_format":{"type":"json_schema"`)
		require.Contains(t, string(body), `"name":"critique"`)
		require.Contains(t, string(body), `"required":["pass","score","deficiencies"]`)
		require.Contains(t, string(body), `"temperature":0`)
		_, _ = w.Write([]byte(chatReply(`{"pass":false,"score":0.55,"deficiencies":["severity softened"]}`)))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	resp, err := c.Reason(context.Background(), domain.ReasoningRequest{
		SystemInstructions: "Review the translation.",
		UserContent:        "source / candidate",
		ExpectCritique:     true,
		Model:              "gpt-4o-mini",
	})
	require.NoError(t, err)
	require.Equal(t, &domain.Critique{Pass: false, Score: 0.55, Deficiencies: []string{"severity softened"}}, resp.Critique)
}

func TestParseCritique(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		wantErr string
	}{
		{name: "ok", raw: ` {"pass":true,"score":1,"deficiencies":[]} `},
		{name: "unknown field", raw: `{"pass":true,"score":1,"deficiencies":[],"note":"x"}`, wantErr: "decode critique"},
		{name: "missing score", raw: `{"pass":true,"deficiencies":[]}`, wantErr: "missing pass or score"},
		{name: "trailing", raw: `{"pass":true,"score":1,"deficiencies":[]}{}`, wantErr: "multiple JSON values"},
		{name: "not json", raw: `looks good`, wantErr: "decode critique"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseCritique(tc.raw)
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestReason_Errors(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{name: "400", status: 400, body: `{"error":"bad request"}`, wantErr: "unexpected status 400"},
		{name: "429", status: 429, body: `{"error":"rate limited"}`, wantErr: "429"},
		{name: "500", status: 500, body: `{"error":"boom"}`, wantErr: "500"},
		{name: "invalid json", status: 200, body: `not-a-json`, wantErr: "decode response"},
		{name: "no choices", status: 200, body: `{"choices":[]}`, wantErr: "no choices"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := newTestClient(t, srv)
			_, err := c.Reason(context.Background(), domain.ReasoningRequest{Model: "gpt-4o", UserContent: "hi"})
			require.ErrorContains(t, err, tc.wantErr)
			if tc.status != 200 {
				var se *HTTPStatusError
				require.ErrorAs(t, err, &se)
				require.Equal(t, tc.status, se.HTTPStatusCode())
			}
		})
	}
}

func TestReason_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(chatReply("late")))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	c.httpClient = &http.Client{Timeout: 50 * time.Millisecond}
	_, err := c.Reason(context.Background(), domain.ReasoningRequest{Model: "gpt-4o", UserContent: "hi"})
	require.Error(t, err)
}

func TestReason_EmptyModel(t *testing.T) {
	c, err := NewClient(tokenGetter(), "/medical-interpreter")
	require.NoError(t, err)
	_, err = c.Reason(context.Background(), domain.ReasoningRequest{})
	require.ErrorContains(t, err, "model")
}

func TestModerate(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		flagged bool
		wantErr string
	}{
		{name: "not flagged", status: 200, body: `{"results":[{"flagged":false}]}`},
		{name: "flagged", status: 200, body: `{"results":[{"flagged":true}]}`, flagged: true},
		{name: "429", status: 429, body: `{}`, wantErr: "429"},
		{name: "malformed", status: 200, body: `not-json`, wantErr: "decode moderation response"},
		{name: "empty results", status: 200, body: `{"results":[]}`, wantErr: "no results"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/v1/moderations", r.URL.Path)
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := newTestClient(t, srv)
			flagged, err := c.Moderate(context.Background(), "मेरा नाम [NAME_1_ab12cd] है")
			if tc.wantErr != "" {
				require.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.flagged, flagged)
		})
	}
}

func TestModerate_NetworkError(t *testing.T) {
	c, err := NewClient(tokenGetter(), "/medical-interpreter")
	require.NoError(t, err)
	c.baseURL = "http://127.0.0.1:1"
	c.httpClient = &http.Client{Timeout: 100 * time.Millisecond}

	_, err = c.Moderate(context.Background(), "hello")
	require.ErrorContains(t, err, "request failed")
}

func TestEmbed(t *testing.T) {
	var got embeddingRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/embeddings", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[0.6,0.8]}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	vec, err := c.EmbeddingFunc("text-embedding-3-small")(context.Background(), "severe headache")
	require.NoError(t, err)
	require.Equal(t, []float32{0.6, 0.8}, vec)
	require.Equal(t, embeddingRequest{Model: "text-embedding-3-small", Input: "severe headache"}, got)
}

func TestEmbed_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Embed(context.Background(), "m", "x")
	require.ErrorContains(t, err, "no embedding")
	_, err = c.Embed(context.Background(), " ", "x")
	require.ErrorContains(t, err, "model")
}
