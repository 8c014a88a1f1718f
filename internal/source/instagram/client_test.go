package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"insta_relay/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 4}))
}

type fakeInstagram struct {
	mu       sync.Mutex
	hits     map[string]int
	vars     []map[string]any
	handlers map[string]http.HandlerFunc
}

func (f *fakeInstagram) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.hits[r.URL.Path]++
	if r.URL.Path == "/graphql/query/" {
		var vars map[string]any
		_ = json.Unmarshal([]byte(r.URL.Query().Get("variables")), &vars)
		f.vars = append(f.vars, vars)
	}
	h, ok := f.handlers[r.URL.Path]
	f.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

type ClientTestSuite struct {
	suite.Suite
	fake   *fakeInstagram
	server *httptest.Server
	client *Client
}

func (s *ClientTestSuite) SetupTest() {
	s.fake = &fakeInstagram{
		hits:     map[string]int{},
		handlers: map[string]http.HandlerFunc{},
	}
	s.server = httptest.NewServer(s.fake)

	client, err := New(Config{
		BaseURL:        s.server.URL,
		PageSize:       2,
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	}, testLogger())
	s.Require().NoError(err)
	s.client = client
}

func (s *ClientTestSuite) TearDownTest() {
	s.server.Close()
}

func TestClientTestSuite(t *testing.T) {
	suite.Run(t, new(ClientTestSuite))
}

const profileBody = `{
  "data": {"user": {
    "id": "528817151", "username": "nasa", "full_name": "NASA", "is_private": false,
    "edge_owner_to_timeline_media": {"count": 4321, "page_info": {"has_next_page": true, "end_cursor": "x"}, "edges": []}
  }},
  "status": "ok"
}`

func (s *ClientTestSuite) TestProfile() {
	s.fake.handlers["/api/v1/users/web_profile_info/"] = func(w http.ResponseWriter, r *http.Request) {
		s.Equal("nasa", r.URL.Query().Get("username"))
		s.Equal(webAppID, r.Header.Get("X-IG-App-ID"))
		writeJSON(w, http.StatusOK, profileBody)
	}

	profile, err := s.client.Profile(context.Background(), "@nasa")
	s.Require().NoError(err)
	s.Equal(&domain.Profile{
		ID:        "528817151",
		Username:  "nasa",
		FullName:  "NASA",
		PostCount: 4321,
	}, profile)
}

func (s *ClientTestSuite) TestProfile_NotFound() {
	_, err := s.client.Profile(context.Background(), "ghost")
	s.ErrorIs(err, ErrProfileNotFound)
	s.Equal(1, s.fake.hits["/api/v1/users/web_profile_info/"], "404 is not retried")
}

func (s *ClientTestSuite) TestProfile_NullUser() {
	s.fake.handlers["/api/v1/users/web_profile_info/"] = func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `{"data":{"user":null},"status":"ok"}`)
	}

	_, err := s.client.Profile(context.Background(), "ghost")
	s.ErrorIs(err, ErrProfileNotFound)
}

func (s *ClientTestSuite) TestProfile_RedirectToLogin() {
	s.fake.handlers["/api/v1/users/web_profile_info/"] = func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/accounts/login/", http.StatusFound)
	}

	_, err := s.client.Profile(context.Background(), "nasa")
	s.ErrorIs(err, ErrUnauthorized)
}

func (s *ClientTestSuite) TestProfile_RetriesServerErrors() {
	calls := 0
	s.fake.handlers["/api/v1/users/web_profile_info/"] = func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			writeJSON(w, http.StatusBadGateway, `{}`)
			return
		}
		writeJSON(w, http.StatusOK, profileBody)
	}

	profile, err := s.client.Profile(context.Background(), "nasa")
	s.Require().NoError(err)
	s.Equal("528817151", profile.ID)
	s.Equal(2, calls)
}

func timelinePage(hasNext bool, cursor string, nodes ...string) string {
	edges := ""
	for i, n := range nodes {
		if i > 0 {
			edges += ","
		}
		edges += `{"node":` + n + `}`
	}
	return fmt.Sprintf(`{"data":{"user":{"edge_owner_to_timeline_media":{"count":9,"page_info":{"has_next_page":%t,"end_cursor":%q},"edges":[%s]}}},"status":"ok"}`,
		hasNext, cursor, edges)
}

func imageNode(id, caption string) string {
	return fmt.Sprintf(`{"id":%q,"__typename":"GraphImage","shortcode":"S%s","is_video":false,"display_url":"https://cdn/%s.jpg","taken_at_timestamp":1700000000,"edge_media_to_caption":{"edges":[{"node":{"text":%q}}]}}`,
		id, id, id, caption)
}

func (s *ClientTestSuite) servePages() {
	s.fake.handlers["/graphql/query/"] = func(w http.ResponseWriter, r *http.Request) {
		var vars map[string]any
		_ = json.Unmarshal([]byte(r.URL.Query().Get("variables")), &vars)

		switch {
		case r.URL.Query().Get("query_hash") != timelineQueryHash:
			writeJSON(w, http.StatusBadRequest, `{}`)
		case vars["after"] == nil:
			writeJSON(w, http.StatusOK, timelinePage(true, "c1", imageNode("30", "third"), imageNode("20", "second")))
		case vars["after"] == "c1":
			writeJSON(w, http.StatusOK, timelinePage(false, "", imageNode("10", "first")))
		default:
			writeJSON(w, http.StatusBadRequest, `{}`)
		}
	}
}

func (s *ClientTestSuite) TestPosts_PagesThroughTimeline() {
	s.servePages()
	profile := &domain.Profile{ID: "528817151", Username: "nasa"}

	var got []domain.Post
	for post, err := range s.client.Posts(context.Background(), profile) {
		s.Require().NoError(err)
		got = append(got, post)
	}

	s.Require().Len(got, 3)
	s.Equal(domain.PostID("30"), got[0].ID)
	s.Equal(domain.PostID("10"), got[2].ID)
	s.Equal("third", got[0].Caption)
	s.Equal(domain.Account("nasa"), got[0].Owner)
	s.Equal(time.Unix(1700000000, 0).UTC(), got[0].TakenAt)
	s.Equal([]domain.Attachment{{Kind: domain.MediaImage, URL: "https://cdn/30.jpg"}}, got[0].Attachments)

	s.Require().Len(s.fake.vars, 2)
	s.Equal("528817151", s.fake.vars[0]["id"])
	s.Equal(float64(2), s.fake.vars[0]["first"])
	s.Equal("c1", s.fake.vars[1]["after"])
}

func (s *ClientTestSuite) TestPosts_StopsFetchingWhenConsumerStops() {
	s.servePages()
	profile := &domain.Profile{ID: "528817151", Username: "nasa"}

	for post, err := range s.client.Posts(context.Background(), profile) {
		s.Require().NoError(err)
		if post.ID == "20" {
			break
		}
	}

	s.Equal(1, s.fake.hits["/graphql/query/"])
}

func (s *ClientTestSuite) TestPosts_ErrorEndsStream() {
	s.fake.handlers["/graphql/query/"] = func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusForbidden, `{"message":"login_required"}`)
	}

	var errs []error
	for _, err := range s.client.Posts(context.Background(), &domain.Profile{ID: "1", Username: "x"}) {
		errs = append(errs, err)
	}

	s.Require().Len(errs, 1)
	s.Error(errs[0])
	s.Contains(errs[0].Error(), "fetch page 0")
}

func (s *ClientTestSuite) TestPosts_SidecarAndVideoCompletion() {
	sidecar := `{"id":"50","__typename":"GraphSidecar","shortcode":"SC","display_url":"https://cdn/cover.jpg",
		"edge_media_to_caption":{"edges":[]},
		"edge_sidecar_to_children":{"edges":[
			{"node":{"id":"51","is_video":false,"display_url":"https://cdn/51.jpg"}},
			{"node":{"id":"52","is_video":true,"display_url":"https://cdn/52.jpg","video_url":"https://cdn/52.mp4"}}
		]}}`
	video := `{"id":"40","__typename":"GraphVideo","shortcode":"VID","is_video":true,"display_url":"https://cdn/40.jpg","edge_media_to_caption":{"edges":[]}}`

	s.fake.handlers["/graphql/query/"] = func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("query_hash") == shortcodeQueryHash {
			writeJSON(w, http.StatusOK, `{"data":{"shortcode_media":{"id":"40","is_video":true,"video_url":"https://cdn/40.mp4"}},"status":"ok"}`)
			return
		}
		writeJSON(w, http.StatusOK, timelinePage(false, "", sidecar, video))
	}

	var got []domain.Post
	for post, err := range s.client.Posts(context.Background(), &domain.Profile{ID: "1", Username: "nasa"}) {
		s.Require().NoError(err)
		got = append(got, post)
	}

	s.Require().Len(got, 2)
	s.Equal("", got[0].Caption)
	s.Equal([]domain.Attachment{
		{Kind: domain.MediaImage, URL: "https://cdn/51.jpg"},
		{Kind: domain.MediaVideo, URL: "https://cdn/52.mp4"},
	}, got[0].Attachments)
	s.Equal([]domain.Attachment{{Kind: domain.MediaVideo, URL: "https://cdn/40.mp4"}}, got[1].Attachments)
}

func (s *ClientTestSuite) TestPosts_VideoCompletionFailureFallsBackToStill() {
	video := `{"id":"40","shortcode":"VID","is_video":true,"display_url":"https://cdn/40.jpg","edge_media_to_caption":{"edges":[]}}`
	s.fake.handlers["/graphql/query/"] = func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("query_hash") == shortcodeQueryHash {
			writeJSON(w, http.StatusNotFound, `{}`)
			return
		}
		writeJSON(w, http.StatusOK, timelinePage(false, "", video))
	}

	var got []domain.Post
	for post, err := range s.client.Posts(context.Background(), &domain.Profile{ID: "1", Username: "nasa"}) {
		s.Require().NoError(err)
		got = append(got, post)
	}

	s.Require().Len(got, 1)
	s.Equal([]domain.Attachment{{Kind: domain.MediaImage, URL: "https://cdn/40.jpg"}}, got[0].Attachments)
}

func (s *ClientTestSuite) TestLogin_WithCookieToken() {
	s.fake.handlers["/accounts/login/"] = func(w http.ResponseWriter, _ *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "csrftoken", Value: "tok123", Path: "/"})
		_, _ = io.WriteString(w, "<html></html>")
	}
	s.fake.handlers["/api/v1/web/accounts/login/ajax/"] = func(w http.ResponseWriter, r *http.Request) {
		s.Equal(http.MethodPost, r.Method)
		s.Equal("tok123", r.Header.Get("X-CSRFToken"))
		s.Require().NoError(r.ParseForm())
		s.Equal("scraper", r.PostForm.Get("username"))
		s.Regexp(`^#PWD_INSTAGRAM_BROWSER:0:\d+:hunter2$`, r.PostForm.Get("enc_password"))

		http.SetCookie(w, &http.Cookie{Name: "sessionid", Value: "sess-1", Path: "/"})
		writeJSON(w, http.StatusOK, `{"user":true,"authenticated":true,"userId":"42","status":"ok"}`)
	}

	s.Require().NoError(s.client.Login(context.Background(), "scraper", "hunter2"))

	cookies := s.client.Cookies()
	s.Equal("sess-1", cookies["sessionid"])
	s.Equal("tok123", cookies["csrftoken"])
}

func (s *ClientTestSuite) TestLogin_TokenFromPageScript() {
	s.fake.handlers["/accounts/login/"] = func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `<html><head><script type="text/javascript">window._sharedData = {"config":{"csrf_token":"fromhtml"}};</script></head></html>`)
	}
	s.fake.handlers["/api/v1/web/accounts/login/ajax/"] = func(w http.ResponseWriter, r *http.Request) {
		s.Equal("fromhtml", r.Header.Get("X-CSRFToken"))
		writeJSON(w, http.StatusOK, `{"user":true,"authenticated":true,"userId":"42","status":"ok"}`)
	}

	s.NoError(s.client.Login(context.Background(), "scraper", "hunter2"))
}

func (s *ClientTestSuite) TestLogin_Failures() {
	s.fake.handlers["/accounts/login/"] = func(w http.ResponseWriter, _ *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "csrftoken", Value: "tok", Path: "/"})
	}

	cases := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusOK, `{"user":true,"authenticated":false,"status":"ok"}`, ErrBadCredentials},
		{http.StatusBadRequest, `{"two_factor_required":true,"status":"fail"}`, ErrTwoFactorRequired},
		{http.StatusBadRequest, `{"message":"checkpoint_required","checkpoint_url":"/challenge/","status":"fail"}`, ErrCheckpointRequired},
	}

	for _, tc := range cases {
		s.fake.handlers["/api/v1/web/accounts/login/ajax/"] = func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, tc.status, tc.body)
		}
		err := s.client.Login(context.Background(), "scraper", "wrong")
		s.ErrorIs(err, tc.want)
	}
}

func (s *ClientTestSuite) TestLogin_NoToken() {
	s.fake.handlers["/accounts/login/"] = func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "<html><body>blocked</body></html>")
	}

	err := s.client.Login(context.Background(), "scraper", "pw")
	s.Error(err)
	s.Contains(err.Error(), "csrf token")
}

func (s *ClientTestSuite) TestValidate() {
	s.fake.handlers["/api/v1/accounts/current_user/"] = func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("sessionid"); err != nil || c.Value != "good" {
			http.Redirect(w, r, "/accounts/login/", http.StatusFound)
			return
		}
		writeJSON(w, http.StatusOK, `{"user":{"username":"Scraper"},"status":"ok"}`)
	}

	s.ErrorIs(s.client.Validate(context.Background(), "scraper"), ErrUnauthorized)

	s.client.SetCookies(map[string]string{"sessionid": "good", "csrftoken": "t"})
	s.NoError(s.client.Validate(context.Background(), "scraper"))
	s.ErrorIs(s.client.Validate(context.Background(), "someone-else"), ErrUnauthorized)
}

func TestNewTransport(t *testing.T) {
	tr, err := newTransport("")
	require.NoError(t, err)
	assert.Nil(t, tr.Proxy)

	tr, err = newTransport("http://proxy.local:3128")
	require.NoError(t, err)
	require.NotNil(t, tr.Proxy)
	u, err := tr.Proxy(&http.Request{URL: &url.URL{Scheme: "https", Host: "www.instagram.com"}})
	require.NoError(t, err)
	assert.Equal(t, "proxy.local:3128", u.Host)

	tr, err = newTransport("socks5://127.0.0.1:1080")
	require.NoError(t, err)
	assert.Nil(t, tr.Proxy)
	assert.NotNil(t, tr.DialContext)

	_, err = newTransport("ftp://nope")
	assert.Error(t, err)
}
