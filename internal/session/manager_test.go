package session

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type fakeAuth struct {
	loginErr    error
	validateErr error
	loginCalls  int
	validated   []string
	cookies     map[string]string
	installed   map[string]string
}

func (f *fakeAuth) Login(_ context.Context, _, _ string) error {
	f.loginCalls++
	if f.loginErr != nil {
		return f.loginErr
	}
	f.cookies = map[string]string{"sessionid": "fresh", "csrftoken": "tok"}
	return nil
}

func (f *fakeAuth) Validate(_ context.Context, username string) error {
	f.validated = append(f.validated, username)
	return f.validateErr
}

func (f *fakeAuth) Cookies() map[string]string {
	return f.cookies
}

func (f *fakeAuth) SetCookies(c map[string]string) {
	f.installed = c
}

type ManagerTestSuite struct {
	suite.Suite
	dir    string
	store  *FileStore
	auth   *fakeAuth
	logger *slog.Logger
	creds  Credentials
}

func (s *ManagerTestSuite) SetupTest() {
	s.dir = s.T().TempDir()
	s.store = NewFileStore(s.dir)
	s.auth = &fakeAuth{}
	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	s.creds = Credentials{Username: "scraper", Password: "hunter2"}
}

func TestManagerTestSuite(t *testing.T) {
	suite.Run(t, new(ManagerTestSuite))
}

func (s *ManagerTestSuite) manager(creds Credentials) *Manager {
	m := NewManager(s.auth, s.store, creds, s.logger)
	m.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return m
}

func (s *ManagerTestSuite) TestEnsure_AnonymousWithoutCredentials() {
	s.NoError(s.manager(Credentials{}).Ensure(context.Background()))
	s.NoError(s.manager(Credentials{Username: "scraper"}).Ensure(context.Background()))

	s.Zero(s.auth.loginCalls)
	s.Empty(s.auth.validated)
	entries, err := os.ReadDir(s.dir)
	s.Require().NoError(err)
	s.Empty(entries)
}

func (s *ManagerTestSuite) TestEnsure_LogsInAndSaves() {
	s.Require().NoError(s.manager(s.creds).Ensure(context.Background()))

	s.Equal(1, s.auth.loginCalls)
	s.Empty(s.auth.validated)

	sess, err := s.store.Load("scraper")
	s.Require().NoError(err)
	s.Equal("scraper", sess.Username)
	s.Equal(map[string]string{"sessionid": "fresh", "csrftoken": "tok"}, sess.Cookies)
	s.Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), sess.SavedAt)

	info, err := os.Stat(filepath.Join(s.dir, "scraper.session"))
	s.Require().NoError(err)
	s.Equal(os.FileMode(0o600), info.Mode().Perm())
}

func (s *ManagerTestSuite) TestEnsure_ReusesValidSession() {
	s.Require().NoError(s.store.Save(&Session{
		Username: "scraper",
		Cookies:  map[string]string{"sessionid": "old"},
		SavedAt:  time.Now(),
	}))

	s.Require().NoError(s.manager(s.creds).Ensure(context.Background()))

	s.Zero(s.auth.loginCalls)
	s.Equal([]string{"scraper"}, s.auth.validated)
	s.Equal(map[string]string{"sessionid": "old"}, s.auth.installed)
}

func (s *ManagerTestSuite) TestEnsure_ExpiredSessionLogsInAgain() {
	s.Require().NoError(s.store.Save(&Session{
		Username: "scraper",
		Cookies:  map[string]string{"sessionid": "old"},
	}))
	s.auth.validateErr = errors.New("session not authorized")

	s.Require().NoError(s.manager(s.creds).Ensure(context.Background()))

	s.Equal(1, s.auth.loginCalls)
	sess, err := s.store.Load("scraper")
	s.Require().NoError(err)
	s.Equal("fresh", sess.Cookies["sessionid"])
}

func (s *ManagerTestSuite) TestEnsure_CorruptSessionLogsInAgain() {
	s.Require().NoError(os.WriteFile(s.store.Path("scraper"), []byte("{not json"), 0o600))

	s.Require().NoError(s.manager(s.creds).Ensure(context.Background()))

	s.Equal(1, s.auth.loginCalls)
	s.Empty(s.auth.validated)
}

func (s *ManagerTestSuite) TestEnsure_LoginFailureIsReturned() {
	loginErr := errors.New("bad password")
	s.auth.loginErr = loginErr

	err := s.manager(s.creds).Ensure(context.Background())
	s.ErrorIs(err, loginErr)

	_, err = s.store.Load("scraper")
	s.ErrorIs(err, ErrNoSession)
}

func (s *ManagerTestSuite) TestFileStore_KeepsUsernameCase() {
	s.Equal(filepath.Join(s.dir, "Scraper.Bot.session"), s.store.Path("Scraper.Bot"))

	s.Require().NoError(s.store.Save(&Session{
		Username: "Scraper.Bot",
		Cookies:  map[string]string{"sessionid": "x"},
	}))
	_, err := os.Stat(filepath.Join(s.dir, "Scraper.Bot.session"))
	s.NoError(err)
}

func (s *ManagerTestSuite) TestFileStore_RejectsForeignArtifact() {
	s.Require().NoError(s.store.Save(&Session{
		Username: "someone",
		Cookies:  map[string]string{"sessionid": "x"},
	}))
	s.Require().NoError(os.Rename(s.store.Path("someone"), s.store.Path("scraper")))

	_, err := s.store.Load("scraper")
	s.ErrorIs(err, ErrNoSession)
}
