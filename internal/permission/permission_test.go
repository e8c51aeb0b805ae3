package permission

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingPrompter struct {
	answer bool
	err    error
	calls  int
}

func (p *countingPrompter) prompt(context.Context, Kind) (bool, error) {
	p.calls++
	return p.answer, p.err
}

func openTestStore(t *testing.T, p Prompter) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "grants.db")
	s, err := Open(path, p)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestStore_UnknownIsNotDetermined(t *testing.T) {
	s, _ := openTestStore(t, (&countingPrompter{}).prompt)
	assert.Equal(t, NotDetermined, s.Status(Video))
	assert.Equal(t, NotDetermined, s.Status(PhotoLibrary))
}

func TestStore_RequestPromptsOnce(t *testing.T) {
	p := &countingPrompter{answer: true}
	s, _ := openTestStore(t, p.prompt)
	ctx := context.Background()

	ok, err := s.Request(ctx, Video)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Authorized, s.Status(Video))

	ok, err = s.Request(ctx, Video)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, p.calls, "decision should be remembered")
}

func TestStore_DenialIsRemembered(t *testing.T) {
	p := &countingPrompter{answer: false}
	s, _ := openTestStore(t, p.prompt)

	ok, err := s.Request(context.Background(), PhotoLibrary)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, Denied, s.Status(PhotoLibrary))
	assert.Equal(t, NotDetermined, s.Status(Video), "kinds are independent")
}

func TestStore_RestrictedIsNotGranted(t *testing.T) {
	p := &countingPrompter{answer: true}
	s, _ := openTestStore(t, p.prompt)
	require.NoError(t, s.Set(Video, Restricted))

	ok, err := s.Request(context.Background(), Video)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, p.calls)
}

func TestStore_PromptError(t *testing.T) {
	p := &countingPrompter{err: errors.New("no user")}
	s, _ := openTestStore(t, p.prompt)

	_, err := s.Request(context.Background(), Video)
	require.Error(t, err)
	assert.Equal(t, NotDetermined, s.Status(Video))
}

func TestStore_Reset(t *testing.T) {
	p := &countingPrompter{answer: true}
	s, _ := openTestStore(t, p.prompt)
	_, _ = s.Request(context.Background(), Video)

	require.NoError(t, s.Reset(Video))
	assert.Equal(t, NotDetermined, s.Status(Video))
	_, _ = s.Request(context.Background(), Video)
	assert.Equal(t, 2, p.calls)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	p := &countingPrompter{answer: true}
	path := filepath.Join(t.TempDir(), "nested", "grants.db")
	s, err := Open(path, p.prompt)
	require.NoError(t, err)
	require.NoError(t, s.Set(PhotoLibrary, Denied))
	require.NoError(t, s.Close())

	s2, err := Open(path, p.prompt)
	require.NoError(t, err)
	defer s2.Close()
	assert.Equal(t, Denied, s2.Status(PhotoLibrary))
}

func TestOpen_Validation(t *testing.T) {
	prompt, _ := PolicyPrompter("grant")
	_, err := Open("  ", prompt)
	assert.Error(t, err)
	_, err = Open(filepath.Join(t.TempDir(), "x.db"), nil)
	assert.Error(t, err)
}

func TestPolicyPrompter(t *testing.T) {
	ctx := context.Background()

	allow, err := PolicyPrompter("grant")
	require.NoError(t, err)
	ok, _ := allow(ctx, Video)
	assert.True(t, ok)

	deny, err := PolicyPrompter("DENY")
	require.NoError(t, err)
	ok, _ = deny(ctx, Video)
	assert.False(t, ok)

	_, err = PolicyPrompter("maybe")
	assert.Error(t, err)
}
