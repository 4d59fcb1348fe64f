package repository

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/pkg/config"

	"github.com/stretchr/testify/assert"
)

func newTestMediaRepo(t *testing.T) MediaRepository {
	t.Helper()
	repo := NewFileMediaRepository(openTestDB(t), t.TempDir(), config.MediaConfig{
		Concurrency: 2,
		BatchPause:  time.Millisecond,
	}, time.Hour)
	t.Cleanup(repo.Close)
	return repo
}

func TestFileMedia_CacheMediaDownloadsOnce(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("voice-bytes"))
	}))
	defer srv.Close()

	repo := newTestMediaRepo(t)
	url := srv.URL + "/v1.m4a"

	path, err := repo.CacheMedia(context.Background(), url, domain.AttachmentVoice)
	assert.NoError(t, err)
	assert.FileExists(t, path)

	// second call is an index hit, no network
	again, err := repo.CacheMedia(context.Background(), url, domain.AttachmentVoice)
	assert.NoError(t, err)
	assert.Equal(t, path, again)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFileMedia_CanceledWaiterDoesNotFailOthers(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		<-release
		_, _ = w.Write([]byte("image-bytes"))
	}))
	defer srv.Close()

	repo := newTestMediaRepo(t)
	url := srv.URL + "/p1.jpg"

	cancelCtx, cancel := context.WithCancel(context.Background())
	type result struct {
		path string
		err  error
	}
	canceled := make(chan result, 1)
	patient := make(chan result, 1)

	go func() {
		p, err := repo.CacheMedia(cancelCtx, url, domain.AttachmentImage)
		canceled <- result{p, err}
	}()
	go func() {
		p, err := repo.CacheMedia(context.Background(), url, domain.AttachmentImage)
		patient <- result{p, err}
	}()

	// let both coalesce on the in-flight download, then drop one caller
	time.Sleep(20 * time.Millisecond)
	cancel()
	res := <-canceled
	assert.Error(t, res.err)

	close(release)
	got := <-patient
	assert.NoError(t, got.err)
	assert.FileExists(t, got.path)
}
